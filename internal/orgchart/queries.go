package orgchart

import (
	"context"
	"database/sql"
)

// Queries は組織図サービスのDB操作をまとめた型。
type Queries struct {
	db *sql.DB
}

// New は新しいQueriesを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Position はpositionsテーブルの行を表す。
type Position struct {
	// ID は役職の一意識別子。
	ID string
	// Name は役職名。
	Name string
	// ParentID は親役職のID。最上位は空文字列。
	ParentID string
	// CreatedAt は作成日時。
	CreatedAt string
}

// CreatePosition は役職を作成する。
func (q *Queries) CreatePosition(ctx context.Context, id, name, parentID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO positions (id, name, parent_id) VALUES (?, ?, ?)`,
		id, name, parentID,
	)
	return err
}

// GetPositionByID はIDで役職を1件取得する。
func (q *Queries) GetPositionByID(ctx context.Context, id string) (Position, error) {
	var p Position
	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, parent_id, created_at FROM positions WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.ParentID, &p.CreatedAt)
	return p, err
}

// ListPositions は役職の一覧を作成順に取得する。
func (q *Queries) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, parent_id, created_at FROM positions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.Name, &p.ParentID, &p.CreatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// DeletePosition は役職を削除する。割り当ても連動して削除される。
func (q *Queries) DeletePosition(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	return err
}

// AssignMember は部員を役職に割り当てる。
// 既に割り当て済みの場合はUNIQUE制約違反となる。
func (q *Queries) AssignMember(ctx context.Context, positionID, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO position_assignments (position_id, user_id) VALUES (?, ?)`,
		positionID, userID,
	)
	return err
}

// UnassignMember は部員の役職割り当てを解除する。
func (q *Queries) UnassignMember(ctx context.Context, positionID, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM position_assignments WHERE position_id = ? AND user_id = ?`,
		positionID, userID,
	)
	return err
}

// ListAssignments は全役職の割り当て一覧を取得する。
// 返り値は役職IDから部員IDの一覧へのマップ。
func (q *Queries) ListAssignments(ctx context.Context) (map[string][]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT position_id, user_id FROM position_assignments ORDER BY assigned_at, user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	assignments := make(map[string][]string)
	for rows.Next() {
		var positionID, userID string
		if err := rows.Scan(&positionID, &userID); err != nil {
			return nil, err
		}
		assignments[positionID] = append(assignments[positionID], userID)
	}
	return assignments, rows.Err()
}

// Verification はmember_verificationsテーブルの行を表す。
type Verification struct {
	// UserID は本人確認が完了した部員のID。
	UserID string
	// AdminID は確認を行った管理者のID。
	AdminID string
	// VerifiedAt は確認日時。
	VerifiedAt string
}

// VerifyMember は部員の本人確認を記録する。
// 既に確認済みの場合はPRIMARY KEY制約違反となる。
func (q *Queries) VerifyMember(ctx context.Context, userID, adminID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO member_verifications (user_id, admin_id) VALUES (?, ?)`,
		userID, adminID,
	)
	return err
}

// GetVerification は部員の本人確認記録を取得する。
func (q *Queries) GetVerification(ctx context.Context, userID string) (Verification, error) {
	var v Verification
	err := q.db.QueryRowContext(ctx,
		`SELECT user_id, admin_id, verified_at FROM member_verifications WHERE user_id = ?`, userID).
		Scan(&v.UserID, &v.AdminID, &v.VerifiedAt)
	return v, err
}

// ListVerifications は本人確認記録の一覧を確認日時順に取得する。
func (q *Queries) ListVerifications(ctx context.Context) ([]Verification, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT user_id, admin_id, verified_at FROM member_verifications ORDER BY verified_at, user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var verifications []Verification
	for rows.Next() {
		var v Verification
		if err := rows.Scan(&v.UserID, &v.AdminID, &v.VerifiedAt); err != nil {
			return nil, err
		}
		verifications = append(verifications, v)
	}
	return verifications, rows.Err()
}
