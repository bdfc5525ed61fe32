package gateway

import (
	"context"
	"database/sql"
	"strings"
)

// Queries はgatewayサービスのDB操作をまとめた型。
type Queries struct {
	db *sql.DB
}

// New は新しいQueriesを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// User はusersテーブルの行を表す。
type User struct {
	// ID はユーザーの一意識別子。
	ID string
	// Email はメールアドレス。
	Email string
	// FirstName は名。
	FirstName string
	// LastName は姓。
	LastName string
	// DisplayName は表示名。
	DisplayName string
	// Role は役割（"member" または "admin"）。
	Role string
	// CreatedAt は作成日時。
	CreatedAt string
	// LastLoginAt は最終ログイン日時。
	LastLoginAt string
}

// userColumns はusersテーブルのSELECT句。
const userColumns = `id, email, first_name, last_name, display_name, role, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.DisplayName, &u.Role,
		&u.CreatedAt, &u.LastLoginAt)
	return u, err
}

// CreateUserParams はユーザー作成のパラメータ。
type CreateUserParams struct {
	// ID はユーザーの一意識別子。
	ID string
	// Email はメールアドレス。
	Email string
	// FirstName は名。
	FirstName string
	// LastName は姓。
	LastName string
	// DisplayName は表示名。
	DisplayName string
	// Role は役割。
	Role string
}

// CreateUser はユーザーを作成する。
// メールアドレスの重複はUNIQUE制約違反となる。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO users (id, email, first_name, last_name, display_name, role)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Email, arg.FirstName, arg.LastName, arg.DisplayName, arg.Role,
	)
	return err
}

// GetUserByID はIDでユーザーを1件取得する。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail はメールアドレスでユーザーを1件取得する。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// ListUsersByIDs はIDの一覧でユーザーを取得する。
// 存在しないIDは結果に含まれない。
func (q *Queries) ListUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateLastLogin は最終ログイン日時を現在時刻に更新する。
func (q *Queries) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = datetime('now') WHERE id = ?`, id)
	return err
}
