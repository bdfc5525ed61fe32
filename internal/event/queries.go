package event

import (
	"context"
	"database/sql"
	"strings"
)

// Queries はイベントサービスのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいクエリ実行オブジェクトを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Event はeventsテーブルの1行。
type Event struct {
	ID          string
	AdminID     string
	Title       string
	Description string
	Location    string
	StartsAt    string
	Capacity    int64
	CreatedAt   string
	UpdatedAt   string
}

// eventColumns はeventsテーブルのSELECT句。
const eventColumns = `id, admin_id, title, description, location, starts_at, capacity, created_at, updated_at`

// scanEvent は1行をEventに読み込む。
func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.AdminID, &e.Title, &e.Description, &e.Location,
		&e.StartsAt, &e.Capacity, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

// CreateEventParams はCreateEventのパラメータ。
type CreateEventParams struct {
	ID          string
	AdminID     string
	Title       string
	Description string
	Location    string
	StartsAt    string
	Capacity    int64
}

// CreateEvent はイベントを1件作成する。
func (q *Queries) CreateEvent(ctx context.Context, arg CreateEventParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO events (id, admin_id, title, description, location, starts_at, capacity)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.AdminID, arg.Title, arg.Description, arg.Location, arg.StartsAt, arg.Capacity,
	)
	return err
}

// GetEventByID は指定IDのイベントを取得する。
func (q *Queries) GetEventByID(ctx context.Context, id string) (Event, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// ListEvents は全イベントを開催日時の昇順で返す。
func (q *Queries) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY starts_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListEventsByIDs は指定ID群のイベントを返す。表示名解決の内部APIで使用する。
func (q *Queries) ListEventsByIDs(ctx context.Context, ids []string) ([]Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpdateEventParams はUpdateEventのパラメータ。
type UpdateEventParams struct {
	ID          string
	Title       string
	Description string
	Location    string
	StartsAt    string
	Capacity    int64
}

// UpdateEvent はイベントの内容を更新する。
func (q *Queries) UpdateEvent(ctx context.Context, arg UpdateEventParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE events
		SET title = ?, description = ?, location = ?, starts_at = ?, capacity = ?,
			updated_at = datetime('now')
		WHERE id = ?`,
		arg.Title, arg.Description, arg.Location, arg.StartsAt, arg.Capacity, arg.ID,
	)
	return err
}

// DeleteEvent はイベントを削除する。参加記録もカスケード削除される。
func (q *Queries) DeleteEvent(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	return err
}

// EventMember はevent_membersテーブルの1行。
type EventMember struct {
	EventID  string
	UserID   string
	JoinedAt string
}

// JoinEvent は部員をイベントに参加させる。
// 既に参加している場合はUNIQUE制約違反のエラーを返す。
func (q *Queries) JoinEvent(ctx context.Context, eventID, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO event_members (event_id, user_id) VALUES (?, ?)`, eventID, userID)
	return err
}

// LeaveEvent は部員のイベント参加を取り消す。
func (q *Queries) LeaveEvent(ctx context.Context, eventID, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM event_members WHERE event_id = ? AND user_id = ?`, eventID, userID)
	return err
}

// ListMembers はイベントの参加者一覧を参加日時の昇順で返す。
func (q *Queries) ListMembers(ctx context.Context, eventID string) ([]EventMember, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT event_id, user_id, joined_at FROM event_members WHERE event_id = ? ORDER BY joined_at`, eventID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []EventMember
	for rows.Next() {
		var m EventMember
		if err := rows.Scan(&m.EventID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CountMembers はイベントの参加者数を返す。定員チェックで使用する。
func (q *Queries) CountMembers(ctx context.Context, eventID string) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_members WHERE event_id = ?`, eventID).Scan(&count)
	return count, err
}
