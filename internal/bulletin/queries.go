package bulletin

import (
	"context"
	"database/sql"
	"strings"
)

// Queries は掲示板サービスのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいクエリ実行オブジェクトを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Post はbulletin_postsテーブルの1行。
type Post struct {
	ID             string
	OrganizationID string
	AdminID        string
	Title          string
	Body           string
	IsPublished    int64
	CreatedAt      string
	UpdatedAt      string
}

// postColumns はbulletin_postsテーブルのSELECT句。
const postColumns = `id, organization_id, admin_id, title, body, is_published, created_at, updated_at`

// scanPost は1行をPostに読み込む。
func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var p Post
	err := row.Scan(
		&p.ID, &p.OrganizationID, &p.AdminID, &p.Title, &p.Body,
		&p.IsPublished, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// CreatePostParams はCreatePostのパラメータ。
type CreatePostParams struct {
	ID             string
	OrganizationID string
	AdminID        string
	Title          string
	Body           string
}

// CreatePost は下書き状態の投稿を1件作成する。
func (q *Queries) CreatePost(ctx context.Context, arg CreatePostParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bulletin_posts (id, organization_id, admin_id, title, body)
		VALUES (?, ?, ?, ?, ?)`,
		arg.ID, arg.OrganizationID, arg.AdminID, arg.Title, arg.Body,
	)
	return err
}

// GetPostByID は指定IDの投稿を取得する。
func (q *Queries) GetPostByID(ctx context.Context, id string) (Post, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM bulletin_posts WHERE id = ?`, id)
	return scanPost(row)
}

// ListPosts は投稿を作成日時の降順で返す。
// includeDraftsがfalseの場合は公開済みの投稿のみを返す。
func (q *Queries) ListPosts(ctx context.Context, includeDrafts bool) ([]Post, error) {
	query := `SELECT ` + postColumns + ` FROM bulletin_posts`
	if !includeDrafts {
		query += ` WHERE is_published = 1`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ListPostsByIDs は指定ID群の投稿を返す。表示名解決の内部APIで使用する。
func (q *Queries) ListPostsByIDs(ctx context.Context, ids []string) ([]Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+postColumns+` FROM bulletin_posts WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// UpdatePostParams はUpdatePostのパラメータ。
type UpdatePostParams struct {
	ID    string
	Title string
	Body  string
}

// UpdatePost は投稿のタイトルと本文を更新する。
func (q *Queries) UpdatePost(ctx context.Context, arg UpdatePostParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE bulletin_posts
		SET title = ?, body = ?, updated_at = datetime('now')
		WHERE id = ?`,
		arg.Title, arg.Body, arg.ID,
	)
	return err
}

// PublishPost は投稿を公開済みにする。
func (q *Queries) PublishPost(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE bulletin_posts
		SET is_published = 1, updated_at = datetime('now')
		WHERE id = ?`, id)
	return err
}

// DeletePost は投稿を削除する。
func (q *Queries) DeletePost(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM bulletin_posts WHERE id = ?`, id)
	return err
}
