package bulletin

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS bulletin_posts (
    -- 投稿の一意識別子
    id TEXT PRIMARY KEY,
    -- 投稿先の団体のID
    organization_id TEXT NOT NULL,
    -- 投稿を作成した管理者のID
    admin_id TEXT NOT NULL,
    -- 投稿のタイトル
    title TEXT NOT NULL,
    -- 投稿の本文
    body TEXT NOT NULL DEFAULT '',
    -- 公開済みかどうか（0:下書き 1:公開済み）
    is_published INTEGER NOT NULL DEFAULT 0,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- 団体IDでの検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_bulletin_posts_organization_id
    ON bulletin_posts(organization_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
