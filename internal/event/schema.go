package event

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS events (
    -- イベントの一意識別子
    id TEXT PRIMARY KEY,
    -- イベントを作成した管理者のID
    admin_id TEXT NOT NULL,
    -- イベントのタイトル
    title TEXT NOT NULL,
    -- イベントの説明
    description TEXT NOT NULL DEFAULT '',
    -- 開催場所
    location TEXT NOT NULL DEFAULT '',
    -- 開催日時
    starts_at DATETIME NOT NULL,
    -- 定員（0は無制限）
    capacity INTEGER NOT NULL DEFAULT 0,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS event_members (
    -- イベントID
    event_id TEXT NOT NULL,
    -- 参加した部員のID
    user_id TEXT NOT NULL,
    -- 参加日時
    joined_at DATETIME NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (event_id, user_id),
    FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
);

-- 開催日時での並べ替えを高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_events_starts_at
    ON events(starts_at);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
