package gateway

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS users (
    -- ユーザーの一意識別子
    id TEXT PRIMARY KEY,
    -- メールアドレス（ログインに使用）
    email TEXT NOT NULL,
    -- 名
    first_name TEXT NOT NULL DEFAULT '',
    -- 姓
    last_name TEXT NOT NULL DEFAULT '',
    -- 表示名（ニックネーム）
    display_name TEXT NOT NULL DEFAULT '',
    -- 役割（"member" または "admin"）
    role TEXT NOT NULL DEFAULT 'member',
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 最終ログイン日時
    last_login_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
    ON users(email);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
