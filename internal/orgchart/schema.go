package orgchart

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS positions (
    -- 役職の一意識別子
    id TEXT PRIMARY KEY,
    -- 役職名
    name TEXT NOT NULL,
    -- 親役職のID（最上位は空文字列）
    parent_id TEXT NOT NULL DEFAULT '',
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS position_assignments (
    -- 役職ID
    position_id TEXT NOT NULL,
    -- 割り当てられた部員のID
    user_id TEXT NOT NULL,
    -- 割り当て日時
    assigned_at DATETIME NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (position_id, user_id),
    FOREIGN KEY (position_id) REFERENCES positions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS member_verifications (
    -- 本人確認が完了した部員のID
    user_id TEXT PRIMARY KEY,
    -- 確認を行った管理者のID
    admin_id TEXT NOT NULL,
    -- 確認日時
    verified_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
