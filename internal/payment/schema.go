package payment

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS payments (
    -- 会費の一意識別子
    id TEXT PRIMARY KEY,
    -- 会費を作成した管理者のID
    admin_id TEXT NOT NULL,
    -- 会費の名目
    title TEXT NOT NULL,
    -- 1人あたりの金額（円）
    amount INTEGER NOT NULL,
    -- 支払い期限（日付）
    due_on TEXT NOT NULL,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS payment_items (
    -- 明細の一意識別子
    id TEXT PRIMARY KEY,
    -- 会費のID
    payment_id TEXT NOT NULL,
    -- 支払い対象の部員のID
    user_id TEXT NOT NULL,
    -- 支払い済みかどうか
    is_paid INTEGER NOT NULL DEFAULT 0,
    -- 支払い日時
    paid_at TEXT NOT NULL DEFAULT '',
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    UNIQUE (payment_id, user_id),
    FOREIGN KEY (payment_id) REFERENCES payments(id) ON DELETE CASCADE
);

-- 部員IDでの明細検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_payment_items_user_id
    ON payment_items(user_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
