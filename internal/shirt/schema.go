package shirt

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS shirt_campaigns (
    -- キャンペーンの一意識別子
    id TEXT PRIMARY KEY,
    -- キャンペーンを作成した管理者のID
    admin_id TEXT NOT NULL,
    -- デザイン名
    name TEXT NOT NULL,
    -- 1枚あたりの価格（円）
    price INTEGER NOT NULL,
    -- 注文締切日
    deadline TEXT NOT NULL,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS shirt_orders (
    -- 注文の一意識別子
    id TEXT PRIMARY KEY,
    -- キャンペーンID
    campaign_id TEXT NOT NULL,
    -- 注文した部員のID
    user_id TEXT NOT NULL,
    -- サイズ（S・M・L・XL）
    size TEXT NOT NULL,
    -- 注文日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    UNIQUE (campaign_id, user_id),
    FOREIGN KEY (campaign_id) REFERENCES shirt_campaigns(id) ON DELETE CASCADE
);

-- キャンペーンごとの注文一覧取得を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_shirt_orders_campaign_id
    ON shirt_orders(campaign_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
