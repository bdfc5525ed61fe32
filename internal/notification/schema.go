package notification

import (
	"database/sql"
	"embed"

	"github.com/circlehub/circlehub/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// initSchema はマイグレーションを実行して通知サービスのスキーマと
// 組み込み種別設定のシードデータを適用する。
func initSchema(db *sql.DB) error {
	return migration.Run(db, migrationsFS, "migrations")
}
