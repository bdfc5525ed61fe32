// 組織図サービスのエントリポイント。
// 役職階層と割り当て、部員の本人確認を担当し、確認完了時に通知を送信する。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/circlehub/circlehub/internal/orgchart"
)

func main() {
	// .envがあれば読み込む。コンテナ環境では環境変数を直接使用する。
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8085"
	}

	server, err := orgchart.NewServer(port)
	if err != nil {
		log.Fatalf("組織図サーバーの初期化に失敗: %v", err)
	}

	log.Printf("組織図サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("組織図サービスの起動に失敗: %v", err)
	}
}
