// イベントサービスのエントリポイント。
// イベントの作成・参加管理を担当し、参加時に管理者へ通知を送信する。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/circlehub/circlehub/internal/event"
)

func main() {
	// .envがあれば読み込む。コンテナ環境では環境変数を直接使用する。
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server, err := event.NewServer(port)
	if err != nil {
		log.Fatalf("イベントサーバーの初期化に失敗: %v", err)
	}

	log.Printf("イベントサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("イベントサービスの起動に失敗: %v", err)
	}
}
