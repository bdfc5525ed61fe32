// 掲示板サービスのエントリポイント。
// 投稿の作成・公開を担当し、公開時に団体全体へ通知を送信する。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/circlehub/circlehub/internal/bulletin"
)

func main() {
	// .envがあれば読み込む。コンテナ環境では環境変数を直接使用する。
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	server, err := bulletin.NewServer(port)
	if err != nil {
		log.Fatalf("掲示板サーバーの初期化に失敗: %v", err)
	}

	log.Printf("掲示板サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("掲示板サービスの起動に失敗: %v", err)
	}
}
