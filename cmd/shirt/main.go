// Tシャツ注文サービスのエントリポイント。
// キャンペーンの作成とサイズ別注文を担当し、注文時に管理者へ通知を送信する。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/circlehub/circlehub/internal/shirt"
)

func main() {
	// .envがあれば読み込む。コンテナ環境では環境変数を直接使用する。
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8084"
	}

	server, err := shirt.NewServer(port)
	if err != nil {
		log.Fatalf("Tシャツ注文サーバーの初期化に失敗: %v", err)
	}

	log.Printf("Tシャツ注文サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Tシャツ注文サービスの起動に失敗: %v", err)
	}
}
