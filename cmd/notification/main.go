// 通知サービスのエントリポイント。
// 各ドメインサービスから登録された通知を保存し、取得時に種別設定に
// 基づいて同種の通知を1件の要約にまとめて返す。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/circlehub/circlehub/internal/notification"
)

func main() {
	// .envがあれば読み込む。コンテナ環境では環境変数を直接使用する。
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}

	server, err := notification.NewServer(port)
	if err != nil {
		log.Fatalf("通知サーバーの初期化に失敗: %v", err)
	}

	log.Printf("通知サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}
