// API Gatewayサービスのエントリポイント。
// 部員アカウントの管理、役割付きJWTの発行、各ドメインサービスへの
// リクエストルーティングを担当する。外部からアクセス可能な唯一のサービス。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/circlehub/circlehub/internal/gateway"
)

func main() {
	// .envがあれば読み込む。コンテナ環境では環境変数を直接使用する。
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := gateway.NewServer(port)
	if err != nil {
		log.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Gatewayサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
}
