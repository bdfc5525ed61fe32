// 会費サービスのエントリポイント。
// 会費の作成・明細の支払い・督促を担当し、支払い受領と督促の通知を送信する。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/circlehub/circlehub/internal/payment"
)

func main() {
	// .envがあれば読み込む。コンテナ環境では環境変数を直接使用する。
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8083"
	}

	server, err := payment.NewServer(port)
	if err != nil {
		log.Fatalf("会費サーバーの初期化に失敗: %v", err)
	}

	log.Printf("会費サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("会費サービスの起動に失敗: %v", err)
	}
}
