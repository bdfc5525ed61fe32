// Package notify は通知サービスへの通知送信を提供する共有パッケージ。
//
// 各ドメインサービス（イベント・掲示板・会費・Tシャツ・組織図）が
// 通知を発行する際の種別キー・ペイロード構造・送信クライアントを定義する。
// 通知の集約やフォーマットは通知サービス側の責務であり、本パッケージは
// 生の通知レコードを登録するだけである。
package notify
