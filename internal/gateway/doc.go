// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 部員アカウントの管理（登録・ログイン）、役割付きJWTの発行、
// 各ドメインサービスへのリクエストルーティングを担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。認証済みリクエストのJWTとユーザーIDを内部サービスに転送する。
package gateway
