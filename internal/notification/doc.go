// Package notification は通知サービスの内部実装を提供する。
//
// 各ドメインサービスが登録した生の通知レコードを保存し、一覧取得時に
// 種別設定レジストリに従って集約する。同一対象に対する同種の通知が
// 4件以上溜まった場合は1件の要約通知に畳み込み、要約文の生成時には
// 対象エンティティの表示名を各サービスへの一括問い合わせで解決する。
// 既読・グループ既読・非表示の管理も行う。
package notification
