// Package orgchart は組織図サービスを提供する。
//
// 管理者が役職（会長・会計など）を階層付きで定義し、部員を役職に
// 割り当てる。また部員の本人確認（学生証の確認など）を記録し、
// 確認完了時にuser_verified通知を送信する。この通知は設定上
// 常に個別表示となり、まとめられることはない。
package orgchart
