// Package shirt はTシャツ注文サービスを提供する。
//
// 管理者がTシャツのキャンペーン（デザイン名・価格・締切）を作成し、
// 部員がサイズを指定して注文する。注文があるとキャンペーンを作成した
// 管理者へshirt_order通知が送信される。この通知は対象エンティティを
// 持たないため、通知サービス側では管理者単位でまとめられる。
package shirt
