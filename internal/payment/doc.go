// Package payment は団体の会費管理サービスを提供する。
// 管理者が会費を作成すると対象部員ごとの明細に展開され、部員の支払い
// （決済ゲートウェイのコールバックを模した内部処理）で明細が消し込まれる。
// 支払い受領時は管理者へpayment_received通知を、督促時は未納の部員へ
// payment_due通知を送信する。
// また、通知サービスの表示名解決のための内部API（PaymentとPaymentItemの
// 2モデル）を公開する。
package payment
