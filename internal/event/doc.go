// Package event は団体のイベント管理サービスを提供する。
// 管理者によるイベントのCRUDと、部員の参加・辞退を扱う。
// 部員がイベントに参加すると、主催の管理者へevent_join通知を送信する。
// また、通知サービスの表示名解決のための内部APIを公開する。
package event
