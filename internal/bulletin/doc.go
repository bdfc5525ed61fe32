// Package bulletin は団体の掲示板サービスを提供する。
// 管理者による投稿の作成・編集・公開を扱い、公開時には団体全体への
// bulletin_postブロードキャスト通知を送信する。
// また、通知サービスの表示名解決のための内部APIを公開する。
package bulletin
