package notify

import "errors"

// Type は通知の種別を表すキー。
// 通知サービスの種別設定レジストリ（notification_type_configs）と対応する。
type Type string

const (
	// TypeEventJoin は部員がイベントに参加したことを表す。
	TypeEventJoin Type = "event_join"
	// TypeBulletinPost は掲示板に投稿が公開されたことを表す。
	TypeBulletinPost Type = "bulletin_post"
	// TypePaymentReceived は会費の支払いを受領したことを表す。
	TypePaymentReceived Type = "payment_received"
	// TypePaymentDue は会費の支払い期限が近いことを表す。
	TypePaymentDue Type = "payment_due"
	// TypeShirtOrder はTシャツの注文があったことを表す。
	TypeShirtOrder Type = "shirt_order"
	// TypeUserVerified は部員の本人確認が完了したことを表す。
	TypeUserVerified Type = "user_verified"
)

// Notification は通知サービスに登録する1件の通知レコード。
// 所有者フィールド（UserID・AdminID・OrganizationID）はいずれか1つを設定する。
// OrganizationIDを設定した通知は団体全体へのブロードキャストとなる。
// 対象参照フィールド（BulletinPostID等）は通知が言及するエンティティを指し、
// 通知サービスのグルーピングで同一対象の通知をまとめるために使用される。
type Notification struct {
	// Type は通知の種別キー。
	Type Type `json:"notification_type"`
	// Message は通知の本文。
	Message string `json:"message"`
	// URL は通知から遷移する先のディープリンク。
	URL string `json:"url,omitempty"`

	// UserID は通知先の部員ID。
	UserID string `json:"user_id,omitempty"`
	// AdminID は通知先の管理者ID。
	AdminID string `json:"admin_id,omitempty"`
	// OrganizationID はブロードキャスト先の団体ID。
	OrganizationID string `json:"organization_id,omitempty"`

	// BulletinPostID は対象の掲示板投稿ID。
	BulletinPostID string `json:"bulletin_post_id,omitempty"`
	// EventID は対象のイベントID。
	EventID string `json:"event_id,omitempty"`
	// PaymentID は対象の会費ID。
	PaymentID string `json:"payment_id,omitempty"`
	// PaymentItemID は対象の会費明細ID。
	PaymentItemID string `json:"payment_item_id,omitempty"`
	// VerifiedUserID は本人確認が完了した部員のID。
	VerifiedUserID string `json:"verified_user_id,omitempty"`
}

// ErrNoOwner は所有者フィールドが1つも設定されていないことを表す。
var ErrNoOwner = errors.New("通知に所有者（user_id・admin_id・organization_idのいずれか）が設定されていません")

// ErrEmptyMessage は通知本文が空であることを表す。
var ErrEmptyMessage = errors.New("通知の本文が空です")

// ErrEmptyType は通知種別が空であることを表す。
var ErrEmptyType = errors.New("通知の種別が空です")

// Validate は通知レコードの必須フィールドを検証する。
func (n *Notification) Validate() error {
	if n.Type == "" {
		return ErrEmptyType
	}
	if n.Message == "" {
		return ErrEmptyMessage
	}
	if n.UserID == "" && n.AdminID == "" && n.OrganizationID == "" {
		return ErrNoOwner
	}
	return nil
}
