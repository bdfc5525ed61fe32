package notification

import (
	"context"
	"database/sql"
	"strings"
)

// Queries は通知サービスのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいクエリ実行オブジェクトを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Notification はnotificationsテーブルの1行。
type Notification struct {
	ID               string
	NotificationType string
	Message          string
	Url              string
	UserID           sql.NullString
	AdminID          sql.NullString
	OrganizationID   sql.NullString
	BulletinPostID   sql.NullString
	EventID          sql.NullString
	PaymentID        sql.NullString
	PaymentItemID    sql.NullString
	VerifiedUserID   sql.NullString
	IsRead           int64
	IsDismissed      int64
	CreatedAt        string
}

// notificationColumns はnotificationsテーブルのSELECT句。
const notificationColumns = `id, notification_type, message, url,
	user_id, admin_id, organization_id,
	bulletin_post_id, event_id, payment_id, payment_item_id, verified_user_id,
	is_read, is_dismissed, created_at`

// scanNotification は1行をNotificationに読み込む。
func scanNotification(row interface{ Scan(...any) error }) (Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.NotificationType, &n.Message, &n.Url,
		&n.UserID, &n.AdminID, &n.OrganizationID,
		&n.BulletinPostID, &n.EventID, &n.PaymentID, &n.PaymentItemID, &n.VerifiedUserID,
		&n.IsRead, &n.IsDismissed, &n.CreatedAt,
	)
	return n, err
}

// CreateNotificationParams はCreateNotificationのパラメータ。
type CreateNotificationParams struct {
	ID               string
	NotificationType string
	Message          string
	Url              string
	UserID           string
	AdminID          string
	OrganizationID   string
	BulletinPostID   string
	EventID          string
	PaymentID        string
	PaymentItemID    string
	VerifiedUserID   string
	// CreatedAt は作成日時。空の場合は現在時刻が使用される。
	CreatedAt string
}

// CreateNotification は通知レコードを1件挿入する。
// 空文字列の参照フィールドはNULLとして保存される。
func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, notification_type, message, url,
			user_id, admin_id, organization_id,
			bulletin_post_id, event_id, payment_id, payment_item_id, verified_user_id,
			created_at
		) VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''),
			NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''),
			COALESCE(NULLIF(?, ''), datetime('now')))`,
		arg.ID, arg.NotificationType, arg.Message, arg.Url,
		arg.UserID, arg.AdminID, arg.OrganizationID,
		arg.BulletinPostID, arg.EventID, arg.PaymentID, arg.PaymentItemID, arg.VerifiedUserID,
		arg.CreatedAt,
	)
	return err
}

// ListNotificationsForOwnerParams はListNotificationsForOwnerのパラメータ。
type ListNotificationsForOwnerParams struct {
	// OwnerID は要求者のID。IsAdminに応じてuser_idまたはadmin_idと照合される。
	OwnerID string
	// IsAdmin は要求者が管理者かどうか。
	IsAdmin bool
	// IncludeRead は既読の通知も含めるかどうか。
	IncludeRead bool
}

// ListNotificationsForOwner は要求者の所有スコープに属する非表示でない
// 通知を返す。団体ブロードキャストの通知は全員のスコープに含まれる。
func (q *Queries) ListNotificationsForOwner(ctx context.Context, arg ListNotificationsForOwnerParams) ([]Notification, error) {
	ownerColumn := "user_id"
	if arg.IsAdmin {
		ownerColumn = "admin_id"
	}
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE is_dismissed = 0 AND (` + ownerColumn + ` = ? OR organization_id IS NOT NULL)`
	if !arg.IncludeRead {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := q.db.QueryContext(ctx, query, arg.OwnerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notifications []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// GetNotificationByID は指定IDの通知を取得する。
func (q *Queries) GetNotificationByID(ctx context.Context, id string) (Notification, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	return scanNotification(row)
}

// MarkAsRead は指定IDの通知を既読にする。
func (q *Queries) MarkAsRead(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	return err
}

// MarkManyAsRead は指定ID群の通知をまとめて既読にする。
// 要約通知のgroup_idsに対する一括既読で使用する。
func (q *Queries) MarkManyAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := q.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// MarkAllAsReadForOwner は要求者の所有スコープに属する全通知を既読にする。
func (q *Queries) MarkAllAsReadForOwner(ctx context.Context, ownerID string, isAdmin bool) error {
	ownerColumn := "user_id"
	if isAdmin {
		ownerColumn = "admin_id"
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE is_dismissed = 0 AND (`+ownerColumn+` = ? OR organization_id IS NOT NULL)`,
		ownerID)
	return err
}

// Dismiss は指定IDの通知を非表示にする。非表示の通知は集約対象から除外される。
func (q *Queries) Dismiss(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE notifications SET is_dismissed = 1 WHERE id = ?`, id)
	return err
}

// TypeConfigRow はnotification_type_configsテーブルの1行。
type TypeConfigRow struct {
	NotificationType          string
	DisplayNamePlural         string
	GroupByTypeOnly           int64
	AlwaysIndividual          int64
	MessageTemplatePlural     string
	MessageTemplateIndividual string
	ContextPhraseTemplate     string
	MessagePrefixToStrip      string
	EntityModelName           string
	EntityTitleAttribute      string
}

// typeConfigColumns はnotification_type_configsテーブルのSELECT句。
const typeConfigColumns = `notification_type, display_name_plural, group_by_type_only,
	always_individual, message_template_plural, message_template_individual,
	context_phrase_template, message_prefix_to_strip, entity_model_name, entity_title_attribute`

// ListTypeConfigs は種別設定レジストリの全行を返す。
func (q *Queries) ListTypeConfigs(ctx context.Context) ([]TypeConfigRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+typeConfigColumns+` FROM notification_type_configs ORDER BY notification_type`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var configs []TypeConfigRow
	for rows.Next() {
		var c TypeConfigRow
		if err := rows.Scan(
			&c.NotificationType, &c.DisplayNamePlural, &c.GroupByTypeOnly,
			&c.AlwaysIndividual, &c.MessageTemplatePlural, &c.MessageTemplateIndividual,
			&c.ContextPhraseTemplate, &c.MessagePrefixToStrip, &c.EntityModelName, &c.EntityTitleAttribute,
		); err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// UpsertTypeConfig は種別設定を登録または上書きする。
func (q *Queries) UpsertTypeConfig(ctx context.Context, arg TypeConfigRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO notification_type_configs (`+typeConfigColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(notification_type) DO UPDATE SET
			display_name_plural = excluded.display_name_plural,
			group_by_type_only = excluded.group_by_type_only,
			always_individual = excluded.always_individual,
			message_template_plural = excluded.message_template_plural,
			message_template_individual = excluded.message_template_individual,
			context_phrase_template = excluded.context_phrase_template,
			message_prefix_to_strip = excluded.message_prefix_to_strip,
			entity_model_name = excluded.entity_model_name,
			entity_title_attribute = excluded.entity_title_attribute`,
		arg.NotificationType, arg.DisplayNamePlural, arg.GroupByTypeOnly,
		arg.AlwaysIndividual, arg.MessageTemplatePlural, arg.MessageTemplateIndividual,
		arg.ContextPhraseTemplate, arg.MessagePrefixToStrip, arg.EntityModelName, arg.EntityTitleAttribute,
	)
	return err
}
