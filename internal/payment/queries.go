package payment

import (
	"context"
	"database/sql"
	"strings"
)

// Queries は会費サービスのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいクエリ実行オブジェクトを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Payment はpaymentsテーブルの1行。
type Payment struct {
	ID        string
	AdminID   string
	Title     string
	Amount    int64
	DueOn     string
	CreatedAt string
}

// paymentColumns はpaymentsテーブルのSELECT句。
const paymentColumns = `id, admin_id, title, amount, due_on, created_at`

// scanPayment は1行をPaymentに読み込む。
func scanPayment(row interface{ Scan(...any) error }) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.AdminID, &p.Title, &p.Amount, &p.DueOn, &p.CreatedAt)
	return p, err
}

// CreatePaymentParams はCreatePaymentのパラメータ。
type CreatePaymentParams struct {
	ID      string
	AdminID string
	Title   string
	Amount  int64
	DueOn   string
}

// CreatePayment は会費を1件作成する。
func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (id, admin_id, title, amount, due_on)
		VALUES (?, ?, ?, ?, ?)`,
		arg.ID, arg.AdminID, arg.Title, arg.Amount, arg.DueOn,
	)
	return err
}

// GetPaymentByID は指定IDの会費を取得する。
func (q *Queries) GetPaymentByID(ctx context.Context, id string) (Payment, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	return scanPayment(row)
}

// ListPaymentsByAdmin は管理者が作成した会費を作成日時の降順で返す。
func (q *Queries) ListPaymentsByAdmin(ctx context.Context, adminID string) ([]Payment, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE admin_id = ? ORDER BY created_at DESC, id DESC`, adminID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListPaymentsByIDs は指定ID群の会費を返す。表示名解決の内部APIで使用する。
func (q *Queries) ListPaymentsByIDs(ctx context.Context, ids []string) ([]Payment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Item はpayment_itemsテーブルの1行。
type Item struct {
	ID        string
	PaymentID string
	UserID    string
	IsPaid    int64
	PaidAt    string
	CreatedAt string
}

// itemColumns はpayment_itemsテーブルのSELECT句。
const itemColumns = `id, payment_id, user_id, is_paid, paid_at, created_at`

// scanItem は1行をItemに読み込む。
func scanItem(row interface{ Scan(...any) error }) (Item, error) {
	var i Item
	err := row.Scan(&i.ID, &i.PaymentID, &i.UserID, &i.IsPaid, &i.PaidAt, &i.CreatedAt)
	return i, err
}

// CreateItem は会費の明細を1件作成する。
func (q *Queries) CreateItem(ctx context.Context, id, paymentID, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO payment_items (id, payment_id, user_id) VALUES (?, ?, ?)`, id, paymentID, userID)
	return err
}

// GetItemByID は指定IDの明細を取得する。
func (q *Queries) GetItemByID(ctx context.Context, id string) (Item, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM payment_items WHERE id = ?`, id)
	return scanItem(row)
}

// ListItemsByPayment は会費に属する明細を返す。
// unpaidOnlyがtrueの場合は未納の明細のみを返す。督促の宛先抽出で使用する。
func (q *Queries) ListItemsByPayment(ctx context.Context, paymentID string, unpaidOnly bool) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM payment_items WHERE payment_id = ?`
	if unpaidOnly {
		query += ` AND is_paid = 0`
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// ListItemsByUser は部員の明細を作成日時の降順で返す。
func (q *Queries) ListItemsByUser(ctx context.Context, userID string) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM payment_items WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// MarkItemPaid は明細を支払い済みにする。
func (q *Queries) MarkItemPaid(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE payment_items SET is_paid = 1, paid_at = datetime('now') WHERE id = ?`, id)
	return err
}

// ItemWithPayment は明細とその会費の名目を結合した行。
// 表示名解決の内部APIで使用する。
type ItemWithPayment struct {
	ID           string
	PaymentTitle string
}

// ListItemsWithPaymentByIDs は指定ID群の明細を会費の名目付きで返す。
func (q *Queries) ListItemsWithPaymentByIDs(ctx context.Context, ids []string) ([]ItemWithPayment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT i.id, p.title
		FROM payment_items i
		JOIN payments p ON p.id = i.payment_id
		WHERE i.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []ItemWithPayment
	for rows.Next() {
		var i ItemWithPayment
		if err := rows.Scan(&i.ID, &i.PaymentTitle); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
