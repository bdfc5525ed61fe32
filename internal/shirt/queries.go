package shirt

import (
	"context"
	"database/sql"
)

// Queries はTシャツ注文サービスのDB操作をまとめた型。
type Queries struct {
	db *sql.DB
}

// New は新しいQueriesを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Campaign はshirt_campaignsテーブルの行を表す。
type Campaign struct {
	// ID はキャンペーンの一意識別子。
	ID string
	// AdminID はキャンペーンを作成した管理者のID。
	AdminID string
	// Name はデザイン名。
	Name string
	// Price は1枚あたりの価格（円）。
	Price int64
	// Deadline は注文締切日。
	Deadline string
	// CreatedAt は作成日時。
	CreatedAt string
}

func scanCampaign(row interface{ Scan(...any) error }) (Campaign, error) {
	var c Campaign
	err := row.Scan(&c.ID, &c.AdminID, &c.Name, &c.Price, &c.Deadline, &c.CreatedAt)
	return c, err
}

// CreateCampaignParams はキャンペーン作成のパラメータ。
type CreateCampaignParams struct {
	// ID はキャンペーンの一意識別子。
	ID string
	// AdminID はキャンペーンを作成した管理者のID。
	AdminID string
	// Name はデザイン名。
	Name string
	// Price は1枚あたりの価格（円）。
	Price int64
	// Deadline は注文締切日。
	Deadline string
}

// CreateCampaign はキャンペーンを作成する。
func (q *Queries) CreateCampaign(ctx context.Context, arg CreateCampaignParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO shirt_campaigns (id, admin_id, name, price, deadline) VALUES (?, ?, ?, ?, ?)`,
		arg.ID, arg.AdminID, arg.Name, arg.Price, arg.Deadline,
	)
	return err
}

// GetCampaignByID はIDでキャンペーンを1件取得する。
func (q *Queries) GetCampaignByID(ctx context.Context, id string) (Campaign, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, admin_id, name, price, deadline, created_at FROM shirt_campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

// ListCampaigns はキャンペーンの一覧を締切日順に取得する。
func (q *Queries) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, admin_id, name, price, deadline, created_at FROM shirt_campaigns ORDER BY deadline`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var campaigns []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// DeleteCampaign はキャンペーンを削除する。
func (q *Queries) DeleteCampaign(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM shirt_campaigns WHERE id = ?`, id)
	return err
}

// Order はshirt_ordersテーブルの行を表す。
type Order struct {
	// ID は注文の一意識別子。
	ID string
	// CampaignID はキャンペーンのID。
	CampaignID string
	// UserID は注文した部員のID。
	UserID string
	// Size はサイズ。
	Size string
	// CreatedAt は注文日時。
	CreatedAt string
}

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CampaignID, &o.UserID, &o.Size, &o.CreatedAt)
	return o, err
}

// CreateOrder は注文を作成する。
// 同じキャンペーンへの二重注文はUNIQUE制約違反となる。
func (q *Queries) CreateOrder(ctx context.Context, id, campaignID, userID, size string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO shirt_orders (id, campaign_id, user_id, size) VALUES (?, ?, ?, ?)`,
		id, campaignID, userID, size,
	)
	return err
}

// ListOrdersByCampaign はキャンペーンの注文一覧を注文日時順に取得する。
func (q *Queries) ListOrdersByCampaign(ctx context.Context, campaignID string) ([]Order, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, campaign_id, user_id, size, created_at FROM shirt_orders
		 WHERE campaign_id = ? ORDER BY created_at, id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountOrdersBySize はキャンペーンの注文数をサイズごとに集計する。
func (q *Queries) CountOrdersBySize(ctx context.Context, campaignID string) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT size, COUNT(*) FROM shirt_orders WHERE campaign_id = ? GROUP BY size`, campaignID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var size string
		var count int64
		if err := rows.Scan(&size, &count); err != nil {
			return nil, err
		}
		counts[size] = count
	}
	return counts, rows.Err()
}
