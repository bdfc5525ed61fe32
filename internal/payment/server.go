package payment

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/circlehub/circlehub/pkg/middleware"
	"github.com/circlehub/circlehub/pkg/notify"
)

// Server は会費サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// notifyClient は通知サービスへのクライアント。
	notifyClient *notify.Client
}

// NewServer は新しい会費サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/payment.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:       router,
		port:         port,
		queries:      New(sqlDB),
		db:           sqlDB,
		notifyClient: notify.NewClient(getEnvOr("NOTIFICATION_URL", "http://localhost:8086")),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		payments := api.Group("/payments")
		{
			// 自分宛ての明細一覧取得（部員）
			payments.GET("/mine", s.handleListMine())
			// 明細の支払い（決済ゲートウェイのコールバックを模した処理）
			payments.POST("/items/:id/pay", s.handlePayItem())

			// 管理者のみの操作
			admin := payments.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				// 会費作成（対象部員ごとの明細に展開される）
				admin.POST("", s.handleCreate())
				// 作成した会費の一覧取得
				admin.GET("", s.handleList())
				// 会費詳細取得（明細込み）
				admin.GET("/:id", s.handleGetByID())
				// 未納の部員への督促
				admin.POST("/:id/remind", s.handleRemind())
			}
		}
	}

	// 通知サービスの表示名解決用内部API。
	// gatewayを経由せず、内部ネットワークからのみ到達する。
	internal := s.router.Group("/api/v1/internal")
	{
		internal.POST("/titles", s.handleTitles())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment"})
	})
}

// createPaymentRequest は会費作成リクエストのJSON構造。
type createPaymentRequest struct {
	// Title は会費の名目。
	Title string `json:"title" binding:"required"`
	// Amount は1人あたりの金額（円）。
	Amount int64 `json:"amount" binding:"required"`
	// DueOn は支払い期限（日付）。
	DueOn string `json:"due_on" binding:"required"`
	// MemberIDs は支払い対象の部員のID一覧。
	MemberIDs []string `json:"member_ids" binding:"required"`
}

// itemResponse は明細のJSONレスポンス構造。
type itemResponse struct {
	// ID は明細の一意識別子。
	ID string `json:"id"`
	// PaymentID は会費のID。
	PaymentID string `json:"payment_id"`
	// UserID は支払い対象の部員のID。
	UserID string `json:"user_id"`
	// IsPaid は支払い済みかどうか。
	IsPaid bool `json:"is_paid"`
	// PaidAt は支払い日時。未払いの場合は空文字列。
	PaidAt string `json:"paid_at"`
}

// paymentResponse は会費のJSONレスポンス構造。
type paymentResponse struct {
	// ID は会費の一意識別子。
	ID string `json:"id"`
	// AdminID は会費を作成した管理者のID。
	AdminID string `json:"admin_id"`
	// Title は会費の名目。
	Title string `json:"title"`
	// Amount は1人あたりの金額（円）。
	Amount int64 `json:"amount"`
	// DueOn は支払い期限。
	DueOn string `json:"due_on"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
	// Items は部員ごとの明細。一覧取得では省略される。
	Items []itemResponse `json:"items,omitempty"`
}

// toItemResponse はDB行をJSONレスポンスに変換する。
func toItemResponse(i Item) itemResponse {
	return itemResponse{
		ID:        i.ID,
		PaymentID: i.PaymentID,
		UserID:    i.UserID,
		IsPaid:    i.IsPaid != 0,
		PaidAt:    i.PaidAt,
	}
}

// toPaymentResponse はDB行をJSONレスポンスに変換する。
func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:        p.ID,
		AdminID:   p.AdminID,
		Title:     p.Title,
		Amount:    p.Amount,
		DueOn:     p.DueOn,
		CreatedAt: p.CreatedAt,
	}
}

// handleCreate は会費作成を処理するハンドラを返す。
// 会費を作成し、対象部員ごとの明細に展開する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		if adminID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if len(req.MemberIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "支払い対象の部員が指定されていません"})
			return
		}

		paymentID := uuid.New().String()
		if err := s.queries.CreatePayment(c.Request.Context(), CreatePaymentParams{
			ID:      paymentID,
			AdminID: adminID,
			Title:   req.Title,
			Amount:  req.Amount,
			DueOn:   req.DueOn,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会費の作成に失敗しました"})
			log.Printf("会費作成エラー: %v", err)
			return
		}

		// 対象部員ごとの明細に展開する
		for _, userID := range req.MemberIDs {
			if err := s.queries.CreateItem(c.Request.Context(), uuid.New().String(), paymentID, userID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "明細の作成に失敗しました"})
				log.Printf("明細作成エラー: payment=%s user=%s: %v", paymentID, userID, err)
				return
			}
		}

		created, err := s.queries.GetPaymentByID(c.Request.Context(), paymentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "作成した会費の取得に失敗しました"})
			log.Printf("会費取得エラー: %v", err)
			return
		}
		items, err := s.queries.ListItemsByPayment(c.Request.Context(), paymentID, false)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "明細の取得に失敗しました"})
			log.Printf("明細取得エラー: %v", err)
			return
		}

		resp := toPaymentResponse(created)
		for _, i := range items {
			resp.Items = append(resp.Items, toItemResponse(i))
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// handleList は管理者が作成した会費の一覧取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		if adminID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		payments, err := s.queries.ListPaymentsByAdmin(c.Request.Context(), adminID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会費一覧の取得に失敗しました"})
			log.Printf("会費一覧取得エラー: %v", err)
			return
		}

		responses := make([]paymentResponse, 0, len(payments))
		for _, p := range payments {
			responses = append(responses, toPaymentResponse(p))
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handleGetByID は会費詳細取得を処理するハンドラを返す。
// 作成した管理者のみが明細込みで取得できる。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		paymentID := c.Param("id")

		p, err := s.queries.GetPaymentByID(c.Request.Context(), paymentID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "会費が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会費の取得に失敗しました"})
			log.Printf("会費取得エラー: %v", err)
			return
		}

		if p.AdminID != adminID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この会費へのアクセス権がありません"})
			return
		}

		items, err := s.queries.ListItemsByPayment(c.Request.Context(), paymentID, false)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "明細の取得に失敗しました"})
			log.Printf("明細取得エラー: %v", err)
			return
		}

		resp := toPaymentResponse(p)
		for _, i := range items {
			resp.Items = append(resp.Items, toItemResponse(i))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleListMine は部員自身の明細一覧取得を処理するハンドラを返す。
func (s *Server) handleListMine() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		items, err := s.queries.ListItemsByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "明細一覧の取得に失敗しました"})
			log.Printf("明細一覧取得エラー: %v", err)
			return
		}

		responses := make([]itemResponse, 0, len(items))
		for _, i := range items {
			responses = append(responses, toItemResponse(i))
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handlePayItem は明細の支払いを処理するハンドラを返す。
// 決済ゲートウェイのコールバックを模した処理で、明細を支払い済みにし、
// 会費を作成した管理者へpayment_received通知を送信する。
func (s *Server) handlePayItem() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		itemID := c.Param("id")
		item, err := s.queries.GetItemByID(c.Request.Context(), itemID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "明細が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "明細の取得に失敗しました"})
			log.Printf("明細取得エラー: %v", err)
			return
		}

		if item.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この明細へのアクセス権がありません"})
			return
		}
		if item.IsPaid != 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "この明細は既に支払い済みです"})
			return
		}

		if err := s.queries.MarkItemPaid(c.Request.Context(), itemID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "支払い処理に失敗しました"})
			log.Printf("支払い処理エラー: %v", err)
			return
		}

		// 会費を作成した管理者へ通知する。送信失敗は支払い処理を失敗させない。
		p, err := s.queries.GetPaymentByID(c.Request.Context(), item.PaymentID)
		if err != nil {
			log.Printf("受領通知用の会費取得に失敗: %v", err)
		} else {
			if err := s.notifyClient.Send(c.Request.Context(), notify.Notification{
				Type:      notify.TypePaymentReceived,
				Message:   fmt.Sprintf("Payment of %d yen received for '%s'", p.Amount, p.Title),
				URL:       fmt.Sprintf("/payments/%s", p.ID),
				AdminID:   p.AdminID,
				PaymentID: p.ID,
			}); err != nil {
				log.Printf("受領通知の送信に失敗: %v", err)
			}
		}

		c.JSON(http.StatusOK, gin.H{"message": "支払いが完了しました"})
	}
}

// handleRemind は未納の部員への督促を処理するハンドラを返す。
// 未納の明細ごとにpayment_due通知を部員へ送信し、送信件数を返す。
func (s *Server) handleRemind() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		paymentID := c.Param("id")

		p, err := s.queries.GetPaymentByID(c.Request.Context(), paymentID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "会費が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会費の取得に失敗しました"})
			log.Printf("会費取得エラー: %v", err)
			return
		}

		if p.AdminID != adminID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この会費へのアクセス権がありません"})
			return
		}

		unpaid, err := s.queries.ListItemsByPayment(c.Request.Context(), paymentID, true)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未納明細の取得に失敗しました"})
			log.Printf("未納明細取得エラー: %v", err)
			return
		}

		reminded := 0
		for _, item := range unpaid {
			if err := s.notifyClient.Send(c.Request.Context(), notify.Notification{
				Type:          notify.TypePaymentDue,
				Message:       fmt.Sprintf("Payment reminder: '%s' (%d yen) is due on %s", p.Title, p.Amount, p.DueOn),
				URL:           fmt.Sprintf("/payments/items/%s", item.ID),
				UserID:        item.UserID,
				PaymentItemID: item.ID,
			}); err != nil {
				log.Printf("督促通知の送信に失敗: item=%s: %v", item.ID, err)
				continue
			}
			reminded++
		}

		c.JSON(http.StatusOK, gin.H{"message": "督促通知を送信しました", "reminded_count": reminded})
	}
}

// titlesRequest は表示名解決の内部APIのリクエストJSON構造。
type titlesRequest struct {
	// Model は解決対象のモデル名。このサービスは "Payment" と "PaymentItem" を扱う。
	Model string `json:"model" binding:"required"`
	// IDs は解決対象のID一覧。
	IDs []string `json:"ids" binding:"required"`
}

// handleTitles は通知サービスからの表示名解決リクエストを処理するハンドラを返す。
// Paymentは会費の名目を、PaymentItemは紐づく会費の名目を返す。
func (s *Server) handleTitles() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req titlesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		records := make(map[string]map[string]string, len(req.IDs))
		switch req.Model {
		case "Payment":
			payments, err := s.queries.ListPaymentsByIDs(c.Request.Context(), req.IDs)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "会費の取得に失敗しました"})
				log.Printf("会費取得エラー: %v", err)
				return
			}
			for _, p := range payments {
				records[p.ID] = map[string]string{"title": p.Title}
			}
		case "PaymentItem":
			items, err := s.queries.ListItemsWithPaymentByIDs(c.Request.Context(), req.IDs)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "明細の取得に失敗しました"})
				log.Printf("明細取得エラー: %v", err)
				return
			}
			for _, i := range items {
				records[i.ID] = map[string]string{"title": i.PaymentTitle}
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未対応のモデルです: %s", req.Model)})
			return
		}

		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
