package shirt

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/circlehub/circlehub/pkg/middleware"
	"github.com/circlehub/circlehub/pkg/notify"
)

// validSizes は注文可能なサイズの一覧。
var validSizes = []string{"S", "M", "L", "XL"}

// Server はTシャツ注文サービスのHTTPサーバー。
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

// NewServer は新しいTシャツ注文サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/shirt.db?_journal_mode=WAL&_busy_timeout=5000")
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
		shirts := api.Group("/shirts")
		{
			// キャンペーン一覧・詳細の取得
			shirts.GET("", s.handleList())
			shirts.GET("/:id", s.handleGetByID())
			// Tシャツの注文（部員）
			shirts.POST("/:id/orders", s.handleOrder())

			// 管理者のみの操作
			admin := shirts.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				admin.POST("", s.handleCreate())
				admin.DELETE("/:id", s.handleDelete())
				// 注文一覧とサイズ別集計の取得
				admin.GET("/:id/orders", s.handleListOrders())
			}
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "shirt"})
	})
}

// createCampaignRequest はキャンペーン作成リクエストのJSON構造。
type createCampaignRequest struct {
	// Name はデザイン名。
	Name string `json:"name" binding:"required"`
	// Price は1枚あたりの価格（円）。
	Price int64 `json:"price" binding:"required"`
	// Deadline は注文締切日。
	Deadline string `json:"deadline" binding:"required"`
}

// campaignResponse はキャンペーンのJSONレスポンス構造。
type campaignResponse struct {
	// ID はキャンペーンの一意識別子。
	ID string `json:"id"`
	// AdminID はキャンペーンを作成した管理者のID。
	AdminID string `json:"admin_id"`
	// Name はデザイン名。
	Name string `json:"name"`
	// Price は1枚あたりの価格（円）。
	Price int64 `json:"price"`
	// Deadline は注文締切日。
	Deadline string `json:"deadline"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
}

// toCampaignResponse はDB行をJSONレスポンスに変換する。
func toCampaignResponse(c Campaign) campaignResponse {
	return campaignResponse{
		ID:        c.ID,
		AdminID:   c.AdminID,
		Name:      c.Name,
		Price:     c.Price,
		Deadline:  c.Deadline,
		CreatedAt: c.CreatedAt,
	}
}

// handleCreate はキャンペーン作成を処理するハンドラを返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		if adminID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createCampaignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id := uuid.New().String()
		if err := s.queries.CreateCampaign(c.Request.Context(), CreateCampaignParams{
			ID:       id,
			AdminID:  adminID,
			Name:     req.Name,
			Price:    req.Price,
			Deadline: req.Deadline,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャンペーンの作成に失敗しました"})
			log.Printf("キャンペーン作成エラー: %v", err)
			return
		}

		created, err := s.queries.GetCampaignByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "作成したキャンペーンの取得に失敗しました"})
			log.Printf("キャンペーン取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusCreated, toCampaignResponse(created))
	}
}

// handleList はキャンペーン一覧取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		campaigns, err := s.queries.ListCampaigns(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャンペーン一覧の取得に失敗しました"})
			log.Printf("キャンペーン一覧取得エラー: %v", err)
			return
		}

		responses := make([]campaignResponse, 0, len(campaigns))
		for _, campaign := range campaigns {
			responses = append(responses, toCampaignResponse(campaign))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleGetByID はキャンペーン詳細取得を処理するハンドラを返す。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		campaign, err := s.queries.GetCampaignByID(c.Request.Context(), c.Param("id"))
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "キャンペーンが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャンペーンの取得に失敗しました"})
			log.Printf("キャンペーン取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toCampaignResponse(campaign))
	}
}

// handleDelete はキャンペーン削除を処理するハンドラを返す。
// 作成した管理者のみが削除できる。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		campaignID := c.Param("id")

		campaign, err := s.queries.GetCampaignByID(c.Request.Context(), campaignID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "キャンペーンが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャンペーンの取得に失敗しました"})
			log.Printf("キャンペーン取得エラー: %v", err)
			return
		}
		if campaign.AdminID != adminID {
			c.JSON(http.StatusForbidden, gin.H{"error": "このキャンペーンへのアクセス権がありません"})
			return
		}

		if err := s.queries.DeleteCampaign(c.Request.Context(), campaignID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャンペーンの削除に失敗しました"})
			log.Printf("キャンペーン削除エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "キャンペーンを削除しました"})
	}
}

// orderRequest は注文リクエストのJSON構造。
type orderRequest struct {
	// Size は注文するサイズ（S・M・L・XL）。
	Size string `json:"size" binding:"required"`
}

// handleOrder はTシャツの注文を処理するハンドラを返す。
// 注文後、キャンペーンを作成した管理者へshirt_order通知を送信する。
func (s *Server) handleOrder() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req orderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		size := strings.ToUpper(req.Size)
		valid := false
		for _, v := range validSizes {
			if size == v {
				valid = true
				break
			}
		}
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未対応のサイズです: %s", req.Size)})
			return
		}

		campaignID := c.Param("id")
		campaign, err := s.queries.GetCampaignByID(c.Request.Context(), campaignID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "キャンペーンが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャンペーンの取得に失敗しました"})
			log.Printf("キャンペーン取得エラー: %v", err)
			return
		}

		orderID := uuid.New().String()
		if err := s.queries.CreateOrder(c.Request.Context(), orderID, campaignID, userID, size); err != nil {
			// UNIQUE制約違反は二重注文として扱う
			c.JSON(http.StatusConflict, gin.H{"error": "既にこのキャンペーンに注文済みです"})
			log.Printf("注文作成エラー: campaign=%s user=%s: %v", campaignID, userID, err)
			return
		}

		// 管理者へ通知する。送信失敗は注文処理を失敗させない。
		if err := s.notifyClient.Send(c.Request.Context(), notify.Notification{
			Type:    notify.TypeShirtOrder,
			Message: fmt.Sprintf("Size %s shirt ordered for '%s'", size, campaign.Name),
			URL:     fmt.Sprintf("/shirts/%s/orders", campaignID),
			AdminID: campaign.AdminID,
		}); err != nil {
			log.Printf("注文通知の送信に失敗: %v", err)
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":          orderID,
			"campaign_id": campaignID,
			"user_id":     userID,
			"size":        size,
		})
	}
}

// handleListOrders はキャンペーンの注文一覧取得を処理するハンドラを返す。
// 作成した管理者のみが取得でき、サイズ別の集計も含む。
func (s *Server) handleListOrders() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		campaignID := c.Param("id")

		campaign, err := s.queries.GetCampaignByID(c.Request.Context(), campaignID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "キャンペーンが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャンペーンの取得に失敗しました"})
			log.Printf("キャンペーン取得エラー: %v", err)
			return
		}
		if campaign.AdminID != adminID {
			c.JSON(http.StatusForbidden, gin.H{"error": "このキャンペーンへのアクセス権がありません"})
			return
		}

		orders, err := s.queries.ListOrdersByCampaign(c.Request.Context(), campaignID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "注文一覧の取得に失敗しました"})
			log.Printf("注文一覧取得エラー: %v", err)
			return
		}
		counts, err := s.queries.CountOrdersBySize(c.Request.Context(), campaignID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "注文集計の取得に失敗しました"})
			log.Printf("注文集計エラー: %v", err)
			return
		}

		type orderResponse struct {
			ID        string `json:"id"`
			UserID    string `json:"user_id"`
			Size      string `json:"size"`
			CreatedAt string `json:"created_at"`
		}
		responses := make([]orderResponse, 0, len(orders))
		for _, o := range orders {
			responses = append(responses, orderResponse{
				ID:        o.ID,
				UserID:    o.UserID,
				Size:      o.Size,
				CreatedAt: o.CreatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{"orders": responses, "size_counts": counts})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
