package event

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/circlehub/circlehub/pkg/httpclient"
	"github.com/circlehub/circlehub/pkg/middleware"
	"github.com/circlehub/circlehub/pkg/notify"
)

// Server はイベントサービスのHTTPサーバー。
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
	// userClient は部員の表示名解決に使用するgatewayへのクライアント。
	userClient *httpclient.Client
}

// NewServer は新しいイベントサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/event.db?_journal_mode=WAL&_busy_timeout=5000")
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
		userClient:   httpclient.New(getEnvOr("GATEWAY_URL", "http://localhost:8080")),
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
		events := api.Group("/events")
		{
			// イベント一覧取得
			events.GET("", s.handleList())
			// イベント詳細取得
			events.GET("/:id", s.handleGetByID())
			// イベントに参加
			events.POST("/:id/join", s.handleJoin())
			// イベントの参加を取り消す
			events.DELETE("/:id/join", s.handleLeave())
			// イベントの参加者一覧取得
			events.GET("/:id/members", s.handleListMembers())

			// 管理者のみの操作
			admin := events.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				// イベント作成
				admin.POST("", s.handleCreate())
				// イベント更新
				admin.PUT("/:id", s.handleUpdate())
				// イベント削除
				admin.DELETE("/:id", s.handleDelete())
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
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "event"})
	})
}

// createEventRequest はイベント作成リクエストのJSON構造。
type createEventRequest struct {
	// Title はイベントのタイトル。
	Title string `json:"title" binding:"required"`
	// Description はイベントの説明。
	Description string `json:"description"`
	// Location は開催場所。
	Location string `json:"location"`
	// StartsAt は開催日時。
	StartsAt string `json:"starts_at" binding:"required"`
	// Capacity は定員。0は無制限。
	Capacity int64 `json:"capacity"`
}

// eventResponse はイベントのJSONレスポンス構造。
type eventResponse struct {
	// ID はイベントの一意識別子。
	ID string `json:"id"`
	// AdminID はイベントを作成した管理者のID。
	AdminID string `json:"admin_id"`
	// Title はイベントのタイトル。
	Title string `json:"title"`
	// Description はイベントの説明。
	Description string `json:"description"`
	// Location は開催場所。
	Location string `json:"location"`
	// StartsAt は開催日時。
	StartsAt string `json:"starts_at"`
	// Capacity は定員。
	Capacity int64 `json:"capacity"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt string `json:"updated_at"`
}

// toEventResponse はDB行をJSONレスポンスに変換する。
func toEventResponse(e Event) eventResponse {
	return eventResponse{
		ID:          e.ID,
		AdminID:     e.AdminID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		StartsAt:    e.StartsAt,
		Capacity:    e.Capacity,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// handleCreate はイベント作成を処理するハンドラを返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		if adminID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		eventID := uuid.New().String()
		if err := s.queries.CreateEvent(c.Request.Context(), CreateEventParams{
			ID:          eventID,
			AdminID:     adminID,
			Title:       req.Title,
			Description: req.Description,
			Location:    req.Location,
			StartsAt:    req.StartsAt,
			Capacity:    req.Capacity,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの作成に失敗しました"})
			log.Printf("イベント作成エラー: %v", err)
			return
		}

		created, err := s.queries.GetEventByID(c.Request.Context(), eventID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "作成したイベントの取得に失敗しました"})
			log.Printf("イベント取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toEventResponse(created))
	}
}

// handleList はイベント一覧取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.queries.ListEvents(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベント一覧の取得に失敗しました"})
			log.Printf("イベント一覧取得エラー: %v", err)
			return
		}

		responses := make([]eventResponse, 0, len(events))
		for _, e := range events {
			responses = append(responses, toEventResponse(e))
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handleGetByID はイベント詳細取得を処理するハンドラを返す。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := s.queries.GetEventByID(c.Request.Context(), c.Param("id"))
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "イベントが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			log.Printf("イベント取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toEventResponse(e))
	}
}

// handleUpdate はイベント更新を処理するハンドラを返す。
// イベントを作成した管理者のみが更新できる。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		eventID := c.Param("id")

		e, err := s.queries.GetEventByID(c.Request.Context(), eventID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "イベントが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			log.Printf("イベント取得エラー: %v", err)
			return
		}

		if e.AdminID != adminID {
			c.JSON(http.StatusForbidden, gin.H{"error": "このイベントへのアクセス権がありません"})
			return
		}

		var req createEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.queries.UpdateEvent(c.Request.Context(), UpdateEventParams{
			ID:          eventID,
			Title:       req.Title,
			Description: req.Description,
			Location:    req.Location,
			StartsAt:    req.StartsAt,
			Capacity:    req.Capacity,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの更新に失敗しました"})
			log.Printf("イベント更新エラー: %v", err)
			return
		}

		updated, err := s.queries.GetEventByID(c.Request.Context(), eventID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新後のイベントの取得に失敗しました"})
			log.Printf("イベント取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toEventResponse(updated))
	}
}

// handleDelete はイベント削除を処理するハンドラを返す。
// イベントを作成した管理者のみが削除できる。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		eventID := c.Param("id")

		e, err := s.queries.GetEventByID(c.Request.Context(), eventID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "イベントが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			log.Printf("イベント取得エラー: %v", err)
			return
		}

		if e.AdminID != adminID {
			c.JSON(http.StatusForbidden, gin.H{"error": "このイベントへのアクセス権がありません"})
			return
		}

		if err := s.queries.DeleteEvent(c.Request.Context(), eventID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの削除に失敗しました"})
			log.Printf("イベント削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "イベントを削除しました"})
	}
}

// handleJoin はイベント参加を処理するハンドラを返す。
// 参加が成立すると、主催の管理者へevent_join通知を送信する。
func (s *Server) handleJoin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		eventID := c.Param("id")
		e, err := s.queries.GetEventByID(c.Request.Context(), eventID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "イベントが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			log.Printf("イベント取得エラー: %v", err)
			return
		}

		// 定員チェック
		if e.Capacity > 0 {
			count, err := s.queries.CountMembers(c.Request.Context(), eventID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "参加者数の取得に失敗しました"})
				log.Printf("参加者数取得エラー: %v", err)
				return
			}
			if count >= e.Capacity {
				c.JSON(http.StatusConflict, gin.H{"error": "イベントの定員に達しています"})
				return
			}
		}

		if err := s.queries.JoinEvent(c.Request.Context(), eventID, userID); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "既にこのイベントに参加しています"})
			return
		}

		// 主催の管理者へ通知する。送信失敗は参加処理を失敗させない。
		memberName := s.resolveUserName(c, userID)
		if err := s.notifyClient.Send(c.Request.Context(), notify.Notification{
			Type:    notify.TypeEventJoin,
			Message: fmt.Sprintf("%s joined your event: '%s'", memberName, e.Title),
			URL:     fmt.Sprintf("/events/%s", eventID),
			AdminID: e.AdminID,
			EventID: eventID,
		}); err != nil {
			log.Printf("参加通知の送信に失敗: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{"message": "イベントに参加しました"})
	}
}

// handleLeave はイベント参加の取り消しを処理するハンドラを返す。
func (s *Server) handleLeave() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.queries.LeaveEvent(c.Request.Context(), c.Param("id"), userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "参加の取り消しに失敗しました"})
			log.Printf("参加取り消しエラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "イベントの参加を取り消しました"})
	}
}

// memberResponse は参加者のJSONレスポンス構造。
type memberResponse struct {
	// UserID は参加した部員のID。
	UserID string `json:"user_id"`
	// JoinedAt は参加日時。
	JoinedAt string `json:"joined_at"`
}

// handleListMembers はイベントの参加者一覧取得を処理するハンドラを返す。
func (s *Server) handleListMembers() gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := c.Param("id")
		if _, err := s.queries.GetEventByID(c.Request.Context(), eventID); err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "イベントが見つかりません"})
			return
		}

		members, err := s.queries.ListMembers(c.Request.Context(), eventID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "参加者一覧の取得に失敗しました"})
			log.Printf("参加者一覧取得エラー: %v", err)
			return
		}

		responses := make([]memberResponse, 0, len(members))
		for _, m := range members {
			responses = append(responses, memberResponse{UserID: m.UserID, JoinedAt: m.JoinedAt})
		}

		c.JSON(http.StatusOK, responses)
	}
}

// titlesRequest は表示名解決の内部APIのリクエストJSON構造。
type titlesRequest struct {
	// Model は解決対象のモデル名。このサービスは "Event" のみを扱う。
	Model string `json:"model" binding:"required"`
	// IDs は解決対象のID一覧。
	IDs []string `json:"ids" binding:"required"`
}

// handleTitles は通知サービスからの表示名解決リクエストを処理するハンドラを返す。
// 指定されたID群のイベントのフィールド射影を返す。存在しないIDは結果に含まれない。
func (s *Server) handleTitles() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req titlesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Model != "Event" {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未対応のモデルです: %s", req.Model)})
			return
		}

		events, err := s.queries.ListEventsByIDs(c.Request.Context(), req.IDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			log.Printf("イベント取得エラー: %v", err)
			return
		}

		records := make(map[string]map[string]string, len(events))
		for _, e := range events {
			records[e.ID] = map[string]string{"title": e.Title}
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// userTitlesResponse はgatewayの表示名解決APIのレスポンスJSON構造。
type userTitlesResponse struct {
	Records map[string]map[string]string `json:"records"`
}

// resolveUserName は部員の表示名をgatewayの内部APIで解決する。
// 解決できない場合は汎用の呼称にフォールバックする。
func (s *Server) resolveUserName(c *gin.Context, userID string) string {
	var resp userTitlesResponse
	req := gin.H{"model": "User", "ids": []string{userID}}
	ctx := httpclient.WithUserID(c.Request.Context(), userID)
	if err := s.userClient.PostJSON(ctx, "/api/v1/internal/titles", req, &resp); err != nil {
		log.Printf("部員の表示名解決に失敗: %v", err)
		return "A member"
	}

	fields := resp.Records[userID]
	if first, last := fields["first_name"], fields["last_name"]; first != "" && last != "" {
		return first + " " + last
	}
	if name := fields["display_name"]; name != "" {
		return name
	}
	return "A member"
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
