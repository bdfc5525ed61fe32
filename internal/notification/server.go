package notification

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

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// resolver はエンティティ表示名の一括解決に使用するリゾルバ。
	resolver TitleResolver
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ・シードデータの適用を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/notification.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	// 表示名の解決先。PaymentとPaymentItemは会費サービスが両方を扱う。
	paymentURL := getEnvOr("PAYMENT_URL", "http://localhost:8083")
	resolver := NewHTTPTitleResolver(map[string]string{
		"Event":        getEnvOr("EVENT_URL", "http://localhost:8081"),
		"BulletinPost": getEnvOr("BULLETIN_URL", "http://localhost:8082"),
		"Payment":      paymentURL,
		"PaymentItem":  paymentURL,
		"User":         getEnvOr("GATEWAY_URL", "http://localhost:8080"),
	})

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:   router,
		port:     port,
		queries:  New(sqlDB),
		db:       sqlDB,
		resolver: resolver,
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
		notifications := api.Group("/notifications")
		{
			// 集約済み通知一覧取得（?include_read=true で既読も含む）
			notifications.GET("", s.handleList())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 要約通知のメンバーを一括既読にする
			notifications.POST("/read-group", s.handleMarkGroupAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			// 通知を非表示にする
			notifications.PUT("/:id/dismiss", s.handleDismiss())
		}
	}

	// 内部API（各ドメインサービスとgatewayから呼び出される）。
	// gatewayを経由せず、内部ネットワークからのみ到達する。
	internal := s.router.Group("/api/v1/internal")
	{
		// 通知登録
		internal.POST("/send", s.handleSend())
		// 種別設定レジストリの取得・上書き
		internal.GET("/type-configs", s.handleListTypeConfigs())
		internal.PUT("/type-configs/:type", s.handleUpsertTypeConfig())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// toRecord はDB行を集約エンジンの入力レコードに変換する。
func toRecord(n Notification) Record {
	return Record{
		ID:             n.ID,
		Type:           n.NotificationType,
		Message:        n.Message,
		URL:            n.Url,
		UserID:         n.UserID.String,
		AdminID:        n.AdminID.String,
		OrganizationID: n.OrganizationID.String,
		BulletinPostID: n.BulletinPostID.String,
		EventID:        n.EventID.String,
		PaymentID:      n.PaymentID.String,
		PaymentItemID:  n.PaymentItemID.String,
		VerifiedUserID: n.VerifiedUserID.String,
		CreatedAt:      n.CreatedAt,
		IsRead:         n.IsRead != 0,
	}
}

// toTypeConfig はDB行を集約エンジンの種別設定に変換する。
func toTypeConfig(row TypeConfigRow) TypeConfig {
	return TypeConfig{
		DisplayNamePlural:         row.DisplayNamePlural,
		GroupByTypeOnly:           row.GroupByTypeOnly != 0,
		AlwaysIndividual:          row.AlwaysIndividual != 0,
		MessageTemplatePlural:     row.MessageTemplatePlural,
		MessageTemplateIndividual: row.MessageTemplateIndividual,
		ContextPhraseTemplate:     row.ContextPhraseTemplate,
		MessagePrefixToStrip:      row.MessagePrefixToStrip,
		EntityModelName:           row.EntityModelName,
		EntityTitleAttribute:      row.EntityTitleAttribute,
	}
}

// loadTypeConfigs は種別設定レジストリを種別キーで引けるマップとして読み込む。
func (s *Server) loadTypeConfigs(c *gin.Context) (map[string]TypeConfig, error) {
	rows, err := s.queries.ListTypeConfigs(c.Request.Context())
	if err != nil {
		return nil, err
	}
	configs := make(map[string]TypeConfig, len(rows))
	for _, row := range rows {
		configs[row.NotificationType] = toTypeConfig(row)
	}
	return configs, nil
}

// handleList は認証済みユーザーの集約済み通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}
		isAdmin := middleware.GetRole(c) == middleware.RoleAdmin
		includeRead := c.Query("include_read") == "true"

		rows, err := s.queries.ListNotificationsForOwner(c.Request.Context(), ListNotificationsForOwnerParams{
			OwnerID:     userID,
			IsAdmin:     isAdmin,
			IncludeRead: includeRead,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		configs, err := s.loadTypeConfigs(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "種別設定の取得に失敗しました"})
			log.Printf("種別設定取得エラー: %v", err)
			return
		}

		records := make([]Record, 0, len(rows))
		for _, n := range rows {
			records = append(records, toRecord(n))
		}

		entries := Aggregate(c.Request.Context(), records, configs, s.resolver)
		c.JSON(http.StatusOK, entries)
	}
}

// ownedByRequester は通知が要求者の所有スコープに属するかどうかを返す。
// 団体ブロードキャストの通知は全員のスコープに属する。
func ownedByRequester(n Notification, userID string, isAdmin bool) bool {
	if n.OrganizationID.Valid {
		return true
	}
	if isAdmin {
		return n.AdminID.String == userID
	}
	return n.UserID.String == userID
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		n, err := s.queries.GetNotificationByID(c.Request.Context(), notificationID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}

		if !ownedByRequester(n, userID, middleware.GetRole(c) == middleware.RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if err := s.queries.MarkAsRead(c.Request.Context(), notificationID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			log.Printf("通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// markGroupRequest はグループ一括既読リクエストのJSON構造。
type markGroupRequest struct {
	// IDs は既読にする通知のID一覧（要約通知のgroup_ids）。
	IDs []string `json:"ids" binding:"required"`
}

// handleMarkGroupAsRead は要約通知のメンバーを一括既読にするハンドラ。
// 要求者の所有スコープに属さないIDは黙ってスキップする。
func (s *Server) handleMarkGroupAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req markGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		isAdmin := middleware.GetRole(c) == middleware.RoleAdmin
		owned := make([]string, 0, len(req.IDs))
		for _, id := range req.IDs {
			n, err := s.queries.GetNotificationByID(c.Request.Context(), id)
			if err != nil {
				continue
			}
			if ownedByRequester(n, userID, isAdmin) {
				owned = append(owned, id)
			}
		}

		if err := s.queries.MarkManyAsRead(c.Request.Context(), owned); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "グループ既読処理に失敗しました"})
			log.Printf("グループ既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました", "marked_count": len(owned)})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		isAdmin := middleware.GetRole(c) == middleware.RoleAdmin
		if err := s.queries.MarkAllAsReadForOwner(c.Request.Context(), userID, isAdmin); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました"})
	}
}

// handleDismiss は指定された通知を非表示にするハンドラ。
// 非表示の通知は以後の一覧取得と集約から除外される。
func (s *Server) handleDismiss() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		n, err := s.queries.GetNotificationByID(c.Request.Context(), notificationID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}

		if !ownedByRequester(n, userID, middleware.GetRole(c) == middleware.RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if err := s.queries.Dismiss(c.Request.Context(), notificationID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の非表示処理に失敗しました"})
			log.Printf("通知非表示処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を非表示にしました"})
	}
}

// handleSend は通知を登録するハンドラ。
// 内部API（各ドメインサービスから呼び出される）。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notify.Notification
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		notificationID := uuid.New().String()
		if err := s.queries.CreateNotification(c.Request.Context(), CreateNotificationParams{
			ID:               notificationID,
			NotificationType: string(req.Type),
			Message:          req.Message,
			Url:              req.URL,
			UserID:           req.UserID,
			AdminID:          req.AdminID,
			OrganizationID:   req.OrganizationID,
			BulletinPostID:   req.BulletinPostID,
			EventID:          req.EventID,
			PaymentID:        req.PaymentID,
			PaymentItemID:    req.PaymentItemID,
			VerifiedUserID:   req.VerifiedUserID,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の登録に失敗しました"})
			log.Printf("通知登録エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"id": notificationID, "message": "通知を登録しました"})
	}
}

// typeConfigResponse は種別設定のJSONレスポンス構造。
type typeConfigResponse struct {
	NotificationType          string `json:"notification_type"`
	DisplayNamePlural         string `json:"display_name_plural"`
	GroupByTypeOnly           bool   `json:"group_by_type_only"`
	AlwaysIndividual          bool   `json:"always_individual"`
	MessageTemplatePlural     string `json:"message_template_plural"`
	MessageTemplateIndividual string `json:"message_template_individual"`
	ContextPhraseTemplate     string `json:"context_phrase_template"`
	MessagePrefixToStrip      string `json:"message_prefix_to_strip"`
	EntityModelName           string `json:"entity_model_name"`
	EntityTitleAttribute      string `json:"entity_title_attribute"`
}

// handleListTypeConfigs は種別設定レジストリの全設定を返すハンドラ。
func (s *Server) handleListTypeConfigs() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.ListTypeConfigs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "種別設定の取得に失敗しました"})
			log.Printf("種別設定取得エラー: %v", err)
			return
		}

		configs := make([]typeConfigResponse, 0, len(rows))
		for _, row := range rows {
			configs = append(configs, typeConfigResponse{
				NotificationType:          row.NotificationType,
				DisplayNamePlural:         row.DisplayNamePlural,
				GroupByTypeOnly:           row.GroupByTypeOnly != 0,
				AlwaysIndividual:          row.AlwaysIndividual != 0,
				MessageTemplatePlural:     row.MessageTemplatePlural,
				MessageTemplateIndividual: row.MessageTemplateIndividual,
				ContextPhraseTemplate:     row.ContextPhraseTemplate,
				MessagePrefixToStrip:      row.MessagePrefixToStrip,
				EntityModelName:           row.EntityModelName,
				EntityTitleAttribute:      row.EntityTitleAttribute,
			})
		}
		c.JSON(http.StatusOK, configs)
	}
}

// upsertTypeConfigRequest は種別設定上書きリクエストのJSON構造。
type upsertTypeConfigRequest struct {
	DisplayNamePlural         string `json:"display_name_plural"`
	GroupByTypeOnly           bool   `json:"group_by_type_only"`
	AlwaysIndividual          bool   `json:"always_individual"`
	MessageTemplatePlural     string `json:"message_template_plural"`
	MessageTemplateIndividual string `json:"message_template_individual"`
	ContextPhraseTemplate     string `json:"context_phrase_template"`
	MessagePrefixToStrip      string `json:"message_prefix_to_strip"`
	EntityModelName           string `json:"entity_model_name"`
	EntityTitleAttribute      string `json:"entity_title_attribute"`
}

// handleUpsertTypeConfig は種別設定を登録または上書きするハンドラ。
func (s *Server) handleUpsertTypeConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		typeName := c.Param("type")
		if typeName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "種別キーが必要です"})
			return
		}

		var req upsertTypeConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		row := TypeConfigRow{
			NotificationType:          typeName,
			DisplayNamePlural:         req.DisplayNamePlural,
			MessageTemplatePlural:     req.MessageTemplatePlural,
			MessageTemplateIndividual: req.MessageTemplateIndividual,
			ContextPhraseTemplate:     req.ContextPhraseTemplate,
			MessagePrefixToStrip:      req.MessagePrefixToStrip,
			EntityModelName:           req.EntityModelName,
			EntityTitleAttribute:      req.EntityTitleAttribute,
		}
		if req.GroupByTypeOnly {
			row.GroupByTypeOnly = 1
		}
		if req.AlwaysIndividual {
			row.AlwaysIndividual = 1
		}

		if err := s.queries.UpsertTypeConfig(c.Request.Context(), row); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "種別設定の保存に失敗しました"})
			log.Printf("種別設定保存エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "種別設定を保存しました"})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
