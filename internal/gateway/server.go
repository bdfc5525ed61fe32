package gateway

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/circlehub/circlehub/pkg/middleware"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// serviceURLs は内部サービスのURL。
	serviceURLs serviceURLConfig
}

// serviceURLConfig は内部サービスのURL設定。
type serviceURLConfig struct {
	Event        string
	Bulletin     string
	Payment      string
	Shirt        string
	Orgchart     string
	Notification string
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/gateway.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	urls := serviceURLConfig{
		Event:        getEnvOr("EVENT_URL", "http://localhost:8081"),
		Bulletin:     getEnvOr("BULLETIN_URL", "http://localhost:8082"),
		Payment:      getEnvOr("PAYMENT_URL", "http://localhost:8083"),
		Shirt:        getEnvOr("SHIRT_URL", "http://localhost:8084"),
		Orgchart:     getEnvOr("ORGCHART_URL", "http://localhost:8085"),
		Notification: getEnvOr("NOTIFICATION_URL", "http://localhost:8086"),
	}

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:      router,
		port:        port,
		queries:     New(sqlDB),
		db:          sqlDB,
		jwtSecret:   jwtSecret,
		serviceURLs: urls,
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
	// 認証エンドポイント（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/register", s.handleRegister())
		auth.POST("/login", s.handleLogin())
		// 開発用トークン発行
		auth.POST("/dev-token", s.handleDevToken())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// ユーザー情報
		api.GET("/me", s.handleGetCurrentUser())

		// イベント（プロキシ）
		api.GET("/events", s.handleProxy(s.serviceURLs.Event, "/api/v1/events"))
		api.POST("/events", s.handleProxy(s.serviceURLs.Event, "/api/v1/events"))
		api.GET("/events/:id", s.handleProxyWithParam(s.serviceURLs.Event, "/api/v1/events/", "id"))
		api.PUT("/events/:id", s.handleProxyWithParam(s.serviceURLs.Event, "/api/v1/events/", "id"))
		api.DELETE("/events/:id", s.handleProxyWithParam(s.serviceURLs.Event, "/api/v1/events/", "id"))
		api.POST("/events/:id/join", s.handleProxyWithParam(s.serviceURLs.Event, "/api/v1/events/", "id", "/join"))
		api.DELETE("/events/:id/join", s.handleProxyWithParam(s.serviceURLs.Event, "/api/v1/events/", "id", "/join"))
		api.GET("/events/:id/members", s.handleProxyWithParam(s.serviceURLs.Event, "/api/v1/events/", "id", "/members"))

		// 掲示板（プロキシ）
		api.GET("/posts", s.handleProxy(s.serviceURLs.Bulletin, "/api/v1/posts"))
		api.POST("/posts", s.handleProxy(s.serviceURLs.Bulletin, "/api/v1/posts"))
		api.GET("/posts/:id", s.handleProxyWithParam(s.serviceURLs.Bulletin, "/api/v1/posts/", "id"))
		api.PUT("/posts/:id", s.handleProxyWithParam(s.serviceURLs.Bulletin, "/api/v1/posts/", "id"))
		api.DELETE("/posts/:id", s.handleProxyWithParam(s.serviceURLs.Bulletin, "/api/v1/posts/", "id"))
		api.POST("/posts/:id/publish", s.handleProxyWithParam(s.serviceURLs.Bulletin, "/api/v1/posts/", "id", "/publish"))

		// 会費（プロキシ）
		api.GET("/payments", s.handleProxy(s.serviceURLs.Payment, "/api/v1/payments"))
		api.POST("/payments", s.handleProxy(s.serviceURLs.Payment, "/api/v1/payments"))
		api.GET("/payments/mine", s.handleProxy(s.serviceURLs.Payment, "/api/v1/payments/mine"))
		api.GET("/payments/:id", s.handleProxyWithParam(s.serviceURLs.Payment, "/api/v1/payments/", "id"))
		api.POST("/payments/:id/remind", s.handleProxyWithParam(s.serviceURLs.Payment, "/api/v1/payments/", "id", "/remind"))
		api.POST("/payments/items/:item_id/pay", s.handleProxyWithParam(s.serviceURLs.Payment, "/api/v1/payments/items/", "item_id", "/pay"))

		// Tシャツ注文（プロキシ）
		api.GET("/shirts", s.handleProxy(s.serviceURLs.Shirt, "/api/v1/shirts"))
		api.POST("/shirts", s.handleProxy(s.serviceURLs.Shirt, "/api/v1/shirts"))
		api.GET("/shirts/:id", s.handleProxyWithParam(s.serviceURLs.Shirt, "/api/v1/shirts/", "id"))
		api.DELETE("/shirts/:id", s.handleProxyWithParam(s.serviceURLs.Shirt, "/api/v1/shirts/", "id"))
		api.POST("/shirts/:id/orders", s.handleProxyWithParam(s.serviceURLs.Shirt, "/api/v1/shirts/", "id", "/orders"))
		api.GET("/shirts/:id/orders", s.handleProxyWithParam(s.serviceURLs.Shirt, "/api/v1/shirts/", "id", "/orders"))

		// 組織図（プロキシ）
		api.GET("/orgchart", s.handleProxy(s.serviceURLs.Orgchart, "/api/v1/orgchart"))
		api.GET("/orgchart/verifications", s.handleProxy(s.serviceURLs.Orgchart, "/api/v1/orgchart/verifications"))
		api.POST("/orgchart/positions", s.handleProxy(s.serviceURLs.Orgchart, "/api/v1/orgchart/positions"))
		api.DELETE("/orgchart/positions/:id", s.handleProxyWithParam(s.serviceURLs.Orgchart, "/api/v1/orgchart/positions/", "id"))
		api.POST("/orgchart/positions/:id/assign", s.handleProxyWithParam(s.serviceURLs.Orgchart, "/api/v1/orgchart/positions/", "id", "/assign"))
		api.DELETE("/orgchart/positions/:id/assign/:user_id", s.handleProxyAssignRemove())
		api.POST("/orgchart/members/:id/verify", s.handleProxyWithParam(s.serviceURLs.Orgchart, "/api/v1/orgchart/members/", "id", "/verify"))

		// 通知（プロキシ）
		api.GET("/notifications", s.handleProxy(s.serviceURLs.Notification, "/api/v1/notifications"))
		api.PUT("/notifications/:id/read", s.handleProxyWithParam(s.serviceURLs.Notification, "/api/v1/notifications/", "id", "/read"))
		api.POST("/notifications/read-group", s.handleProxy(s.serviceURLs.Notification, "/api/v1/notifications/read-group"))
		api.PUT("/notifications/read-all", s.handleProxy(s.serviceURLs.Notification, "/api/v1/notifications/read-all"))
		api.PUT("/notifications/:id/dismiss", s.handleProxyWithParam(s.serviceURLs.Notification, "/api/v1/notifications/", "id", "/dismiss"))

		// 通知種別設定レジストリ（管理者のみ）
		admin := api.Group("")
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/notifications/type-configs", s.handleProxy(s.serviceURLs.Notification, "/api/v1/internal/type-configs"))
			admin.PUT("/notifications/type-configs/:type", s.handleProxyWithParam(s.serviceURLs.Notification, "/api/v1/internal/type-configs/", "type"))
		}
	}

	// 通知サービスの表示名解決用内部API（Userモデル）。
	// gatewayを経由せず、内部ネットワークからのみ到達する。
	internal := s.router.Group("/api/v1/internal")
	{
		internal.POST("/titles", s.handleTitles())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// FirstName は名。
	FirstName string `json:"first_name"`
	// LastName は姓。
	LastName string `json:"last_name"`
	// DisplayName は表示名。
	DisplayName string `json:"display_name"`
	// Role は役割。省略時は一般部員となる。
	Role string `json:"role"`
}

// handleRegister はユーザー登録を処理するハンドラを返す。
// 登録と同時に役割付きJWTを発行する。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		role := req.Role
		if role == "" {
			role = middleware.RoleMember
		}
		if role != middleware.RoleMember && role != middleware.RoleAdmin {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未対応の役割です: %s", role)})
			return
		}

		if _, err := s.queries.GetUserByEmail(c.Request.Context(), req.Email); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "このメールアドレスは既に登録されています"})
			return
		} else if err != sql.ErrNoRows {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			log.Printf("ユーザー取得エラー: %v", err)
			return
		}

		userID := uuid.New().String()
		if err := s.queries.CreateUser(c.Request.Context(), CreateUserParams{
			ID:          userID,
			Email:       req.Email,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			DisplayName: req.DisplayName,
			Role:        role,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの作成に失敗しました"})
			log.Printf("ユーザー作成エラー: %v", err)
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, userID, req.Email, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"token":   token,
			"user_id": userID,
			"role":    role,
		})
	}
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
}

// handleLogin はログインを処理するハンドラを返す。
// メールアドレスでユーザーを特定し、役割付きJWTを発行する。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		user, err := s.queries.GetUserByEmail(c.Request.Context(), req.Email)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			log.Printf("ユーザー取得エラー: %v", err)
			return
		}

		if err := s.queries.UpdateLastLogin(c.Request.Context(), user.ID); err != nil {
			log.Printf("最終ログイン日時の更新に失敗: %v", err)
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, user.Email, user.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": user.ID,
			"role":    user.Role,
		})
	}
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 管理者役割の開発ユーザーを作成（または再利用）する。本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		const devEmail = "dev@localhost"

		user, err := s.queries.GetUserByEmail(c.Request.Context(), devEmail)
		if err == sql.ErrNoRows {
			user = User{
				ID:          uuid.New().String(),
				Email:       devEmail,
				DisplayName: "開発ユーザー",
				Role:        middleware.RoleAdmin,
			}
			if err := s.queries.CreateUser(c.Request.Context(), CreateUserParams{
				ID:          user.ID,
				Email:       user.Email,
				DisplayName: user.DisplayName,
				Role:        user.Role,
			}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー作成に失敗しました"})
				log.Printf("開発ユーザー作成エラー: %v", err)
				return
			}
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー取得に失敗しました"})
			log.Printf("ユーザー取得エラー: %v", err)
			return
		} else {
			if err := s.queries.UpdateLastLogin(c.Request.Context(), user.ID); err != nil {
				log.Printf("最終ログイン日時の更新に失敗: %v", err)
			}
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, devEmail, middleware.RoleAdmin)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": user.ID,
			"role":    middleware.RoleAdmin,
		})
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		user, err := s.queries.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":           user.ID,
			"email":        user.Email,
			"first_name":   user.FirstName,
			"last_name":    user.LastName,
			"display_name": user.DisplayName,
			"role":         user.Role,
		})
	}
}

// titlesRequest は表示名解決の内部APIのリクエストJSON構造。
type titlesRequest struct {
	// Model は解決対象のモデル名。このサービスは "User" を扱う。
	Model string `json:"model" binding:"required"`
	// IDs は解決対象のID一覧。
	IDs []string `json:"ids" binding:"required"`
}

// handleTitles は通知サービスからの表示名解決リクエストを処理するハンドラを返す。
// Userモデルの姓名と表示名を返す。
func (s *Server) handleTitles() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req titlesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Model != "User" {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未対応のモデルです: %s", req.Model)})
			return
		}

		users, err := s.queries.ListUsersByIDs(c.Request.Context(), req.IDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			log.Printf("ユーザー取得エラー: %v", err)
			return
		}

		records := make(map[string]map[string]string, len(users))
		for _, u := range users {
			records[u.ID] = map[string]string{
				"first_name":   u.FirstName,
				"last_name":    u.LastName,
				"display_name": u.DisplayName,
			}
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// handleProxy は指定されたサービスにリクエストをプロキシするハンドラを返す。
func (s *Server) handleProxy(baseURL, path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, c.Request.Method, proxyURL)
	}
}

// handleProxyWithParam はURLパラメータを含むプロキシハンドラを返す。
func (s *Server) handleProxyWithParam(baseURL, pathPrefix, paramName string, pathSuffix ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + pathPrefix + c.Param(paramName)
		for _, suffix := range pathSuffix {
			proxyURL += suffix
		}
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, c.Request.Method, proxyURL)
	}
}

// handleProxyAssignRemove は役職割り当て解除をプロキシするハンドラを返す。
func (s *Server) handleProxyAssignRemove() gin.HandlerFunc {
	return func(c *gin.Context) {
		positionID := c.Param("id")
		userID := c.Param("user_id")
		proxyURL := s.serviceURLs.Orgchart + "/api/v1/orgchart/positions/" + positionID + "/assign/" + userID
		s.doProxy(c, http.MethodDelete, proxyURL)
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// JWTトークンとユーザーIDヘッダーを転送する。
func (s *Server) doProxy(c *gin.Context, method, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	// 元のリクエストヘッダーを転送
	req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	req.Header.Set("X-User-ID", middleware.GetUserID(c))

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		log.Printf("プロキシエラー: url=%s, error=%v", url, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
