package bulletin

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

// Server は掲示板サービスのHTTPサーバー。
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

// NewServer は新しい掲示板サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/bulletin.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	notificationURL := os.Getenv("NOTIFICATION_URL")
	if notificationURL == "" {
		notificationURL = "http://localhost:8086"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:       router,
		port:         port,
		queries:      New(sqlDB),
		db:           sqlDB,
		notifyClient: notify.NewClient(notificationURL),
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
		posts := api.Group("/posts")
		{
			// 公開済み投稿の一覧取得（管理者は ?include_drafts=true で下書きも見える）
			posts.GET("", s.handleList())
			// 投稿詳細取得
			posts.GET("/:id", s.handleGetByID())

			// 管理者のみの操作
			admin := posts.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				// 投稿作成（下書き）
				admin.POST("", s.handleCreate())
				// 投稿更新
				admin.PUT("/:id", s.handleUpdate())
				// 投稿の公開
				admin.POST("/:id/publish", s.handlePublish())
				// 投稿削除
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
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "bulletin"})
	})
}

// createPostRequest は投稿作成リクエストのJSON構造。
type createPostRequest struct {
	// OrganizationID は投稿先の団体のID。
	OrganizationID string `json:"organization_id" binding:"required"`
	// Title は投稿のタイトル。
	Title string `json:"title" binding:"required"`
	// Body は投稿の本文。
	Body string `json:"body"`
}

// updatePostRequest は投稿更新リクエストのJSON構造。
type updatePostRequest struct {
	// Title は投稿のタイトル。
	Title string `json:"title" binding:"required"`
	// Body は投稿の本文。
	Body string `json:"body"`
}

// postResponse は投稿のJSONレスポンス構造。
type postResponse struct {
	// ID は投稿の一意識別子。
	ID string `json:"id"`
	// OrganizationID は投稿先の団体のID。
	OrganizationID string `json:"organization_id"`
	// AdminID は投稿を作成した管理者のID。
	AdminID string `json:"admin_id"`
	// Title は投稿のタイトル。
	Title string `json:"title"`
	// Body は投稿の本文。
	Body string `json:"body"`
	// IsPublished は公開済みかどうか。
	IsPublished bool `json:"is_published"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt string `json:"updated_at"`
}

// toPostResponse はDB行をJSONレスポンスに変換する。
func toPostResponse(p Post) postResponse {
	return postResponse{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		AdminID:        p.AdminID,
		Title:          p.Title,
		Body:           p.Body,
		IsPublished:    p.IsPublished != 0,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// handleCreate は投稿作成を処理するハンドラを返す。投稿は下書きとして作成される。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		if adminID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createPostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		postID := uuid.New().String()
		if err := s.queries.CreatePost(c.Request.Context(), CreatePostParams{
			ID:             postID,
			OrganizationID: req.OrganizationID,
			AdminID:        adminID,
			Title:          req.Title,
			Body:           req.Body,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の作成に失敗しました"})
			log.Printf("投稿作成エラー: %v", err)
			return
		}

		created, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "作成した投稿の取得に失敗しました"})
			log.Printf("投稿取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toPostResponse(created))
	}
}

// handleList は投稿一覧取得を処理するハンドラを返す。
// 既定では公開済みの投稿のみを返す。管理者は下書きも取得できる。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin := middleware.GetRole(c) == middleware.RoleAdmin
		includeDrafts := isAdmin && c.Query("include_drafts") == "true"

		posts, err := s.queries.ListPosts(c.Request.Context(), includeDrafts)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿一覧の取得に失敗しました"})
			log.Printf("投稿一覧取得エラー: %v", err)
			return
		}

		responses := make([]postResponse, 0, len(posts))
		for _, p := range posts {
			responses = append(responses, toPostResponse(p))
		}

		c.JSON(http.StatusOK, responses)
	}
}

// handleGetByID は投稿詳細取得を処理するハンドラを返す。
// 下書きの投稿は作成した管理者のみが閲覧できる。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := s.queries.GetPostByID(c.Request.Context(), c.Param("id"))
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "投稿が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の取得に失敗しました"})
			log.Printf("投稿取得エラー: %v", err)
			return
		}

		if p.IsPublished == 0 && p.AdminID != middleware.GetUserID(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "この投稿へのアクセス権がありません"})
			return
		}

		c.JSON(http.StatusOK, toPostResponse(p))
	}
}

// handleUpdate は投稿更新を処理するハンドラを返す。
// 投稿を作成した管理者のみが更新できる。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		postID := c.Param("id")

		p, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "投稿が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の取得に失敗しました"})
			log.Printf("投稿取得エラー: %v", err)
			return
		}

		if p.AdminID != adminID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この投稿へのアクセス権がありません"})
			return
		}

		var req updatePostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.queries.UpdatePost(c.Request.Context(), UpdatePostParams{
			ID:    postID,
			Title: req.Title,
			Body:  req.Body,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の更新に失敗しました"})
			log.Printf("投稿更新エラー: %v", err)
			return
		}

		updated, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新後の投稿の取得に失敗しました"})
			log.Printf("投稿取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toPostResponse(updated))
	}
}

// handlePublish は投稿の公開を処理するハンドラを返す。
// 公開が成立すると、団体全体へのbulletin_postブロードキャスト通知を送信する。
func (s *Server) handlePublish() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		postID := c.Param("id")

		p, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "投稿が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の取得に失敗しました"})
			log.Printf("投稿取得エラー: %v", err)
			return
		}

		if p.AdminID != adminID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この投稿へのアクセス権がありません"})
			return
		}

		if p.IsPublished != 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "この投稿は既に公開されています"})
			return
		}

		if err := s.queries.PublishPost(c.Request.Context(), postID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の公開に失敗しました"})
			log.Printf("投稿公開エラー: %v", err)
			return
		}

		// 団体全体へブロードキャスト通知する。送信失敗は公開処理を失敗させない。
		if err := s.notifyClient.Send(c.Request.Context(), notify.Notification{
			Type:           notify.TypeBulletinPost,
			Message:        fmt.Sprintf("New post: %s", p.Title),
			URL:            fmt.Sprintf("/posts/%s", postID),
			OrganizationID: p.OrganizationID,
			BulletinPostID: postID,
		}); err != nil {
			log.Printf("公開通知の送信に失敗: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{"message": "投稿を公開しました"})
	}
}

// handleDelete は投稿削除を処理するハンドラを返す。
// 投稿を作成した管理者のみが削除できる。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		postID := c.Param("id")

		p, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "投稿が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の取得に失敗しました"})
			log.Printf("投稿取得エラー: %v", err)
			return
		}

		if p.AdminID != adminID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この投稿へのアクセス権がありません"})
			return
		}

		if err := s.queries.DeletePost(c.Request.Context(), postID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の削除に失敗しました"})
			log.Printf("投稿削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "投稿を削除しました"})
	}
}

// titlesRequest は表示名解決の内部APIのリクエストJSON構造。
type titlesRequest struct {
	// Model は解決対象のモデル名。このサービスは "BulletinPost" のみを扱う。
	Model string `json:"model" binding:"required"`
	// IDs は解決対象のID一覧。
	IDs []string `json:"ids" binding:"required"`
}

// handleTitles は通知サービスからの表示名解決リクエストを処理するハンドラを返す。
func (s *Server) handleTitles() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req titlesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Model != "BulletinPost" {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未対応のモデルです: %s", req.Model)})
			return
		}

		posts, err := s.queries.ListPostsByIDs(c.Request.Context(), req.IDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の取得に失敗しました"})
			log.Printf("投稿取得エラー: %v", err)
			return
		}

		records := make(map[string]map[string]string, len(posts))
		for _, p := range posts {
			records[p.ID] = map[string]string{"title": p.Title}
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}
