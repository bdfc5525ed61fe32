package orgchart

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

// Server は組織図サービスのHTTPサーバー。
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

// NewServer は新しい組織図サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/orgchart.db?_journal_mode=WAL&_busy_timeout=5000")
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
		orgchart := api.Group("/orgchart")
		{
			// 組織図（役職階層と割り当て）の取得
			orgchart.GET("", s.handleGetChart())
			// 本人確認の状況一覧取得
			orgchart.GET("/verifications", s.handleListVerifications())

			// 管理者のみの操作
			admin := orgchart.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				admin.POST("/positions", s.handleCreatePosition())
				admin.DELETE("/positions/:id", s.handleDeletePosition())
				admin.POST("/positions/:id/assign", s.handleAssign())
				admin.DELETE("/positions/:id/assign/:userID", s.handleUnassign())
				// 部員の本人確認
				admin.POST("/members/:id/verify", s.handleVerify())
			}
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "orgchart"})
	})
}

// positionNode は組織図の1ノードを表すJSONレスポンス構造。
type positionNode struct {
	// ID は役職の一意識別子。
	ID string `json:"id"`
	// Name は役職名。
	Name string `json:"name"`
	// MemberIDs は割り当てられた部員のID一覧。
	MemberIDs []string `json:"member_ids"`
	// Children は子役職のノード一覧。
	Children []*positionNode `json:"children"`
}

// handleGetChart は組織図取得を処理するハンドラを返す。
// 役職を親子関係のツリーに組み立てて返す。
func (s *Server) handleGetChart() gin.HandlerFunc {
	return func(c *gin.Context) {
		positions, err := s.queries.ListPositions(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "役職一覧の取得に失敗しました"})
			log.Printf("役職一覧取得エラー: %v", err)
			return
		}
		assignments, err := s.queries.ListAssignments(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "割り当て一覧の取得に失敗しました"})
			log.Printf("割り当て一覧取得エラー: %v", err)
			return
		}

		nodes := make(map[string]*positionNode, len(positions))
		for _, p := range positions {
			memberIDs := assignments[p.ID]
			if memberIDs == nil {
				memberIDs = []string{}
			}
			nodes[p.ID] = &positionNode{
				ID:        p.ID,
				Name:      p.Name,
				MemberIDs: memberIDs,
				Children:  []*positionNode{},
			}
		}

		// 親子関係を組み立てる。親が見つからない役職は最上位として扱う。
		roots := []*positionNode{}
		for _, p := range positions {
			node := nodes[p.ID]
			if parent, ok := nodes[p.ParentID]; ok && p.ParentID != p.ID {
				parent.Children = append(parent.Children, node)
			} else {
				roots = append(roots, node)
			}
		}

		c.JSON(http.StatusOK, gin.H{"positions": roots})
	}
}

// createPositionRequest は役職作成リクエストのJSON構造。
type createPositionRequest struct {
	// Name は役職名。
	Name string `json:"name" binding:"required"`
	// ParentID は親役職のID。最上位の場合は省略する。
	ParentID string `json:"parent_id"`
}

// handleCreatePosition は役職作成を処理するハンドラを返す。
func (s *Server) handleCreatePosition() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createPositionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if req.ParentID != "" {
			if _, err := s.queries.GetPositionByID(c.Request.Context(), req.ParentID); err == sql.ErrNoRows {
				c.JSON(http.StatusBadRequest, gin.H{"error": "親役職が見つかりません"})
				return
			} else if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "親役職の取得に失敗しました"})
				log.Printf("役職取得エラー: %v", err)
				return
			}
		}

		id := uuid.New().String()
		if err := s.queries.CreatePosition(c.Request.Context(), id, req.Name, req.ParentID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "役職の作成に失敗しました"})
			log.Printf("役職作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"id": id, "name": req.Name, "parent_id": req.ParentID})
	}
}

// handleDeletePosition は役職削除を処理するハンドラを返す。
func (s *Server) handleDeletePosition() gin.HandlerFunc {
	return func(c *gin.Context) {
		positionID := c.Param("id")
		if _, err := s.queries.GetPositionByID(c.Request.Context(), positionID); err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "役職が見つかりません"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "役職の取得に失敗しました"})
			log.Printf("役職取得エラー: %v", err)
			return
		}

		if err := s.queries.DeletePosition(c.Request.Context(), positionID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "役職の削除に失敗しました"})
			log.Printf("役職削除エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "役職を削除しました"})
	}
}

// assignRequest は役職割り当てリクエストのJSON構造。
type assignRequest struct {
	// UserID は割り当てる部員のID。
	UserID string `json:"user_id" binding:"required"`
}

// handleAssign は部員の役職割り当てを処理するハンドラを返す。
func (s *Server) handleAssign() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req assignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		positionID := c.Param("id")
		if _, err := s.queries.GetPositionByID(c.Request.Context(), positionID); err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "役職が見つかりません"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "役職の取得に失敗しました"})
			log.Printf("役職取得エラー: %v", err)
			return
		}

		if err := s.queries.AssignMember(c.Request.Context(), positionID, req.UserID); err != nil {
			// PRIMARY KEY制約違反は二重割り当てとして扱う
			c.JSON(http.StatusConflict, gin.H{"error": "この部員は既に割り当て済みです"})
			log.Printf("割り当てエラー: position=%s user=%s: %v", positionID, req.UserID, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"position_id": positionID, "user_id": req.UserID})
	}
}

// handleUnassign は部員の役職割り当て解除を処理するハンドラを返す。
func (s *Server) handleUnassign() gin.HandlerFunc {
	return func(c *gin.Context) {
		positionID := c.Param("id")
		userID := c.Param("userID")

		if err := s.queries.UnassignMember(c.Request.Context(), positionID, userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "割り当て解除に失敗しました"})
			log.Printf("割り当て解除エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "割り当てを解除しました"})
	}
}

// handleVerify は部員の本人確認を処理するハンドラを返す。
// 確認完了後、実行した管理者へuser_verified通知を送信する。
func (s *Server) handleVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetUserID(c)
		if adminID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		userID := c.Param("id")
		if _, err := s.queries.GetVerification(c.Request.Context(), userID); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "この部員は既に本人確認済みです"})
			return
		} else if err != sql.ErrNoRows {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "本人確認記録の取得に失敗しました"})
			log.Printf("本人確認記録取得エラー: %v", err)
			return
		}

		if err := s.queries.VerifyMember(c.Request.Context(), userID, adminID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "本人確認の記録に失敗しました"})
			log.Printf("本人確認記録エラー: %v", err)
			return
		}

		// 実行した管理者へ通知する。送信失敗は本人確認処理を失敗させない。
		memberName := s.resolveUserName(c, userID)
		if err := s.notifyClient.Send(c.Request.Context(), notify.Notification{
			Type:           notify.TypeUserVerified,
			Message:        fmt.Sprintf("%s has been verified", memberName),
			URL:            fmt.Sprintf("/members/%s", userID),
			AdminID:        adminID,
			VerifiedUserID: userID,
		}); err != nil {
			log.Printf("本人確認通知の送信に失敗: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{"message": "本人確認を記録しました", "user_id": userID})
	}
}

// handleListVerifications は本人確認状況の一覧取得を処理するハンドラを返す。
func (s *Server) handleListVerifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		verifications, err := s.queries.ListVerifications(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "本人確認記録の取得に失敗しました"})
			log.Printf("本人確認記録取得エラー: %v", err)
			return
		}

		type verificationResponse struct {
			UserID     string `json:"user_id"`
			AdminID    string `json:"admin_id"`
			VerifiedAt string `json:"verified_at"`
		}
		responses := make([]verificationResponse, 0, len(verifications))
		for _, v := range verifications {
			responses = append(responses, verificationResponse{
				UserID:     v.UserID,
				AdminID:    v.AdminID,
				VerifiedAt: v.VerifiedAt,
			})
		}
		c.JSON(http.StatusOK, responses)
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
