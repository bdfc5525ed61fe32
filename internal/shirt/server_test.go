package shirt

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/circlehub/circlehub/pkg/middleware"
	"github.com/circlehub/circlehub/pkg/notify"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// notifyRecorder は通知サービスのモックが受信した通知を記録する。
type notifyRecorder struct {
	mu            sync.Mutex
	notifications []notify.Notification
}

// all は受信した通知のコピーを返す。
func (r *notifyRecorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.notifications...)
}

// setupTestServer はテスト用のTシャツ注文サーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T) (*Server, *gin.Engine, *notifyRecorder) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	// 通知サービスのモックサーバーを作成する
	recorder := &notifyRecorder{}
	notification := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n notify.Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Errorf("通知のデコードに失敗: %v", err)
		}
		recorder.mu.Lock()
		recorder.notifications = append(recorder.notifications, n)
		recorder.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"mock-notification-id"}`)
	}))
	t.Cleanup(notification.Close)

	router := gin.New()
	s := &Server{
		router:       router,
		port:         "0",
		queries:      New(sqlDB),
		db:           sqlDB,
		notifyClient: notify.NewClient(notification.URL),
	}

	// JWTミドルウェアの代わりにテスト用のユーザーID・ロール設定ミドルウェアを使用する
	api := router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			c.Set("user_id", userID)
		}
		if role := c.GetHeader("X-User-Role"); role != "" {
			c.Set("role", role)
		}
		c.Next()
	})
	{
		shirts := api.Group("/shirts")
		{
			shirts.GET("", s.handleList())
			shirts.GET("/:id", s.handleGetByID())
			shirts.POST("/:id/orders", s.handleOrder())

			admin := shirts.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				admin.POST("", s.handleCreate())
				admin.DELETE("/:id", s.handleDelete())
				admin.GET("/:id/orders", s.handleListOrders())
			}
		}
	}

	return s, router, recorder
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router *gin.Engine, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Role", role)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// createTestCampaign はテスト用にキャンペーンをDBに直接挿入するヘルパー関数。
func createTestCampaign(t *testing.T, s *Server, id, adminID, name string) {
	t.Helper()
	err := s.queries.CreateCampaign(context.Background(), CreateCampaignParams{
		ID:       id,
		AdminID:  adminID,
		Name:     name,
		Price:    2500,
		Deadline: "2025-11-15",
	})
	if err != nil {
		t.Fatalf("テスト用キャンペーンの作成に失敗: %v", err)
	}
}

// TestHandleCreateCampaign はキャンペーン作成ハンドラのテスト。
func TestHandleCreateCampaign(t *testing.T) {
	t.Parallel()

	t.Run("管理者はキャンペーンを作成できる", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{"name": "Summer Tee 2025", "price": 2500, "deadline": "2025-11-15"}
		w := doRequest(router, http.MethodPost, "/api/v1/shirts", "admin-1", "admin", body)

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}
		result := parseJSON(t, w)
		if result["name"] != "Summer Tee 2025" {
			t.Errorf("name: got %v, want Summer Tee 2025", result["name"])
		}
		if result["admin_id"] != "admin-1" {
			t.Errorf("admin_id: got %v, want admin-1", result["admin_id"])
		}
	})

	t.Run("部員ロールはキャンペーンを作成できない", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{"name": "無断キャンペーン", "price": 100, "deadline": "2025-11-15"}
		w := doRequest(router, http.MethodPost, "/api/v1/shirts", "user-1", "member", body)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("必須項目が欠けている場合は400エラー", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{"price": 2500}
		w := doRequest(router, http.MethodPost, "/api/v1/shirts", "admin-1", "admin", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleOrder はTシャツ注文ハンドラのテスト。
func TestHandleOrder(t *testing.T) {
	t.Parallel()

	t.Run("注文すると管理者へ通知が送信される", func(t *testing.T) {
		t.Parallel()
		s, router, recorder := setupTestServer(t)
		createTestCampaign(t, s, "camp-1", "admin-1", "Summer Tee 2025")

		body := map[string]any{"size": "M"}
		w := doRequest(router, http.MethodPost, "/api/v1/shirts/camp-1/orders", "user-1", "member", body)

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}

		notifications := recorder.all()
		if len(notifications) != 1 {
			t.Fatalf("通知数: got %d, want 1", len(notifications))
		}
		n := notifications[0]
		if n.Type != notify.TypeShirtOrder {
			t.Errorf("通知種別: got %s, want %s", n.Type, notify.TypeShirtOrder)
		}
		if n.AdminID != "admin-1" {
			t.Errorf("通知先: got %s, want admin-1", n.AdminID)
		}
		want := "Size M shirt ordered for 'Summer Tee 2025'"
		if n.Message != want {
			t.Errorf("通知本文: got %q, want %q", n.Message, want)
		}
		if n.URL != "/shirts/camp-1/orders" {
			t.Errorf("通知URL: got %s, want /shirts/camp-1/orders", n.URL)
		}
	})

	t.Run("サイズは大文字に正規化される", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)
		createTestCampaign(t, s, "camp-1", "admin-1", "Summer Tee 2025")

		body := map[string]any{"size": "xl"}
		w := doRequest(router, http.MethodPost, "/api/v1/shirts/camp-1/orders", "user-1", "member", body)

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}
		if got := parseJSON(t, w)["size"]; got != "XL" {
			t.Errorf("size: got %v, want XL", got)
		}
	})

	t.Run("未対応のサイズは400エラー", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)
		createTestCampaign(t, s, "camp-1", "admin-1", "Summer Tee 2025")

		body := map[string]any{"size": "XXXL"}
		w := doRequest(router, http.MethodPost, "/api/v1/shirts/camp-1/orders", "user-1", "member", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("同じキャンペーンへの二重注文は409エラー", func(t *testing.T) {
		t.Parallel()
		s, router, recorder := setupTestServer(t)
		createTestCampaign(t, s, "camp-1", "admin-1", "Summer Tee 2025")

		body := map[string]any{"size": "M"}
		first := doRequest(router, http.MethodPost, "/api/v1/shirts/camp-1/orders", "user-1", "member", body)
		if first.Code != http.StatusCreated {
			t.Fatalf("1回目のステータスコード: got %d, want %d", first.Code, http.StatusCreated)
		}

		second := doRequest(router, http.MethodPost, "/api/v1/shirts/camp-1/orders", "user-1", "member", map[string]any{"size": "L"})
		if second.Code != http.StatusConflict {
			t.Errorf("2回目のステータスコード: got %d, want %d", second.Code, http.StatusConflict)
		}
		if got := recorder.all(); len(got) != 1 {
			t.Errorf("通知数: got %d, want 1", len(got))
		}
	})

	t.Run("存在しないキャンペーンは404エラー", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{"size": "M"}
		w := doRequest(router, http.MethodPost, "/api/v1/shirts/nonexistent/orders", "user-1", "member", body)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestHandleListOrders は注文一覧取得ハンドラのテスト。
func TestHandleListOrders(t *testing.T) {
	t.Parallel()

	t.Run("管理者は注文一覧とサイズ別集計を取得できる", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)
		createTestCampaign(t, s, "camp-1", "admin-1", "Summer Tee 2025")
		for i, size := range []string{"M", "M", "L"} {
			id := fmt.Sprintf("order-%d", i+1)
			userID := fmt.Sprintf("user-%d", i+1)
			if err := s.queries.CreateOrder(context.Background(), id, "camp-1", userID, size); err != nil {
				t.Fatalf("テスト用注文の作成に失敗: %v", err)
			}
		}

		w := doRequest(router, http.MethodGet, "/api/v1/shirts/camp-1/orders", "admin-1", "admin", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		result := parseJSON(t, w)
		orders, ok := result["orders"].([]any)
		if !ok || len(orders) != 3 {
			t.Errorf("注文数: got %v, want 3件", result["orders"])
		}
		counts, ok := result["size_counts"].(map[string]any)
		if !ok {
			t.Fatal("size_countsがオブジェクトではありません")
		}
		if counts["M"] != float64(2) || counts["L"] != float64(1) {
			t.Errorf("サイズ別集計: got %v, want M=2 L=1", counts)
		}
	})

	t.Run("他の管理者のキャンペーンの注文は取得できない", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)
		createTestCampaign(t, s, "camp-1", "admin-1", "Summer Tee 2025")

		w := doRequest(router, http.MethodGet, "/api/v1/shirts/camp-1/orders", "admin-2", "admin", nil)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

// TestHandleDeleteCampaign はキャンペーン削除ハンドラのテスト。
func TestHandleDeleteCampaign(t *testing.T) {
	t.Parallel()

	t.Run("作成した管理者はキャンペーンを削除できる", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)
		createTestCampaign(t, s, "camp-1", "admin-1", "Summer Tee 2025")

		w := doRequest(router, http.MethodDelete, "/api/v1/shirts/camp-1", "admin-1", "admin", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		if _, err := s.queries.GetCampaignByID(context.Background(), "camp-1"); err != sql.ErrNoRows {
			t.Errorf("キャンペーンが削除されていません: err=%v", err)
		}
	})

	t.Run("他の管理者のキャンペーンは削除できない", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)
		createTestCampaign(t, s, "camp-1", "admin-1", "Summer Tee 2025")

		w := doRequest(router, http.MethodDelete, "/api/v1/shirts/camp-1", "admin-2", "admin", nil)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}
