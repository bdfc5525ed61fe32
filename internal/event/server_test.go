package event

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

	"github.com/circlehub/circlehub/pkg/httpclient"
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

// setupTestServer はテスト用のイベントサーバーをインメモリSQLiteで構築する。
// 通知サービスとgatewayのモックサーバーも生成し、テスト終了時にクリーンアップする。
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

	// gatewayの表示名解決APIのモックサーバーを作成する
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"records":{"user-1":{"first_name":"Hanako","last_name":"Yamada"}}}`)
	}))
	t.Cleanup(gateway.Close)

	router := gin.New()
	s := &Server{
		router:       router,
		port:         "0",
		queries:      New(sqlDB),
		db:           sqlDB,
		notifyClient: notify.NewClient(notification.URL),
		userClient:   httpclient.New(gateway.URL),
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
		events := api.Group("/events")
		{
			events.GET("", s.handleList())
			events.GET("/:id", s.handleGetByID())
			events.POST("/:id/join", s.handleJoin())
			events.DELETE("/:id/join", s.handleLeave())
			events.GET("/:id/members", s.handleListMembers())

			admin := events.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				admin.POST("", s.handleCreate())
				admin.PUT("/:id", s.handleUpdate())
				admin.DELETE("/:id", s.handleDelete())
			}
		}

		internal := api.Group("/internal")
		{
			internal.POST("/titles", s.handleTitles())
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

// parseJSONArray はレスポンスボディをスライスにデコードするヘルパー関数。
func parseJSONArray(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var result []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSON配列のデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// createTestEvent はテスト用にイベントをDBに直接挿入するヘルパー関数。
func createTestEvent(t *testing.T, s *Server, id, adminID, title string, capacity int64) {
	t.Helper()
	err := s.queries.CreateEvent(context.Background(), CreateEventParams{
		ID:       id,
		AdminID:  adminID,
		Title:    title,
		StartsAt: "2025-11-01 10:00:00",
		Capacity: capacity,
	})
	if err != nil {
		t.Fatalf("テスト用イベントの作成に失敗: %v", err)
	}
}

// TestHandleCreateEvent はイベント作成ハンドラのテスト。
func TestHandleCreateEvent(t *testing.T) {
	t.Parallel()

	t.Run("管理者はイベントを作成できる", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{
			"title":       "Spring Fest",
			"description": "新歓イベント",
			"location":    "第2体育館",
			"starts_at":   "2025-11-01 10:00:00",
			"capacity":    30,
		}
		w := doRequest(router, http.MethodPost, "/api/v1/events", "admin-1", "admin", body)

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}

		result := parseJSON(t, w)
		if result["title"] != "Spring Fest" {
			t.Errorf("title: got %v, want Spring Fest", result["title"])
		}
		if result["admin_id"] != "admin-1" {
			t.Errorf("admin_id: got %v, want admin-1", result["admin_id"])
		}
		if result["id"] == nil || result["id"] == "" {
			t.Error("idが空です")
		}
	})

	t.Run("部員ロールはイベントを作成できない", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{"title": "無断イベント", "starts_at": "2025-11-01 10:00:00"}
		w := doRequest(router, http.MethodPost, "/api/v1/events", "user-1", "member", body)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("titleが未指定の場合はBadRequest", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{"starts_at": "2025-11-01 10:00:00"}
		w := doRequest(router, http.MethodPost, "/api/v1/events", "admin-1", "admin", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleListEvents はイベント一覧取得ハンドラのテスト。
func TestHandleListEvents(t *testing.T) {
	t.Parallel()

	t.Run("イベントが存在しない場合は空配列を返す", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/events", "user-1", "member", nil)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		result := parseJSONArray(t, w)
		if len(result) != 0 {
			t.Errorf("配列の長さ: got %d, want 0", len(result))
		}
	})

	t.Run("作成済みイベントの一覧を取得できる", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestEvent(t, s, "event-1", "admin-1", "合宿", 0)
		createTestEvent(t, s, "event-2", "admin-1", "定例会", 0)

		w := doRequest(router, http.MethodGet, "/api/v1/events", "user-1", "member", nil)

		result := parseJSONArray(t, w)
		if len(result) != 2 {
			t.Errorf("配列の長さ: got %d, want 2", len(result))
		}
	})
}

// TestHandleGetEventByID はイベント詳細取得ハンドラのテスト。
func TestHandleGetEventByID(t *testing.T) {
	t.Parallel()

	t.Run("イベント詳細を取得できる", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestEvent(t, s, "event-1", "admin-1", "合宿", 0)

		w := doRequest(router, http.MethodGet, "/api/v1/events/event-1", "user-1", "member", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		result := parseJSON(t, w)
		if result["title"] != "合宿" {
			t.Errorf("title: got %v, want 合宿", result["title"])
		}
	})

	t.Run("存在しないイベントの場合はNotFound", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/events/nonexistent", "user-1", "member", nil)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestHandleUpdateEvent はイベント更新ハンドラのテスト。
func TestHandleUpdateEvent(t *testing.T) {
	t.Parallel()

	t.Run("作成した管理者はイベントを更新できる", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestEvent(t, s, "event-1", "admin-1", "合宿", 0)

		body := map[string]any{"title": "夏合宿", "starts_at": "2025-12-01 09:00:00"}
		w := doRequest(router, http.MethodPut, "/api/v1/events/event-1", "admin-1", "admin", body)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		result := parseJSON(t, w)
		if result["title"] != "夏合宿" {
			t.Errorf("title: got %v, want 夏合宿", result["title"])
		}
	})

	t.Run("別の管理者が更新するとForbidden", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestEvent(t, s, "event-1", "admin-1", "合宿", 0)

		body := map[string]any{"title": "乗っ取り", "starts_at": "2025-12-01 09:00:00"}
		w := doRequest(router, http.MethodPut, "/api/v1/events/event-1", "admin-2", "admin", body)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

// TestHandleDeleteEvent はイベント削除ハンドラのテスト。
func TestHandleDeleteEvent(t *testing.T) {
	t.Parallel()

	t.Run("作成した管理者はイベントを削除できる", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestEvent(t, s, "event-1", "admin-1", "合宿", 0)

		w := doRequest(router, http.MethodDelete, "/api/v1/events/event-1", "admin-1", "admin", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		w2 := doRequest(router, http.MethodGet, "/api/v1/events/event-1", "admin-1", "admin", nil)
		if w2.Code != http.StatusNotFound {
			t.Errorf("削除後のステータスコード: got %d, want %d", w2.Code, http.StatusNotFound)
		}
	})

	t.Run("存在しないイベントの場合はNotFound", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodDelete, "/api/v1/events/nonexistent", "admin-1", "admin", nil)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestHandleJoinEvent はイベント参加ハンドラのテスト。
func TestHandleJoinEvent(t *testing.T) {
	t.Parallel()

	t.Run("参加が成立し管理者へ通知が送信される", func(t *testing.T) {
		t.Parallel()
		s, router, recorder := setupTestServer(t)

		createTestEvent(t, s, "event-1", "admin-1", "Spring Fest", 0)

		w := doRequest(router, http.MethodPost, "/api/v1/events/event-1/join", "user-1", "member", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		notifications := recorder.all()
		if len(notifications) != 1 {
			t.Fatalf("通知の数: got %d, want 1", len(notifications))
		}
		n := notifications[0]
		if n.Type != notify.TypeEventJoin {
			t.Errorf("notification_type: got %v, want %v", n.Type, notify.TypeEventJoin)
		}
		if n.Message != "Hanako Yamada joined your event: 'Spring Fest'" {
			t.Errorf("message: got %q", n.Message)
		}
		if n.AdminID != "admin-1" {
			t.Errorf("admin_id: got %q, want admin-1", n.AdminID)
		}
		if n.EventID != "event-1" {
			t.Errorf("event_id: got %q, want event-1", n.EventID)
		}
	})

	t.Run("同じイベントへの二重参加はConflict", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestEvent(t, s, "event-1", "admin-1", "合宿", 0)

		w := doRequest(router, http.MethodPost, "/api/v1/events/event-1/join", "user-1", "member", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("初回参加に失敗: status=%d", w.Code)
		}

		w2 := doRequest(router, http.MethodPost, "/api/v1/events/event-1/join", "user-1", "member", nil)
		if w2.Code != http.StatusConflict {
			t.Errorf("ステータスコード: got %d, want %d", w2.Code, http.StatusConflict)
		}
	})

	t.Run("定員に達したイベントへの参加はConflict", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestEvent(t, s, "event-1", "admin-1", "少人数会", 1)

		w := doRequest(router, http.MethodPost, "/api/v1/events/event-1/join", "user-1", "member", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("初回参加に失敗: status=%d", w.Code)
		}

		w2 := doRequest(router, http.MethodPost, "/api/v1/events/event-1/join", "user-2", "member", nil)
		if w2.Code != http.StatusConflict {
			t.Errorf("ステータスコード: got %d, want %d", w2.Code, http.StatusConflict)
		}
	})

	t.Run("存在しないイベントの場合はNotFound", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/v1/events/nonexistent/join", "user-1", "member", nil)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestHandleLeaveEvent はイベント参加取り消しハンドラのテスト。
func TestHandleLeaveEvent(t *testing.T) {
	t.Parallel()

	s, router, _ := setupTestServer(t)

	createTestEvent(t, s, "event-1", "admin-1", "合宿", 0)

	w := doRequest(router, http.MethodPost, "/api/v1/events/event-1/join", "user-1", "member", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("参加に失敗: status=%d", w.Code)
	}

	w2 := doRequest(router, http.MethodDelete, "/api/v1/events/event-1/join", "user-1", "member", nil)
	if w2.Code != http.StatusOK {
		t.Fatalf("参加取り消しに失敗: status=%d", w2.Code)
	}

	// 参加者一覧が空になったことを確認する
	w3 := doRequest(router, http.MethodGet, "/api/v1/events/event-1/members", "user-1", "member", nil)
	members := parseJSONArray(t, w3)
	if len(members) != 0 {
		t.Errorf("参加者の数: got %d, want 0", len(members))
	}
}

// TestHandleListMembers は参加者一覧取得ハンドラのテスト。
func TestHandleListMembers(t *testing.T) {
	t.Parallel()

	s, router, _ := setupTestServer(t)

	createTestEvent(t, s, "event-1", "admin-1", "合宿", 0)

	for _, userID := range []string{"user-1", "user-2"} {
		w := doRequest(router, http.MethodPost, "/api/v1/events/event-1/join", userID, "member", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s の参加に失敗: status=%d", userID, w.Code)
		}
	}

	w := doRequest(router, http.MethodGet, "/api/v1/events/event-1/members", "user-1", "member", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}

	members := parseJSONArray(t, w)
	if len(members) != 2 {
		t.Errorf("参加者の数: got %d, want 2", len(members))
	}
}

// TestHandleEventTitles は表示名解決の内部APIのテスト。
func TestHandleEventTitles(t *testing.T) {
	t.Parallel()

	t.Run("指定ID群のタイトル射影を返す", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestEvent(t, s, "event-1", "admin-1", "Spring Fest", 0)
		createTestEvent(t, s, "event-2", "admin-1", "Autumn Festival", 0)

		body := map[string]any{"model": "Event", "ids": []string{"event-1", "event-2", "event-404"}}
		w := doRequest(router, http.MethodPost, "/api/v1/internal/titles", "system", "admin", body)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseJSON(t, w)
		records, ok := result["records"].(map[string]any)
		if !ok {
			t.Fatalf("recordsがmapでない: %v", result["records"])
		}
		if len(records) != 2 {
			t.Errorf("recordsの長さ: got %d, want 2（存在しないIDは含まれない）", len(records))
		}
		event1, _ := records["event-1"].(map[string]any)
		if event1["title"] != "Spring Fest" {
			t.Errorf("event-1のtitle: got %v, want Spring Fest", event1["title"])
		}
	})

	t.Run("未対応のモデル名はBadRequest", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{"model": "Organization", "ids": []string{"id-1"}}
		w := doRequest(router, http.MethodPost, "/api/v1/internal/titles", "system", "admin", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}
