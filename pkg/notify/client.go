package notify

import (
	"context"
	"fmt"

	"github.com/circlehub/circlehub/pkg/httpclient"
)

// Client は通知サービスへ通知を登録するクライアント。
type Client struct {
	// httpClient は通知サービスへのHTTPクライアント。
	httpClient *httpclient.Client
}

// NewClient は新しい通知送信クライアントを生成する。
// baseURLには通知サービスのベースURL（例: "http://notification:8086"）を指定する。
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: httpclient.New(baseURL),
	}
}

// Send は通知サービスの内部APIに通知を1件登録する。
// 通知の送信失敗は呼び出し元の業務処理を失敗させるべきではないため、
// 呼び出し元はエラーをログに記録して処理を継続することが多い。
func (c *Client) Send(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("通知の検証に失敗: %w", err)
	}

	if err := c.httpClient.PostJSON(ctx, "/api/v1/internal/send", n, nil); err != nil {
		return fmt.Errorf("通知の登録に失敗: %w", err)
	}
	return nil
}
