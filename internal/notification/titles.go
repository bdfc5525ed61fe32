package notification

import (
	"context"
	"fmt"

	"github.com/circlehub/circlehub/pkg/httpclient"
)

// titlesRequest は各サービスの内部表示名解決APIへのリクエスト。
type titlesRequest struct {
	// Model は解決対象のモデル名。1サービスが複数モデルを扱うことがある。
	Model string `json:"model"`
	// IDs は解決対象のID一覧。
	IDs []string `json:"ids"`
}

// titlesResponse は内部表示名解決APIのレスポンス。
// RecordsはID→フィールド名→値の射影。存在しないIDは含まれない。
type titlesResponse struct {
	Records map[string]map[string]string `json:"records"`
}

// HTTPTitleResolver はモデル名に対応するサービスの内部APIへ
// 一括問い合わせを行うTitleResolverの実装。
type HTTPTitleResolver struct {
	// clients はモデル名ごとの接続先サービスのクライアント。
	clients map[string]*httpclient.Client
}

// NewHTTPTitleResolver はモデル名→サービスURLの対応表からリゾルバを生成する。
// 同一サービスが複数モデルを扱う場合は同じURLを複数モデルに割り当てる。
func NewHTTPTitleResolver(modelURLs map[string]string) *HTTPTitleResolver {
	clients := make(map[string]*httpclient.Client, len(modelURLs))
	for model, url := range modelURLs {
		clients[model] = httpclient.New(url)
	}
	return &HTTPTitleResolver{clients: clients}
}

// ResolveTitles は指定モデルのID一覧に対するフィールド射影を一括取得する。
func (r *HTTPTitleResolver) ResolveTitles(ctx context.Context, modelName string, ids []string) (map[string]map[string]string, error) {
	client, ok := r.clients[modelName]
	if !ok {
		return nil, fmt.Errorf("モデル %s の接続先が設定されていません", modelName)
	}

	var resp titlesResponse
	req := titlesRequest{Model: modelName, IDs: ids}
	if err := client.PostJSON(ctx, "/api/v1/internal/titles", req, &resp); err != nil {
		return nil, fmt.Errorf("モデル %s の表示名取得に失敗: %w", modelName, err)
	}
	if resp.Records == nil {
		return map[string]map[string]string{}, nil
	}
	return resp.Records, nil
}
