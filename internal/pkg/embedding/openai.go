package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino-ext/libs/acl/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// OpenAIBackend OpenAI 兼容的 /embeddings 接口，基于 Eino Embedder
type OpenAIBackend struct {
	embedder embedding.Embedder
}

// NewOpenAIBackend 创建 OpenAI 兼容后端，baseURL 为空时使用官方地址
func NewOpenAIBackend(ctx context.Context, baseURL, apiKey, model string, dimension int, httpClient *http.Client) (*OpenAIBackend, error) {
	cfg := &openai.EmbeddingConfig{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
		HTTPClient: httpClient,
	}
	// 只有 text-embedding-3 系列支持指定维度
	if strings.HasPrefix(model, "text-embedding-3") && dimension > 0 {
		d := dimension
		cfg.Dimensions = &d
	}

	embedder, err := openai.NewEmbeddingClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}
	return &OpenAIBackend{embedder: embedder}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

// Embed 调用 Eino Embedder，结果转为 float32
func (b *OpenAIBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := b.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		vec := make([]float32, len(v))
		for j, x := range v {
			vec[j] = float32(x)
		}
		out[i] = vec
	}
	return out, nil
}
