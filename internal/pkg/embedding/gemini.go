package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "text-embedding-004"

// GeminiBackend Gemini 批量向量接口
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend 创建 Gemini 后端
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

// Embed 一次 BatchEmbedContents 请求
func (b *GeminiBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := b.client.EmbeddingModel(b.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

// Close 释放底层连接
func (b *GeminiBackend) Close() error {
	return b.client.Close()
}
