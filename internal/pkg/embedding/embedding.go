// Package embedding 把文本转换为固定维度的向量
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// MaxBatchSize 上游单次请求允许的最大输入数
const MaxBatchSize = 100

var (
	// ErrEmbeddingUnavailable 向量服务不可用（网络错误、超时、上游报错）
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrDimensionMismatch 返回的向量维度与配置不一致
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Backend 具体的向量服务，单次调用的输入数不超过 MaxBatchSize
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Embedder 供检索和入库使用的向量化接口
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options 客户端配置
type Options struct {
	Dimension   int
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
}

// Client 负责分批、并发和结果重组
type Client struct {
	backend Backend
	opts    Options
}

var _ Embedder = (*Client)(nil)

// NewClient 创建向量化客户端
func NewClient(backend Backend, opts Options) *Client {
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{backend: backend, opts: opts}
}

// Dimension 进程内统一的向量维度
func (c *Client) Dimension() int {
	return c.opts.Dimension
}

// EmbedTexts 按输入顺序返回向量；空输入返回空结果
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for start := 0; start < len(texts); start += c.opts.BatchSize {
		end := min(start+c.opts.BatchSize, len(texts))
		g.Go(func() error {
			vectors, err := c.backend.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrEmbeddingUnavailable, c.backend.Name(), err)
			}
			if len(vectors) != end-start {
				return fmt.Errorf("%w: %s returned %d vectors for %d inputs",
					ErrEmbeddingUnavailable, c.backend.Name(), len(vectors), end-start)
			}
			copy(out[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("backend", c.backend.Name()).Int("inputs", len(texts)).Msg("embedding failed")
		return nil, err
	}

	if err := c.checkDimension(out); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery 单条查询向量
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) checkDimension(vectors [][]float32) error {
	want := c.opts.Dimension
	if want <= 0 {
		want = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("%w: input %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), want)
		}
	}
	return nil
}
