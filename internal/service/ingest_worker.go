package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"botforge/internal/model/source"
	"botforge/internal/pkg/chunker"
	"botforge/internal/pkg/embedding"
	"botforge/internal/pkg/extractor"
	"botforge/internal/pkg/id"
	"botforge/internal/pkg/storage"
	"botforge/internal/repository"
)

const (
	reasonInterrupted = "ingestion interrupted"
	reasonNoText      = "no extractable text"

	defaultSweepInterval = 30 * time.Second
)

// ErrQueueFull 入库队列已满，知识源保持 pending 等待下一次扫描
var ErrQueueFull = errors.New("ingest queue full")

// TextExtractor 文档提取
type TextExtractor interface {
	Extract(ctx context.Context, in extractor.Input) (string, error)
}

// TextChunker 文本切片
type TextChunker interface {
	Chunk(text string) []chunker.Chunk
}

// Ingestor 知识源入库 worker 池：提取、切片、向量化，最后原子写入切片
type Ingestor struct {
	sources   repository.SourceRepository
	storage   storage.Storage
	extractor TextExtractor
	chunker   TextChunker
	embedder  embedding.Embedder
	jobs      chan string
	wg        sync.WaitGroup
	logger    zerolog.Logger

	sweepInterval time.Duration
	mu            sync.Mutex
	queued        map[string]struct{} // 已在队列中的知识源，避免扫描重复入队
}

// NewIngestor 创建入库 worker 池，queueSize 为待处理队列容量
func NewIngestor(
	sources repository.SourceRepository,
	store storage.Storage,
	ext TextExtractor,
	ch TextChunker,
	embedder embedding.Embedder,
	queueSize int,
) *Ingestor {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Ingestor{
		sources:   sources,
		storage:   store,
		extractor: ext,
		chunker:   ch,
		embedder:  embedder,
		jobs:      make(chan string, queueSize),
		logger:    log.With().Str("component", "ingestor").Logger(),

		sweepInterval: defaultSweepInterval,
		queued:        make(map[string]struct{}),
	}
}

// WithSweepInterval 设置 pending 知识源的扫描间隔
func (i *Ingestor) WithSweepInterval(d time.Duration) *Ingestor {
	if d > 0 {
		i.sweepInterval = d
	}
	return i
}

// Start 启动 n 个 worker 和一个 pending 扫描协程，ctx 结束后退出
func (i *Ingestor) Start(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for w := 1; w <= n; w++ {
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case sourceID := <-i.jobs:
					i.dequeued(sourceID)
					if err := i.ProcessOne(ctx, sourceID); err != nil {
						i.logger.Error().Err(err).Int("worker", w).Str("source_id", sourceID).Msg("ingestion failed")
					}
				}
			}
		}()
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		ticker := time.NewTicker(i.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := i.requeuePending(ctx); err != nil && ctx.Err() == nil {
					i.logger.Warn().Err(err).Msg("pending sweep failed")
				}
			}
		}
	}()
	i.logger.Info().Int("workers", n).Dur("sweep_interval", i.sweepInterval).Msg("ingestion workers started")
}

// Wait 等待全部 worker 退出
func (i *Ingestor) Wait() {
	i.wg.Wait()
}

// Enqueue 提交待处理的知识源，不阻塞；队列满时返回 ErrQueueFull
func (i *Ingestor) Enqueue(ctx context.Context, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.queued[sourceID]; ok {
		return nil
	}
	select {
	case i.jobs <- sourceID:
		i.queued[sourceID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

func (i *Ingestor) dequeued(sourceID string) {
	i.mu.Lock()
	delete(i.queued, sourceID)
	i.mu.Unlock()
}

// requeuePending 把 pending 知识源放回队列，直到队列满
func (i *Ingestor) requeuePending(ctx context.Context) (int, error) {
	pending, err := i.sources.ListByStatus(ctx, source.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending sources: %w", err)
	}
	n := 0
	for _, s := range pending {
		if err := i.Enqueue(ctx, s.ID); err != nil {
			if errors.Is(err, ErrQueueFull) {
				break
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Recover 启动时调用：处理中断的知识源置为失败，待处理的重新入队
func (i *Ingestor) Recover(ctx context.Context) error {
	stuck, err := i.sources.ListByStatus(ctx, source.StatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing sources: %w", err)
	}
	for _, s := range stuck {
		if err := i.sources.MarkFailed(ctx, s.ID, reasonInterrupted); err != nil {
			i.logger.Warn().Err(err).Str("source_id", s.ID).Msg("failed to mark interrupted source")
		}
	}

	requeued, err := i.requeuePending(ctx)
	if err != nil {
		return err
	}

	i.logger.Info().Int("interrupted", len(stuck)).Int("requeued", requeued).Msg("ingestion recovered")
	return nil
}

// ProcessOne 处理单个知识源；失败原因写入知识源，返回值只用于日志
func (i *Ingestor) ProcessOne(ctx context.Context, sourceID string) error {
	src, err := i.sources.FindByID(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	if err := i.sources.Transition(ctx, sourceID, source.StatusPending, source.StatusProcessing); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			// 已被其他 worker 处理或已删除
			return nil
		}
		return fmt.Errorf("start processing: %w", err)
	}

	start := time.Now()
	logger := i.logger.With().Str("source_id", sourceID).Str("bot_id", src.BotID).Str("kind", string(src.Kind)).Logger()

	chunks, err := i.build(ctx, src)
	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = reasonInterrupted
		}
		if markErr := i.sources.MarkFailed(context.WithoutCancel(ctx), sourceID, reason); markErr != nil {
			return fmt.Errorf("mark failed: %w (cause: %v)", markErr, err)
		}
		logger.Warn().Err(err).Dur("latency", time.Since(start)).Msg("source failed")
		return nil
	}

	if err := i.sources.AttachChunks(ctx, sourceID, chunks); err != nil {
		_ = i.sources.MarkFailed(context.WithoutCancel(ctx), sourceID, "store chunks: "+err.Error())
		return fmt.Errorf("attach chunks: %w", err)
	}

	logger.Info().Int("chunks", len(chunks)).Dur("latency", time.Since(start)).Msg("source processed")
	return nil
}

// build 提取、切片、向量化
func (i *Ingestor) build(ctx context.Context, src *source.Source) ([]*source.Chunk, error) {
	in, err := i.input(ctx, src)
	if err != nil {
		return nil, err
	}
	text, err := i.extractor.Extract(ctx, in)
	if err != nil {
		return nil, err
	}

	pieces := i.chunker.Chunk(text)
	if len(pieces) == 0 {
		return nil, errors.New(reasonNoText)
	}

	texts := make([]string, len(pieces))
	for n, p := range pieces {
		texts[n] = p.Text
	}
	vectors, err := i.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	out := make([]*source.Chunk, len(pieces))
	for n, p := range pieces {
		out[n] = &source.Chunk{
			ID:       id.New(),
			SourceID: src.ID,
			BotID:    src.BotID,
			Ordinal:  p.Ordinal,
			Text:     p.Text,
			Tokens:   p.Tokens,
			Vector:   vectors[n],
		}
	}
	return out, nil
}

func (i *Ingestor) input(ctx context.Context, src *source.Source) (extractor.Input, error) {
	in := extractor.Input{Kind: src.Kind, FileName: src.Name, URL: src.URL}
	switch src.Kind {
	case source.KindText:
		in.Data = []byte(src.Content)
	case source.KindFile:
		rc, err := i.storage.Download(ctx, src.StorageKey)
		if err != nil {
			return in, fmt.Errorf("read uploaded file: %w", err)
		}
		defer rc.Close()
		in.Data, err = io.ReadAll(rc)
		if err != nil {
			return in, fmt.Errorf("read uploaded file: %w", err)
		}
	}
	return in, nil
}
