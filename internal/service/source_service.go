package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"botforge/internal/model/source"
	"botforge/internal/pkg/extractor"
	"botforge/internal/pkg/id"
	"botforge/internal/pkg/storage"
	"botforge/internal/repository"
)

// SourceQueue 入库队列
type SourceQueue interface {
	Enqueue(ctx context.Context, sourceID string) error
}

// SourceService 知识源管理
type SourceService struct {
	sources repository.SourceRepository
	bots    *BotService
	storage storage.Storage
	quota   *QuotaGate
	queue   SourceQueue
}

// NewSourceService 创建知识源服务
func NewSourceService(sources repository.SourceRepository, bots *BotService, store storage.Storage, quota *QuotaGate, queue SourceQueue) *SourceService {
	return &SourceService{sources: sources, bots: bots, storage: store, quota: quota, queue: queue}
}

// FileUpload 上传文件的元信息与内容
type FileUpload struct {
	FileName string
	Size     int64
	Body     io.Reader
}

// CreateFile 保存上传文件并提交入库；不支持的格式创建后立即失败
func (s *SourceService) CreateFile(ctx context.Context, tenantID, botID string, up *FileUpload) (*source.Source, error) {
	if _, err := s.bots.Get(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	name := filepath.Base(strings.TrimSpace(up.FileName))
	if name == "" || name == "." || name == "/" {
		return nil, invalidInput("file name is required")
	}
	if err := s.quota.CheckFileSize(ctx, tenantID, up.Size); err != nil {
		return nil, err
	}

	src := &source.Source{
		ID:       id.New(),
		BotID:    botID,
		TenantID: tenantID,
		Kind:     source.KindFile,
		Name:     name,
		Size:     up.Size,
	}

	format, formatErr := extractor.DetectFormat(name)
	if formatErr == nil {
		src.ContentType = format.ContentType()
	}

	if err := s.quota.CheckAndReserve(ctx, tenantID, CostSourceFile); err != nil {
		return nil, err
	}

	if formatErr != nil {
		return s.createFailed(ctx, src, formatErr.Error())
	}

	src.StorageKey = fmt.Sprintf("sources/%s/%s%s", botID, src.ID, strings.ToLower(filepath.Ext(name)))
	if _, err := s.storage.Upload(ctx, src.StorageKey, up.Body, src.ContentType); err != nil {
		s.quota.Release(ctx, tenantID, CostSourceFile)
		return nil, fmt.Errorf("store uploaded file: %w", err)
	}

	if err := s.sources.Create(ctx, src); err != nil {
		s.quota.Release(ctx, tenantID, CostSourceFile)
		_ = s.storage.Delete(context.WithoutCancel(ctx), src.StorageKey)
		return nil, fmt.Errorf("create source: %w", err)
	}
	s.enqueue(ctx, src)
	return src, nil
}

// CreateURL 登记网页知识源；非法 URL 创建后立即失败
func (s *SourceService) CreateURL(ctx context.Context, tenantID, botID, rawURL string) (*source.Source, error) {
	if _, err := s.bots.Get(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, invalidInput("url is required")
	}

	src := &source.Source{
		ID:       id.New(),
		BotID:    botID,
		TenantID: tenantID,
		Kind:     source.KindURL,
		Name:     rawURL,
		URL:      rawURL,
	}
	if err := s.quota.CheckAndReserve(ctx, tenantID, CostSourceURL); err != nil {
		return nil, err
	}

	if _, err := extractor.ValidateURL(rawURL); err != nil {
		return s.createFailed(ctx, src, err.Error())
	}

	if err := s.sources.Create(ctx, src); err != nil {
		s.quota.Release(ctx, tenantID, CostSourceURL)
		return nil, fmt.Errorf("create source: %w", err)
	}
	s.enqueue(ctx, src)
	return src, nil
}

// CreateText 登记粘贴的文本
func (s *SourceService) CreateText(ctx context.Context, tenantID, botID, title, text string) (*source.Source, error) {
	if _, err := s.bots.Get(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, invalidInput("text is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = firstRunes(strings.TrimSpace(text), 64)
	}

	src := &source.Source{
		ID:          id.New(),
		BotID:       botID,
		TenantID:    tenantID,
		Kind:        source.KindText,
		Name:        title,
		Content:     text,
		ContentType: "text/plain",
		Size:        int64(len(text)),
	}
	if err := s.quota.CheckAndReserve(ctx, tenantID, CostSourceText); err != nil {
		return nil, err
	}
	if err := s.sources.Create(ctx, src); err != nil {
		s.quota.Release(ctx, tenantID, CostSourceText)
		return nil, fmt.Errorf("create source: %w", err)
	}
	s.enqueue(ctx, src)
	return src, nil
}

// List 机器人的全部知识源
func (s *SourceService) List(ctx context.Context, tenantID, botID string) ([]*source.Source, error) {
	if _, err := s.bots.Get(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	return s.sources.ListByBot(ctx, botID)
}

// Get 读取单个知识源
func (s *SourceService) Get(ctx context.Context, tenantID, botID, sourceID string) (*source.Source, error) {
	if _, err := s.bots.Get(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	src, err := s.sources.FindByID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("load source: %w", err)
	}
	if src.BotID != botID {
		return nil, ErrSourceNotFound
	}
	return src, nil
}

// Delete 删除终态知识源及其切片和文件
func (s *SourceService) Delete(ctx context.Context, tenantID, botID, sourceID string) error {
	src, err := s.Get(ctx, tenantID, botID, sourceID)
	if err != nil {
		return err
	}
	if err := s.sources.Delete(ctx, sourceID); err != nil {
		switch {
		case errors.Is(err, repository.ErrInvalidTransition):
			return ErrSourceBusy
		case errors.Is(err, repository.ErrNotFound):
			return ErrSourceNotFound
		}
		return fmt.Errorf("delete source: %w", err)
	}
	s.quota.Release(ctx, tenantID, SourceCost(src.Kind))

	if src.StorageKey != "" {
		if err := s.storage.Delete(ctx, src.StorageKey); err != nil {
			log.Warn().Err(err).Str("source_id", sourceID).Str("key", src.StorageKey).Msg("failed to delete source file")
		}
	}
	return nil
}

// createFailed 记录一个无法处理的知识源，状态直接从 pending 进入 failed
func (s *SourceService) createFailed(ctx context.Context, src *source.Source, reason string) (*source.Source, error) {
	cost := SourceCost(src.Kind)
	if err := s.sources.Create(ctx, src); err != nil {
		s.quota.Release(ctx, src.TenantID, cost)
		return nil, fmt.Errorf("create source: %w", err)
	}
	if err := s.sources.MarkFailed(ctx, src.ID, reason); err != nil {
		return nil, fmt.Errorf("mark source failed: %w", err)
	}
	src.Status = source.StatusFailed
	src.FailureReason = reason
	return src, nil
}

func (s *SourceService) enqueue(ctx context.Context, src *source.Source) {
	src.Status = source.StatusPending
	if s.queue == nil {
		return
	}
	// 入队失败时保持 pending，由 worker 的定期扫描重新入队
	if err := s.queue.Enqueue(ctx, src.ID); err != nil {
		log.Warn().Err(err).Str("source_id", src.ID).Msg("source not queued, left for pending sweep")
	}
}

func firstRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
