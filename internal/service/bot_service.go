package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"botforge/internal/ai"
	"botforge/internal/model"
	"botforge/internal/model/bot"
	"botforge/internal/pkg/cache"
	"botforge/internal/pkg/id"
	"botforge/internal/pkg/storage"
	"botforge/internal/repository"
)

// ModelResolver 校验供应商标签和模型白名单，不发起网络请求
type ModelResolver interface {
	Resolve(providerTag, modelName string) (ai.Family, error)
}

// BotService 机器人管理与配置读取
type BotService struct {
	bots          repository.BotRepository
	sources       repository.SourceRepository
	conversations repository.ConversationRepository
	storage       storage.Storage
	cache         cache.Cache
	cacheTTL      time.Duration
	resolver      ModelResolver
	quota         *QuotaGate
}

// NewBotService 创建机器人服务，cacheTTL 为 0 时不缓存
func NewBotService(
	stores repository.Stores,
	store storage.Storage,
	c cache.Cache,
	cacheTTL time.Duration,
	resolver ModelResolver,
	quota *QuotaGate,
) *BotService {
	return &BotService{
		bots:          stores.Bots,
		sources:       stores.Sources,
		conversations: stores.Conversations,
		storage:       store,
		cache:         c,
		cacheTTL:      cacheTTL,
		resolver:      resolver,
		quota:         quota,
	}
}

// Resolve 按 id 读取机器人配置，优先读缓存
func (s *BotService) Resolve(ctx context.Context, botID string) (*bot.Bot, error) {
	key := cache.BotCacheKey(botID)
	if s.cache != nil && s.cacheTTL > 0 {
		var cached bot.Bot
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Str("bot_id", botID).Msg("bot cache read failed")
		}
	}

	b, err := s.bots.FindByID(ctx, botID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, fmt.Errorf("load bot %s: %w", botID, err)
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.Set(ctx, key, b, s.cacheTTL); err != nil {
			log.Warn().Err(err).Str("bot_id", botID).Msg("bot cache write failed")
		}
	}
	return b, nil
}

// Get 读取租户自己的机器人，其他租户的机器人视为不存在
func (s *BotService) Get(ctx context.Context, tenantID, botID string) (*bot.Bot, error) {
	b, err := s.bots.FindByID(ctx, botID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, fmt.Errorf("load bot %s: %w", botID, err)
	}
	if b.TenantID != tenantID {
		return nil, ErrBotNotFound
	}
	return b, nil
}

// List 租户的全部机器人
func (s *BotService) List(ctx context.Context, tenantID string) ([]*bot.Bot, error) {
	return s.bots.ListByTenant(ctx, tenantID)
}

// Create 创建机器人，占用一个 max_chatbots 配额
func (s *BotService) Create(ctx context.Context, tenantID string, req *model.CreateBotRequest) (*bot.Bot, error) {
	b := &bot.Bot{
		ID:             id.New(),
		TenantID:       tenantID,
		Name:           strings.TrimSpace(req.Name),
		Provider:       strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:          strings.TrimSpace(req.Model),
		Instructions:   req.Instructions,
		WelcomeMessage: req.WelcomeMessage,
		Active:         true,
		RetrievalK:     req.RetrievalK,
	}
	if req.Active != nil {
		b.Active = *req.Active
	}
	if err := s.validate(ctx, b); err != nil {
		return nil, err
	}

	if err := s.quota.CheckAndReserve(ctx, tenantID, CostChatbot); err != nil {
		return nil, err
	}
	if err := s.bots.Create(ctx, b); err != nil {
		s.quota.Release(ctx, tenantID, CostChatbot)
		return nil, fmt.Errorf("create bot: %w", err)
	}

	log.Info().Str("tenant_id", tenantID).Str("bot_id", b.ID).Str("provider", b.Provider).Msg("bot created")
	return b, nil
}

// Update 修改非空字段并使缓存失效
func (s *BotService) Update(ctx context.Context, tenantID, botID string, req *model.UpdateBotRequest) (*bot.Bot, error) {
	b, err := s.Get(ctx, tenantID, botID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		b.Name = strings.TrimSpace(*req.Name)
	}
	if req.Provider != nil {
		b.Provider = strings.ToLower(strings.TrimSpace(*req.Provider))
	}
	if req.Model != nil {
		b.Model = strings.TrimSpace(*req.Model)
	}
	if req.Instructions != nil {
		b.Instructions = *req.Instructions
	}
	if req.WelcomeMessage != nil {
		b.WelcomeMessage = *req.WelcomeMessage
	}
	if req.Active != nil {
		b.Active = *req.Active
	}
	if req.RetrievalK != nil {
		b.RetrievalK = *req.RetrievalK
	}
	if err := s.validate(ctx, b); err != nil {
		return nil, err
	}

	if err := s.bots.Update(ctx, b); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, fmt.Errorf("update bot: %w", err)
	}
	s.invalidate(ctx, botID)
	return b, nil
}

// Delete 级联删除知识源、切片、文件、会话和消息，并归还配额
func (s *BotService) Delete(ctx context.Context, tenantID, botID string) error {
	if _, err := s.Get(ctx, tenantID, botID); err != nil {
		return err
	}

	if err := s.bots.Delete(ctx, botID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrBotNotFound
		}
		return fmt.Errorf("delete bot: %w", err)
	}
	s.invalidate(ctx, botID)
	s.quota.Release(ctx, tenantID, CostChatbot)

	removed, err := s.sources.DeleteByBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("delete sources of bot %s: %w", botID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, src := range removed {
		s.quota.Release(ctx, tenantID, SourceCost(src.Kind))
		if src.StorageKey == "" || s.storage == nil {
			continue
		}
		g.Go(func() error {
			if err := s.storage.Delete(gctx, src.StorageKey); err != nil {
				log.Warn().Err(err).Str("source_id", src.ID).Str("key", src.StorageKey).Msg("failed to delete source file")
			}
			return nil
		})
	}
	g.Go(func() error {
		return s.conversations.DeleteByBot(gctx, botID)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("delete conversations of bot %s: %w", botID, err)
	}

	log.Info().Str("tenant_id", tenantID).Str("bot_id", botID).Int("sources", len(removed)).Msg("bot deleted")
	return nil
}

// validate 写入前校验：名称非空、供应商与模型在白名单内、套餐允许该供应商
func (s *BotService) validate(ctx context.Context, b *bot.Bot) error {
	if b.Name == "" {
		return invalidInput("name is required")
	}
	if b.RetrievalK < 0 || b.RetrievalK > 50 {
		return invalidInput("retrieval_k must be within 0..50")
	}
	family, err := s.resolver.Resolve(b.Provider, b.Model)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	b.Provider = family.String()
	return s.quota.CheckProvider(ctx, b.TenantID, b.Provider)
}

func (s *BotService) invalidate(ctx context.Context, botID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.BotCacheKey(botID)); err != nil {
		log.Warn().Err(err).Str("bot_id", botID).Msg("bot cache invalidation failed")
	}
}
