package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"botforge/internal/pkg/cache"
	"botforge/internal/pkg/embedding"
	"botforge/internal/pkg/mongodb"
	"botforge/internal/repository"
	authRepo "botforge/internal/repository/auth"
	botRepo "botforge/internal/repository/bot"
	conversationRepo "botforge/internal/repository/conversation"
	"botforge/internal/repository/memory"
	sourceRepo "botforge/internal/repository/source"
	usageRepo "botforge/internal/repository/usage"
)

// openStores 配置了 MongoDB 时使用持久化存储，否则退回进程内存储
func (s *Server) openStores(ctx context.Context) (repository.Stores, error) {
	if s.cfg.Mongo.URI == "" {
		log.Warn().Msg("MongoDB not configured, using in-memory stores (data is lost on restart)")
		return memory.New(), nil
	}

	client, err := mongodb.New(&s.cfg.Mongo)
	if err != nil {
		return repository.Stores{}, fmt.Errorf("connect mongodb: %w", err)
	}
	s.mongo = client
	s.closers = append(s.closers, func() error { return client.Close(context.Background()) })
	log.Info().Str("database", s.cfg.Mongo.Database).Msg("connected to MongoDB")

	db := client.Database()
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	return repository.Stores{
		Bots:          botRepo.NewBotRepo(db),
		Sources:       sourceRepo.NewSourceRepo(db),
		Conversations: conversationRepo.NewConversationRepo(db),
		Usage:         usageRepo.NewUsageRepo(db),
		Plans:         usageRepo.NewPlanRepo(db),
		Tenants:       authRepo.NewUserRepo(db),
	}, nil
}

// openCache 机器人配置缓存，Redis 不可用时使用进程内缓存
func (s *Server) openCache() cache.Cache {
	if s.cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&s.cfg.Redis)
		if err == nil {
			s.redis = rc
			s.closers = append(s.closers, rc.Close)
			log.Info().Str("addr", s.cfg.Redis.Addr).Msg("connected to Redis")
			return rc
		}
		log.Warn().Err(err).Msg("failed to connect to Redis, falling back to in-process cache")
	}
	return cache.NewMemoryCache()
}

// newEmbedder 按配置选择向量后端
func (s *Server) newEmbedder(ctx context.Context) (*embedding.Client, error) {
	ec := s.cfg.Embedding

	var backend embedding.Backend
	switch ec.Backend {
	case "", "openai":
		apiKey := ec.APIKey
		if apiKey == "" {
			apiKey = s.cfg.Gateway.MasterKey
		}
		baseURL := ec.BaseURL
		if baseURL == "" {
			baseURL = s.cfg.Gateway.BaseURL
		}
		ob, err := embedding.NewOpenAIBackend(ctx, baseURL, apiKey, ec.Model, ec.Dimension, nil)
		if err != nil {
			return nil, err
		}
		backend = ob
	case "gemini":
		gb, err := embedding.NewGeminiBackend(ctx, ec.APIKey, ec.Model)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, gb.Close)
		backend = gb
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", ec.Backend)
	}

	log.Info().Str("backend", backend.Name()).Str("model", ec.Model).Int("dimension", ec.Dimension).Msg("embedding backend ready")
	return embedding.NewClient(backend, embedding.Options{
		Dimension:   ec.Dimension,
		BatchSize:   ec.BatchSize,
		Concurrency: ec.Concurrency,
		Timeout:     ec.Timeout,
	}), nil
}
