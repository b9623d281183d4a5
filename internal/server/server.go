package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"botforge/internal/ai"
	"botforge/internal/config"
	"botforge/internal/handler"
	authHandler "botforge/internal/handler/auth"
	"botforge/internal/pkg/cache"
	"botforge/internal/pkg/chunker"
	"botforge/internal/pkg/extractor"
	"botforge/internal/pkg/mongodb"
	"botforge/internal/pkg/storagefactory"
	"botforge/internal/server/middleware"
	"botforge/internal/service"
)

// Server HTTP 服务器
type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	mongo    *mongodb.Client
	redis    *cache.RedisCache
	ingestor *service.Ingestor
	closers  []func() error

	auth          *service.AuthService
	quota         *service.QuotaGate
	bots          *service.BotService
	sources       *service.SourceService
	chat          *service.ChatService
	conversations *service.ConversationService
}

// New 创建服务器实例，组装存储、模型路由和各个服务，并启动入库 worker
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &Server{cfg: cfg, engine: gin.New()}

	stores, err := srv.openStores(ctx)
	if err != nil {
		return nil, err
	}
	botCache := srv.openCache()

	store, err := storagefactory.NewStorage(ctx, &cfg.Storage)
	if err != nil {
		srv.close()
		return nil, err
	}

	embedder, err := srv.newEmbedder(ctx)
	if err != nil {
		srv.close()
		return nil, err
	}

	router, err := ai.NewRouterFromConfig(ctx, cfg)
	if err != nil {
		srv.close()
		return nil, err
	}

	srv.quota = service.NewQuotaGate(stores, cfg.Plans)
	srv.bots = service.NewBotService(stores, store, botCache, cfg.Chat.BotCacheTTL, router, srv.quota)

	srv.ingestor = service.NewIngestor(
		stores.Sources,
		store,
		extractor.New(extractor.Options{
			FetchTimeout:  cfg.Ingest.FetchTimeout,
			MaxFetchBytes: cfg.Ingest.MaxFetchBytes,
			UserAgent:     cfg.Ingest.UserAgent,
		}),
		chunker.New(chunker.Options{
			MaxChars: cfg.Ingest.ChunkSize,
			Overlap:  cfg.Ingest.ChunkOverlap,
		}),
		embedder,
		cfg.Ingest.QueueSize,
	).WithSweepInterval(cfg.Ingest.SweepInterval)
	srv.sources = service.NewSourceService(stores.Sources, srv.bots, store, srv.quota, srv.ingestor)

	retriever := service.NewRetriever(stores.Sources, embedder, cfg.Retrieval.ScoreFloor)
	srv.chat = service.NewChatService(srv.bots, srv.quota, stores.Conversations, retriever, router, service.ChatOptions{
		RetryDelay:   cfg.Chat.RetryDelay,
		HistoryLimit: cfg.Chat.HistoryLimit,
		DefaultK:     cfg.Retrieval.DefaultK,
	})
	srv.conversations = service.NewConversationService(stores.Conversations, srv.bots)

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	accessTokenExpiry := cfg.Auth.AccessTokenExpiry
	if accessTokenExpiry == 0 {
		accessTokenExpiry = 24 * time.Hour
	}
	srv.auth = service.NewAuthService(stores.Tenants, srv.quota, jwtSecret, accessTokenExpiry)

	// 上次进程退出时中断的知识源
	if err := srv.ingestor.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("failed to recover interrupted sources")
	}
	srv.ingestor.Start(ctx, cfg.Ingest.Workers)

	srv.setupRoutes()

	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger("/health", "/ready"))

	checks := map[string]handler.Pinger{}
	if s.mongo != nil {
		checks["mongo"] = s.mongo.Ping
	}
	if s.redis != nil {
		checks["redis"] = s.redis.Ping
	}
	healthHandler := handler.NewHealthHandler(checks)
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authHdl := authHandler.NewHandler(s.auth)
	chatHdl := handler.NewChatHandler(s.chat)
	botHdl := handler.NewBotHandler(s.bots)
	sourceHdl := handler.NewSourceHandler(s.sources, s.cfg.Ingest.MaxUploadBytes)
	convHdl := handler.NewConversationHandler(s.conversations)
	usageHdl := handler.NewUsageHandler(s.quota)

	// 公开接口：渠道消息和注册登录
	s.engine.POST("/chat", chatHdl.Chat)
	s.engine.POST("/auth/register", authHdl.Register)
	s.engine.POST("/auth/login", authHdl.Login)

	// 需要认证的接口
	api := s.engine.Group("")
	api.Use(middleware.Auth(s.auth))
	{
		api.GET("/auth/me", authHdl.GetMe)
		api.GET("/usage", usageHdl.Get)

		api.POST("/bots", botHdl.Create)
		api.GET("/bots", botHdl.List)
		api.GET("/bots/:bot_id", botHdl.Get)
		api.PUT("/bots/:bot_id", botHdl.Update)
		api.DELETE("/bots/:bot_id", botHdl.Delete)

		api.POST("/sources/:bot_id/file", sourceHdl.CreateFile)
		api.POST("/sources/:bot_id/url", sourceHdl.CreateURL)
		api.POST("/sources/:bot_id/text", sourceHdl.CreateText)
		api.GET("/sources/:bot_id", sourceHdl.List)
		api.GET("/sources/:bot_id/:source_id", sourceHdl.Get)
		api.DELETE("/sources/:bot_id/:source_id", sourceHdl.Delete)

		api.GET("/conversations/:bot_id", convHdl.List)
		api.GET("/messages/:conversation_id", convHdl.Messages)
	}
}

// Handler 带跨域处理的根 handler
func (s *Server) Handler() http.Handler {
	origins := s.cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(s.engine)
}

// Run 启动服务器，ctx 结束后优雅退出
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// worker 随 ctx 结束退出，等当前任务收尾后再断开存储
		s.ingestor.Wait()
		s.close()
		return err
	case err := <-errCh:
		s.close()
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("failed to close resource")
		}
	}
	s.closers = nil
}
