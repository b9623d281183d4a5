package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"botforge/internal/ai"
	"botforge/internal/model/bot"
	"botforge/internal/model/conversation"
	"botforge/internal/pkg/keylock"
	"botforge/internal/repository"
)

// citeInstruction 使用检索内容时附加的引用要求
const citeInstruction = "Answer using the sources above when they are relevant and cite them by number, for example [Source 1]."

// ProviderRouter 模型供应商路由
type ProviderRouter interface {
	ModelResolver
	Complete(ctx context.Context, providerTag string, req ai.Request) (string, error)
}

// ContextRetriever 知识库检索
type ContextRetriever interface {
	Retrieve(ctx context.Context, botID, query string, k int) ([]ScoredChunk, error)
}

// ChatOptions 对话编排参数
type ChatOptions struct {
	RetryDelay   time.Duration // 可重试错误后的等待时间
	HistoryLimit int           // 传给模型的历史消息条数
	DefaultK     int           // 机器人未配置 retrieval_k 时的检索条数
}

// ChatService 对话编排：一条渠道消息从配额检查到回复持久化的完整流程
type ChatService struct {
	bots          *BotService
	quota         *QuotaGate
	conversations repository.ConversationRepository
	retriever     ContextRetriever
	router        ProviderRouter
	locks         *keylock.KeyLock
	opts          ChatOptions
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewChatService 创建对话服务
func NewChatService(
	bots *BotService,
	quota *QuotaGate,
	conversations repository.ConversationRepository,
	retriever ContextRetriever,
	router ProviderRouter,
	opts ChatOptions,
) *ChatService {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.HistoryLimit < 0 {
		opts.HistoryLimit = 0
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = bot.DefaultRetrievalK
	}
	return &ChatService{
		bots:          bots,
		quota:         quota,
		conversations: conversations,
		retriever:     retriever,
		router:        router,
		locks:         keylock.New(),
		opts:          opts,
		sleep:         sleepCtx,
	}
}

// ChatInput 一条入站消息
type ChatInput struct {
	BotID     string
	SessionID string
	Message   string
	Visitor   conversation.Visitor
}

// ChatResult 回复
type ChatResult struct {
	Message        string
	ConversationID string
	SessionID      string
}

// Chat 处理一条消息
//
// 用户消息在调用模型前落库；模型调用失败时会话里只留下用户消息，不会出现单独的助手消息。
// 同一会话的消息串行处理。
func (s *ChatService) Chat(ctx context.Context, in *ChatInput) (*ChatResult, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.BotID == "" || in.SessionID == "" || in.Message == "" {
		return nil, invalidInput("bot_id, session_id and message are required")
	}

	logger := log.With().Str("bot_id", in.BotID).Str("session_id", in.SessionID).Logger()

	// 1. 机器人配置
	b, err := s.bots.Resolve(ctx, in.BotID)
	if err != nil {
		return nil, err
	}
	if !b.Active {
		return nil, ErrBotInactive
	}
	family, err := s.router.Resolve(b.Provider, b.Model)
	if err != nil {
		return nil, err
	}

	// 2. 配额
	if err := s.quota.CheckProvider(ctx, b.TenantID, family.String()); err != nil {
		return nil, err
	}
	if err := s.quota.CheckAndReserve(ctx, b.TenantID, CostMessage); err != nil {
		return nil, err
	}
	persisted := false
	defer func() {
		if !persisted {
			s.quota.Release(context.WithoutCancel(ctx), b.TenantID, CostMessage)
		}
	}()

	unlock, err := s.locks.Lock(ctx, b.ID+"\x00"+in.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// 3. 会话
	conv, err := s.conversations.GetOrCreate(ctx, b.ID, b.TenantID, in.SessionID, in.Visitor)
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}
	logger = logger.With().Str("conversation_id", conv.ID).Logger()

	history, err := s.conversations.RecentMessages(ctx, conv.ID, s.opts.HistoryLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load history, continuing without it")
		history = nil
	}

	// 4. 用户消息先落库
	if _, err := s.conversations.Append(ctx, conv.ID, conversation.RoleUser, in.Message); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	persisted = true

	// 5. 检索
	var chunks []ScoredChunk
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := b.RetrievalK
	if k <= 0 {
		k = s.opts.DefaultK
	}
	chunks, err = s.retriever.Retrieve(ctx, b.ID, in.Message, k)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn().Err(err).Msg("retrieval failed, answering without grounding")
		chunks = nil
	}

	// 6. 提示词
	req := ai.Request{
		Model:        b.Model,
		SystemPrompt: BuildSystemPrompt(b.Instructions, chunks),
		SessionID:    in.SessionID,
		History:      toTurns(history),
		UserText:     in.Message,
	}

	// 7. 调用模型
	start := time.Now()
	reply, err := s.complete(ctx, b.Provider, req)
	if err != nil {
		logger.Error().Err(err).Dur("latency", time.Since(start)).Msg("provider call failed")
		return nil, err
	}

	// 8. 模型已返回，即使请求被取消也写入助手消息
	persistCtx := context.WithoutCancel(ctx)
	if _, err := s.conversations.Append(persistCtx, conv.ID, conversation.RoleAssistant, reply); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	s.commitAssistant(persistCtx, b.TenantID, conv.ID)

	logger.Info().
		Int("chunks", len(chunks)).
		Dur("latency", time.Since(start)).
		Msg("chat completed")

	// 9. 返回
	return &ChatResult{Message: reply, ConversationID: conv.ID, SessionID: in.SessionID}, nil
}

// commitAssistant 助手消息计入月度用量，失败时重试一次
func (s *ChatService) commitAssistant(ctx context.Context, tenantID, conversationID string) {
	err := s.quota.Commit(ctx, tenantID, CostMessage, 1)
	if err == nil {
		return
	}
	if err = s.quota.Commit(ctx, tenantID, CostMessage, 1); err == nil {
		return
	}
	log.Error().Err(err).
		Str("tenant_id", tenantID).
		Str("conversation_id", conversationID).
		Str("counter", CostMessage.counter()).
		Msg("failed to count assistant message, usage under-counts persisted rows")
}

// complete 可重试错误重试一次，仍失败时返回 ErrProviderUnavailable
func (s *ChatService) complete(ctx context.Context, providerTag string, req ai.Request) (string, error) {
	reply, err := s.router.Complete(ctx, providerTag, req)
	if err == nil || !errors.Is(err, ai.ErrProviderTransient) {
		return reply, err
	}

	if err := s.sleep(ctx, s.opts.RetryDelay); err != nil {
		return "", err
	}
	reply, err = s.router.Complete(ctx, providerTag, req)
	if err != nil && errors.Is(err, ai.ErrProviderTransient) {
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return reply, err
}

// BuildSystemPrompt 机器人指令 + 检索块 + 引用要求；没有检索结果时只有指令
func BuildSystemPrompt(instructions string, chunks []ScoredChunk) string {
	instructions = strings.TrimSpace(instructions)
	if len(chunks) == 0 {
		return instructions
	}

	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = "Source " + strconv.Itoa(i+1) + ": " + c.Chunk.Text
	}

	parts := make([]string, 0, 3)
	if instructions != "" {
		parts = append(parts, instructions)
	}
	parts = append(parts, strings.Join(blocks, "\n\n"), citeInstruction)
	return strings.Join(parts, "\n\n")
}

func toTurns(msgs []*conversation.Message) []ai.Turn {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]ai.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ai.Turn{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
