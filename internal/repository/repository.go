package repository

import (
	"context"
	"errors"
	"time"

	"botforge/internal/model/auth"
	"botforge/internal/model/bot"
	"botforge/internal/model/conversation"
	"botforge/internal/model/plan"
	"botforge/internal/model/source"
	"botforge/internal/model/usage"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrInvalidTransition = errors.New("invalid source status transition")
)

// BotRepository 机器人存储
type BotRepository interface {
	Create(ctx context.Context, b *bot.Bot) error
	FindByID(ctx context.Context, id string) (*bot.Bot, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*bot.Bot, error)
	Update(ctx context.Context, b *bot.Bot) error
	Delete(ctx context.Context, id string) error
}

// SourceRepository 知识源及切片存储
//
// AttachChunks 写入整批切片并把状态推进到 processed；检索只读取 processed 知识源的切片，
// 所以读方要么看到全部切片，要么一个也看不到。
type SourceRepository interface {
	Create(ctx context.Context, s *source.Source) error
	FindByID(ctx context.Context, id string) (*source.Source, error)
	ListByBot(ctx context.Context, botID string) ([]*source.Source, error)
	ListByStatus(ctx context.Context, status source.Status) ([]*source.Source, error)
	Transition(ctx context.Context, id string, from, to source.Status) error
	AttachChunks(ctx context.Context, id string, chunks []*source.Chunk) error
	MarkFailed(ctx context.Context, id, reason string) error
	ListProcessed(ctx context.Context, botID string) ([]*source.Source, error)
	ListChunks(ctx context.Context, botID string) ([]*source.Chunk, error)
	// Delete 只允许删除终态知识源
	Delete(ctx context.Context, id string) error
	// DeleteByBot 级联删除，不检查状态，返回被删除的知识源
	DeleteByBot(ctx context.Context, botID string) ([]*source.Source, error)
}

// ConversationRepository 会话与消息存储
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, botID, tenantID, sessionID string, visitor conversation.Visitor) (*conversation.Conversation, error)
	FindByID(ctx context.Context, id string) (*conversation.Conversation, error)
	// Append 追加消息，时间戳取 max(当前时间, 上一条消息时间)
	Append(ctx context.Context, conversationID string, role conversation.Role, content string) (*conversation.Message, error)
	ListByBot(ctx context.Context, botID string, limit, offset int) ([]*conversation.Conversation, int64, error)
	ListMessages(ctx context.Context, conversationID string) ([]*conversation.Message, error)
	// RecentMessages 最近 n 条消息，按时间正序
	RecentMessages(ctx context.Context, conversationID string, n int) ([]*conversation.Message, error)
	DeleteByBot(ctx context.Context, botID string) error
}

// UsageRepository 租户用量计数
//
// 所有写操作对单个租户文档做条件更新，互不加全局锁。
type UsageRepository interface {
	// Ensure 不存在时以 anchor 为周期起点创建
	Ensure(ctx context.Context, tenantID string, anchor time.Time) (*usage.Usage, error)
	// AdvancePeriod 周期起点为 from 时推进到 to 并清零月度计数，返回是否由本次调用完成
	AdvancePeriod(ctx context.Context, tenantID string, from, to time.Time) (bool, error)
	// IncrementIf 计数器小于 limit 时加一（limit 为负不限），anchor 非零时要求周期起点一致
	IncrementIf(ctx context.Context, tenantID, counter string, limit int64, anchor time.Time) (bool, error)
	Increment(ctx context.Context, tenantID, counter string, delta int64) error
	// Decrement 减一，不会低于 0
	Decrement(ctx context.Context, tenantID, counter string) error
}

// PlanRepository 套餐存储
type PlanRepository interface {
	FindByID(ctx context.Context, id string) (*plan.Plan, error)
}

// TenantRepository 租户账号存储
type TenantRepository interface {
	Create(ctx context.Context, u *auth.User) error
	FindByID(ctx context.Context, id string) (*auth.User, error)
	FindByUsername(ctx context.Context, username string) (*auth.User, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	UpdateLastLoginAt(ctx context.Context, id string) error
	// UpdatePlan 更换套餐，overrides 为 nil 时清除自定义限额
	UpdatePlan(ctx context.Context, id, planID string, overrides *plan.Overrides) error
	UpdateStatus(ctx context.Context, id string, status auth.UserStatus) error
}

// Stores 服务层依赖的全部存储
type Stores struct {
	Bots          BotRepository
	Sources       SourceRepository
	Conversations ConversationRepository
	Usage         UsageRepository
	Plans         PlanRepository
	Tenants       TenantRepository
}
