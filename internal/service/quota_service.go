package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"botforge/internal/config"
	"botforge/internal/model"
	"botforge/internal/model/auth"
	"botforge/internal/model/plan"
	"botforge/internal/model/source"
	"botforge/internal/model/usage"
	"botforge/internal/repository"
)

// CostKind 需要占用配额的操作
type CostKind string

const (
	CostMessage    CostKind = "message"
	CostChatbot    CostKind = "chatbot"
	CostSourceFile CostKind = "source_file"
	CostSourceURL  CostKind = "source_url"
	CostSourceText CostKind = "source_text"
)

// SourceCost 知识源类型对应的配额
func SourceCost(kind source.Kind) CostKind {
	return CostKind("source_" + string(kind))
}

func (c CostKind) counter() string {
	switch c {
	case CostMessage:
		return usage.CounterMessages
	case CostChatbot:
		return usage.CounterChatbots
	default:
		return "sources_" + string(c)[len("source_"):]
	}
}

func (c CostKind) limit(l plan.Limits) (name string, value int64) {
	switch c {
	case CostMessage:
		return plan.LimitMessagesPerMonth, l.MaxMessagesPerMonth
	case CostChatbot:
		return plan.LimitChatbots, l.MaxChatbots
	default:
		return plan.LimitSourcesOfKind, l.SourcesOfKind(string(c)[len("source_"):])
	}
}

// maxAnchorRetries 周期起点被并发推进时的重试次数
const maxAnchorRetries = 3

// QuotaGate 套餐限额检查与用量计数
//
// 计数器的修改都是单文档条件更新，月度周期推进用起点做 CAS，不使用全局锁。
type QuotaGate struct {
	usage   repository.UsageRepository
	plans   repository.PlanRepository
	tenants repository.TenantRepository
	custom  map[string]config.PlanLimitConfig
	now     func() time.Time
}

// NewQuotaGate 创建配额检查器，custom 为配置文件中对内置套餐的覆盖
func NewQuotaGate(stores repository.Stores, custom map[string]config.PlanLimitConfig) *QuotaGate {
	return &QuotaGate{
		usage:   stores.Usage,
		plans:   stores.Plans,
		tenants: stores.Tenants,
		custom:  custom,
		now:     time.Now,
	}
}

// WithClock 替换时钟
func (g *QuotaGate) WithClock(now func() time.Time) *QuotaGate {
	g.now = now
	return g
}

// EffectiveLimits 租户生效的限额：套餐定义叠加租户自定义限额
func (g *QuotaGate) EffectiveLimits(ctx context.Context, tenantID string) (plan.Limits, *auth.User, error) {
	tenant, err := g.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return plan.Limits{}, nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	limits, err := g.planLimits(ctx, tenant.PlanID())
	if err != nil {
		return plan.Limits{}, nil, err
	}
	return limits.Apply(tenant.LimitOverrides), tenant, nil
}

// planLimits 数据库中的套餐优先，其次是内置套餐叠加配置覆盖
func (g *QuotaGate) planLimits(ctx context.Context, planID string) (plan.Limits, error) {
	stored, err := g.plans.FindByID(ctx, planID)
	switch {
	case err == nil:
		return stored.Limits, nil
	case !errors.Is(err, repository.ErrNotFound):
		return plan.Limits{}, fmt.Errorf("load plan %s: %w", planID, err)
	}

	p, ok := plan.Builtin(planID)
	if !ok {
		log.Warn().Str("plan", planID).Msg("unknown plan, falling back to default")
		p, _ = plan.Builtin(plan.DefaultPlanID)
	}
	if c, ok := g.custom[planID]; ok {
		p.Limits = p.Limits.Apply(&plan.Overrides{
			MaxMessagesPerMonth: c.MaxMessagesPerMonth,
			MaxChatbots:         c.MaxChatbots,
			MaxSourcesOfKind:    c.MaxSourcesOfKind,
			AllowedProviders:    c.AllowedProviders,
			MaxFileSize:         c.MaxFileSize,
		})
	}
	return p.Limits, nil
}

// PlanExists 套餐是否已定义（数据库、内置或配置文件）
func (g *QuotaGate) PlanExists(ctx context.Context, planID string) (bool, error) {
	if _, ok := plan.Builtin(planID); ok {
		return true, nil
	}
	if _, ok := g.custom[planID]; ok {
		return true, nil
	}
	_, err := g.plans.FindByID(ctx, planID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// CheckAndReserve 未超限时占用一个单位，超限返回 QuotaExceededError
func (g *QuotaGate) CheckAndReserve(ctx context.Context, tenantID string, cost CostKind) error {
	limits, _, err := g.EffectiveLimits(ctx, tenantID)
	if err != nil {
		return err
	}
	name, limit := cost.limit(limits)
	counter := cost.counter()

	if cost != CostMessage {
		if _, err := g.usage.Ensure(ctx, tenantID, g.periodStart()); err != nil {
			return fmt.Errorf("ensure usage: %w", err)
		}
		ok, err := g.usage.IncrementIf(ctx, tenantID, counter, limit, time.Time{})
		if err != nil {
			return fmt.Errorf("reserve %s: %w", counter, err)
		}
		if !ok {
			return quotaExceeded(name)
		}
		return nil
	}

	// 月度计数器：先确保周期起点是当前周期，再带起点条件自增
	for attempt := 0; attempt < maxAnchorRetries; attempt++ {
		anchor, err := g.currentAnchor(ctx, tenantID)
		if err != nil {
			return err
		}
		ok, err := g.usage.IncrementIf(ctx, tenantID, counter, limit, anchor)
		if err != nil {
			return fmt.Errorf("reserve %s: %w", counter, err)
		}
		if ok {
			return nil
		}
		current, err := g.usage.Ensure(ctx, tenantID, anchor)
		if err != nil {
			return fmt.Errorf("ensure usage: %w", err)
		}
		if current.PeriodAnchor.Equal(anchor) {
			return quotaExceeded(name)
		}
		// 周期起点已被其他请求推进，重新计算
	}
	return fmt.Errorf("reserve %s: billing period kept moving", counter)
}

// Release 归还 CheckAndReserve 占用的单位
func (g *QuotaGate) Release(ctx context.Context, tenantID string, cost CostKind) {
	if err := g.usage.Decrement(ctx, tenantID, cost.counter()); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Str("cost", string(cost)).Msg("failed to release quota")
	}
}

// Commit 记录不受限额约束的增量（助手回复消息）
func (g *QuotaGate) Commit(ctx context.Context, tenantID string, cost CostKind, n int64) error {
	return g.usage.Increment(ctx, tenantID, cost.counter(), n)
}

// CheckProvider 套餐是否允许使用该供应商族
func (g *QuotaGate) CheckProvider(ctx context.Context, tenantID, family string) error {
	limits, _, err := g.EffectiveLimits(ctx, tenantID)
	if err != nil {
		return err
	}
	if !limits.AllowsProvider(family) {
		return quotaExceeded(plan.LimitAllowedProviders)
	}
	return nil
}

// CheckFileSize 上传文件大小检查
func (g *QuotaGate) CheckFileSize(ctx context.Context, tenantID string, size int64) error {
	limits, _, err := g.EffectiveLimits(ctx, tenantID)
	if err != nil {
		return err
	}
	if limits.MaxFileSize >= 0 && size > limits.MaxFileSize {
		return quotaExceeded(plan.LimitFileSize)
	}
	return nil
}

// Usage 当前周期的用量
func (g *QuotaGate) Usage(ctx context.Context, tenantID string) (*usage.Usage, error) {
	if _, err := g.currentAnchor(ctx, tenantID); err != nil {
		return nil, err
	}
	return g.usage.Ensure(ctx, tenantID, g.periodStart())
}

// currentAnchor 周期已过期时推进起点；多个请求同时推进时只有一个 CAS 成功
func (g *QuotaGate) currentAnchor(ctx context.Context, tenantID string) (time.Time, error) {
	now := g.now().UTC()
	u, err := g.usage.Ensure(ctx, tenantID, now.Truncate(time.Millisecond))
	if err != nil {
		return time.Time{}, fmt.Errorf("ensure usage: %w", err)
	}
	anchor, expired := usage.CurrentAnchor(u.PeriodOrigin, u.PeriodAnchor, now)
	if !expired {
		return anchor, nil
	}
	advanced, err := g.usage.AdvancePeriod(ctx, tenantID, u.PeriodAnchor, anchor)
	if err != nil {
		return time.Time{}, fmt.Errorf("advance billing period: %w", err)
	}
	if advanced {
		log.Info().Str("tenant_id", tenantID).Time("anchor", anchor).Msg("billing period advanced")
	}
	return anchor, nil
}

func (g *QuotaGate) periodStart() time.Time {
	return g.now().UTC().Truncate(time.Millisecond)
}

// Summary 套餐、生效限额与当前周期用量
func (g *QuotaGate) Summary(ctx context.Context, tenantID string) (*model.UsageResponse, error) {
	limits, tenant, err := g.EffectiveLimits(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	u, err := g.Usage(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &model.UsageResponse{Plan: tenant.PlanID(), Limits: limits, Usage: u}, nil
}
