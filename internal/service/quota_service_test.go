package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"botforge/internal/config"
	"botforge/internal/model/plan"
	"botforge/internal/model/usage"
	"botforge/internal/repository"
	"botforge/internal/repository/memory"
)

// countingUsage 统计周期推进成功的次数
type countingUsage struct {
	repository.UsageRepository
	advanced atomic.Int32
}

func (c *countingUsage) AdvancePeriod(ctx context.Context, tenantID string, from, to time.Time) (bool, error) {
	ok, err := c.UsageRepository.AdvancePeriod(ctx, tenantID, from, to)
	if ok {
		c.advanced.Add(1)
	}
	return ok, err
}

func TestQuotaGate(t *testing.T) {
	Convey("QuotaGate", t, func() {
		env := newTestEnv(t)
		ctx := context.Background()

		Convey("内置套餐与租户覆盖", func() {
			limits, tenant, err := env.quota.EffectiveLimits(ctx, env.tenantID)
			So(err, ShouldBeNil)
			So(tenant.ID, ShouldEqual, env.tenantID)
			So(limits.MaxMessagesPerMonth, ShouldEqual, 10000)

			custom := env.addTenant("custom", "pro", &plan.Overrides{
				MaxChatbots:      int64Ptr(1),
				AllowedProviders: []string{"gemini"},
			})
			limits, _, err = env.quota.EffectiveLimits(ctx, custom)
			So(err, ShouldBeNil)
			So(limits.MaxChatbots, ShouldEqual, 1)
			So(limits.AllowedProviders, ShouldResemble, []string{"gemini"})
			So(limits.MaxMessagesPerMonth, ShouldEqual, 10000)
		})

		Convey("数据库中的套餐优先于内置定义", func() {
			env.stores.Plans.(*memory.PlanRepo).Put(plan.Plan{ID: "pro", Limits: plan.Limits{
				MaxMessagesPerMonth: 7,
				MaxChatbots:         plan.Unlimited,
			}})
			limits, _, err := env.quota.EffectiveLimits(ctx, env.tenantID)
			So(err, ShouldBeNil)
			So(limits.MaxMessagesPerMonth, ShouldEqual, 7)
			So(limits.AllowsProvider("gemini"), ShouldBeTrue)
		})

		Convey("配置文件覆盖内置套餐，未知套餐回落到 free", func() {
			gate := NewQuotaGate(env.stores, map[string]config.PlanLimitConfig{
				"free": {MaxMessagesPerMonth: int64Ptr(42)},
			})
			odd := env.addTenant("odd", "platinum", nil)
			limits, _, err := gate.EffectiveLimits(ctx, odd)
			So(err, ShouldBeNil)
			So(limits.MaxMessagesPerMonth, ShouldEqual, 100)

			free := env.addTenant("freebie", "free", nil)
			limits, _, err = gate.EffectiveLimits(ctx, free)
			So(err, ShouldBeNil)
			So(limits.MaxMessagesPerMonth, ShouldEqual, 42)
		})

		Convey("非月度计数器占用与归还", func() {
			tenant := env.addTenant("one-bot", "free", nil)
			So(env.quota.CheckAndReserve(ctx, tenant, CostChatbot), ShouldBeNil)

			err := env.quota.CheckAndReserve(ctx, tenant, CostChatbot)
			var qe *QuotaExceededError
			So(errors.As(err, &qe), ShouldBeTrue)
			So(qe.Limit, ShouldEqual, plan.LimitChatbots)

			env.quota.Release(ctx, tenant, CostChatbot)
			So(env.quota.CheckAndReserve(ctx, tenant, CostChatbot), ShouldBeNil)
		})

		Convey("负数上限表示不限", func() {
			tenant := env.addTenant("big", "enterprise", nil)
			for i := 0; i < 50; i++ {
				So(env.quota.CheckAndReserve(ctx, tenant, CostMessage), ShouldBeNil)
			}
			So(env.counter(tenant, usage.CounterMessages), ShouldEqual, 50)
		})

		Convey("供应商与文件大小检查", func() {
			tenant := env.addTenant("small", "free", nil)
			So(env.quota.CheckProvider(ctx, tenant, "openai"), ShouldBeNil)
			err := env.quota.CheckProvider(ctx, tenant, "anthropic")
			So(errors.Is(err, ErrQuotaExceeded), ShouldBeTrue)

			So(env.quota.CheckFileSize(ctx, tenant, 5<<20), ShouldBeNil)
			err = env.quota.CheckFileSize(ctx, tenant, 5<<20+1)
			var qe *QuotaExceededError
			So(errors.As(err, &qe), ShouldBeTrue)
			So(qe.Limit, ShouldEqual, plan.LimitFileSize)
		})

		Convey("跨月后月度计数清零", func() {
			tenant := env.addTenant("monthly", "pro", &plan.Overrides{MaxMessagesPerMonth: int64Ptr(2)})
			So(env.quota.CheckAndReserve(ctx, tenant, CostMessage), ShouldBeNil)
			So(env.quota.Commit(ctx, tenant, CostMessage, 1), ShouldBeNil)
			So(errors.Is(env.quota.CheckAndReserve(ctx, tenant, CostMessage), ErrQuotaExceeded), ShouldBeTrue)

			// 周期起点 1 月 15 日，2 月 14 日仍在当前周期
			env.clock.Set(time.Date(2026, 2, 14, 23, 0, 0, 0, time.UTC))
			So(errors.Is(env.quota.CheckAndReserve(ctx, tenant, CostMessage), ErrQuotaExceeded), ShouldBeTrue)

			env.clock.Set(time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC))
			So(env.quota.CheckAndReserve(ctx, tenant, CostMessage), ShouldBeNil)

			u, err := env.quota.Usage(ctx, tenant)
			So(err, ShouldBeNil)
			So(u.PeriodAnchor.Equal(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(u.Get(usage.CounterMessages), ShouldEqual, 1)
		})

		Convey("并发跨月只推进一次", func() {
			clock := &fakeClock{t: time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)}
			stores := memory.NewWithClock(clock.Now)
			counting := &countingUsage{UsageRepository: stores.Usage}
			stores.Usage = counting
			env := newTestEnvWithStores(t, stores, clock)
			tenant := env.addTenant("racy", "enterprise", nil)

			So(env.quota.CheckAndReserve(ctx, tenant, CostMessage), ShouldBeNil)
			clock.Set(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

			const n = 20
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- env.quota.CheckAndReserve(ctx, tenant, CostMessage)
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}

			So(counting.advanced.Load(), ShouldEqual, 1)
			u, err := env.quota.Usage(ctx, tenant)
			So(err, ShouldBeNil)
			// 1 月 31 日起点的下一个周期从 2 月 28 日开始
			So(u.PeriodAnchor.Equal(time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(u.Get(usage.CounterMessages), ShouldEqual, n)

			// 再下一个周期回到 31 日，不沿用 2 月的 28 日
			clock.Set(time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC))
			So(env.quota.CheckAndReserve(ctx, tenant, CostMessage), ShouldBeNil)
			So(counting.advanced.Load(), ShouldEqual, 1)

			clock.Set(time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC))
			So(env.quota.CheckAndReserve(ctx, tenant, CostMessage), ShouldBeNil)
			So(counting.advanced.Load(), ShouldEqual, 2)
			u, err = env.quota.Usage(ctx, tenant)
			So(err, ShouldBeNil)
			So(u.PeriodAnchor.Equal(time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(u.Get(usage.CounterMessages), ShouldEqual, 1)
		})

		Convey("并发占用不超过上限", func() {
			tenant := env.addTenant("bounded", "pro", &plan.Overrides{MaxMessagesPerMonth: int64Ptr(5)})
			var (
				wg sync.WaitGroup
				ok atomic.Int32
			)
			for i := 0; i < 30; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if env.quota.CheckAndReserve(ctx, tenant, CostMessage) == nil {
						ok.Add(1)
					}
				}()
			}
			wg.Wait()
			So(ok.Load(), ShouldEqual, 5)
			So(env.counter(tenant, usage.CounterMessages), ShouldEqual, 5)
		})

		Convey("Summary", func() {
			summary, err := env.quota.Summary(ctx, env.tenantID)
			So(err, ShouldBeNil)
			So(summary.Plan, ShouldEqual, "pro")
			So(summary.Limits.MaxChatbots, ShouldEqual, 10)
			So(summary.Usage.TenantID, ShouldEqual, env.tenantID)
		})
	})
}
