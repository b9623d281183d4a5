package memory

import (
	"context"
	"sync"
	"time"

	"botforge/internal/model/plan"
	"botforge/internal/model/usage"
	"botforge/internal/repository"
)

type usageEntry struct {
	mu sync.Mutex
	u  usage.Usage
}

// UsageRepo 进程内用量存储，每个租户一把锁
type UsageRepo struct {
	now     func() time.Time
	entries sync.Map // tenant_id -> *usageEntry
}

// NewUsageRepo 创建
func NewUsageRepo(now func() time.Time) *UsageRepo {
	if now == nil {
		now = time.Now
	}
	return &UsageRepo{now: now}
}

func (r *UsageRepo) entry(tenantID string) (*usageEntry, bool) {
	v, ok := r.entries.Load(tenantID)
	if !ok {
		return nil, false
	}
	return v.(*usageEntry), true
}

func (r *UsageRepo) Ensure(ctx context.Context, tenantID string, anchor time.Time) (*usage.Usage, error) {
	now := r.now().UTC()
	anchor = anchor.UTC().Truncate(time.Millisecond)
	fresh := &usageEntry{u: usage.Usage{
		TenantID:     tenantID,
		PeriodAnchor: anchor,
		PeriodOrigin: anchor,
		Counters:     map[string]int64{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	v, _ := r.entries.LoadOrStore(tenantID, fresh)
	e := v.(*usageEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	return copyUsage(e.u), nil
}

func (r *UsageRepo) AdvancePeriod(ctx context.Context, tenantID string, from, to time.Time) (bool, error) {
	e, ok := r.entry(tenantID)
	if !ok {
		return false, repository.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.u.PeriodAnchor.Equal(from) {
		return false, nil
	}
	e.u.PeriodAnchor = to.UTC().Truncate(time.Millisecond)
	e.u.Counters[usage.CounterMessages] = 0
	e.u.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *UsageRepo) IncrementIf(ctx context.Context, tenantID, counter string, limit int64, anchor time.Time) (bool, error) {
	e, ok := r.entry(tenantID)
	if !ok {
		return false, repository.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !anchor.IsZero() && !e.u.PeriodAnchor.Equal(anchor) {
		return false, nil
	}
	if limit >= 0 && e.u.Counters[counter] >= limit {
		return false, nil
	}
	e.u.Counters[counter]++
	e.u.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *UsageRepo) Increment(ctx context.Context, tenantID, counter string, delta int64) error {
	e, ok := r.entry(tenantID)
	if !ok {
		return repository.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.u.Counters[counter] += delta
	e.u.UpdatedAt = r.now().UTC()
	return nil
}

func (r *UsageRepo) Decrement(ctx context.Context, tenantID, counter string) error {
	e, ok := r.entry(tenantID)
	if !ok {
		return repository.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.u.Counters[counter] > 0 {
		e.u.Counters[counter]--
		e.u.UpdatedAt = r.now().UTC()
	}
	return nil
}

func copyUsage(u usage.Usage) *usage.Usage {
	out := u
	out.Counters = make(map[string]int64, len(u.Counters))
	for k, v := range u.Counters {
		out.Counters[k] = v
	}
	return &out
}

// PlanRepo 进程内套餐存储
type PlanRepo struct {
	mu    sync.RWMutex
	plans map[string]plan.Plan
}

// NewPlanRepo 创建
func NewPlanRepo() *PlanRepo {
	return &PlanRepo{plans: make(map[string]plan.Plan)}
}

// Put 写入套餐定义
func (r *PlanRepo) Put(p plan.Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.ID] = p
}

func (r *PlanRepo) FindByID(ctx context.Context, planID string) (*plan.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[planID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}
