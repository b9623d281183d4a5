package memory

import (
	"context"
	"sync"
	"time"

	"botforge/internal/model/auth"
	"botforge/internal/model/plan"
	"botforge/internal/repository"
)

// TenantRepo 进程内租户存储
type TenantRepo struct {
	mu    sync.RWMutex
	users map[string]auth.User
}

// NewTenantRepo 创建
func NewTenantRepo() *TenantRepo {
	return &TenantRepo{users: make(map[string]auth.User)}
}

func (r *TenantRepo) Create(ctx context.Context, u *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.ID == u.ID || existing.Username == u.Username || existing.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	r.users[u.ID] = *u
	return nil
}

func (r *TenantRepo) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return r.find(func(u auth.User) bool { return u.ID == id })
}

func (r *TenantRepo) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.find(func(u auth.User) bool { return u.Username == username })
}

func (r *TenantRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.find(func(u auth.User) bool { return u.Email == email })
}

func (r *TenantRepo) find(match func(auth.User) bool) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *TenantRepo) UpdateLastLoginAt(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	u.UpdatedAt = now
	r.users[id] = u
	return nil
}

func (r *TenantRepo) UpdatePlan(ctx context.Context, id, planID string, overrides *plan.Overrides) error {
	return r.update(id, func(u *auth.User) {
		u.Plan = planID
		u.LimitOverrides = overrides
	})
}

func (r *TenantRepo) UpdateStatus(ctx context.Context, id string, status auth.UserStatus) error {
	return r.update(id, func(u *auth.User) { u.Status = status })
}

func (r *TenantRepo) update(id string, apply func(*auth.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	apply(&u)
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	return nil
}
