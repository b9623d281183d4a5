package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"botforge/internal/model/bot"
	"botforge/internal/repository"
)

// BotRepo 进程内机器人存储
type BotRepo struct {
	mu   sync.RWMutex
	bots map[string]bot.Bot
}

// NewBotRepo 创建
func NewBotRepo() *BotRepo {
	return &BotRepo{bots: make(map[string]bot.Bot)}
}

func (r *BotRepo) Create(ctx context.Context, b *bot.Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bots[b.ID]; ok {
		return repository.ErrDuplicate
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	r.bots[b.ID] = *b
	return nil
}

func (r *BotRepo) FindByID(ctx context.Context, id string) (*bot.Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (r *BotRepo) ListByTenant(ctx context.Context, tenantID string) ([]*bot.Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*bot.Bot, 0)
	for _, b := range r.bots {
		if b.TenantID == tenantID {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *BotRepo) Update(ctx context.Context, b *bot.Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.bots[b.ID]
	if !ok {
		return repository.ErrNotFound
	}
	b.CreatedAt = cur.CreatedAt
	b.TenantID = cur.TenantID
	b.UpdatedAt = time.Now().UTC()
	r.bots[b.ID] = *b
	return nil
}

func (r *BotRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bots[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.bots, id)
	return nil
}
