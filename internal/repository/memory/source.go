package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"botforge/internal/model/source"
	"botforge/internal/repository"
)

// SourceRepo 进程内知识源存储
//
// 切片集合与状态在同一把锁下替换，读方看不到中间状态。
type SourceRepo struct {
	mu      sync.RWMutex
	sources map[string]source.Source
	chunks  map[string][]source.Chunk // source_id -> 切片
}

// NewSourceRepo 创建
func NewSourceRepo() *SourceRepo {
	return &SourceRepo{
		sources: make(map[string]source.Source),
		chunks:  make(map[string][]source.Chunk),
	}
}

func (r *SourceRepo) Create(ctx context.Context, s *source.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[s.ID]; ok {
		return repository.ErrDuplicate
	}
	now := time.Now().UTC()
	s.Status = source.StatusPending
	s.CreatedAt = now
	s.UpdatedAt = now
	r.sources[s.ID] = *s
	return nil
}

func (r *SourceRepo) FindByID(ctx context.Context, id string) (*source.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *SourceRepo) ListByBot(ctx context.Context, botID string) ([]*source.Source, error) {
	return r.filter(func(s source.Source) bool { return s.BotID == botID }), nil
}

func (r *SourceRepo) ListByStatus(ctx context.Context, status source.Status) ([]*source.Source, error) {
	return r.filter(func(s source.Source) bool { return s.Status == status }), nil
}

func (r *SourceRepo) ListProcessed(ctx context.Context, botID string) ([]*source.Source, error) {
	return r.filter(func(s source.Source) bool {
		return s.BotID == botID && s.Status == source.StatusProcessed
	}), nil
}

func (r *SourceRepo) filter(keep func(source.Source) bool) []*source.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*source.Source, 0)
	for _, s := range r.sources {
		if keep(s) {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *SourceRepo) Transition(ctx context.Context, id string, from, to source.Status) error {
	if !source.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != from {
		return fmt.Errorf("%w: expected %s, found %s", repository.ErrInvalidTransition, from, s.Status)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	r.sources[id] = s
	return nil
}

func (r *SourceRepo) AttachChunks(ctx context.Context, id string, chunks []*source.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != source.StatusProcessing {
		return fmt.Errorf("%w: attach chunks in %s", repository.ErrInvalidTransition, s.Status)
	}

	now := time.Now().UTC()
	stored := make([]source.Chunk, 0, len(chunks))
	for _, c := range chunks {
		c.SourceID = id
		c.BotID = s.BotID
		c.CreatedAt = now
		cp := *c
		cp.Vector = append([]float32(nil), c.Vector...)
		stored = append(stored, cp)
	}
	r.chunks[id] = stored

	s.Status = source.StatusProcessed
	s.ChunkCount = len(stored)
	s.ProcessedAt = &now
	s.UpdatedAt = now
	r.sources[id] = s
	return nil
}

func (r *SourceRepo) MarkFailed(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !source.CanTransition(s.Status, source.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, s.Status, source.StatusFailed)
	}
	s.Status = source.StatusFailed
	s.FailureReason = reason
	s.UpdatedAt = time.Now().UTC()
	r.sources[id] = s
	delete(r.chunks, id)
	return nil
}

func (r *SourceRepo) ListChunks(ctx context.Context, botID string) ([]*source.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*source.Chunk, 0)
	for sid, s := range r.sources {
		if s.BotID != botID || s.Status != source.StatusProcessed {
			continue
		}
		for _, c := range r.chunks[sid] {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

func (r *SourceRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !s.Status.IsTerminal() {
		return fmt.Errorf("%w: source %s is not in a terminal state", repository.ErrInvalidTransition, id)
	}
	delete(r.sources, id)
	delete(r.chunks, id)
	return nil
}

func (r *SourceRepo) DeleteByBot(ctx context.Context, botID string) ([]*source.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*source.Source, 0)
	for sid, s := range r.sources {
		if s.BotID != botID {
			continue
		}
		s := s
		out = append(out, &s)
		delete(r.sources, sid)
		delete(r.chunks, sid)
	}
	return out, nil
}
