package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"botforge/internal/model/conversation"
	"botforge/internal/pkg/id"
	"botforge/internal/repository"
)

// ConversationRepo 进程内会话存储
type ConversationRepo struct {
	mu            sync.RWMutex
	now           func() time.Time
	conversations map[string]conversation.Conversation
	bySession     map[string]string // bot_id + "\x00" + session_id -> conversation_id
	messages      map[string][]conversation.Message
}

// NewConversationRepo 创建
func NewConversationRepo(now func() time.Time) *ConversationRepo {
	if now == nil {
		now = time.Now
	}
	return &ConversationRepo{
		now:           now,
		conversations: make(map[string]conversation.Conversation),
		bySession:     make(map[string]string),
		messages:      make(map[string][]conversation.Message),
	}
}

func sessionKey(botID, sessionID string) string {
	return botID + "\x00" + sessionID
}

func (r *ConversationRepo) GetOrCreate(ctx context.Context, botID, tenantID, sessionID string, visitor conversation.Visitor) (*conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey(botID, sessionID)
	if convID, ok := r.bySession[key]; ok {
		conv := r.conversations[convID]
		if conv.Visitor.Name == "" {
			conv.Visitor.Name = visitor.Name
		}
		if conv.Visitor.Email == "" {
			conv.Visitor.Email = visitor.Email
		}
		r.conversations[convID] = conv
		return &conv, nil
	}

	now := r.now().UTC()
	conv := conversation.Conversation{
		ID:        id.New(),
		BotID:     botID,
		TenantID:  tenantID,
		SessionID: sessionID,
		Visitor:   visitor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.conversations[conv.ID] = conv
	r.bySession[key] = conv.ID
	return &conv, nil
}

func (r *ConversationRepo) FindByID(ctx context.Context, convID string) (*conversation.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[convID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &conv, nil
}

func (r *ConversationRepo) Append(ctx context.Context, conversationID string, role conversation.Role, content string) (*conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	msgs := r.messages[conversationID]
	msg := conversation.Message{
		ID:             id.New(),
		ConversationID: conversationID,
		BotID:          conv.BotID,
		Seq:            int64(len(msgs)),
		Role:           role,
		Content:        content,
		Timestamp:      r.now().UTC().Truncate(time.Millisecond),
	}
	if n := len(msgs); n > 0 && msg.Timestamp.Before(msgs[n-1].Timestamp) {
		msg.Timestamp = msgs[n-1].Timestamp
	}
	r.messages[conversationID] = append(msgs, msg)

	conv.MessageCount = int64(len(msgs) + 1)
	conv.LastMessageAt = msg.Timestamp
	if msg.Timestamp.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.Timestamp
	}
	r.conversations[conversationID] = conv
	return &msg, nil
}

func (r *ConversationRepo) ListByBot(ctx context.Context, botID string, limit, offset int) ([]*conversation.Conversation, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*conversation.Conversation, 0)
	for _, c := range r.conversations {
		if c.BotID == botID {
			c := c
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []*conversation.Conversation{}, total, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (r *ConversationRepo) ListMessages(ctx context.Context, conversationID string) ([]*conversation.Message, error) {
	return r.RecentMessages(ctx, conversationID, -1)
}

func (r *ConversationRepo) RecentMessages(ctx context.Context, conversationID string, n int) ([]*conversation.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := r.messages[conversationID]
	if n >= 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]*conversation.Message, 0, len(msgs))
	for _, m := range msgs {
		m := m
		out = append(out, &m)
	}
	return out, nil
}

func (r *ConversationRepo) DeleteByBot(ctx context.Context, botID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for convID, c := range r.conversations {
		if c.BotID != botID {
			continue
		}
		delete(r.conversations, convID)
		delete(r.messages, convID)
		delete(r.bySession, sessionKey(c.BotID, c.SessionID))
	}
	return nil
}
