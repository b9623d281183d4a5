package service

import (
	"context"
	"errors"
	"fmt"

	"botforge/internal/model/conversation"
	"botforge/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ConversationService 会话与消息查询
type ConversationService struct {
	conversations repository.ConversationRepository
	bots          *BotService
}

// NewConversationService 创建
func NewConversationService(conversations repository.ConversationRepository, bots *BotService) *ConversationService {
	return &ConversationService{conversations: conversations, bots: bots}
}

// ConversationPage 会话分页结果
type ConversationPage struct {
	Items  []*conversation.Conversation
	Total  int64
	Limit  int
	Offset int
}

// List 按最近更新倒序分页
func (s *ConversationService) List(ctx context.Context, tenantID, botID string, limit, offset int) (*ConversationPage, error) {
	if _, err := s.bots.Get(ctx, tenantID, botID); err != nil {
		return nil, err
	}
	limit, offset = normalizePage(limit, offset)
	items, total, err := s.conversations.ListByBot(ctx, botID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return &ConversationPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Messages 会话内的全部消息，按插入顺序
func (s *ConversationService) Messages(ctx context.Context, tenantID, conversationID string) ([]*conversation.Message, error) {
	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.TenantID != tenantID {
		return nil, ErrConversationNotFound
	}
	return s.conversations.ListMessages(ctx, conversationID)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
