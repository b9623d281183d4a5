package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"botforge/internal/config"
)

// AnthropicBackend Anthropic 族，基于 Eino Claude ChatModel
type AnthropicBackend struct {
	chatModel model.ChatModel
}

// NewAnthropicBackend 创建 Anthropic 族后端，httpClient 为空时使用默认客户端
func NewAnthropicBackend(ctx context.Context, cfg config.ProviderConfig, apiKey string, httpClient *http.Client) (*AnthropicBackend, error) {
	defaultModel := ""
	if len(cfg.Models) > 0 {
		defaultModel = cfg.Models[0]
	}

	// Messages API 要求 max_tokens
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	modelCfg := &claude.Config{
		APIKey:     apiKey,
		Model:      defaultModel,
		MaxTokens:  maxTokens,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		modelCfg.BaseURL = &baseURL
	}
	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		modelCfg.Temperature = &temp
	}

	chatModel, err := claude.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("create claude chat model: %w", err)
	}
	return &AnthropicBackend{chatModel: chatModel}, nil
}

// Complete 系统提示作为 system 消息传入，其余与 OpenAI 族相同
func (b *AnthropicBackend) Complete(ctx context.Context, req *Request) (string, error) {
	resp, err := b.chatModel.Generate(ctx, einoMessages(req), model.WithModel(req.Model))
	if err != nil {
		return "", classifyError(FamilyAnthropic, err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("%w: anthropic returned empty content", ErrProviderTransient)
	}
	return resp.Content, nil
}

// einoMessages 系统提示、历史和当前消息转为 Eino 消息列表
func einoMessages(req *Request) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, schema.SystemMessage(req.SystemPrompt))
	}
	for _, t := range req.History {
		if t.Role == "assistant" {
			messages = append(messages, schema.AssistantMessage(t.Content, nil))
		} else {
			messages = append(messages, schema.UserMessage(t.Content))
		}
	}
	return append(messages, schema.UserMessage(req.UserText))
}
