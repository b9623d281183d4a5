package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"botforge/internal/config"
)

// OpenAIBackend OpenAI 族（含 Azure OpenAI 和兼容网关），基于 Eino ChatModel
type OpenAIBackend struct {
	chatModel model.ChatModel
}

// NewOpenAIBackend 创建 OpenAI 族后端，模型在每次调用时通过 model.WithModel 指定
func NewOpenAIBackend(ctx context.Context, cfg config.ProviderConfig, apiKey string) (*OpenAIBackend, error) {
	defaultModel := ""
	if len(cfg.Models) > 0 {
		defaultModel = cfg.Models[0]
	}

	modelCfg := &openai.ChatModelConfig{
		Model:  defaultModel,
		APIKey: apiKey,
	}

	// Base URL (用于代理或兼容 API)
	if cfg.BaseURL != "" {
		modelCfg.BaseURL = cfg.BaseURL
	}
	if cfg.ByAzure {
		modelCfg.ByAzure = true
		modelCfg.APIVersion = cfg.APIVersion
	}

	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		modelCfg.Temperature = &temp
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelCfg.MaxTokens = &maxTokens
	}

	chatModel, err := openai.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("create openai chat model: %w", err)
	}
	return &OpenAIBackend{chatModel: chatModel}, nil
}

// Complete 把系统提示、历史和当前消息组装为 Eino 消息列表
func (b *OpenAIBackend) Complete(ctx context.Context, req *Request) (string, error) {
	resp, err := b.chatModel.Generate(ctx, einoMessages(req), model.WithModel(req.Model))
	if err != nil {
		return "", classifyError(FamilyOpenAI, err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("%w: openai returned empty content", ErrProviderTransient)
	}
	return resp.Content, nil
}
