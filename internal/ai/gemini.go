package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiBackend Gemini 族，基于 generative-ai-go
type GeminiBackend struct {
	client      *genai.Client
	maxTokens   int32
	temperature float32
}

// NewGeminiBackend 创建 Gemini 族后端
func NewGeminiBackend(ctx context.Context, apiKey string, maxTokens int, temperature float32) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiBackend{client: client, maxTokens: int32(maxTokens), temperature: temperature}, nil
}

// Complete 以历史对话开启 ChatSession 后发送当前消息
func (b *GeminiBackend) Complete(ctx context.Context, req *Request) (string, error) {
	m := b.client.GenerativeModel(req.Model)
	if req.SystemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
	}
	if b.maxTokens > 0 {
		m.SetMaxOutputTokens(b.maxTokens)
	}
	if b.temperature > 0 {
		m.SetTemperature(b.temperature)
	}

	cs := m.StartChat()
	for _, t := range req.History {
		role := "user"
		if t.Role == "assistant" {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(req.UserText))
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrProviderTransient)
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: gemini returned empty content", ErrProviderTransient)
	}
	return sb.String(), nil
}

// Close 释放底层连接
func (b *GeminiBackend) Close() error {
	return b.client.Close()
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(FamilyGemini, apiErr.Code, apiErr.Message)
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		switch s.Code() {
		case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated,
			codes.NotFound, codes.FailedPrecondition, codes.Unimplemented:
			return fmt.Errorf("%w: gemini: %s", ErrProviderPermanent, s.Message())
		default:
			return fmt.Errorf("%w: gemini: %s", ErrProviderTransient, s.Message())
		}
	}
	return classifyError(FamilyGemini, err)
}
