package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"botforge/internal/config"
)

// NewRouterFromConfig 按配置注册已启用的供应商族
func NewRouterFromConfig(ctx context.Context, cfg *config.Config) (*Router, error) {
	r := NewRouter(cfg.Chat.ProviderTimeout)
	p := cfg.Providers

	if p.OpenAI.Enabled {
		backend, err := NewOpenAIBackend(ctx, p.OpenAI, cfg.KeyFor(p.OpenAI))
		if err != nil {
			return nil, err
		}
		r.Register(FamilyOpenAI, backend, p.OpenAI.Models)
	}

	if p.Anthropic.Enabled {
		backend, err := NewAnthropicBackend(ctx, p.Anthropic, cfg.KeyFor(p.Anthropic), nil)
		if err != nil {
			return nil, err
		}
		r.Register(FamilyAnthropic, backend, p.Anthropic.Models)
	}

	if p.Gemini.Enabled {
		backend, err := NewGeminiBackend(ctx, cfg.KeyFor(p.Gemini), p.Gemini.MaxTokens, p.Gemini.Temperature)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		r.Register(FamilyGemini, backend, p.Gemini.Models)
	}

	for _, f := range Families {
		if _, ok := r.backends[f]; ok {
			log.Info().Str("provider", f.String()).Strs("models", r.Models(f)).Msg("provider registered")
		}
	}
	return r, nil
}
