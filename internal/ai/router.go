package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout 单次供应商调用超时
const DefaultTimeout = 60 * time.Second

// Router 根据供应商族分发请求，自身不保存会话状态
type Router struct {
	backends map[Family]Backend
	models   map[Family]map[string]struct{}
	timeout  time.Duration
}

// NewRouter 创建路由器
func NewRouter(timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Router{
		backends: make(map[Family]Backend),
		models:   make(map[Family]map[string]struct{}),
		timeout:  timeout,
	}
}

// Register 注册供应商族及其模型白名单
func (r *Router) Register(f Family, backend Backend, models []string) {
	allow := make(map[string]struct{}, len(models))
	for _, m := range models {
		allow[m] = struct{}{}
	}
	r.backends[f] = backend
	r.models[f] = allow
}

// Resolve 校验 provider 标签和模型，不发起网络请求
func (r *Router) Resolve(providerTag, modelName string) (Family, error) {
	f, err := ParseFamily(providerTag)
	if err != nil {
		return "", err
	}
	allow, ok := r.models[f]
	if !ok {
		return "", fmt.Errorf("%w: %s is not enabled", ErrUnknownProvider, f)
	}
	if _, ok := allow[modelName]; !ok {
		return "", fmt.Errorf("%w: %q is not allowed for %s", ErrUnknownModel, modelName, f)
	}
	return f, nil
}

// Models 某个供应商族的模型白名单
func (r *Router) Models(f Family) []string {
	out := make([]string, 0, len(r.models[f]))
	for m := range r.models[f] {
		out = append(out, m)
	}
	return out
}

// Complete 调用供应商生成回复
func (r *Router) Complete(ctx context.Context, providerTag string, req Request) (string, error) {
	f, err := r.Resolve(providerTag, req.Model)
	if err != nil {
		return "", err
	}
	req.Family = f

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	text, err := r.backends[f].Complete(ctx, &req)
	latency := time.Since(start)
	if err != nil {
		err = classifyError(f, err)
		log.Warn().Err(err).
			Str("provider", f.String()).
			Str("model", req.Model).
			Dur("latency", latency).
			Bool("transient", errors.Is(err, ErrProviderTransient)).
			Msg("provider call failed")
		return "", err
	}

	log.Debug().
		Str("provider", f.String()).
		Str("model", req.Model).
		Str("session_id", req.SessionID).
		Dur("latency", latency).
		Int("reply_len", len(text)).
		Msg("provider call completed")
	return text, nil
}
