package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Family 模型供应商族，只有三个取值
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
)

// Families 全部供应商族，顺序固定
var Families = []Family{FamilyOpenAI, FamilyAnthropic, FamilyGemini}

var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrUnknownModel      = errors.New("unknown model")
	ErrProviderTransient = errors.New("provider transient failure")
	ErrProviderPermanent = errors.New("provider permanent failure")
)

var familyAliases = map[string]Family{
	"openai":    FamilyOpenAI,
	"azure":     FamilyOpenAI,
	"anthropic": FamilyAnthropic,
	"claude":    FamilyAnthropic,
	"gemini":    FamilyGemini,
	"google":    FamilyGemini,
}

// ParseFamily 解析 provider 标签，未知标签返回 ErrUnknownProvider
func ParseFamily(tag string) (Family, error) {
	f, ok := familyAliases[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
	}
	return f, nil
}

func (f Family) String() string { return string(f) }

// Turn 历史对话中的一轮
type Turn struct {
	Role    string // user / assistant
	Content string
}

// Request 一次补全请求
type Request struct {
	Family       Family
	Model        string
	SystemPrompt string
	SessionID    string
	History      []Turn
	UserText     string
}

// Backend 某个供应商族的调用实现
//
// 返回的错误必须包装 ErrProviderTransient 或 ErrProviderPermanent。
type Backend interface {
	Complete(ctx context.Context, req *Request) (string, error)
}

// BackendFunc 函数适配器
type BackendFunc func(ctx context.Context, req *Request) (string, error)

func (f BackendFunc) Complete(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

// classifyStatus 按 HTTP 状态码区分可重试错误
func classifyStatus(family Family, code int, msg string) error {
	kind := ErrProviderPermanent
	if code >= 500 || code == 408 || code == 429 {
		kind = ErrProviderTransient
	}
	return fmt.Errorf("%w: %s returned status %d: %s", kind, family, code, msg)
}

// 上游 SDK 只在错误文本里带状态码：go-openai 为 "status code: 429"，
// anthropic-sdk-go 为 `POST "https://...": 529 ...`
var statusCodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`status code: (\d{3})`),
	regexp.MustCompile(`[A-Z]+ "[^"]*": (\d{3}) `),
}

// classifyError 对不带状态码的错误归类；只有超时、网络错误和可重试状态码会重试
func classifyError(family Family, err error) error {
	if errors.Is(err, ErrProviderTransient) || errors.Is(err, ErrProviderPermanent) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: %v", ErrProviderTransient, family, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", ErrProviderTransient, family, err)
	}
	for _, p := range statusCodePatterns {
		if m := p.FindStringSubmatch(err.Error()); m != nil {
			code, _ := strconv.Atoi(m[1])
			return classifyStatus(family, code, err.Error())
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderPermanent, family, err)
}
