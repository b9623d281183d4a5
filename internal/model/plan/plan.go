package plan

import (
	"context"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// 限额名称，超限时原样返回给调用方
const (
	LimitMessagesPerMonth = "max_messages_per_month"
	LimitChatbots         = "max_chatbots"
	LimitSourcesOfKind    = "max_sources_of_kind"
	LimitAllowedProviders = "allowed_providers"
	LimitFileSize         = "max_file_size"
)

// DefaultPlanID 新租户的默认套餐
const DefaultPlanID = "free"

// Unlimited 表示不限
const Unlimited int64 = -1

// Plan 套餐，_id 与内置套餐同名时覆盖内置定义
type Plan struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Limits    Limits    `bson:"limits" json:"limits"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Limits 套餐限额，负数表示不限
type Limits struct {
	MaxMessagesPerMonth int64            `bson:"max_messages_per_month" json:"max_messages_per_month"`
	MaxChatbots         int64            `bson:"max_chatbots" json:"max_chatbots"`
	MaxSourcesOfKind    map[string]int64 `bson:"max_sources_of_kind" json:"max_sources_of_kind"` // 未列出的类型不限
	AllowedProviders    []string         `bson:"allowed_providers" json:"allowed_providers"`     // 为空表示全部允许
	MaxFileSize         int64            `bson:"max_file_size" json:"max_file_size"`             // 字节
}

// Overrides 租户级别的自定义限额，非空字段优先于套餐
type Overrides struct {
	MaxMessagesPerMonth *int64           `bson:"max_messages_per_month,omitempty" json:"max_messages_per_month,omitempty"`
	MaxChatbots         *int64           `bson:"max_chatbots,omitempty" json:"max_chatbots,omitempty"`
	MaxSourcesOfKind    map[string]int64 `bson:"max_sources_of_kind,omitempty" json:"max_sources_of_kind,omitempty"`
	AllowedProviders    []string         `bson:"allowed_providers,omitempty" json:"allowed_providers,omitempty"`
	MaxFileSize         *int64           `bson:"max_file_size,omitempty" json:"max_file_size,omitempty"`
}

// Apply 合并覆盖项，返回新的限额
func (l Limits) Apply(o *Overrides) Limits {
	out := l.clone()
	if o == nil {
		return out
	}
	if o.MaxMessagesPerMonth != nil {
		out.MaxMessagesPerMonth = *o.MaxMessagesPerMonth
	}
	if o.MaxChatbots != nil {
		out.MaxChatbots = *o.MaxChatbots
	}
	for kind, v := range o.MaxSourcesOfKind {
		out.MaxSourcesOfKind[kind] = v
	}
	if o.AllowedProviders != nil {
		out.AllowedProviders = slices.Clone(o.AllowedProviders)
	}
	if o.MaxFileSize != nil {
		out.MaxFileSize = *o.MaxFileSize
	}
	return out
}

func (l Limits) clone() Limits {
	out := l
	out.MaxSourcesOfKind = make(map[string]int64, len(l.MaxSourcesOfKind))
	for k, v := range l.MaxSourcesOfKind {
		out.MaxSourcesOfKind[k] = v
	}
	out.AllowedProviders = slices.Clone(l.AllowedProviders)
	return out
}

// SourcesOfKind 某类知识源的上限
func (l Limits) SourcesOfKind(kind string) int64 {
	v, ok := l.MaxSourcesOfKind[kind]
	if !ok {
		return Unlimited
	}
	return v
}

// AllowsProvider 套餐是否允许该供应商
func (l Limits) AllowsProvider(tag string) bool {
	return len(l.AllowedProviders) == 0 || slices.Contains(l.AllowedProviders, tag)
}

// Collection 返回集合名称
func (p *Plan) Collection() string {
	return "plans"
}

// EnsureIndexes 套餐按 _id 读取，无额外索引
func (p *Plan) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return nil
}

const mb = int64(1 << 20)

var builtins = map[string]Plan{
	"free": {ID: "free", Name: "Free", Limits: Limits{
		MaxMessagesPerMonth: 100,
		MaxChatbots:         1,
		MaxSourcesOfKind:    map[string]int64{"file": 5, "url": 5, "text": 10},
		AllowedProviders:    []string{"openai"},
		MaxFileSize:         5 * mb,
	}},
	"starter": {ID: "starter", Name: "Starter", Limits: Limits{
		MaxMessagesPerMonth: 2000,
		MaxChatbots:         3,
		MaxSourcesOfKind:    map[string]int64{"file": 25, "url": 25, "text": 50},
		AllowedProviders:    []string{"openai", "anthropic"},
		MaxFileSize:         10 * mb,
	}},
	"pro": {ID: "pro", Name: "Pro", Limits: Limits{
		MaxMessagesPerMonth: 10000,
		MaxChatbots:         10,
		MaxSourcesOfKind:    map[string]int64{"file": 100, "url": 100, "text": 200},
		AllowedProviders:    []string{"openai", "anthropic", "gemini"},
		MaxFileSize:         25 * mb,
	}},
	"enterprise": {ID: "enterprise", Name: "Enterprise", Limits: Limits{
		MaxMessagesPerMonth: Unlimited,
		MaxChatbots:         Unlimited,
		MaxSourcesOfKind:    map[string]int64{},
		AllowedProviders:    []string{"openai", "anthropic", "gemini"},
		MaxFileSize:         100 * mb,
	}},
}

// Builtin 返回内置套餐定义
func Builtin(id string) (Plan, bool) {
	p, ok := builtins[id]
	if !ok {
		return Plan{}, false
	}
	p.Limits = p.Limits.clone()
	return p, true
}
