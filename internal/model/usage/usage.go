package usage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// 计数器名称
const (
	CounterMessages    = "messages_this_month" // 本计费周期已持久化的消息条数
	CounterChatbots    = "chatbots"
	CounterSourcesFile = "sources_file"
	CounterSourcesURL  = "sources_url"
	CounterSourcesText = "sources_text"
)

// SourceCounter 知识源类型对应的计数器
func SourceCounter(kind string) string {
	return "sources_" + kind
}

// Usage 租户用量，_id 为租户 id
type Usage struct {
	TenantID     string           `bson:"_id" json:"tenant_id"`
	PeriodAnchor time.Time        `bson:"period_anchor" json:"period_anchor"` // 当前计费周期起点
	PeriodOrigin time.Time        `bson:"period_origin" json:"-"`             // 第一个周期起点，后续周期都从它按整月推进
	Counters     map[string]int64 `bson:"counters" json:"counters"`
	CreatedAt    time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at" json:"updated_at"`
}

// Get 读取计数器，不存在时为 0
func (u *Usage) Get(counter string) int64 {
	if u == nil || u.Counters == nil {
		return 0
	}
	return u.Counters[counter]
}

// Collection 返回集合名称
func (u *Usage) Collection() string {
	return "usage"
}

// EnsureIndexes 用量按 _id 读写，无额外索引
func (u *Usage) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return nil
}

// AddMonths 加上整月数，日期超过目标月最后一天时取月末
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// CurrentAnchor 计算 now 所在周期的起点，周期从 origin 按整月推进；
// 结果晚于 anchor 时表示周期已过期。origin 为空时以 anchor 为准
func CurrentAnchor(origin, anchor, now time.Time) (time.Time, bool) {
	if origin.IsZero() {
		origin = anchor
	}
	oy, om, _ := origin.Date()
	ny, nm, _ := now.Date()
	n := (ny-oy)*12 + int(nm-om)
	if n > 0 && now.Before(AddMonths(origin, n)) {
		n--
	}
	if n <= 0 {
		return anchor, false
	}
	current := AddMonths(origin, n)
	if !current.After(anchor) {
		return anchor, false
	}
	return current, true
}
