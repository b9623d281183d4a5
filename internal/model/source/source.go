package source

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Kind 知识源类型
type Kind string

const (
	KindFile Kind = "file" // 上传的文档
	KindURL  Kind = "url"  // 抓取的网页
	KindText Kind = "text" // 粘贴的文本
)

// ParseKind 解析知识源类型
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFile, KindURL, KindText:
		return k, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}

// Status 知识源状态
type Status string

const (
	StatusPending    Status = "pending"    // 待处理
	StatusProcessing Status = "processing" // 处理中
	StatusProcessed  Status = "processed"  // 已入库，可参与检索
	StatusFailed     Status = "failed"     // 失败
)

// IsTerminal 终态只能被删除
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// CanTransition 状态机
//
//	pending -> processing -> processed
//	                      -> failed
//	pending -> failed
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessed || to == StatusFailed
	default:
		return false
	}
}

// Source 知识源
type Source struct {
	ID            string     `bson:"_id" json:"id"`
	BotID         string     `bson:"bot_id" json:"bot_id"`
	TenantID      string     `bson:"tenant_id" json:"tenant_id"`
	Kind          Kind       `bson:"kind" json:"kind"`
	Name          string     `bson:"name" json:"name"`                                       // 文件名 / 标题 / URL
	URL           string     `bson:"url,omitempty" json:"url,omitempty"`                     // url 类型
	Content       string     `bson:"content,omitempty" json:"-"`                             // text 类型的原文
	StorageKey    string     `bson:"storage_key,omitempty" json:"-"`                         // file 类型在对象存储中的 key
	ContentType   string     `bson:"content_type,omitempty" json:"content_type,omitempty"`   // MIME
	Size          int64      `bson:"size" json:"size"`                                       // 原始字节数
	Status        Status     `bson:"status" json:"status"`
	FailureReason string     `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	ChunkCount    int        `bson:"chunk_count" json:"chunk_count"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updated_at"`
	ProcessedAt   *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Chunk 知识源切片及其向量
type Chunk struct {
	ID        string    `bson:"_id" json:"id"`
	SourceID  string    `bson:"source_id" json:"source_id"`
	BotID     string    `bson:"bot_id" json:"bot_id"`
	Ordinal   int       `bson:"ordinal" json:"ordinal"` // 源内从 0 开始连续编号
	Text      string    `bson:"text" json:"text"`
	Tokens    int       `bson:"tokens" json:"tokens"` // 近似 token 数
	Vector    []float32 `bson:"vector" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Collection 返回集合名称
func (s *Source) Collection() string {
	return "sources"
}

// EnsureIndexes 创建和维护索引
func (s *Source) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(s.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "bot_id", Value: 1}, bson.E{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_bot_status"),
		},
		{
			Keys:    bson.D{bson.E{Key: "bot_id", Value: 1}, bson.E{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_bot_created"),
		},
		{
			Keys:    bson.D{bson.E{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_status"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// Collection 返回集合名称
func (c *Chunk) Collection() string {
	return "chunks"
}

// EnsureIndexes 创建和维护索引
func (c *Chunk) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(c.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "source_id", Value: 1}, bson.E{Key: "ordinal", Value: 1}},
			Options: options.Index().SetName("idx_source_ordinal").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "bot_id", Value: 1}},
			Options: options.Index().SetName("idx_bot"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
