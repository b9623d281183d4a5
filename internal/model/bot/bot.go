package bot

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultRetrievalK 默认检索条数
const DefaultRetrievalK = 5

// Bot 机器人配置
type Bot struct {
	ID             string    `bson:"_id" json:"id"`                          // UUID
	TenantID       string    `bson:"tenant_id" json:"tenant_id"`             // 所属租户
	Name           string    `bson:"name" json:"name"`                       // 名称
	Provider       string    `bson:"provider" json:"provider"`               // 供应商：openai / anthropic / gemini
	Model          string    `bson:"model" json:"model"`                     // 模型名称
	Instructions   string    `bson:"instructions" json:"instructions"`       // 系统指令
	WelcomeMessage string    `bson:"welcome_message" json:"welcome_message"` // 欢迎语
	Active         bool      `bson:"active" json:"active"`
	RetrievalK     int       `bson:"retrieval_k" json:"retrieval_k"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (b *Bot) Collection() string {
	return "bots"
}

// EnsureIndexes 创建和维护索引
func (b *Bot) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(b.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "tenant_id", Value: 1}, bson.E{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_tenant_created"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
