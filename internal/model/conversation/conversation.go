package conversation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Visitor 访客身份（可选）
type Visitor struct {
	Name  string `bson:"name,omitempty" json:"name,omitempty"`
	Email string `bson:"email,omitempty" json:"email,omitempty"`
}

// Conversation 会话，由 (bot_id, session_id) 唯一确定
type Conversation struct {
	ID            string    `bson:"_id" json:"id"`
	BotID         string    `bson:"bot_id" json:"bot_id"`
	TenantID      string    `bson:"tenant_id" json:"tenant_id"`
	SessionID     string    `bson:"session_id" json:"session_id"`
	Visitor       Visitor   `bson:"visitor" json:"visitor"`
	MessageCount  int64     `bson:"message_count" json:"message_count"`
	LastMessageAt time.Time `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// Message 消息，会话内按 (timestamp, seq) 全序
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	BotID          string    `bson:"bot_id" json:"bot_id"`
	Seq            int64     `bson:"seq" json:"seq"` // 会话内插入序号，从 0 开始
	Role           Role      `bson:"role" json:"role"`
	Content        string    `bson:"content" json:"content"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
}

// Collection 返回集合名称
func (c *Conversation) Collection() string {
	return "conversations"
}

// EnsureIndexes 创建和维护索引
func (c *Conversation) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(c.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "bot_id", Value: 1}, bson.E{Key: "session_id", Value: 1}},
			Options: options.Index().SetName("idx_bot_session").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "bot_id", Value: 1}, bson.E{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_bot_updated"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// Collection 返回集合名称
func (m *Message) Collection() string {
	return "messages"
}

// EnsureIndexes 创建和维护索引
func (m *Message) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(m.Collection())
	indexes := []mongo.IndexModel{
		{
			// 唯一索引保证同一会话内 seq 不重复
			Keys:    bson.D{bson.E{Key: "conversation_id", Value: 1}, bson.E{Key: "seq", Value: 1}},
			Options: options.Index().SetName("idx_conversation_seq").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "bot_id", Value: 1}},
			Options: options.Index().SetName("idx_bot"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
