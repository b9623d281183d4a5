package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"botforge/internal/model/conversation"
	"botforge/internal/pkg/id"
	"botforge/internal/repository"
)

// maxAppendAttempts seq 冲突时的重试次数
const maxAppendAttempts = 5

// ConversationRepo 会话仓库
type ConversationRepo struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
	now           func() time.Time
}

// NewConversationRepo 创建会话仓库
func NewConversationRepo(db *mongo.Database) *ConversationRepo {
	return &ConversationRepo{
		conversations: db.Collection((&conversation.Conversation{}).Collection()),
		messages:      db.Collection((&conversation.Message{}).Collection()),
		now:           time.Now,
	}
}

// GetOrCreate 按 (bot_id, session_id) 获取会话，不存在时创建
func (r *ConversationRepo) GetOrCreate(ctx context.Context, botID, tenantID, sessionID string, visitor conversation.Visitor) (*conversation.Conversation, error) {
	now := r.now().UTC()
	filter := bson.M{"bot_id": botID, "session_id": sessionID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":           id.New(),
			"tenant_id":     tenantID,
			"visitor":       visitor,
			"message_count": 0,
			"created_at":    now,
			"updated_at":    now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var conv conversation.Conversation
	err := r.conversations.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv)
	if mongo.IsDuplicateKeyError(err) {
		// 并发 upsert 撞上唯一索引，另一方已创建
		err = r.conversations.FindOne(ctx, filter).Decode(&conv)
	}
	if err != nil {
		return nil, err
	}

	if err := r.fillVisitor(ctx, &conv, visitor); err != nil {
		return nil, err
	}
	return &conv, nil
}

// fillVisitor 只补全尚未记录的访客信息
func (r *ConversationRepo) fillVisitor(ctx context.Context, conv *conversation.Conversation, v conversation.Visitor) error {
	set := bson.M{}
	if conv.Visitor.Name == "" && v.Name != "" {
		set["visitor.name"] = v.Name
		conv.Visitor.Name = v.Name
	}
	if conv.Visitor.Email == "" && v.Email != "" {
		set["visitor.email"] = v.Email
		conv.Visitor.Email = v.Email
	}
	if len(set) == 0 {
		return nil
	}
	_, err := r.conversations.UpdateOne(ctx, bson.M{"_id": conv.ID}, bson.M{"$set": set})
	return err
}

// FindByID 根据ID查询
func (r *ConversationRepo) FindByID(ctx context.Context, convID string) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := r.conversations.FindOne(ctx, bson.M{"_id": convID}).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// Append 追加消息
//
// seq 由 (conversation_id, seq) 唯一索引保证不重复；时间戳不早于上一条消息。
func (r *ConversationRepo) Append(ctx context.Context, conversationID string, role conversation.Role, content string) (*conversation.Message, error) {
	conv, err := r.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		msg := &conversation.Message{
			ID:             id.New(),
			ConversationID: conversationID,
			BotID:          conv.BotID,
			Role:           role,
			Content:        content,
			Timestamp:      r.now().UTC().Truncate(time.Millisecond),
		}

		last, err := r.lastMessage(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			msg.Seq = last.Seq + 1
			if msg.Timestamp.Before(last.Timestamp) {
				msg.Timestamp = last.Timestamp
			}
		}

		if _, err := r.messages.InsertOne(ctx, msg); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return nil, err
		}

		_, err = r.conversations.UpdateOne(ctx, bson.M{"_id": conversationID}, bson.M{
			"$max": bson.M{
				"message_count":   msg.Seq + 1,
				"last_message_at": msg.Timestamp,
				"updated_at":      msg.Timestamp,
			},
		})
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
	return nil, fmt.Errorf("append message to %s: too many concurrent writers", conversationID)
}

func (r *ConversationRepo) lastMessage(ctx context.Context, conversationID string) (*conversation.Message, error) {
	opts := options.FindOne().SetSort(bson.D{bson.E{Key: "seq", Value: -1}})
	var msg conversation.Message
	err := r.messages.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// ListByBot 查询机器人的会话列表，按最近更新倒序
func (r *ConversationRepo) ListByBot(ctx context.Context, botID string, limit, offset int) ([]*conversation.Conversation, int64, error) {
	filter := bson.M{"bot_id": botID}
	total, err := r.conversations.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "updated_at", Value: -1}, bson.E{Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	convs := make([]*conversation.Conversation, 0)
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}

// ListMessages 会话全部消息，按插入顺序
func (r *ConversationRepo) ListMessages(ctx context.Context, conversationID string) ([]*conversation.Message, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "seq", Value: 1}})
	return r.findMessages(ctx, conversationID, opts, false)
}

// RecentMessages 最近 n 条消息，按时间正序
func (r *ConversationRepo) RecentMessages(ctx context.Context, conversationID string, n int) ([]*conversation.Message, error) {
	if n <= 0 {
		return []*conversation.Message{}, nil
	}
	opts := options.Find().SetSort(bson.D{bson.E{Key: "seq", Value: -1}}).SetLimit(int64(n))
	return r.findMessages(ctx, conversationID, opts, true)
}

func (r *ConversationRepo) findMessages(ctx context.Context, conversationID string, opts *options.FindOptions, reverse bool) ([]*conversation.Message, error) {
	cursor, err := r.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	msgs := make([]*conversation.Message, 0)
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	if reverse {
		slices.Reverse(msgs)
	}
	return msgs, nil
}

// DeleteByBot 删除机器人的全部会话与消息
func (r *ConversationRepo) DeleteByBot(ctx context.Context, botID string) error {
	if _, err := r.messages.DeleteMany(ctx, bson.M{"bot_id": botID}); err != nil {
		return err
	}
	_, err := r.conversations.DeleteMany(ctx, bson.M{"bot_id": botID})
	return err
}
