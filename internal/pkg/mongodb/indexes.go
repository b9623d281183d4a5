package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"botforge/internal/model/auth"
	"botforge/internal/model/bot"
	"botforge/internal/model/conversation"
	"botforge/internal/model/plan"
	"botforge/internal/model/source"
	"botforge/internal/model/usage"
)

// AllModels 需要维护索引的全部模型
func AllModels() []Model {
	return []Model{
		&auth.User{},
		&plan.Plan{},
		&usage.Usage{},
		&bot.Bot{},
		&source.Source{},
		&source.Chunk{},
		&conversation.Conversation{},
		&conversation.Message{},
	}
}

// EnsureIndexes 创建所有模型的索引，启动时和 ensure-indexes 命令调用
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return EnsureAllIndexes(ctx, db, AllModels()...)
}
