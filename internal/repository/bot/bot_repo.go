package bot

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"botforge/internal/model/bot"
	"botforge/internal/repository"
)

// BotRepo 机器人仓库
type BotRepo struct {
	collection *mongo.Collection
}

// NewBotRepo 创建机器人仓库
func NewBotRepo(db *mongo.Database) *BotRepo {
	return &BotRepo{
		collection: db.Collection((&bot.Bot{}).Collection()),
	}
}

// Create 创建机器人
func (r *BotRepo) Create(ctx context.Context, b *bot.Bot) error {
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, b)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicate
	}
	return err
}

// FindByID 根据ID查询
func (r *BotRepo) FindByID(ctx context.Context, id string) (*bot.Bot, error) {
	var b bot.Bot
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// ListByTenant 查询租户的机器人
func (r *BotRepo) ListByTenant(ctx context.Context, tenantID string) ([]*bot.Bot, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	bots := make([]*bot.Bot, 0)
	if err := cursor.All(ctx, &bots); err != nil {
		return nil, err
	}
	return bots, nil
}

// Update 整体替换可编辑字段
func (r *BotRepo) Update(ctx context.Context, b *bot.Bot) error {
	b.UpdatedAt = time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"name":            b.Name,
			"provider":        b.Provider,
			"model":           b.Model,
			"instructions":    b.Instructions,
			"welcome_message": b.WelcomeMessage,
			"active":          b.Active,
			"retrieval_k":     b.RetrievalK,
			"updated_at":      b.UpdatedAt,
		},
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": b.ID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete 删除机器人
func (r *BotRepo) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
