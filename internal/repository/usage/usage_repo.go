package usage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"botforge/internal/model/usage"
	"botforge/internal/repository"
)

// UsageRepo 用量仓库，每个租户一个文档，所有写入都是单文档条件更新
type UsageRepo struct {
	collection *mongo.Collection
}

// NewUsageRepo 创建用量仓库
func NewUsageRepo(db *mongo.Database) *UsageRepo {
	return &UsageRepo{
		collection: db.Collection((&usage.Usage{}).Collection()),
	}
}

// Ensure 不存在时创建
func (r *UsageRepo) Ensure(ctx context.Context, tenantID string, anchor time.Time) (*usage.Usage, error) {
	now := time.Now().UTC()
	anchor = anchor.UTC().Truncate(time.Millisecond)
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": tenantID},
		bson.M{"$setOnInsert": bson.M{
			"period_anchor": anchor,
			"period_origin": anchor,
			"counters":      bson.M{},
			"created_at":    now,
			"updated_at":    now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, err
	}

	var u usage.Usage
	if err := r.collection.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if u.Counters == nil {
		u.Counters = map[string]int64{}
	}
	return &u, nil
}

// AdvancePeriod 以周期起点做 CAS，只有一个调用方能推进成功
func (r *UsageRepo) AdvancePeriod(ctx context.Context, tenantID string, from, to time.Time) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": tenantID, "period_anchor": from},
		bson.M{"$set": bson.M{
			"period_anchor":                       to.UTC().Truncate(time.Millisecond),
			"counters." + usage.CounterMessages: 0,
			"updated_at":                          time.Now().UTC(),
		}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// IncrementIf 条件加一
func (r *UsageRepo) IncrementIf(ctx context.Context, tenantID, counter string, limit int64, anchor time.Time) (bool, error) {
	if limit == 0 {
		return false, nil
	}
	field := "counters." + counter
	filter := bson.M{"_id": tenantID}
	if limit > 0 {
		filter["$or"] = bson.A{
			bson.M{field: bson.M{"$lt": limit}},
			bson.M{field: bson.M{"$exists": false}},
		}
	}
	if !anchor.IsZero() {
		filter["period_anchor"] = anchor
	}

	res, err := r.collection.UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{field: 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// Increment 无条件增加
func (r *UsageRepo) Increment(ctx context.Context, tenantID, counter string, delta int64) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": tenantID}, bson.M{
		"$inc": bson.M{"counters." + counter: delta},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Decrement 减一，计数为 0 时不变
func (r *UsageRepo) Decrement(ctx context.Context, tenantID, counter string) error {
	field := "counters." + counter
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": tenantID, field: bson.M{"$gt": 0}},
		bson.M{
			"$inc": bson.M{field: -1},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	return err
}
