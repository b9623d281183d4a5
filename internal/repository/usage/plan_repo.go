package usage

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"botforge/internal/model/plan"
	"botforge/internal/repository"
)

// PlanRepo 套餐仓库
type PlanRepo struct {
	collection *mongo.Collection
}

// NewPlanRepo 创建套餐仓库
func NewPlanRepo(db *mongo.Database) *PlanRepo {
	return &PlanRepo{
		collection: db.Collection((&plan.Plan{}).Collection()),
	}
}

// FindByID 根据ID查询
func (r *PlanRepo) FindByID(ctx context.Context, planID string) (*plan.Plan, error) {
	var p plan.Plan
	if err := r.collection.FindOne(ctx, bson.M{"_id": planID}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
