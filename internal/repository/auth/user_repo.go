package auth

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"botforge/internal/model/auth"
	"botforge/internal/model/plan"
	"botforge/internal/repository"
)

// UserRepo 租户账号仓库
// 使用UUID作为ID，无需ObjectID转换
type UserRepo struct {
	collection *mongo.Collection
}

// NewUserRepo 创建租户账号仓库
func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection((&auth.User{}).Collection()),
	}
}

// Create 创建用户，用户名或邮箱重复时返回 ErrDuplicate
func (r *UserRepo) Create(ctx context.Context, user *auth.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicate
	}
	return err
}

// FindByID 根据ID查询用户
func (r *UserRepo) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByUsername 根据用户名查询用户
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

// FindByEmail 根据邮箱查询用户
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*auth.User, error) {
	var user auth.User
	if err := r.collection.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateLastLoginAt 更新最后登录时间
func (r *UserRepo) UpdateLastLoginAt(ctx context.Context, id string) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"last_login_at": now,
			"updated_at":    now,
		},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// UpdatePlan 更换套餐和自定义限额
func (r *UserRepo) UpdatePlan(ctx context.Context, id, planID string, overrides *plan.Overrides) error {
	set := bson.M{"plan": planID, "updated_at": time.Now().UTC()}
	update := bson.M{"$set": set}
	if overrides != nil {
		set["limit_overrides"] = overrides
	} else {
		update["$unset"] = bson.M{"limit_overrides": ""}
	}
	return r.updateOne(ctx, id, update)
}

// UpdateStatus 启用或禁用租户
func (r *UserRepo) UpdateStatus(ctx context.Context, id string, status auth.UserStatus) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}})
}

func (r *UserRepo) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
