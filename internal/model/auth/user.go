package auth

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"botforge/internal/model/plan"
)

// User 租户账号
// ID使用UUID格式（string），避免ObjectID转换的麻烦
type User struct {
	ID             string          `bson:"_id,omitempty" json:"id"`                                      // UUID格式的ID
	Username       string          `bson:"username" json:"username"`                                     // 用户名（唯一）
	Email          string          `bson:"email" json:"email"`                                           // 邮箱（唯一）
	Password       string          `bson:"password" json:"-"`                                            // 密码（加密存储，不返回）
	Plan           string          `bson:"plan" json:"plan"`                                             // 套餐 id
	LimitOverrides *plan.Overrides `bson:"limit_overrides,omitempty" json:"limit_overrides,omitempty"` // 自定义限额
	Status         UserStatus      `bson:"status" json:"status"`                                         // 状态
	LastLoginAt    *time.Time      `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `bson:"updated_at" json:"updated_at"`
}

// PlanID 套餐 id，未设置时为默认套餐
func (u *User) PlanID() string {
	if u.Plan == "" {
		return plan.DefaultPlanID
	}
	return u.Plan
}

// UserStatus 用户状态
type UserStatus string

const (
	UserStatusActive UserStatus = "active" // 正常
	UserStatusBanned UserStatus = "banned" // 禁用
)

// IsValid 检查状态是否有效
func (s UserStatus) IsValid() bool {
	return s == UserStatusActive || s == UserStatusBanned
}

// Collection 返回集合名称
func (u *User) Collection() string {
	return "users"
}

// EnsureIndexes 创建和维护索引
func (u *User) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(u.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "username", Value: 1}},
			Options: options.Index().SetName("idx_username").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "email", Value: 1}},
			Options: options.Index().SetName("idx_email").SetUnique(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created_at"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
