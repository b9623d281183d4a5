package service

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"botforge/internal/model/auth"
	"botforge/internal/model/plan"
	"botforge/internal/pkg/password"
)

func TestAuthService(t *testing.T) {
	Convey("AuthService", t, func() {
		env := newTestEnv(t)
		ctx := context.Background()
		svc := NewAuthService(env.stores.Tenants, env.quota, "test-secret", time.Hour)

		user, err := svc.Register(ctx, "alice", "Alice@Example.com", "correct-horse")
		So(err, ShouldBeNil)

		Convey("注册默认 free 套餐并统一邮箱大小写", func() {
			So(user.Plan, ShouldEqual, "free")
			So(user.Email, ShouldEqual, "alice@example.com")
			So(user.Password, ShouldNotEqual, "correct-horse")
		})

		Convey("重复注册", func() {
			_, err := svc.Register(ctx, "alice", "other@example.com", "correct-horse")
			So(err, ShouldEqual, ErrUserAlreadyExists)
			_, err = svc.Register(ctx, "bob", "alice@example.com", "correct-horse")
			So(err, ShouldEqual, ErrEmailTaken)
			_, err = svc.Register(ctx, "carol", "carol@example.com", "short")
			So(err, ShouldEqual, ErrPasswordTooShort)
		})

		Convey("登录并校验 token", func() {
			resp, err := svc.Login(ctx, "alice", "correct-horse")
			So(err, ShouldBeNil)
			So(resp.TokenType, ShouldEqual, "Bearer")
			So(resp.ExpiresIn, ShouldEqual, 3600)

			tenantID, err := svc.ValidateToken(ctx, resp.AccessToken)
			So(err, ShouldBeNil)
			So(tenantID, ShouldEqual, user.ID)

			_, err = svc.ValidateToken(ctx, resp.AccessToken+"x")
			So(err, ShouldEqual, ErrInvalidToken)
		})

		Convey("密码错误", func() {
			_, err := svc.Login(ctx, "alice", "wrong-password")
			So(err, ShouldEqual, ErrInvalidPassword)
			_, err = svc.Login(ctx, "nobody", "correct-horse")
			So(err, ShouldEqual, ErrInvalidPassword)
		})

		Convey("过期 token", func() {
			expired := NewAuthService(env.stores.Tenants, env.quota, "test-secret", -time.Minute)
			resp, err := expired.Login(ctx, "alice", "correct-horse")
			So(err, ShouldBeNil)
			_, err = svc.ValidateToken(ctx, resp.AccessToken)
			So(err, ShouldEqual, ErrExpiredToken)
		})

		Convey("禁用的租户", func() {
			hashed, err := password.Hash("correct-horse")
			So(err, ShouldBeNil)
			banned := &auth.User{ID: "banned", Username: "mallory", Email: "m@example.com", Password: hashed, Status: auth.UserStatusBanned}
			So(env.stores.Tenants.Create(ctx, banned), ShouldBeNil)

			_, err = svc.Login(ctx, "mallory", "correct-horse")
			So(err, ShouldEqual, ErrUserBanned)
		})

		Convey("Me 返回套餐与用量", func() {
			me, err := svc.Me(ctx, user.ID)
			So(err, ShouldBeNil)
			So(me.User.ID, ShouldEqual, user.ID)
			So(me.Plan, ShouldEqual, "free")
			So(me.Limits.MaxChatbots, ShouldEqual, 1)

			_, err = svc.Me(ctx, "missing")
			So(err, ShouldNotBeNil)
		})

		Convey("更换套餐后限额立即生效", func() {
			limit := int64(3)
			updated, err := svc.AssignPlan(ctx, "alice", "pro", &plan.Overrides{MaxChatbots: &limit})
			So(err, ShouldBeNil)
			So(updated.Plan, ShouldEqual, "pro")

			limits, _, err := env.quota.EffectiveLimits(ctx, user.ID)
			So(err, ShouldBeNil)
			So(limits.MaxChatbots, ShouldEqual, 3)
			So(limits.AllowsProvider("anthropic"), ShouldBeTrue)

			_, err = svc.AssignPlan(ctx, "alice", "platinum", nil)
			So(err, ShouldEqual, ErrUnknownPlan)
			_, err = svc.AssignPlan(ctx, "nobody", "pro", nil)
			So(err, ShouldEqual, ErrUserNotFound)
		})

		Convey("禁用后 token 失效", func() {
			resp, err := svc.Login(ctx, "alice", "correct-horse")
			So(err, ShouldBeNil)
			So(svc.SetStatus(ctx, "alice", auth.UserStatusBanned), ShouldBeNil)

			_, err = svc.ValidateToken(ctx, resp.AccessToken)
			So(err, ShouldEqual, ErrUserBanned)

			So(svc.SetStatus(ctx, "alice", auth.UserStatusActive), ShouldBeNil)
			_, err = svc.ValidateToken(ctx, resp.AccessToken)
			So(err, ShouldBeNil)
		})
	})
}
