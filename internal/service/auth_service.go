package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"botforge/internal/model"
	"botforge/internal/model/auth"
	"botforge/internal/model/plan"
	"botforge/internal/pkg/id"
	"botforge/internal/pkg/jwt"
	"botforge/internal/pkg/password"
	"botforge/internal/repository"
)

var (
	ErrUserNotFound      = errors.New("用户不存在")
	ErrUserAlreadyExists = errors.New("用户名已存在")
	ErrEmailTaken        = errors.New("邮箱已被注册")
	ErrInvalidPassword   = errors.New("用户名或密码错误")
	ErrPasswordTooShort  = errors.New("密码至少 8 位")
	ErrUserBanned        = errors.New("用户已被禁用")
	ErrInvalidToken      = errors.New("Token无效")
	ErrExpiredToken      = errors.New("Token已过期")
	ErrUnknownPlan       = errors.New("套餐不存在")
)

// AuthService 租户注册、登录与 token 校验
type AuthService struct {
	tenants repository.TenantRepository
	quota   *QuotaGate
	jwt     *jwt.JWT
}

// NewAuthService 创建认证服务
func NewAuthService(tenants repository.TenantRepository, quota *QuotaGate, jwtSecret string, accessTokenExpiry time.Duration) *AuthService {
	return &AuthService{
		tenants: tenants,
		quota:   quota,
		jwt:     jwt.NewJWT(jwtSecret, accessTokenExpiry),
	}
}

// Register 注册租户，默认使用 free 套餐
func (s *AuthService) Register(ctx context.Context, username, email, pwd string) (*auth.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	// 检查用户名是否已存在
	if existing, _ := s.tenants.FindByUsername(ctx, username); existing != nil {
		return nil, ErrUserAlreadyExists
	}
	// 检查邮箱是否已存在
	if existing, _ := s.tenants.FindByEmail(ctx, email); existing != nil {
		return nil, ErrEmailTaken
	}

	hashed, err := password.Hash(pwd)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return nil, ErrPasswordTooShort
		}
		log.Error().Err(err).Msg("failed to hash password")
		return nil, err
	}

	user := &auth.User{
		ID:       id.New(),
		Username: username,
		Email:    email,
		Password: hashed,
		Plan:     plan.DefaultPlanID,
		Status:   auth.UserStatusActive,
	}
	if err := s.tenants.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserAlreadyExists
		}
		log.Error().Err(err).Msg("failed to create user")
		return nil, err
	}

	log.Info().Str("tenant_id", user.ID).Str("username", username).Msg("tenant registered")
	return user, nil
}

// Login 校验密码并签发 access token
func (s *AuthService) Login(ctx context.Context, username, pwd string) (*model.LoginResponse, error) {
	user, err := s.tenants.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, ErrInvalidPassword
	}
	if !password.Verify(pwd, user.Password) {
		return nil, ErrInvalidPassword
	}
	if user.Status == auth.UserStatusBanned {
		return nil, ErrUserBanned
	}

	token, err := s.jwt.GenerateToken(user.ID, user.Username, user.PlanID())
	if err != nil {
		log.Error().Err(err).Msg("failed to generate access token")
		return nil, err
	}

	// 更新最后登录时间，失败不影响登录
	if err := s.tenants.UpdateLastLoginAt(ctx, user.ID); err != nil {
		log.Warn().Err(err).Msg("failed to update last login time")
	}

	return &model.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwt.GetExpiration().Seconds()),
		User:        user,
	}, nil
}

// ValidateToken 校验 access token，返回租户 id
func (s *AuthService) ValidateToken(ctx context.Context, token string) (string, error) {
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	user, err := s.tenants.FindByID(ctx, claims.TenantID())
	if err != nil {
		return "", ErrUserNotFound
	}
	if user.Status == auth.UserStatusBanned {
		return "", ErrUserBanned
	}
	return user.ID, nil
}

// Me 当前租户及其用量
func (s *AuthService) Me(ctx context.Context, tenantID string) (*model.MeResponse, error) {
	summary, err := s.quota.Summary(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return &model.MeResponse{User: user, UsageResponse: *summary}, nil
}

// AssignPlan 为租户更换套餐，overrides 为 nil 时清除自定义限额
//
// 已有的用量计数保持不变，新限额从下一次检查开始生效。
func (s *AuthService) AssignPlan(ctx context.Context, username, planID string, overrides *plan.Overrides) (*auth.User, error) {
	user, err := s.tenants.FindByUsername(ctx, username)
	if err != nil {
		return nil, ErrUserNotFound
	}
	ok, err := s.quota.PlanExists(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownPlan
	}
	if err := s.tenants.UpdatePlan(ctx, user.ID, planID, overrides); err != nil {
		return nil, err
	}
	log.Info().Str("tenant_id", user.ID).Str("plan", planID).Msg("plan assigned")
	return s.tenants.FindByID(ctx, user.ID)
}

// SetStatus 启用或禁用租户，禁用后已签发的 token 立即失效
func (s *AuthService) SetStatus(ctx context.Context, username string, status auth.UserStatus) error {
	if !status.IsValid() {
		return ErrInvalidInput
	}
	user, err := s.tenants.FindByUsername(ctx, username)
	if err != nil {
		return ErrUserNotFound
	}
	return s.tenants.UpdateStatus(ctx, user.ID, status)
}
