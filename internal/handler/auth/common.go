package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	httputil "botforge/internal/pkg/http"
	"botforge/internal/service"
)

// Handler 注册、登录和当前租户信息
type Handler struct {
	authService *service.AuthService
}

// NewHandler 创建认证处理器
func NewHandler(authService *service.AuthService) *Handler {
	return &Handler{authService: authService}
}

// ErrorResponse 错误响应类型别名（使用共用的 http.ErrorResponse）
type ErrorResponse = httputil.ErrorResponse

// writeAuthError 认证相关错误的状态码映射
func writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUserAlreadyExists), errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, httputil.NewErrorResponse(httputil.CodeConflict, err.Error()))
	case errors.Is(err, service.ErrPasswordTooShort):
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(httputil.CodeBadRequest, err.Error()))
	case errors.Is(err, service.ErrInvalidPassword),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrExpiredToken):
		c.JSON(http.StatusUnauthorized, httputil.NewErrorResponse(httputil.CodeUnauthorized, err.Error()))
	case errors.Is(err, service.ErrUserBanned):
		c.JSON(http.StatusForbidden, httputil.NewErrorResponse(httputil.CodeQuotaExceeded, err.Error()))
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, httputil.NewErrorResponse(httputil.CodeNotFound, err.Error()))
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("auth request failed")
		c.JSON(http.StatusInternalServerError, httputil.NewErrorResponse(httputil.CodeInternal, "internal server error"))
	}
}
