package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"botforge/internal/ai"
	"botforge/internal/pkg/ctxutil"
	httputil "botforge/internal/pkg/http"
	"botforge/internal/service"
)

// ErrorResponse 错误响应类型别名（使用共用的 http.ErrorResponse）
type ErrorResponse = httputil.ErrorResponse

// QuotaErrorResponse 限额错误响应
type QuotaErrorResponse = httputil.QuotaErrorResponse

// writeError 把 service 层错误映射为 HTTP 状态码和错误码
//
// 服务端错误只返回笼统的消息，细节写日志。
func writeError(c *gin.Context, err error) {
	var qe *service.QuotaExceededError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &qe):
		c.JSON(http.StatusForbidden, httputil.NewQuotaErrorResponse(qe.Limit))
	case errors.Is(err, service.ErrBotNotFound),
		errors.Is(err, service.ErrSourceNotFound),
		errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, httputil.NewErrorResponse(httputil.CodeNotFound, err.Error()))
	case errors.Is(err, service.ErrBotInactive),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, ai.ErrUnknownProvider),
		errors.Is(err, ai.ErrUnknownModel):
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(httputil.CodeBadRequest, err.Error()))
	case errors.Is(err, service.ErrSourceBusy):
		c.JSON(http.StatusConflict, httputil.NewErrorResponse(httputil.CodeConflict, err.Error()))
	case errors.As(err, &tooLarge), errors.Is(err, service.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, httputil.NewErrorResponse(httputil.CodeTooLarge, service.ErrFileTooLarge.Error()))
	case errors.Is(err, service.ErrProviderUnavailable):
		log.Warn().Err(err).Str("path", c.FullPath()).Msg("provider unavailable")
		c.JSON(http.StatusServiceUnavailable, httputil.NewErrorResponse(httputil.CodeUnavailable, "model provider is temporarily unavailable, please retry"))
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, httputil.NewErrorResponse(httputil.CodeInternal, "internal server error"))
	}
}

// badRequest 请求体或参数不合法
func badRequest(c *gin.Context, message string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(httputil.CodeBadRequest, message, detail))
}

// tenantID 从认证中间件注入的 context 中读取租户，缺失时直接返回 401
func tenantID(c *gin.Context) (string, bool) {
	id, found := ctxutil.TenantID(c.Request.Context())
	if !found {
		c.JSON(http.StatusUnauthorized, httputil.NewErrorResponse(httputil.CodeUnauthorized, "未授权"))
		return "", false
	}
	return id, true
}

// respond 成功响应
func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, httputil.NewSuccessResponse(message, data))
}
