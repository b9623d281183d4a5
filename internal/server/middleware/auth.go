package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"botforge/internal/pkg/ctxutil"
	httputil "botforge/internal/pkg/http"
)

// TokenValidator 校验 access token 并返回租户 id
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// Auth JWT 认证中间件
// 从 Authorization header 中提取 Bearer token，验证后注入 tenant_id 到 context
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.NewErrorResponse(httputil.CodeUnauthorized, "未授权"))
			return
		}

		// Bearer {token}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.NewErrorResponse(httputil.CodeUnauthorized, "Invalid authorization header"))
			return
		}

		tenantID, err := validator.ValidateToken(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.NewErrorResponse(httputil.CodeUnauthorized, "Token无效或已过期", err.Error()))
			return
		}

		c.Request = c.Request.WithContext(ctxutil.WithTenantID(c.Request.Context(), tenantID))
		c.Set("tenant_id", tenantID)
		c.Next()
	}
}
