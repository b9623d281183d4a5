package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"botforge/internal/pkg/ctxutil"
	httputil "botforge/internal/pkg/http"
)

// GetMe 获取当前租户信息
// @Summary      获取当前租户信息
// @Description  返回账号、套餐、生效限额和本期用量
// @Tags         认证
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Router       /auth/me [get]
func (h *Handler) GetMe(c *gin.Context) {
	tenantID, ok := ctxutil.TenantID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    httputil.CodeUnauthorized,
			Message: "未授权",
		})
		return
	}

	me, err := h.authService.Me(c.Request.Context(), tenantID)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse("success", me))
}
