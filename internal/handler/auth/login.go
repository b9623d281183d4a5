package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"botforge/internal/model"
	httputil "botforge/internal/pkg/http"
)

// Login 租户登录
// @Summary      租户登录
// @Description  用户名密码登录，返回 Access Token
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request  body      model.LoginRequest  true  "登录请求"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Router       /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    httputil.CodeBadRequest,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse("登录成功", resp))
}
