package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"botforge/internal/model"
	httputil "botforge/internal/pkg/http"
)

// Register 租户注册
// @Summary      租户注册
// @Description  注册新租户，默认使用 free 套餐
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request  body      model.RegisterRequest  true  "注册请求"
// @Success      201      {object}  map[string]interface{}
// @Failure      400      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    httputil.CodeBadRequest,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, httputil.NewSuccessResponse("注册成功", user))
}
