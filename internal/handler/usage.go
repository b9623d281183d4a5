package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"botforge/internal/service"
)

// UsageHandler 套餐用量
type UsageHandler struct {
	quota *service.QuotaGate
}

// NewUsageHandler 创建用量处理器
func NewUsageHandler(quota *service.QuotaGate) *UsageHandler {
	return &UsageHandler{quota: quota}
}

// Get 当前租户的套餐、生效限额和本期用量
// @Summary      用量查询
// @Tags         套餐
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}  "{\"code\": 0, \"message\": \"success\", \"data\": {\"plan\": \"free\", \"limits\": {...}, \"usage\": {...}}}"
// @Router       /usage [get]
func (h *UsageHandler) Get(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	summary, err := h.quota.Summary(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", summary)
}
