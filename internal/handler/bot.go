package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"botforge/internal/model"
	"botforge/internal/service"
)

// BotHandler 机器人管理
type BotHandler struct {
	botService *service.BotService
}

// NewBotHandler 创建机器人处理器
func NewBotHandler(botService *service.BotService) *BotHandler {
	return &BotHandler{botService: botService}
}

// Create 创建机器人
// @Summary      创建机器人
// @Tags         机器人
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      model.CreateBotRequest  true  "机器人配置"
// @Success      201      {object}  map[string]interface{}
// @Failure      400      {object}  ErrorResponse
// @Failure      403      {object}  QuotaErrorResponse
// @Router       /bots [post]
func (h *BotHandler) Create(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req model.CreateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	b, err := h.botService.Create(c.Request.Context(), tenant, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, "机器人创建成功", b)
}

// List 列出当前租户的机器人
// @Summary      机器人列表
// @Tags         机器人
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Router       /bots [get]
func (h *BotHandler) List(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	bots, err := h.botService.List(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", bots)
}

// Get 机器人详情
// @Summary      机器人详情
// @Tags         机器人
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id  path      string  true  "机器人ID"
// @Success      200     {object}  map[string]interface{}
// @Failure      404     {object}  ErrorResponse
// @Router       /bots/{bot_id} [get]
func (h *BotHandler) Get(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	b, err := h.botService.Get(c.Request.Context(), tenant, c.Param("bot_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", b)
}

// Update 更新机器人，只修改请求中出现的字段
// @Summary      更新机器人
// @Tags         机器人
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id   path      string                  true  "机器人ID"
// @Param        request  body      model.UpdateBotRequest  true  "要修改的字段"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /bots/{bot_id} [put]
func (h *BotHandler) Update(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req model.UpdateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	b, err := h.botService.Update(c.Request.Context(), tenant, c.Param("bot_id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "机器人已更新", b)
}

// Delete 删除机器人及其知识源和会话
// @Summary      删除机器人
// @Tags         机器人
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id  path      string  true  "机器人ID"
// @Success      200     {object}  map[string]interface{}
// @Failure      404     {object}  ErrorResponse
// @Router       /bots/{bot_id} [delete]
func (h *BotHandler) Delete(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	if err := h.botService.Delete(c.Request.Context(), tenant, c.Param("bot_id")); err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "机器人已删除", nil)
}
