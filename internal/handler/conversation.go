package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	httputil "botforge/internal/pkg/http"
	"botforge/internal/service"
)

// ConversationHandler 会话查询
type ConversationHandler struct {
	conversationService *service.ConversationService
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(conversationService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// List 分页列出机器人的会话，最近活跃的在前
// @Summary      会话列表
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        bot_id  path      string  true   "机器人ID"
// @Param        limit   query     int     false  "每页条数，默认 20，最大 100"
// @Param        offset  query     int     false  "偏移量"
// @Success      200     {object}  map[string]interface{}
// @Failure      400     {object}  ErrorResponse
// @Failure      404     {object}  ErrorResponse
// @Router       /conversations/{bot_id} [get]
func (h *ConversationHandler) List(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, "Invalid limit", err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		badRequest(c, "Invalid offset", err)
		return
	}

	page, err := h.conversationService.List(c.Request.Context(), tenant, c.Param("bot_id"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", httputil.ListResponse{
		Items:  page.Items,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// Messages 会话的全部消息，按时间正序
// @Summary      会话消息
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        conversation_id  path      string  true  "会话ID"
// @Success      200              {object}  map[string]interface{}
// @Failure      404              {object}  ErrorResponse
// @Router       /messages/{conversation_id} [get]
func (h *ConversationHandler) Messages(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	msgs, err := h.conversationService.Messages(c.Request.Context(), tenant, c.Param("conversation_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", msgs)
}

// queryInt 读取整数查询参数，缺省为 0
func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
