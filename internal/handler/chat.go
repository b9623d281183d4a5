package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"botforge/internal/model"
	"botforge/internal/model/conversation"
	"botforge/internal/service"
)

// ChatHandler 渠道消息入口
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler 创建消息处理器
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 发送一条消息并返回机器人回复
// @Summary      发送消息
// @Description  渠道（网页挂件、Slack 等）转发访客消息，返回机器人回复。同一 session_id 共享一个会话
// @Tags         对话
// @Accept       json
// @Produce      json
// @Param        request  body      model.ChatRequest  true  "消息"
// @Success      200      {object}  model.ChatResponse
// @Failure      400      {object}  ErrorResponse       "参数错误或机器人已停用"
// @Failure      403      {object}  QuotaErrorResponse  "超出套餐限额"
// @Failure      404      {object}  ErrorResponse       "机器人不存在"
// @Failure      503      {object}  ErrorResponse       "模型服务暂不可用"
// @Router       /chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	result, err := h.chatService.Chat(c.Request.Context(), &service.ChatInput{
		BotID:     req.BotID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Visitor:   conversation.Visitor{Name: req.UserName, Email: req.UserEmail},
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.ChatResponse{
		Message:        result.Message,
		ConversationID: result.ConversationID,
		SessionID:      result.SessionID,
	})
}
