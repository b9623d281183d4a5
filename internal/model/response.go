package model

import (
	"botforge/internal/model/auth"
	"botforge/internal/model/plan"
	"botforge/internal/model/usage"
)

// ChatResponse 渠道消息响应
type ChatResponse struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
}

// SourceCreatedResponse 知识源已受理，异步处理
type SourceCreatedResponse struct {
	SourceID string `json:"source_id"`
	Status   string `json:"status"`
}

// LoginResponse 登录结果
type LoginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int64      `json:"expires_in"` // 秒
	User        *auth.User `json:"user"`
}

// UsageResponse 租户用量与生效限额
type UsageResponse struct {
	Plan   string       `json:"plan"`
	Limits plan.Limits  `json:"limits"`
	Usage  *usage.Usage `json:"usage"`
}

// MeResponse 当前租户
type MeResponse struct {
	User *auth.User `json:"user"`
	UsageResponse
}
