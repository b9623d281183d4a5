package model

// ChatRequest 渠道消息请求，未声明的字段被忽略
type ChatRequest struct {
	BotID     string `json:"bot_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
}

// CreateBotRequest 创建机器人
type CreateBotRequest struct {
	Name           string `json:"name" binding:"required"`
	Provider       string `json:"provider" binding:"required"`
	Model          string `json:"model" binding:"required"`
	Instructions   string `json:"instructions,omitempty"`
	WelcomeMessage string `json:"welcome_message,omitempty"`
	Active         *bool  `json:"active,omitempty"` // 默认启用
	RetrievalK     int    `json:"retrieval_k,omitempty"`
}

// UpdateBotRequest 更新机器人，只修改非空字段
type UpdateBotRequest struct {
	Name           *string `json:"name,omitempty"`
	Provider       *string `json:"provider,omitempty"`
	Model          *string `json:"model,omitempty"`
	Instructions   *string `json:"instructions,omitempty"`
	WelcomeMessage *string `json:"welcome_message,omitempty"`
	Active         *bool   `json:"active,omitempty"`
	RetrievalK     *int    `json:"retrieval_k,omitempty"`
}

// CreateURLSourceRequest 添加网页知识源
type CreateURLSourceRequest struct {
	URL string `json:"url" binding:"required"`
}

// CreateTextSourceRequest 添加文本知识源
type CreateTextSourceRequest struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text" binding:"required"`
}

// RegisterRequest 注册租户
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest 登录
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}
