package http

// 错误码
const (
	CodeBadRequest    = 40001
	CodeUnauthorized  = 40101
	CodeQuotaExceeded = 40301
	CodeNotFound      = 40401
	CodeConflict      = 40901
	CodeTooLarge      = 41301
	CodeInternal      = 50001
	CodeUnavailable   = 50301
)

// ErrorResponse 错误响应（所有API共用）
type ErrorResponse struct {
	Code    int    `json:"code"`             // 错误码（非0表示错误）
	Message string `json:"message"`          // 错误消息
	Detail  string `json:"detail,omitempty"` // 错误详情（可选）
}

// QuotaErrorResponse 超出套餐限额
type QuotaErrorResponse struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Limit       string `json:"limit"`        // 触发的限额名称
	UpgradeHint string `json:"upgrade_hint"` // 升级提示
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    int         `json:"code"`           // 状态码（0表示成功）
	Message string      `json:"message"`        // 响应消息
	Data    interface{} `json:"data,omitempty"` // 响应数据（可选）
}

// ListResponse 分页列表
type ListResponse struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(message string, data interface{}) *SuccessResponse {
	return &SuccessResponse{
		Code:    0,
		Message: message,
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string, detail ...string) *ErrorResponse {
	resp := &ErrorResponse{
		Code:    code,
		Message: message,
	}
	if len(detail) > 0 && detail[0] != "" {
		resp.Detail = detail[0]
	}
	return resp
}

// NewQuotaErrorResponse 创建限额错误响应
func NewQuotaErrorResponse(limit string) *QuotaErrorResponse {
	return &QuotaErrorResponse{
		Code:        CodeQuotaExceeded,
		Message:     "quota exceeded",
		Limit:       limit,
		UpgradeHint: "upgrade your plan to raise " + limit,
	}
}
