package id

import (
	"strings"

	"github.com/google/uuid"
)

// New 生成新的UUID（string格式）
func New() string {
	return uuid.New().String()
}

// IsValid 验证UUID格式是否有效
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Normalize 统一为小写的标准格式，非法 id 返回空串
func Normalize(id string) string {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return ""
	}
	return u.String()
}
