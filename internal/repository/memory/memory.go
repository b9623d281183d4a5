// Package memory 进程内存储实现
//
// 未配置 MongoDB 时作为运行时存储，同时供服务层测试使用。读写都返回副本，
// 调用方拿到的对象与存储内部状态互不影响。
package memory

import (
	"time"

	"botforge/internal/repository"
)

// New 创建全部进程内存储
func New() repository.Stores {
	return NewWithClock(time.Now)
}

// NewWithClock 使用指定时钟创建存储，便于测试时钟回拨与跨月
func NewWithClock(now func() time.Time) repository.Stores {
	return repository.Stores{
		Bots:          NewBotRepo(),
		Sources:       NewSourceRepo(),
		Conversations: NewConversationRepo(now),
		Usage:         NewUsageRepo(now),
		Plans:         NewPlanRepo(),
		Tenants:       NewTenantRepo(),
	}
}
