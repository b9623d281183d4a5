// Package keylock 按 key 串行化的进程内互斥锁
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{} // 容量为 1，持有锁即占用槽位
	refs int
}

// KeyLock 不同 key 之间互不阻塞，空闲的 key 会被回收
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New 创建 KeyLock
func New() *KeyLock {
	return &KeyLock{entries: make(map[string]*entry)}
}

// Lock 获取 key 对应的锁，ctx 结束时放弃等待
//
// 成功时返回的 unlock 必须且只能调用一次。
func (l *KeyLock) Lock(ctx context.Context, key string) (unlock func(), err error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *KeyLock) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len 当前被持有或等待中的 key 数量
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
