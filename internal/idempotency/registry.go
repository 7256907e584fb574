package idempotency

import (
	"sync"
	"time"
)

// Registry 进程内在飞构建注册表
//
// 同一个指纹的构建正在执行时，后到的请求直接拿到 pending 响应
// 而不是重新计算。条目随进程创建、在构建完成时移除；跨进程的
// 去重由 Redis 声明负责，这里只挡住同进程的并发重复。
type Registry struct {
	mu       sync.Mutex
	inflight map[string]time.Time
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		inflight: make(map[string]time.Time),
	}
}

// Begin 登记一次构建
//
// 返回 true 表示登记成功、调用方持有执行权；返回 false 表示同键
// 构建已在飞，调用方应返回 pending 标记。
func (r *Registry) Begin(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.inflight[key]; ok {
		return false
	}
	r.inflight[key] = time.Now()
	return true
}

// Finish 移除登记（构建成功与失败都必须调用）
func (r *Registry) Finish(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, key)
}

// InFlight 查询在飞构建的开始时间
func (r *Registry) InFlight(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	startedAt, ok := r.inflight[key]
	return startedAt, ok
}

// Len 当前在飞构建数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
