package smtp

import (
	"sync"

	"golang.org/x/time/rate"
)

// ConnectionLimiter SMTP 连接限流器
//
// 并发上限防止慢客户端耗尽会话协程，新建速率上限用于吸收连接风暴。
type ConnectionLimiter struct {
	maxConns int
	current  int
	mu       sync.Mutex
	connRate *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数
//   - ratePerSec: 每秒最大新建连接数
func NewConnectionLimiter(maxConns, ratePerSec int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxConns: maxConns,
		connRate: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

// Acquire 获取连接许可
//
// 返回值:
//   - bool: 是否获取成功，失败时连接应被拒绝
func (l *ConnectionLimiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current >= l.maxConns {
		return false
	}

	if !l.connRate.Allow() {
		return false
	}

	l.current++
	return true
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
