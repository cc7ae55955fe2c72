package policy

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterShards = 32

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterShard struct {
	mu      sync.Mutex
	entries map[netip.Addr]*limiterEntry
}

// RateLimiter 按客户端 IP 做令牌桶限流。
//
// 每个 IP 独立一个桶：容量等于小时配额，令牌按配额速率匀速补充。
// 状态只存在于进程内存中，不做持久化。
type RateLimiter struct {
	shards  [limiterShards]*limiterShard
	perHour int
}

// NewRateLimiter 创建限流器，perHour 是单 IP 每小时允许的邮件数。
func NewRateLimiter(perHour int) *RateLimiter {
	r := &RateLimiter{perHour: perHour}
	for i := range r.shards {
		r.shards[i] = &limiterShard{entries: make(map[netip.Addr]*limiterEntry)}
	}
	return r
}

// Allow 消耗一个令牌，返回是否放行。
//
// 并发安全；不同 IP 落在不同分片上，互不阻塞。
func (r *RateLimiter) Allow(ip netip.Addr) bool {
	ip = ip.Unmap()
	shard := r.shards[addrShard(ip)]

	shard.mu.Lock()
	entry, ok := shard.entries[ip]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(r.perHour)/3600.0), r.perHour),
		}
		shard.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	shard.mu.Unlock()

	return entry.limiter.Allow()
}

// Peek 判断该 IP 当前是否还有可用令牌，不消耗令牌。
//
// 用于连接建立时的快速路径威慑，真正的配额扣减发生在
// 每封邮件的流水线里。
func (r *RateLimiter) Peek(ip netip.Addr) bool {
	ip = ip.Unmap()
	shard := r.shards[addrShard(ip)]

	shard.mu.Lock()
	entry, ok := shard.entries[ip]
	shard.mu.Unlock()
	if !ok {
		return true
	}
	return entry.limiter.Tokens() >= 1
}

// Sweep 回收空闲超过 idle 的 IP 条目，返回删除数量。
//
// 空闲一小时以上的桶必然已回满，删除后重建不改变限流语义。
func (r *RateLimiter) Sweep(idle time.Duration, now time.Time) int {
	cutoff := now.Add(-idle)
	removed := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		for ip, entry := range shard.entries {
			if entry.lastSeen.Before(cutoff) {
				delete(shard.entries, ip)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

func addrShard(ip netip.Addr) uint32 {
	raw := ip.As16()
	var sum uint32
	for _, b := range raw {
		sum = sum*31 + uint32(b)
	}
	return sum % limiterShards
}
