package policy

import (
	"hash/fnv"
	"net/netip"
	"sync"
	"time"
)

const greylistShards = 32

// GreylistKey 以 (客户端IP, 发件人, 收件人) 三元组标识一次投递尝试。
type GreylistKey struct {
	IP   netip.Addr
	From string
	To   string
}

func (k GreylistKey) shard() uint32 {
	h := fnv.New32a()
	h.Write([]byte(k.IP.String()))
	h.Write([]byte{0})
	h.Write([]byte(k.From))
	h.Write([]byte{0})
	h.Write([]byte(k.To))
	return h.Sum32() % greylistShards
}

type greylistShard struct {
	mu        sync.Mutex
	firstSeen map[GreylistKey]time.Time
}

// Greylist 记录三元组的首次出现时间，实现经典灰名单。
//
// 首次出现时插入并拒绝；延迟窗口内重试仍拒绝；窗口过后放行并
// 删除条目（一次性通过）。条目按分片存储，锁粒度为分片。
type Greylist struct {
	shards [greylistShards]*greylistShard
	delay  time.Duration
}

// NewGreylist 创建灰名单，delay 是投递方必须等待的重试间隔。
func NewGreylist(delay time.Duration) *Greylist {
	g := &Greylist{delay: delay}
	for i := range g.shards {
		g.shards[i] = &greylistShard{firstSeen: make(map[GreylistKey]time.Time)}
	}
	return g
}

// Delay 返回灰名单延迟窗口。
func (g *Greylist) Delay() time.Duration {
	return g.delay
}

// Check 对一次投递尝试做灰名单判定。
//
// 返回 true 表示放行（延迟已过，条目被删除，下次同三元组视为全新）；
// 返回 false 表示应临时拒绝（首见已登记，或仍在延迟窗口内）。
func (g *Greylist) Check(key GreylistKey, now time.Time) bool {
	shard := g.shards[key.shard()]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	firstSeen, ok := shard.firstSeen[key]
	if !ok {
		shard.firstSeen[key] = now
		return false
	}
	if now.Sub(firstSeen) < g.delay {
		return false
	}

	// 一次性放行，删除后同一三元组重新走首见流程
	delete(shard.firstSeen, key)
	return true
}

// Sweep 删除首见时间早于 now-maxAge 的所有条目，返回删除数量。
//
// 一次性探测（从不重试的三元组）也会被回收，防止内存无限增长。
// 调用方以 2×delay 作为 maxAge。
func (g *Greylist) Sweep(maxAge time.Duration, now time.Time) int {
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, shard := range g.shards {
		shard.mu.Lock()
		for key, firstSeen := range shard.firstSeen {
			if firstSeen.Before(cutoff) {
				delete(shard.firstSeen, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Len 返回当前条目总数，用于指标上报。
func (g *Greylist) Len() int {
	total := 0
	for _, shard := range g.shards {
		shard.mu.Lock()
		total += len(shard.firstSeen)
		shard.mu.Unlock()
	}
	return total
}
