package policy

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterQuota(t *testing.T) {
	rl := NewRateLimiter(100)
	ip := netip.MustParseAddr("192.0.2.1")

	t.Run("配额内的前100次放行_之后50次拒绝", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			assert.True(t, rl.Allow(ip), "call %d should be allowed", i+1)
		}
		for i := 100; i < 150; i++ {
			assert.False(t, rl.Allow(ip), "call %d should be limited", i+1)
		}
	})

	t.Run("不同IP之间互不影响", func(t *testing.T) {
		other := netip.MustParseAddr("198.51.100.1")
		assert.True(t, rl.Allow(other))
	})
}

func TestRateLimiterConcurrent(t *testing.T) {
	rl := NewRateLimiter(1000)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ip := netip.MustParseAddr(fmt.Sprintf("203.0.113.%d", n+1))
			for j := 0; j < 50; j++ {
				assert.True(t, rl.Allow(ip))
			}
		}(i)
	}
	wg.Wait()
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(10)
	ip := netip.MustParseAddr("192.0.2.1")
	rl.Allow(ip)

	removed := rl.Sweep(time.Hour, time.Now().Add(2*time.Hour))
	assert.Equal(t, 1, removed)

	// 回收后重建，配额重新可用
	assert.True(t, rl.Allow(ip))
}
