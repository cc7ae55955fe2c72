package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLimiterMaxConns(t *testing.T) {
	limiter := NewConnectionLimiter(2, 100)

	require.True(t, limiter.Acquire())
	require.True(t, limiter.Acquire())
	assert.Equal(t, 2, limiter.Current())

	t.Run("超过并发上限后拒绝", func(t *testing.T) {
		assert.False(t, limiter.Acquire())
	})

	t.Run("释放后可再次获取", func(t *testing.T) {
		limiter.Release()
		assert.Equal(t, 1, limiter.Current())
		assert.True(t, limiter.Acquire())
	})
}

func TestConnectionLimiterRate(t *testing.T) {
	// 并发上限很高，但每秒只允许 3 个新建连接
	limiter := NewConnectionLimiter(1000, 3)

	granted := 0
	for i := 0; i < 10; i++ {
		if limiter.Acquire() {
			granted++
		}
	}

	assert.Equal(t, 3, granted)
}

func TestConnectionLimiterReleaseBelowZero(t *testing.T) {
	limiter := NewConnectionLimiter(4, 100)

	limiter.Release()
	assert.Equal(t, 0, limiter.Current())

	require.True(t, limiter.Acquire())
	assert.Equal(t, 1, limiter.Current())
}
