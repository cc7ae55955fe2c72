package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolDo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewWorkerPool(4, 16)
	p.Start(ctx)
	defer p.Stop()

	t.Run("同步执行并返回任务结果", func(t *testing.T) {
		boom := errors.New("boom")
		err := p.Do(context.Background(), func(context.Context) error {
			return boom
		})
		assert.Equal(t, boom, err)

		err = p.Do(context.Background(), func(context.Context) error {
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("任务超时返回context错误而不是挂起", func(t *testing.T) {
		doCtx, doCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer doCancel()

		err := p.Do(doCtx, func(taskCtx context.Context) error {
			<-taskCtx.Done()
			return taskCtx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("并发提交全部完成", func(t *testing.T) {
		var count atomic.Int64
		done := make(chan struct{}, 32)
		for i := 0; i < 32; i++ {
			go func() {
				err := p.Do(context.Background(), func(context.Context) error {
					count.Add(1)
					return nil
				})
				require.NoError(t, err)
				done <- struct{}{}
			}()
		}
		for i := 0; i < 32; i++ {
			<-done
		}
		assert.Equal(t, int64(32), count.Load())
	})
}

func TestWorkerPoolTrySubmit(t *testing.T) {
	// 不启动 worker，队列容量 1，第二个任务必然排不进去
	p := NewWorkerPool(1, 1)

	require.NoError(t, p.TrySubmit(func() {}))
	assert.ErrorIs(t, p.TrySubmit(func() {}), ErrPoolSaturated)
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewWorkerPool(1, 4)
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, p.TrySubmit(func() { panic("worker must survive") }))

	// panic 后 worker 仍能处理后续任务
	err := p.Do(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
}
