package pool

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolSaturated 表示任务队列已满且调用方不愿等待。
var ErrPoolSaturated = errors.New("worker pool saturated")

// WorkerPool 协程池
//
// 用于限制并发协程数量，避免创建过多协程导致资源耗尽。
// SMTP 会话通过 Do 把处理任务桥接到这里：会话协程同步等待结果，
// 而实际执行受池容量约束，慢存储不会造成无界的协程堆积。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int) *WorkerPool {
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
	}
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Do 提交任务并同步等待其完成。
//
// 调用方协程阻塞在结果上，但受 ctx 超时约束：队列排不进去或
// 任务超时都会返回 ctx 的错误而不是永远挂起。超时后任务可能
// 仍会被执行，任务内部必须尊重传入的 ctx。
func (p *WorkerPool) Do(ctx context.Context, task func(context.Context) error) error {
	result := make(chan error, 1)
	wrapped := func() {
		result <- task(ctx)
	}

	select {
	case p.taskQueue <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试异步提交任务
//
// 如果队列已满，立即返回 ErrPoolSaturated。
func (p *WorkerPool) TrySubmit(task func()) error {
	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Stop 停止协程池
func (p *WorkerPool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}

			// 执行任务（捕获 panic）
			func() {
				defer func() {
					_ = recover()
				}()
				task()
			}()
		}
	}
}
