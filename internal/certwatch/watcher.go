// Package certwatch 实现基于轮询的证书文件变更检测。
//
// 刻意不用 inotify：容器和网络文件系统上 inotify 事件不可靠，
// 周期性 stat 对比才能稳定发现证书轮换。
package certwatch

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
)

type fileState struct {
	modTime time.Time
	size    int64
	exists  bool
}

// Watcher 周期性检查一组文件，任一文件变化时发出重启信号。
type Watcher struct {
	paths    []string
	interval time.Duration
	log      *zap.Logger
	changes  chan struct{}
	states   map[string]fileState
}

// NewWatcher 创建文件监视器。
func NewWatcher(paths []string, interval time.Duration, log *zap.Logger) *Watcher {
	w := &Watcher{
		paths:    paths,
		interval: interval,
		log:      log,
		changes:  make(chan struct{}, 1),
		states:   make(map[string]fileState, len(paths)),
	}
	for _, path := range paths {
		w.states[path] = statFile(path)
	}
	return w
}

// Changes 返回变更信号通道。
//
// 通道容量为 1，一个轮询周期内的多个文件变化合并为一个信号。
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run 启动轮询循环，阻塞直到 ctx 取消。
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.poll() {
				select {
				case w.changes <- struct{}{}:
				default: // 上一个信号尚未被消费，合并
				}
			}
		}
	}
}

// poll 对比所有文件的当前状态，返回是否有变化。
func (w *Watcher) poll() bool {
	changed := false
	for _, path := range w.paths {
		current := statFile(path)
		previous := w.states[path]
		if current != previous {
			w.log.Info("watched file changed", zap.String("path", path))
			w.states[path] = current
			changed = true
		}
	}
	return changed
}

func statFile(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{exists: false}
	}
	return fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
		exists:  true,
	}
}
