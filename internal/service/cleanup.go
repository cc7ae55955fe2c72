package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CleanupExpired 执行一轮过期数据清理。
//
// 先清邮件再清邮箱，任一失败都返回错误，但两步互不阻塞：
// 邮件清理失败不妨碍邮箱清理执行。
func (s *MailService) CleanupExpired(ctx context.Context) error {
	s.log.Info("running cleanup for expired emails and mailboxes")

	var firstErr error

	emails, err := s.store.CleanupExpiredEmails(ctx)
	if err != nil {
		s.log.Error("failed to cleanup expired emails", zap.Error(err))
		firstErr = err
	} else if emails > 0 {
		s.log.Info("expired emails cleaned up", zap.Int("count", emails))
		if s.metrics != nil {
			s.metrics.ExpiredEmails.Add(float64(emails))
		}
	}

	mailboxes, err := s.store.CleanupExpiredMailboxes(ctx)
	if err != nil {
		s.log.Error("failed to cleanup expired mailboxes", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	} else if mailboxes > 0 {
		s.log.Info("expired mailboxes cleaned up", zap.Int("count", mailboxes))
		if s.metrics != nil {
			s.metrics.ExpiredMailboxes.Add(float64(mailboxes))
		}
	}

	return firstErr
}

// RunCleanup 周期性执行清理任务，阻塞直到 ctx 取消。
//
// 每轮额外回收灰名单中超过 2×延迟窗口的陈旧条目（包括从不
// 重试的一次性探测）和限流器的空闲 IP 条目。单轮失败只记日志，
// 循环永不退出。
func (s *MailService) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("starting cleanup task", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("cleanup task stopped")
			return
		case <-ticker.C:
			if err := s.CleanupExpired(ctx); err != nil {
				if s.metrics != nil {
					s.metrics.CleanupErrors.Inc()
				}
			}

			now := time.Now()
			if removed := s.greylist.Sweep(2*s.cfg.GreylistDelay, now); removed > 0 {
				s.log.Debug("greylist entries swept", zap.Int("count", removed))
			}
			s.limiter.Sweep(2*time.Hour, now)

			if s.metrics != nil {
				s.metrics.CleanupRuns.Inc()
				s.metrics.GreylistEntries.Set(float64(s.greylist.Len()))
			}
		}
	}
}
