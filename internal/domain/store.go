package domain

import "context"

// Store 聚合邮箱与邮件的存储接口。
//
// 所有方法都可能被多个 SMTP 连接并发调用，实现必须是并发安全的。
// 每次调用是一个独立的原子操作，不存在跨步骤事务。
type Store interface {
	// ========== Mailbox Repository ==========
	GetMailboxByAlias(ctx context.Context, alias string) (*Mailbox, error)
	CleanupExpiredMailboxes(ctx context.Context) (int, error)

	// ========== Email Repository ==========
	SaveEmail(ctx context.Context, email *Email) error
	GetMailboxEmails(ctx context.Context, mailboxID string) ([]Email, error)
	CleanupExpiredEmails(ctx context.Context) (int, error)

	// ========== Lifecycle ==========
	Health() error
	Close() error
}
