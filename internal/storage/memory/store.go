package memory

import (
	"context"
	"sync"
	"time"

	"vaultmail/maild/internal/domain"
)

// Store 使用内存保存邮箱与邮件数据，用于开发模式和测试。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox
	byAlias   map[string]string                       // alias -> mailboxID
	emails    map[string]map[string]*domain.Email     // mailboxID -> emailID -> email
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]*domain.Mailbox),
		byAlias:   make(map[string]string),
		emails:    make(map[string]map[string]*domain.Email),
	}
}

// SaveMailbox 保存邮箱。收件核心本身不创建邮箱，此方法服务于
// 开发模式的初始数据和测试装配。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *mailbox
	s.mailboxes[copied.ID] = &copied
	s.byAlias[copied.Alias] = copied.ID
	return nil
}

// GetMailboxByAlias 按别名（本地部分）查找邮箱。
func (s *Store) GetMailboxByAlias(_ context.Context, alias string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAlias[alias]
	if !ok {
		return nil, domain.NotFoundf("mailbox not found: %s", alias)
	}
	mailbox := *s.mailboxes[id]
	return &mailbox, nil
}

// SaveEmail 保存一封已加密的邮件。
func (s *Store) SaveEmail(_ context.Context, email *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[email.MailboxID]; !ok {
		return domain.Databasef("mailbox %s does not exist", email.MailboxID)
	}

	copied := *email
	if s.emails[copied.MailboxID] == nil {
		s.emails[copied.MailboxID] = make(map[string]*domain.Email)
	}
	s.emails[copied.MailboxID][copied.ID] = &copied
	return nil
}

// GetMailboxEmails 返回邮箱内所有未过期的邮件。
func (s *Store) GetMailboxEmails(_ context.Context, mailboxID string) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	result := make([]domain.Email, 0, len(s.emails[mailboxID]))
	for _, email := range s.emails[mailboxID] {
		if email.ExpiresAt != nil && email.ExpiresAt.Before(now) {
			continue
		}
		result = append(result, *email)
	}
	return result, nil
}

// CleanupExpiredEmails 删除所有已过期的邮件，返回删除数量。
func (s *Store) CleanupExpiredEmails(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for mailboxID, emails := range s.emails {
		for id, email := range emails {
			if email.ExpiresAt != nil && email.ExpiresAt.Before(now) {
				delete(emails, id)
				removed++
			}
		}
		if len(emails) == 0 {
			delete(s.emails, mailboxID)
		}
	}
	return removed, nil
}

// CleanupExpiredMailboxes 删除所有已过期的邮箱及其邮件，返回删除数量。
func (s *Store) CleanupExpiredMailboxes(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, mailbox := range s.mailboxes {
		if mailbox.ExpiresAt != nil && mailbox.ExpiresAt.Before(now) {
			delete(s.byAlias, mailbox.Alias)
			delete(s.mailboxes, id)
			delete(s.emails, id)
			removed++
		}
	}
	return removed, nil
}

// Health 实现存储健康检查，内存存储永远健康。
func (s *Store) Health() error {
	return nil
}

// Close 实现 Store 接口，内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}
