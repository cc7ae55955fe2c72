// Package sql 提供基于关系数据库的存储实现（支持 MySQL 5.7+ 和 PostgreSQL）。
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vaultmail/maild/internal/domain"
)

// Store SQL 数据库存储实现。
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储。
//
// 打开连接池、验证连通性并自动迁移表结构。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	switch driverName {
	case "mysql":
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	case "postgres":
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）。
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.Mailbox{},
		&domain.Email{},
	)
}

// GetMailboxByAlias 按别名查找邮箱。
func (s *Store) GetMailboxByAlias(ctx context.Context, alias string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.gormDB.WithContext(ctx).Where("alias = ?", alias).First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFoundf("mailbox not found: %s", alias)
		}
		return nil, domain.WrapDatabase("query mailbox failed", err)
	}
	return &mailbox, nil
}

// SaveEmail 保存一封已加密的邮件。
func (s *Store) SaveEmail(ctx context.Context, email *domain.Email) error {
	if err := s.gormDB.WithContext(ctx).Create(email).Error; err != nil {
		return domain.WrapDatabase("save email failed", err)
	}
	return nil
}

// GetMailboxEmails 返回邮箱内所有未过期的邮件。
func (s *Store) GetMailboxEmails(ctx context.Context, mailboxID string) ([]domain.Email, error) {
	var emails []domain.Email
	err := s.gormDB.WithContext(ctx).
		Where("mailbox_id = ?", mailboxID).
		Where("expires_at IS NULL OR expires_at >= ?", time.Now()).
		Order("received_at").
		Find(&emails).Error
	if err != nil {
		return nil, domain.WrapDatabase("query emails failed", err)
	}
	return emails, nil
}

// CleanupExpiredEmails 删除所有已过期的邮件，返回删除数量。
func (s *Store) CleanupExpiredEmails(ctx context.Context) (int, error) {
	result := s.gormDB.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Delete(&domain.Email{})
	if result.Error != nil {
		return 0, domain.WrapDatabase("cleanup expired emails failed", result.Error)
	}
	return int(result.RowsAffected), nil
}

// CleanupExpiredMailboxes 删除所有已过期的邮箱及其邮件，返回删除的邮箱数量。
func (s *Store) CleanupExpiredMailboxes(ctx context.Context) (int, error) {
	now := time.Now()

	// 先删孤儿邮件再删邮箱，两步各自原子即可，残留邮件会被下一轮清理
	err := s.gormDB.WithContext(ctx).
		Where("mailbox_id IN (?)", s.gormDB.Model(&domain.Mailbox{}).
			Select("id").
			Where("expires_at IS NOT NULL AND expires_at < ?", now)).
		Delete(&domain.Email{}).Error
	if err != nil {
		return 0, domain.WrapDatabase("cleanup mailbox emails failed", err)
	}

	result := s.gormDB.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&domain.Mailbox{})
	if result.Error != nil {
		return 0, domain.WrapDatabase("cleanup expired mailboxes failed", result.Error)
	}
	return int(result.RowsAffected), nil
}

// Health 检查数据库健康状态。
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
