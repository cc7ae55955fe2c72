package domain

import "time"

// Email 表示一封已加密存储的邮件。
//
// EncryptedContent 是 base64 编码的密文，明文绝不落库。
// 记录在收件时创建一次，此后不可变，只会被过期清理或用户删除。
type Email struct {
	ID               string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID        string     `json:"mailboxId" gorm:"type:varchar(36);index;not null"`
	EncryptedContent string     `json:"encryptedContent" gorm:"type:text"`
	ReceivedAt       time.Time  `json:"receivedAt"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty" gorm:"index"` // nil 表示永不过期
}
