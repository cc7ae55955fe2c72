package domain

import (
	"time"
)

// Mailbox 表示接收邮件的加密邮箱实体。
//
// 邮箱由管理 API 创建和修改，本服务只读（过期清理除外）。
// PublicKey 是 base64 编码的 X25519 公钥，对应的私钥只保存在
// 邮箱所有者手中，服务端永远无法解密已存储的邮件。
type Mailbox struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Alias     string     `json:"alias" gorm:"type:varchar(255);uniqueIndex"` // 收件地址的本地部分
	Name      string     `json:"name" gorm:"type:varchar(255)"`
	PublicKey string     `json:"publicKey" gorm:"type:varchar(255)"`
	OwnerID   string     `json:"ownerId" gorm:"type:varchar(36);index"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" gorm:"index"` // 邮箱自身的过期时间，nil 表示永不过期
	// MailExpiresIn 是收到的邮件的生存时间（秒）。
	// 在收件时计算邮件的绝对过期时间，0 表示邮件永不过期。
	MailExpiresIn int64 `json:"mailExpiresIn"`
}

// MailTTL 返回邮件生存时间，0 表示不过期。
func (m *Mailbox) MailTTL() time.Duration {
	return time.Duration(m.MailExpiresIn) * time.Second
}
