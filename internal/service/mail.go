// Package service 实现收件处理的核心编排逻辑。
package service

import (
	"bytes"
	"context"
	"errors"
	"net/mail"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vaultmail/maild/internal/crypto"
	"vaultmail/maild/internal/dns"
	"vaultmail/maild/internal/domain"
	"vaultmail/maild/internal/monitoring"
	"vaultmail/maild/internal/policy"
)

// Config 定义邮件服务的策略配置。
type Config struct {
	Domain              string        // 本服务接收的域名
	BlockedNetworks     []string      // CIDR 黑名单
	MaxEmailSize        int64         // 单封邮件最大字节数
	MaxRecipients       int           // 单个信封最多收件人数量
	RateLimitPerHour    int           // 单 IP 每小时配额
	EnableGreylisting   bool          // 是否启用灰名单
	GreylistDelay       time.Duration // 灰名单延迟窗口
	EnableSPF           bool          // 是否启用 SPF 校验
	EnableDKIM          bool          // 是否启用 DKIM 校验
	ValidateRecipientMX bool          // 是否校验收件域名的 MX 记录
}

// MailService 封装收件判定流水线。
//
// 持有三块策略状态（黑名单、限流器、灰名单）、DNS 解析器和
// 存储句柄，所有方法并发安全。
type MailService struct {
	store     domain.Store
	resolver  dns.Resolver
	blocklist *policy.Blocklist
	limiter   *policy.RateLimiter
	greylist  *policy.Greylist
	cfg       Config
	log       *zap.Logger
	metrics   *monitoring.Metrics
}

// NewMailService 创建邮件服务。
//
// metrics 可以为 nil（测试场景），此时不上报指标。
func NewMailService(
	store domain.Store,
	resolver dns.Resolver,
	cfg Config,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) (*MailService, error) {
	blocklist, err := policy.NewBlocklist(cfg.BlockedNetworks)
	if err != nil {
		return nil, domain.Internalf("invalid blocked network: %v", err)
	}

	return &MailService{
		store:     store,
		resolver:  resolver,
		blocklist: blocklist,
		limiter:   policy.NewRateLimiter(cfg.RateLimitPerHour),
		greylist:  policy.NewGreylist(cfg.GreylistDelay),
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
	}, nil
}

// Domain 返回服务接收的域名。
func (s *MailService) Domain() string {
	return s.cfg.Domain
}

// MaxEmailSize 返回单封邮件的最大字节数。
func (s *MailService) MaxEmailSize() int64 {
	return s.cfg.MaxEmailSize
}

// MaxRecipients 返回单个信封允许的最大收件人数量。
func (s *MailService) MaxRecipients() int {
	return s.cfg.MaxRecipients
}

// ProcessIncomingEmail 对一封投给单个收件人的邮件执行完整判定流水线。
//
// 步骤依次为：地址解析 → 灰名单 → 结构校验 → SPF → DKIM →
// MX 校验（可选）→ 邮箱查找 → 限流 → 加密 → 落库。
// 任何一步失败立即短路返回，错误分类见 domain 包。
func (s *MailService) ProcessIncomingEmail(
	ctx context.Context,
	raw []byte,
	recipient string,
	sender string,
	clientIP netip.Addr,
) error {
	start := time.Now()
	s.observeReceived(len(raw))

	s.log.Info("processing incoming email",
		zap.String("recipient", recipient),
		zap.String("sender", sender),
		zap.Stringer("client_ip", clientIP),
	)

	alias, recipientDomain, err := splitAddress(recipient)
	if err != nil {
		return s.fail("address", err)
	}

	if s.cfg.EnableGreylisting {
		key := policy.GreylistKey{IP: clientIP, From: sender, To: recipient}
		if !s.greylist.Check(key, time.Now()) {
			return s.fail("greylist", domain.ErrGreylisted)
		}
	}

	// 结构校验是健全性关卡，与 SPF/DKIM 开关无关，始终执行
	if _, err := mail.ReadMessage(bytes.NewReader(raw)); err != nil {
		return s.fail("parse", domain.WrapMail("failed to parse message", err))
	}

	if s.cfg.EnableSPF {
		ok, err := s.checkSPF(ctx, sender, clientIP)
		if err != nil {
			return s.fail("spf", err)
		}
		if !ok {
			return s.fail("spf", domain.Mailf("SPF validation failed for %s", sender))
		}
	}

	if s.cfg.EnableDKIM {
		ok, err := s.verifyDKIM(ctx, raw)
		if err != nil {
			return s.fail("dkim", err)
		}
		if !ok {
			return s.fail("dkim", domain.Mailf("DKIM validation failed"))
		}
	}

	if s.cfg.ValidateRecipientMX {
		if _, err := s.resolver.LookupMX(ctx, recipientDomain); err != nil {
			return s.fail("mx", err)
		}
	}

	// 邮箱记录不含域名，按别名（本地部分）查找
	mailbox, err := s.store.GetMailboxByAlias(ctx, alias)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return s.fail("mailbox", domain.Mailf("mailbox not found: %s", alias))
		}
		return s.fail("mailbox", err)
	}

	if !s.limiter.Allow(clientIP) {
		s.observeRateLimited()
		return s.fail("rate_limit", domain.Mailf("rate limit exceeded for %s", clientIP))
	}

	encrypted, err := crypto.EncryptEmail(raw, mailbox.PublicKey)
	if err != nil {
		return s.fail("encrypt", err)
	}

	now := time.Now()
	email := &domain.Email{
		ID:               uuid.NewString(),
		MailboxID:        mailbox.ID,
		EncryptedContent: encrypted,
		ReceivedAt:       now,
	}
	if ttl := mailbox.MailTTL(); ttl > 0 {
		expiresAt := now.Add(ttl)
		email.ExpiresAt = &expiresAt
	}

	if err := s.store.SaveEmail(ctx, email); err != nil {
		return s.fail("persist", err)
	}

	s.observeStored(time.Since(start))
	s.log.Debug("email stored",
		zap.String("email_id", email.ID),
		zap.String("mailbox_id", mailbox.ID),
	)
	return nil
}

// IsIPBlocked 判断 IP 是否在 CIDR 黑名单内，纯查询无副作用。
func (s *MailService) IsIPBlocked(ip netip.Addr) bool {
	return s.blocklist.Contains(ip)
}

// CheckRateLimit 消耗该 IP 的一个限流令牌，返回是否放行。
func (s *MailService) CheckRateLimit(ip netip.Addr) bool {
	return s.limiter.Allow(ip)
}

// PeekRateLimit 判断该 IP 是否尚有限流余量，不消耗令牌。
func (s *MailService) PeekRateLimit(ip netip.Addr) bool {
	return s.limiter.Peek(ip)
}

// GetMailboxEmails 返回邮箱内所有未过期邮件。
func (s *MailService) GetMailboxEmails(ctx context.Context, mailboxID string) ([]domain.Email, error) {
	return s.store.GetMailboxEmails(ctx, mailboxID)
}

// checkSPF 是 SPF 校验挂载点。
//
// 真实实现尚未接入，当前一律放行；保留独立步骤和完整入参，
// 替换实现时无需改动流水线结构。
func (s *MailService) checkSPF(_ context.Context, sender string, clientIP netip.Addr) (bool, error) {
	s.log.Warn("SPF checking is not implemented, passing",
		zap.String("sender", sender),
		zap.Stringer("client_ip", clientIP),
	)
	return true, nil
}

// verifyDKIM 是 DKIM 校验挂载点，契约同 checkSPF。
func (s *MailService) verifyDKIM(_ context.Context, _ []byte) (bool, error) {
	s.log.Warn("DKIM verification is not implemented, passing")
	return true, nil
}

// fail 记录流水线失败并返回原错误。
func (s *MailService) fail(stage string, err error) error {
	if s.metrics != nil {
		s.metrics.PipelineFailures.WithLabelValues(stage).Inc()
	}
	if errors.Is(err, domain.ErrGreylisted) {
		s.log.Debug("pipeline deferred", zap.String("stage", stage), zap.Error(err))
	} else {
		s.log.Warn("pipeline failed", zap.String("stage", stage), zap.Error(err))
	}
	return err
}

func (s *MailService) observeReceived(size int) {
	if s.metrics == nil {
		return
	}
	s.metrics.MessagesReceived.Inc()
	s.metrics.EmailSize.Observe(float64(size))
}

func (s *MailService) observeStored(elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.MessagesStored.Inc()
	s.metrics.EmailProcessingTime.Observe(elapsed.Seconds())
}

func (s *MailService) observeRateLimited() {
	if s.metrics != nil {
		s.metrics.RateLimitBlocks.Inc()
	}
}

// splitAddress 把收件地址拆分为本地部分和域名。
func splitAddress(address string) (local, domainPart string, err error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", domain.Mailf("malformed recipient address: %s", address)
	}
	return addr[:at], addr[at+1:], nil
}
