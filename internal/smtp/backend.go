package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"vaultmail/maild/internal/domain"
	"vaultmail/maild/internal/monitoring"
	"vaultmail/maild/internal/pool"
	"vaultmail/maild/internal/service"
)

// defaultProcessTimeout 限制一封邮件在协程池内的总处理时间，
// 包含排队等待。超时对发送方表现为 451。
const defaultProcessTimeout = 30 * time.Second

var (
	errTooManyConns = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "too many connections, try again later",
	}
	errAccessDenied = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
		Message:      "access denied",
	}
	errRateLimited = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 1},
		Message:      "rate limit exceeded, try again later",
	}
	errGreylisted = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 1},
		Message:      "greylisted, please retry later",
	}
	errTransient = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary local error, try again later",
	}
	errBadRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "invalid recipient address",
	}
	errTooManyRcpts = &gosmtp.SMTPError{
		Code:         452,
		EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
		Message:      "too many recipients",
	}
	errNoRecipients = &gosmtp.SMTPError{
		Code:         503,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "no valid recipients",
	}
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 服务器：邮件进入判定流水线后被
// 加密落库，永远不会被转发，因此不存在开放中继的风险。
//
// 连接建立时执行准入控制：
//  1. 并发与新建速率超限 → 421
//  2. 来源 IP 在黑名单中 → 554
//  3. 来源 IP 限流配额已耗尽 → 451（快速路径，不消耗令牌）
type Backend struct {
	service *service.MailService
	workers *pool.WorkerPool
	limiter *ConnectionLimiter
	log     *zap.Logger
	metrics *monitoring.Metrics

	processTimeout time.Duration
}

// NewBackend 创建 SMTP Backend。
func NewBackend(
	svc *service.MailService,
	workers *pool.WorkerPool,
	limiter *ConnectionLimiter,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) *Backend {
	return &Backend{
		service:        svc,
		workers:        workers,
		limiter:        limiter,
		log:            log,
		metrics:        metrics,
		processTimeout: defaultProcessTimeout,
	}
}

// NewSession 创建新的 SMTP 会话，会话建立即执行准入检查。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ip := remoteAddr(c)

	if !b.limiter.Acquire() {
		b.rejected("limiter_full")
		return nil, errTooManyConns
	}

	if b.service.IsIPBlocked(ip) {
		b.limiter.Release()
		b.rejected("blocked")
		b.log.Warn("connection from blocked address", zap.Stringer("client_ip", ip))
		return nil, errAccessDenied
	}

	if !b.service.PeekRateLimit(ip) {
		b.limiter.Release()
		b.rejected("rate_limited")
		return nil, errRateLimited
	}

	if b.metrics != nil {
		b.metrics.ConnectionsTotal.Inc()
		b.metrics.ConnectionsActive.Inc()
	}

	return &session{
		backend:  b,
		clientIP: ip,
	}, nil
}

func (b *Backend) rejected(reason string) {
	if b.metrics != nil {
		b.metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	}
}

type session struct {
	backend     *Backend
	clientIP    netip.Addr
	fromAddress string
	recipients  []string
}

// Mail 处理 MAIL 命令。
//
// 空发件人（退信通知）按 RFC 允许通过，地址本身的校验留给
// 判定流水线。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 这里只做语法检查，收件人是否存在推迟到 Data 阶段统一判定，
// 避免在 RCPT 上暴露邮箱探测信道。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	if !strings.Contains(addr, "@") {
		return errBadRecipient
	}

	if limit := s.backend.service.MaxRecipients(); limit > 0 && len(s.recipients) >= limit {
		return errTooManyRcpts
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
//
// 每个收件人独立走一遍判定流水线。内容类失败（邮箱不存在、
// 解析失败、加密失败）只记录日志，对发送方统一表现为 250，
// 不泄露邮箱是否存在；灰名单与存储故障返回 451 让发送方重试。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		// 超过 MaxMessageBytes 时 go-smtp 在此注入 552
		return err
	}

	if len(s.recipients) == 0 {
		return errNoRecipients
	}

	b := s.backend
	ctx, cancel := context.WithTimeout(context.Background(), b.processTimeout)
	defer cancel()

	results := make([]error, len(s.recipients))
	err = b.workers.Do(ctx, func(taskCtx context.Context) error {
		for i, rcpt := range s.recipients {
			results[i] = b.service.ProcessIncomingEmail(taskCtx, raw, rcpt, s.fromAddress, s.clientIP)
		}
		return nil
	})
	if err != nil {
		b.log.Warn("message processing timed out",
			zap.Stringer("client_ip", s.clientIP),
			zap.Error(err),
		)
		return errTransient
	}

	var delivered, deferred, transient int
	for i, rerr := range results {
		switch {
		case rerr == nil:
			delivered++
		case errors.Is(rerr, domain.ErrGreylisted):
			deferred++
		case domain.KindOf(rerr) == domain.KindDatabase:
			transient++
			b.log.Error("message persistence failed",
				zap.String("recipient", s.recipients[i]),
				zap.Error(rerr),
			)
		default:
			b.log.Info("message dropped",
				zap.String("recipient", s.recipients[i]),
				zap.Error(rerr),
			)
		}
	}

	// 只要有一个收件人成功入库就确认整封邮件：对已入库的收件人
	// 而言，让发送方整封重试会造成重复投递。
	if delivered > 0 {
		return nil
	}
	if transient > 0 {
		return errTransient
	}
	if deferred > 0 {
		return errGreylisted
	}
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	s.backend.limiter.Release()
	if s.backend.metrics != nil {
		s.backend.metrics.ConnectionsActive.Dec()
	}
	return nil
}

// remoteAddr 从连接中提取客户端 IP，IPv4 映射地址统一展开。
func remoteAddr(c *gosmtp.Conn) netip.Addr {
	if tcp, ok := c.Conn().RemoteAddr().(*net.TCPAddr); ok {
		if ip, ok := netip.AddrFromSlice(tcp.IP); ok {
			return ip.Unmap()
		}
	}
	if ap, err := netip.ParseAddrPort(c.Conn().RemoteAddr().String()); err == nil {
		return ap.Addr().Unmap()
	}
	return netip.IPv4Unspecified()
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
