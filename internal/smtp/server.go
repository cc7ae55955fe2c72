package smtp

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vaultmail/maild/internal/certwatch"
	"vaultmail/maild/internal/config"
	"vaultmail/maild/internal/monitoring"
)

// restartBackoff 是监听循环出错后重新绑定前的等待时间。
const restartBackoff = 5 * time.Second

// Supervisor 管理明文与 TLS 两个 SMTP 监听循环。
//
// 两个循环互相独立：任何一个因监听错误退出都会在退避后重新
// 绑定，而不是拖垮整个进程。TLS 循环额外接收证书轮询器的变更
// 信号，信号到来时关闭当前监听、重新加载证书再绑定，使新证书
// 无须重启进程即可生效。
type Supervisor struct {
	cfg     *config.Config
	backend *Backend
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewSupervisor 创建监听管理器，metrics 可以为 nil。
func NewSupervisor(cfg *config.Config, backend *Backend, log *zap.Logger, metrics *monitoring.Metrics) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		backend: backend,
		log:     log,
		metrics: metrics,
	}
}

// Run 启动监听循环，阻塞到 ctx 取消。
func (s *Supervisor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.runPlain(ctx)
	})

	if s.cfg.TLS != nil {
		watcher := certwatch.NewWatcher(
			[]string{s.cfg.TLS.CertPath, s.cfg.TLS.ChainPath, s.cfg.TLS.KeyPath},
			s.cfg.TLS.PollInterval,
			s.log,
		)
		group.Go(func() error {
			watcher.Run(ctx)
			return nil
		})
		group.Go(func() error {
			return s.runTLS(ctx, watcher.Changes())
		})
	}

	return group.Wait()
}

// runPlain 运行明文监听循环。
func (s *Supervisor) runPlain(ctx context.Context) error {
	for {
		srv := s.newServer(s.cfg.SMTP.BindAddr, nil)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()

		s.log.Info("SMTP listener started", zap.String("address", s.cfg.SMTP.BindAddr))

		select {
		case err := <-errCh:
			s.log.Error("SMTP listener stopped", zap.Error(err))
		case <-ctx.Done():
			_ = srv.Close()
			<-errCh
			return nil
		}

		if !s.sleepBackoff(ctx) {
			return nil
		}
	}
}

// runTLS 运行 TLS 监听循环。
//
// changes 上的每个信号都会触发一次完整的证书重载与重新绑定。
func (s *Supervisor) runTLS(ctx context.Context, changes <-chan struct{}) error {
	for {
		tlsConf, err := s.loadTLSConfig()
		if err != nil {
			s.log.Error("loading TLS certificate failed", zap.Error(err))
			if !s.sleepBackoff(ctx) {
				return nil
			}
			continue
		}

		srv := s.newServer(s.cfg.SMTP.TLSBindAddr, tlsConf)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServeTLS()
		}()

		s.log.Info("SMTPS listener started", zap.String("address", s.cfg.SMTP.TLSBindAddr))

		select {
		case err := <-errCh:
			s.log.Error("SMTPS listener stopped", zap.Error(err))
			if !s.sleepBackoff(ctx) {
				return nil
			}
		case <-changes:
			s.log.Info("certificate change detected, restarting SMTPS listener")
			if s.metrics != nil {
				s.metrics.TLSReloads.Inc()
			}
			_ = srv.Close()
			<-errCh
		case <-ctx.Done():
			_ = srv.Close()
			<-errCh
			return nil
		}
	}
}

// newServer 按统一参数构造 go-smtp 服务器。
func (s *Supervisor) newServer(addr string, tlsConf *tls.Config) *gosmtp.Server {
	srv := gosmtp.NewServer(s.backend)
	srv.Addr = addr
	srv.Domain = s.cfg.SMTP.Domain
	srv.TLSConfig = tlsConf
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = s.cfg.SMTP.MaxEmailSize
	srv.MaxRecipients = s.cfg.SMTP.MaxRecipients
	return srv
}

// loadTLSConfig 读取证书、证书链和私钥并组装 TLS 配置。
//
// 证书与证书链拼接成完整链后再解析，顺序为叶子证书在前。
func (s *Supervisor) loadTLSConfig() (*tls.Config, error) {
	certPEM, err := os.ReadFile(s.cfg.TLS.CertPath)
	if err != nil {
		return nil, err
	}
	chainPEM, err := os.ReadFile(s.cfg.TLS.ChainPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(s.cfg.TLS.KeyPath)
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(append(certPEM, chainPEM...), keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// sleepBackoff 等待重启退避时间，ctx 取消时返回 false。
func (s *Supervisor) sleepBackoff(ctx context.Context) bool {
	select {
	case <-time.After(restartBackoff):
		return true
	case <-ctx.Done():
		return false
	}
}
