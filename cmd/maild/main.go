package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vaultmail/maild/internal/config"
	"vaultmail/maild/internal/dns"
	"vaultmail/maild/internal/domain"
	"vaultmail/maild/internal/health"
	"vaultmail/maild/internal/logger"
	"vaultmail/maild/internal/monitoring"
	"vaultmail/maild/internal/pool"
	"vaultmail/maild/internal/service"
	"vaultmail/maild/internal/smtp"
	"vaultmail/maild/internal/storage/memory"
	sqlstore "vaultmail/maild/internal/storage/sql"
)

const (
	mxLookupTimeout = 5 * time.Second
	poolWorkers     = 32
	poolQueueSize   = 256
)

// main 启动加密收件服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting maild",
		zap.String("domain", cfg.SMTP.Domain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("tls_enabled", cfg.TLS != nil),
	)

	// 初始化存储层
	var store domain.Store
	if cfg.Database.Type != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, log)

	// 初始化服务层
	resolver := dns.NewMXResolver(nil, mxLookupTimeout)
	mailService, err := service.NewMailService(store, resolver, service.Config{
		Domain:              cfg.SMTP.Domain,
		BlockedNetworks:     cfg.Policy.BlockedNetworks,
		MaxEmailSize:        cfg.SMTP.MaxEmailSize,
		MaxRecipients:       cfg.SMTP.MaxRecipients,
		RateLimitPerHour:    cfg.Policy.RateLimitPerHour,
		EnableGreylisting:   cfg.Policy.EnableGreylisting,
		GreylistDelay:       cfg.Policy.GreylistDelay,
		EnableSPF:           cfg.Policy.EnableSPF,
		EnableDKIM:          cfg.Policy.EnableDKIM,
		ValidateRecipientMX: cfg.Policy.ValidateRecipientMX,
	}, log, metrics)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize mail service: %v", err))
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 协程池承载邮件处理任务
	workers := pool.NewWorkerPool(poolWorkers, poolQueueSize)
	workers.Start(ctx)
	defer workers.Stop()

	// SMTP 服务器
	connLimiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.ConnRatePerSec)
	backend := smtp.NewBackend(mailService, workers, connLimiter, log, metrics)
	supervisor := smtp.NewSupervisor(cfg, backend, log, metrics)

	group, groupCtx := errgroup.WithContext(ctx)

	// SMTP 监听 goroutine
	group.Go(func() error {
		return supervisor.Run(groupCtx)
	})

	// 定时清理过期数据 goroutine
	group.Go(func() error {
		mailService.RunCleanup(groupCtx, cfg.Cleanup.Interval)
		return nil
	})

	// 指标与健康检查 HTTP 服务 goroutine
	if cfg.Metrics.BindAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler())
		mux.HandleFunc("/health/live", healthChecker.LiveEndpoint())
		mux.HandleFunc("/health/ready", healthChecker.ReadyEndpoint())

		metricsServer := &http.Server{
			Addr:         cfg.Metrics.BindAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		group.Go(func() error {
			log.Info("starting metrics server", zap.String("address", cfg.Metrics.BindAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", zap.Error(err))
				return err
			}
			return nil
		})

		group.Go(func() error {
			<-groupCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error("metrics server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
