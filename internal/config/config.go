package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SMTPConfig 定义 SMTP 接收服务器的监听配置
type SMTPConfig struct {
	BindAddr       string // 明文 SMTP 监听地址，默认 ":2525"
	TLSBindAddr    string // TLS SMTP 监听地址，默认 ":4650"
	Domain         string // 服务器域名，用于 HELO/EHLO 响应和收件地址
	MaxEmailSize   int64  // 单封邮件最大字节数，默认 10MiB
	MaxRecipients  int    // 单个信封最多收件人数量，默认 50
	MaxConnections int    // 最大并发连接数，默认 256
	ConnRatePerSec int    // 每秒最大新建连接数，默认 64
}

// TLSConfig 定义 TLS 证书配置。
//
// 三个路径必须同时提供，Load 对只配置了部分路径的情况直接报错，
// Config.TLS 为 nil 即表示不启动 TLS 监听。
type TLSConfig struct {
	CertPath     string        // 证书文件路径
	KeyPath      string        // 私钥文件路径
	ChainPath    string        // 证书链文件路径
	PollInterval time.Duration // 证书变更轮询间隔，默认 5 分钟
}

// PolicyConfig 定义准入控制策略配置
type PolicyConfig struct {
	BlockedNetworks     []string      // CIDR 格式的 IP 黑名单
	RateLimitPerHour    int           // 单 IP 每小时邮件配额，默认 100
	EnableGreylisting   bool          // 是否启用灰名单
	GreylistDelay       time.Duration // 灰名单延迟窗口，默认 5 分钟
	EnableSPF           bool          // 是否启用 SPF 校验
	EnableDKIM          bool          // 是否启用 DKIM 校验
	ValidateRecipientMX bool          // 是否在投递前校验收件域名的 MX 记录
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，为空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// CleanupConfig 定义过期数据清理配置
type CleanupConfig struct {
	Interval time.Duration // 清理周期，默认 60 分钟
}

// MetricsConfig 定义指标与健康检查端点配置
type MetricsConfig struct {
	BindAddr string // 监听地址，为空则不启动，默认 ":9432"
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，为空只输出到标准输出
}

// Config 是系统核心配置的根结构体
type Config struct {
	SMTP     SMTPConfig
	TLS      *TLSConfig // nil 表示不启用 TLS 监听
	Policy   PolicyConfig
	Database DatabaseConfig
	Cleanup  CleanupConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILD_
// 例如: MAILD_SMTP_BIND_ADDR, MAILD_POLICY_RATE_LIMIT_PER_HOUR
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("maild")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("smtp.bind_addr", ":2525")
	viper.SetDefault("smtp.tls_bind_addr", ":4650")
	viper.SetDefault("smtp.domain", "vault.mail")
	viper.SetDefault("smtp.max_email_size", 10*1024*1024)
	viper.SetDefault("smtp.max_recipients", 50)
	viper.SetDefault("smtp.max_connections", 256)
	viper.SetDefault("smtp.conn_rate_per_sec", 64)
	viper.SetDefault("tls.cert_path", "")
	viper.SetDefault("tls.key_path", "")
	viper.SetDefault("tls.chain_path", "")
	viper.SetDefault("tls.poll_interval", "5m")
	viper.SetDefault("policy.blocked_networks", "")
	viper.SetDefault("policy.rate_limit_per_hour", 100)
	viper.SetDefault("policy.enable_greylisting", false)
	viper.SetDefault("policy.greylist_delay", "5m")
	viper.SetDefault("policy.enable_spf", false)
	viper.SetDefault("policy.enable_dkim", false)
	viper.SetDefault("policy.validate_recipient_mx", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("cleanup.interval", "60m")
	viper.SetDefault("metrics.bind_addr", ":9432")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")

	maxEmailSize := viper.GetInt64("smtp.max_email_size")
	if maxEmailSize <= 0 {
		return nil, fmt.Errorf("smtp.max_email_size must be positive")
	}

	tlsCfg, err := loadTLS()
	if err != nil {
		return nil, err
	}

	greylistDelay, err := parseDuration("policy.greylist_delay")
	if err != nil {
		return nil, err
	}
	cleanupInterval, err := parseDuration("cleanup.interval")
	if err != nil {
		return nil, err
	}
	connMaxLifetime, err := parseDuration("database.conn_max_lifetime")
	if err != nil {
		return nil, err
	}

	rateLimit := viper.GetInt("policy.rate_limit_per_hour")
	if rateLimit <= 0 {
		return nil, fmt.Errorf("policy.rate_limit_per_hour must be positive")
	}

	cfg := &Config{
		SMTP: SMTPConfig{
			BindAddr:       viper.GetString("smtp.bind_addr"),
			TLSBindAddr:    viper.GetString("smtp.tls_bind_addr"),
			Domain:         strings.ToLower(viper.GetString("smtp.domain")),
			MaxEmailSize:   maxEmailSize,
			MaxRecipients:  viper.GetInt("smtp.max_recipients"),
			MaxConnections: viper.GetInt("smtp.max_connections"),
			ConnRatePerSec: viper.GetInt("smtp.conn_rate_per_sec"),
		},
		TLS: tlsCfg,
		Policy: PolicyConfig{
			BlockedNetworks:     parseList(viper.GetString("policy.blocked_networks")),
			RateLimitPerHour:    rateLimit,
			EnableGreylisting:   viper.GetBool("policy.enable_greylisting"),
			GreylistDelay:       greylistDelay,
			EnableSPF:           viper.GetBool("policy.enable_spf"),
			EnableDKIM:          viper.GetBool("policy.enable_dkim"),
			ValidateRecipientMX: viper.GetBool("policy.validate_recipient_mx"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Cleanup: CleanupConfig{
			Interval: cleanupInterval,
		},
		Metrics: MetricsConfig{
			BindAddr: viper.GetString("metrics.bind_addr"),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
	}

	if cfg.Database.Type != "" && cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required when database.type is set")
	}

	return cfg, nil
}

// loadTLS 读取 TLS 三元组配置。
//
// 三个路径全部为空返回 nil（不启用 TLS）；只配置了部分路径视为
// 配置错误，避免半开的 TLS 状态。
func loadTLS() (*TLSConfig, error) {
	certPath := viper.GetString("tls.cert_path")
	keyPath := viper.GetString("tls.key_path")
	chainPath := viper.GetString("tls.chain_path")

	configured := 0
	for _, p := range []string{certPath, keyPath, chainPath} {
		if p != "" {
			configured++
		}
	}
	if configured == 0 {
		return nil, nil
	}
	if configured != 3 {
		return nil, fmt.Errorf("tls.cert_path, tls.key_path and tls.chain_path must be set together")
	}

	pollInterval, err := parseDuration("tls.poll_interval")
	if err != nil {
		return nil, err
	}

	return &TLSConfig{
		CertPath:     certPath,
		KeyPath:      keyPath,
		ChainPath:    chainPath,
		PollInterval: pollInterval,
	}, nil
}

// parseDuration 解析时间段配置项。
func parseDuration(key string) (time.Duration, error) {
	value := viper.GetString(key)
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 先尝试当前目录，再尝试父目录；文件不存在时静默跳过，
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
