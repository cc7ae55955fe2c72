package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// 连接指标
	ConnectionsTotal    prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec // reason: blocked, rate_limited, limiter_full

	// 邮件处理指标
	MessagesReceived    prometheus.Counter
	MessagesStored      prometheus.Counter
	PipelineFailures    *prometheus.CounterVec // stage: greylist, parse, spf, dkim, mx, mailbox, rate_limit, encrypt, persist
	EmailProcessingTime prometheus.Histogram
	EmailSize           prometheus.Histogram

	// 策略状态指标
	GreylistEntries prometheus.Gauge
	RateLimitBlocks prometheus.Counter

	// 清理任务指标
	CleanupRuns     prometheus.Counter
	CleanupErrors   prometheus.Counter
	ExpiredEmails   prometheus.Counter
	ExpiredMailboxes prometheus.Counter

	// TLS 指标
	TLSReloads prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maild_smtp_connections_total",
				Help: "Total number of accepted SMTP connections",
			},
		),
		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "maild_smtp_connections_active",
				Help: "Number of currently active SMTP connections",
			},
		),
		ConnectionsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maild_smtp_connections_rejected_total",
				Help: "SMTP connections rejected at admission",
			},
			[]string{"reason"},
		),
		MessagesReceived: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maild_messages_received_total",
				Help: "Messages handed to the processing pipeline",
			},
		),
		MessagesStored: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maild_messages_stored_total",
				Help: "Encrypted messages persisted to the store",
			},
		),
		PipelineFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maild_pipeline_failures_total",
				Help: "Pipeline failures by stage",
			},
			[]string{"stage"},
		),
		EmailProcessingTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "maild_email_processing_seconds",
				Help:    "Time spent processing one message for one recipient",
				Buckets: prometheus.DefBuckets,
			},
		),
		EmailSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "maild_email_size_bytes",
				Help:    "Raw size of received messages",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
		),
		GreylistEntries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "maild_greylist_entries",
				Help: "Current number of greylist entries",
			},
		),
		RateLimitBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maild_rate_limit_blocks_total",
				Help: "Messages rejected by the per-IP rate limiter",
			},
		),
		CleanupRuns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maild_cleanup_runs_total",
				Help: "Completed cleanup sweeps",
			},
		),
		CleanupErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maild_cleanup_errors_total",
				Help: "Cleanup sweeps that reported errors",
			},
		),
		ExpiredEmails: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maild_expired_emails_total",
				Help: "Expired emails removed by cleanup",
			},
		),
		ExpiredMailboxes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maild_expired_mailboxes_total",
				Help: "Expired mailboxes removed by cleanup",
			},
		),
		TLSReloads: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "maild_tls_reloads_total",
				Help: "TLS listener restarts triggered by certificate changes",
			},
		),
	}
}

// HTTPHandler 返回 Prometheus 指标端点处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
