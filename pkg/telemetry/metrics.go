package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics provides Prometheus metrics for the agent. The agent runs one
// deployment step and exits, so metrics are not served over HTTP;
// WriteTextfile persists a snapshot for the node_exporter textfile
// collector instead.
type Metrics struct {
	config MetricsConfig

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Download metrics
	downloadAttempts *prometheus.CounterVec
	downloadRetries  *prometheus.CounterVec
	downloadFailures *prometheus.CounterVec
	downloadBytes    *prometheus.CounterVec

	// Journal metrics
	journalReads  prometheus.Counter
	journalWrites prometheus.Counter

	// Pipeline metrics
	conventionDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "stevedore"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "package_cache_hits_total",
				Help:      "Package resolutions satisfied from the local cache",
			},
			[]string{"feed_id"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "package_cache_misses_total",
				Help:      "Package resolutions that required a network fetch",
			},
			[]string{"feed_id"},
		),
		downloadAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_attempts_total",
				Help:      "Download attempts, including retries",
			},
			[]string{"feed_type"},
		),
		downloadRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_retries_total",
				Help:      "Download attempts beyond the first",
			},
			[]string{"feed_type"},
		),
		downloadFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_failures_total",
				Help:      "Downloads that exhausted every retry attempt",
			},
			[]string{"feed_type"},
		),
		downloadBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_bytes_total",
				Help:      "Bytes fetched from feeds",
			},
			[]string{"feed_type"},
		),
		journalReads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journal_reads_total",
				Help:      "Installation journal lookups",
			},
		),
		journalWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journal_writes_total",
				Help:      "Installation journal entries recorded",
			},
		),
		conventionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "convention_duration_seconds",
				Help:      "Wall-clock duration of each deployment convention",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"convention"},
		),
	}

	registry.MustRegister(
		m.cacheHits,
		m.cacheMisses,
		m.downloadAttempts,
		m.downloadRetries,
		m.downloadFailures,
		m.downloadBytes,
		m.journalReads,
		m.journalWrites,
		m.conventionDuration,
	)

	return m
}

// CacheHit records a cache lookup hit for a feed.
func (m *Metrics) CacheHit(feedID string) {
	if m.registry == nil {
		return
	}
	m.cacheHits.WithLabelValues(feedID).Inc()
}

// CacheMiss records a cache lookup miss for a feed.
func (m *Metrics) CacheMiss(feedID string) {
	if m.registry == nil {
		return
	}
	m.cacheMisses.WithLabelValues(feedID).Inc()
}

// DownloadAttempt records a download attempt; attempts after the first
// also count as retries.
func (m *Metrics) DownloadAttempt(feedType string, attempt int) {
	if m.registry == nil {
		return
	}
	m.downloadAttempts.WithLabelValues(feedType).Inc()
	if attempt > 1 {
		m.downloadRetries.WithLabelValues(feedType).Inc()
	}
}

// DownloadFailed records a download that exhausted its attempts.
func (m *Metrics) DownloadFailed(feedType string) {
	if m.registry == nil {
		return
	}
	m.downloadFailures.WithLabelValues(feedType).Inc()
}

// DownloadedBytes records bytes transferred from a feed.
func (m *Metrics) DownloadedBytes(feedType string, n int64) {
	if m.registry == nil || n <= 0 {
		return
	}
	m.downloadBytes.WithLabelValues(feedType).Add(float64(n))
}

// JournalRead records a journal lookup.
func (m *Metrics) JournalRead() {
	if m.registry == nil {
		return
	}
	m.journalReads.Inc()
}

// JournalWrite records a journal entry write.
func (m *Metrics) JournalWrite() {
	if m.registry == nil {
		return
	}
	m.journalWrites.Inc()
}

// ObserveConvention records the duration of a convention run.
func (m *Metrics) ObserveConvention(name string, d time.Duration) {
	if m.registry == nil {
		return
	}
	m.conventionDuration.WithLabelValues(name).Observe(d.Seconds())
}

// WriteTextfile writes the metrics snapshot into the configured
// textfile directory, using a temp-file-then-rename so the collector
// never reads a partial file. No-op when metrics are disabled or no
// directory is configured.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfileDir == "" {
		return nil
	}

	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	if err := os.MkdirAll(m.config.TextfileDir, 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	tmp, err := os.CreateTemp(m.config.TextfileDir, "stevedore.prom.tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create metrics temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metrics temp file: %w", err)
	}

	final := filepath.Join(m.config.TextfileDir, "stevedore.prom")
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("failed to place metrics snapshot: %w", err)
	}
	return nil
}
