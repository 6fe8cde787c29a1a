// Package metrics exposes the Prometheus collectors of the gateway.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector records chunk, merge, session and HTTP request metrics on a
// private registry. A nil or disabled Collector ignores every call.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	chunkCounter    *prometheus.CounterVec
	chunkBytes      prometheus.Counter
	partDuration    prometheus.Histogram
	mergeCounter    *prometheus.CounterVec
	mergeDuration   prometheus.Histogram
	activeSessions  prometheus.Gauge
	expiredSessions prometheus.Counter
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector
func NewCollector(config Config) (*Collector, error) {
	if config.Namespace == "" {
		config.Namespace = "ossgate"
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	c := &Collector{config: config}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()

	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.chunkCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "upload",
		Name:      "chunks_total",
		Help:      "Chunks received, by result (uploaded, duplicate, failed).",
	}, []string{"result"})

	c.chunkBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "upload",
		Name:      "chunk_bytes_total",
		Help:      "Bytes uploaded to the provider as multipart parts.",
	})

	c.partDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: "upload",
		Name:      "part_duration_seconds",
		Help:      "Time spent uploading a single part to the provider.",
		Buckets:   prometheus.DefBuckets,
	})

	c.mergeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "upload",
		Name:      "merges_total",
		Help:      "Merge requests, by result (ok, failed).",
	}, []string{"result"})

	c.mergeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: "upload",
		Name:      "merge_duration_seconds",
		Help:      "Time spent completing multipart uploads.",
		Buckets:   prometheus.DefBuckets,
	})

	c.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: "session",
		Name:      "active",
		Help:      "Upload sessions created by this instance and not yet merged or aborted.",
	})

	c.expiredSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "session",
		Name:      "expired_total",
		Help:      "Upload sessions aborted by the TTL sweeper.",
	})

	c.requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests, by method and status code.",
	}, []string{"method", "code"})

	c.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
}

func (c *Collector) registerMetrics() error {
	for _, m := range []prometheus.Collector{
		c.chunkCounter,
		c.chunkBytes,
		c.partDuration,
		c.mergeCounter,
		c.mergeDuration,
		c.activeSessions,
		c.expiredSessions,
		c.requestCounter,
		c.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.registry != nil
}

// Path returns the route the metrics handler is mounted on.
func (c *Collector) Path() string {
	if c == nil {
		return "/metrics"
	}
	return c.config.Path
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

func (c *Collector) RecordChunk(result string, size int64, duration time.Duration) {
	if !c.enabled() {
		return
	}

	c.chunkCounter.WithLabelValues(result).Inc()
	if result == "uploaded" {
		c.chunkBytes.Add(float64(size))
		c.partDuration.Observe(duration.Seconds())
	}
}

func (c *Collector) RecordMerge(success bool, duration time.Duration) {
	if !c.enabled() {
		return
	}

	c.mergeCounter.WithLabelValues(map[bool]string{true: "ok", false: "failed"}[success]).Inc()
	c.mergeDuration.Observe(duration.Seconds())
}

func (c *Collector) SessionOpened() {
	if c.enabled() {
		c.activeSessions.Inc()
	}
}

func (c *Collector) SessionClosed() {
	if c.enabled() {
		c.activeSessions.Dec()
	}
}

func (c *Collector) SessionExpired() {
	if c.enabled() {
		c.expiredSessions.Inc()
	}
}

func (c *Collector) RecordRequest(method string, status int, duration time.Duration) {
	if !c.enabled() {
		return
	}

	c.requestCounter.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
