package core

import (
	"time"

	"ossgate/internal/compress"
	"ossgate/internal/metrics"
	"ossgate/internal/session"
	"ossgate/internal/storage"
)

type Config struct {
	Gateway        storage.Gateway
	Store          session.Store
	Locator        *storage.Locator
	Codec          compress.Codec
	Metrics        *metrics.Collector
	Prefix         string
	MaxConcurrency int
	MaxChunkSize   int64
	SessionTTL     time.Duration
	SweepInterval  time.Duration
}

type ConfigOption func(*Config)

func WithGateway(gw storage.Gateway) ConfigOption {
	return func(cfg *Config) {
		cfg.Gateway = gw
	}
}

// WithSessionStore sets the chunk session store. The caller keeps
// ownership and closes it after the server.
func WithSessionStore(store session.Store) ConfigOption {
	return func(cfg *Config) {
		cfg.Store = store
	}
}

func WithLocator(locator *storage.Locator) ConfigOption {
	return func(cfg *Config) {
		cfg.Locator = locator
	}
}

func WithCodec(codec compress.Codec) ConfigOption {
	return func(cfg *Config) {
		cfg.Codec = codec
	}
}

func WithMetrics(m *metrics.Collector) ConfigOption {
	return func(cfg *Config) {
		cfg.Metrics = m
	}
}

// WithPrefix mounts every route below prefix, e.g. "/api".
func WithPrefix(prefix string) ConfigOption {
	return func(cfg *Config) {
		cfg.Prefix = prefix
	}
}

func WithMaxConcurrency(n int) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxConcurrency = n
	}
}

func WithMaxChunkSize(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxChunkSize = n
	}
}

// WithSessionTTL enables the sweeper for sessions idle longer than ttl.
func WithSessionTTL(ttl time.Duration, interval time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.SessionTTL = ttl
		cfg.SweepInterval = interval
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
