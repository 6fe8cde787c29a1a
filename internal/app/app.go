// Package app turns a loaded configuration into the live pieces the
// binaries run: the logger, the storage gateway and the session store.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"ossgate/internal/compress"
	"ossgate/internal/config"
	"ossgate/internal/session"
	"ossgate/internal/storage"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// SetupLogging installs a charmbracelet handler as the default slog logger.
func SetupLogging(w io.Writer, cfg config.LogConfig) error {
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	opts := log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	}
	if cfg.Format == "json" {
		opts.Formatter = log.JSONFormatter
	}

	handler := log.NewWithOptions(w, opts)
	slog.SetDefault(slog.New(handler))
	return nil
}

// Storage is the gateway side of the configuration.
type Storage struct {
	Gateway storage.Gateway
	Locator *storage.Locator
	Codec   compress.Codec
}

// OpenStorage connects to the configured provider and, when asked to,
// creates the bucket and opens it for cross-origin reads.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	gwCfg := cfg.Gateway()

	gw, err := storage.New(ctx, gwCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s gateway: %w", cfg.Provider, err)
	}

	locator, err := storage.NewLocator(gwCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to derive object URLs: %w", err)
	}

	codec, err := compress.Lookup(cfg.Compression)
	if err != nil {
		return nil, err
	}

	if cfg.AutoCreateBucket {
		if err := gw.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket %q: %w", cfg.Bucket, err)
		}
	}

	if cfg.CORS {
		if err := gw.SetCORS(ctx); err != nil {
			return nil, fmt.Errorf("failed to set CORS on bucket %q: %w", cfg.Bucket, err)
		}
	}

	slog.Info("Storage ready", "gateway", gw.String(), "domain", locator.Domain(), "codec", cfg.Compression)
	return &Storage{Gateway: gw, Locator: locator, Codec: codec}, nil
}

// OpenSessionStore builds the configured chunk session store. The caller
// owns the returned store and must close it.
func OpenSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Backend {
	case config.SessionBackendMemory, "":
		return session.NewMemoryStore(), nil

	case config.SessionBackendSQLite:
		store, err := session.OpenSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open session database: %w", err)
		}
		return store, nil

	case config.SessionBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		return session.NewRedisStore(client, cfg.Redis.Prefix), nil

	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
