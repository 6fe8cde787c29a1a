package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Aborter cancels a provider multipart upload.
type Aborter interface {
	AbortMultipartUpload(ctx context.Context, key string, uploadID string) error
}

// Sweeper periodically aborts and removes sessions that have not seen a
// chunk for longer than the TTL. A zero TTL disables sweeping.
type Sweeper struct {
	store     Store
	aborter   Aborter
	ttl       time.Duration
	interval  time.Duration
	now       func() time.Time
	onExpired func(*Session)
}

type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweeper runs. The default is half
// the TTL, but at least one second.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = d
	}
}

// WithClock replaces the sweeper's time source.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithOnExpired registers a callback invoked for every swept session.
func WithOnExpired(fn func(*Session)) SweeperOption {
	return func(s *Sweeper) {
		s.onExpired = fn
	}
}

func NewSweeper(store Store, aborter Aborter, ttl time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:   store,
		aborter: aborter,
		ttl:     ttl,
		now:     now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.interval <= 0 {
		s.interval = max(ttl/2, time.Second)
	}
	return s
}

// Enabled reports whether the sweeper has a TTL to enforce.
func (s *Sweeper) Enabled() bool {
	return s.ttl > 0
}

// Run sweeps on every tick until ctx is cancelled. It returns immediately
// when the sweeper is disabled.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	slog.Info("Session sweeper started", "ttl", s.ttl, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Session sweep failed", "err", err)
			}
		}
	}
}

// Sweep removes every expired session, aborting its provider upload, and
// returns how many were swept.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}

	expired, err := s.store.Expired(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, candidate := range expired {
		// Remove first so that a merge finishing at the same time wins.
		sess, err := s.store.RemoveUpload(ctx, candidate.CorrelationID, candidate.UploadID)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return swept, err
		}

		if err := s.aborter.AbortMultipartUpload(ctx, sess.ObjectKey, sess.UploadID); err != nil {
			slog.Warn("Failed to abort expired upload",
				"guid", sess.CorrelationID, "key", sess.ObjectKey, "uploadId", sess.UploadID, "err", err)
		}

		slog.Info("Expired upload session",
			"guid", sess.CorrelationID, "key", sess.ObjectKey, "parts", len(sess.Parts))
		if s.onExpired != nil {
			s.onExpired(sess)
		}
		swept++
	}
	return swept, nil
}
