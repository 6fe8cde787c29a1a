package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ossgate/internal/session"

	"github.com/stretchr/testify/require"
)

type recordingAborter struct {
	mu      sync.Mutex
	aborted []string
	err     error
}

func (a *recordingAborter) AbortMultipartUpload(ctx context.Context, key string, uploadID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborted = append(a.aborted, key+"#"+uploadID)
	return a.err
}

func TestSweeperDisabledByDefault(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	_, _, err := store.GetOrCreate(t.Context(), "g", newSession("k", "u"))
	require.NoError(t, err)

	sweeper := session.NewSweeper(store, &recordingAborter{}, 0)
	require.False(t, sweeper.Enabled())

	n, err := sweeper.Sweep(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, sweeper.Run(t.Context()), "Run returns at once when disabled")
	require.Equal(t, 1, store.Len())
}

func TestSweeperAbortsExpiredSessions(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := session.NewMemoryStore()
	aborter := &recordingAborter{err: errors.New("already gone")}

	_, _, err := store.GetOrCreate(ctx, "stale", newSession("a.bin", "u-stale"))
	require.NoError(t, err)

	clock := time.Now().Add(2 * time.Hour)
	var swept []string
	sweeper := session.NewSweeper(store, aborter, time.Hour,
		session.WithClock(func() time.Time { return clock }),
		session.WithOnExpired(func(s *session.Session) { swept = append(swept, s.CorrelationID) }),
	)

	// Created after the clock was set, but the clock is two hours ahead.
	_, _, err = store.GetOrCreate(ctx, "fresh", func(ctx context.Context) (*session.Session, error) {
		return &session.Session{ObjectKey: "b.bin", UploadID: "u-fresh", UpdatedAt: clock}, nil
	})
	require.NoError(t, err)

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err, "abort failures are logged, not returned")
	require.Equal(t, 1, n)
	require.Equal(t, []string{"stale"}, swept)
	require.Equal(t, []string{"a.bin#u-stale"}, aborter.aborted)

	_, err = store.Get(ctx, "stale")
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	_, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	aborter := &recordingAborter{}

	_, _, err := store.GetOrCreate(t.Context(), "g", newSession("k", "u"))
	require.NoError(t, err)

	sweeper := session.NewSweeper(store, aborter, time.Millisecond,
		session.WithSweepInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// staleListing reports a session that has since been replaced.
type staleListing struct {
	session.Store
	stale *session.Session
}

func (s staleListing) Expired(ctx context.Context, olderThan time.Time) ([]*session.Session, error) {
	return []*session.Session{s.stale}, nil
}

func TestSweeperSkipsReplacedSession(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := session.NewMemoryStore()
	aborter := &recordingAborter{}

	_, _, err := store.GetOrCreate(ctx, "g", newSession("k", "u-new"))
	require.NoError(t, err)

	listing := staleListing{
		Store: store,
		stale: &session.Session{CorrelationID: "g", ObjectKey: "k", UploadID: "u-old"},
	}
	sweeper := session.NewSweeper(listing, aborter, time.Hour)

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "replaced session is not swept")
	require.Empty(t, aborter.aborted)

	current, err := store.Get(ctx, "g")
	require.NoError(t, err)
	require.Equal(t, "u-new", current.UploadID)
}
