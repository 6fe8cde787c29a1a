package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ossgate/internal/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) session.Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) session.Store {
			return session.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) session.Store {
			store, err := session.OpenSQLiteStore(t.Context(), filepath.Join(t.TempDir(), "sessions.sqlite"))
			require.NoError(t, err, "OpenSQLiteStore error")
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
		"redis": func(t *testing.T) session.Store {
			mr := miniredis.RunT(t)
			store := session.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store session.Store)) {
	t.Helper()

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, factory(t))
		})
	}
}

func newSession(key string, uploadID string) session.CreateFunc {
	return func(ctx context.Context) (*session.Session, error) {
		return &session.Session{ObjectKey: key, UploadID: uploadID}, nil
	}
}

func TestStoreGetOrCreate(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store session.Store) {
		ctx := t.Context()

		s, created, err := store.GetOrCreate(ctx, "g1", newSession("a/b.bin", "u-1"))
		require.NoError(t, err)
		require.True(t, created, "first call creates")
		require.Equal(t, "g1", s.CorrelationID)
		require.Equal(t, "a/b.bin", s.ObjectKey)
		require.Equal(t, "u-1", s.UploadID)
		require.Empty(t, s.Parts)
		require.False(t, s.CreatedAt.IsZero())

		s, created, err = store.GetOrCreate(ctx, "g1", func(ctx context.Context) (*session.Session, error) {
			t.Fatal("create must not run for an existing session")
			return nil, nil
		})
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, "u-1", s.UploadID)

		_, err = store.Get(ctx, "missing")
		require.ErrorIs(t, err, session.ErrSessionNotFound)
	})
}

func TestStoreConcurrentCreateRunsOnce(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store session.Store) {
		ctx := t.Context()

		var calls, creators atomic.Int32
		create := func(ctx context.Context) (*session.Session, error) {
			calls.Add(1)
			time.Sleep(20 * time.Millisecond)
			return &session.Session{ObjectKey: "k", UploadID: "only"}, nil
		}

		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, created, err := store.GetOrCreate(ctx, "race", create)
				if err != nil {
					t.Error(err)
					return
				}
				if created {
					creators.Add(1)
				}
				if s.UploadID != "only" {
					t.Errorf("unexpected upload id %q", s.UploadID)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), calls.Load(), "create must run once")
		require.Equal(t, int32(1), creators.Load(), "exactly one caller observes created")
	})
}

func TestStoreCreateFailureLeavesNoSession(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store session.Store) {
		ctx := t.Context()
		boom := errors.New("provider down")

		_, _, err := store.GetOrCreate(ctx, "g", func(ctx context.Context) (*session.Session, error) {
			return nil, boom
		})
		require.ErrorIs(t, err, boom)

		_, err = store.Get(ctx, "g")
		require.ErrorIs(t, err, session.ErrSessionNotFound)

		_, created, err := store.GetOrCreate(ctx, "g", newSession("k", "u-2"))
		require.NoError(t, err)
		require.True(t, created, "a failed create does not poison the id")
	})
}

func TestStoreAppendPart(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store session.Store) {
		ctx := t.Context()

		_, _, err := store.GetOrCreate(ctx, "g", newSession("k", "u"))
		require.NoError(t, err)

		added, err := store.AppendPart(ctx, "g", session.Part{Number: 2, ETag: `"e2"`, Size: 5})
		require.NoError(t, err)
		require.True(t, added)

		added, err = store.AppendPart(ctx, "g", session.Part{Number: 2, ETag: `"other"`})
		require.NoError(t, err)
		require.False(t, added, "duplicate part number is a no-op")

		added, err = store.AppendPart(ctx, "g", session.Part{Number: 1, ETag: `"e1"`})
		require.NoError(t, err)
		require.True(t, added)

		s, err := store.Get(ctx, "g")
		require.NoError(t, err)
		require.Len(t, s.Parts, 2)
		require.Equal(t, `"e2"`, s.Parts[2].ETag, "first etag is kept")
		require.Equal(t, int64(5), s.Parts[2].Size)
		require.Equal(t, []session.Part{
			{Number: 1, ETag: `"e1"`},
			{Number: 2, ETag: `"e2"`, Size: 5},
		}, s.SortedParts())

		_, err = store.AppendPart(ctx, "nope", session.Part{Number: 1, ETag: "x"})
		require.ErrorIs(t, err, session.ErrSessionNotFound)
	})
}

func TestStoreReturnsSnapshots(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store session.Store) {
		ctx := t.Context()

		s, _, err := store.GetOrCreate(ctx, "g", newSession("k", "u"))
		require.NoError(t, err)

		s.Parts[7] = session.Part{Number: 7, ETag: "local"}
		s.UploadID = "changed"

		fresh, err := store.Get(ctx, "g")
		require.NoError(t, err)
		require.Empty(t, fresh.Parts)
		require.Equal(t, "u", fresh.UploadID)
	})
}

func TestStoreRemoveOnce(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store session.Store) {
		ctx := t.Context()

		_, _, err := store.GetOrCreate(ctx, "g", newSession("k", "u"))
		require.NoError(t, err)
		_, err = store.AppendPart(ctx, "g", session.Part{Number: 1, ETag: "e"})
		require.NoError(t, err)

		removed, err := store.Remove(ctx, "g")
		require.NoError(t, err)
		require.Equal(t, "u", removed.UploadID)
		require.Len(t, removed.Parts, 1)

		_, err = store.Remove(ctx, "g")
		require.ErrorIs(t, err, session.ErrSessionNotFound, "second remove")

		_, err = store.AppendPart(ctx, "g", session.Part{Number: 2, ETag: "e"})
		require.ErrorIs(t, err, session.ErrSessionNotFound, "append after remove")
	})
}

func TestStoreRemoveUploadMatchesUploadID(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store session.Store) {
		ctx := t.Context()

		_, _, err := store.GetOrCreate(ctx, "g", newSession("k", "upload-2"))
		require.NoError(t, err)

		_, err = store.RemoveUpload(ctx, "g", "upload-1")
		require.ErrorIs(t, err, session.ErrSessionNotFound, "stale upload id")

		current, err := store.Get(ctx, "g")
		require.NoError(t, err, "newer session survives a stale removal")
		require.Equal(t, "upload-2", current.UploadID)

		removed, err := store.RemoveUpload(ctx, "g", "upload-2")
		require.NoError(t, err)
		require.Equal(t, "k", removed.ObjectKey)

		_, err = store.RemoveUpload(ctx, "g", "upload-2")
		require.ErrorIs(t, err, session.ErrSessionNotFound, "second removal")
	})
}

func TestStoreExpired(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store session.Store) {
		ctx := t.Context()

		_, _, err := store.GetOrCreate(ctx, "old", newSession("k1", "u1"))
		require.NoError(t, err)

		expired, err := store.Expired(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Empty(t, expired)

		expired, err = store.Expired(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		require.Equal(t, "old", expired[0].CorrelationID)
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "nested", "sessions.sqlite")

	store, err := session.OpenSQLiteStore(ctx, dbPath)
	require.NoError(t, err)

	_, _, err = store.GetOrCreate(ctx, "g", newSession("a/b.bin", "u-9"))
	require.NoError(t, err)
	_, err = store.AppendPart(ctx, "g", session.Part{Number: 3, ETag: `"e3"`, Size: 10})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := session.OpenSQLiteStore(ctx, dbPath)
	require.NoError(t, err, "migrations must be re-runnable")
	defer reopened.Close()

	s, err := reopened.Get(ctx, "g")
	require.NoError(t, err)
	require.Equal(t, "a/b.bin", s.ObjectKey)
	require.Equal(t, "u-9", s.UploadID)
	require.Equal(t, session.Part{Number: 3, ETag: `"e3"`, Size: 10}, s.Parts[3])
}
