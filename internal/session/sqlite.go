package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

// SQLiteStore is a Store backed by a SQLite database, so several ossgate
// processes sharing a volume see the same sessions.
type SQLiteStore struct {
	db    *sql.DB
	group singleflight.Group
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// initSchema applies all SQL files in the embedded migrations in
// lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// OpenSQLiteStore opens (creating if needed) the session database at dbPath.
func OpenSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("session db path must not be empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create session db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions from
	// failing with SQLITE_BUSY inside this process.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// withTransaction runs a function within a database transaction.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

func loadSession(ctx context.Context, q queryer, id string) (*Session, error) {
	var created, updated int64
	s := &Session{CorrelationID: id, Parts: make(map[int]Part)}

	err := q.QueryRowContext(ctx,
		`SELECT object_key, upload_id, created_at, updated_at FROM chunk_sessions WHERE correlation_id = ?`, id,
	).Scan(&s.ObjectKey, &s.UploadID, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %q: %w", id, err)
	}
	s.CreatedAt = time.Unix(0, created).UTC()
	s.UpdatedAt = time.Unix(0, updated).UTC()

	rows, err := q.QueryContext(ctx,
		`SELECT part_number, etag, size FROM chunk_parts WHERE correlation_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load parts of %q: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.Number, &p.ETag, &p.Size); err != nil {
			return nil, err
		}
		s.Parts[p.Number] = p
	}
	return s, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	return loadSession(ctx, s.db, id)
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, id string, create CreateFunc) (*Session, bool, error) {
	if create == nil {
		return nil, false, errors.New("create function must not be nil")
	}

	leader := false
	v, err, _ := s.group.Do(id, func() (any, error) {
		leader = true

		existing, err := loadSession(ctx, s.db, id)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}

		fresh, err := create(ctx)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, errors.New("create returned no session")
		}
		fresh = stamp(fresh, id)

		res, err := s.db.ExecContext(ctx,
			`INSERT INTO chunk_sessions (correlation_id, object_key, upload_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?) ON CONFLICT (correlation_id) DO NOTHING`,
			id, fresh.ObjectKey, fresh.UploadID, fresh.CreatedAt.UnixNano(), fresh.UpdatedAt.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("insert session %q: %w", id, err)
		}

		if n, _ := res.RowsAffected(); n == 0 {
			// Another process sharing the database won the race.
			slog.Warn("Session created concurrently elsewhere", "guid", id, "uploadId", fresh.UploadID)
			winner, err := loadSession(ctx, s.db, id)
			if err != nil {
				return nil, err
			}
			return winner, nil
		}

		return createdSession{fresh}, nil
	})
	if err != nil {
		return nil, false, err
	}

	switch r := v.(type) {
	case createdSession:
		return r.Session.Clone(), leader, nil
	case *Session:
		return r.Clone(), false, nil
	default:
		return nil, false, fmt.Errorf("unexpected result %T", v)
	}
}

// createdSession marks a session freshly inserted by the singleflight leader.
type createdSession struct {
	*Session
}

func (s *SQLiteStore) AppendPart(ctx context.Context, id string, part Part) (bool, error) {
	added := false
	err := withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_sessions WHERE correlation_id = ?`, id).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrSessionNotFound
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO chunk_parts (correlation_id, part_number, etag, size) VALUES (?, ?, ?, ?)
			 ON CONFLICT (correlation_id, part_number) DO NOTHING`,
			id, part.Number, part.ETag, part.Size)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		added = true

		_, err = tx.ExecContext(ctx, `UPDATE chunk_sessions SET updated_at = ? WHERE correlation_id = ?`,
			now().UnixNano(), id)
		return err
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) (*Session, error) {
	return s.remove(ctx, id, func(*Session) bool { return true })
}

func (s *SQLiteStore) RemoveUpload(ctx context.Context, id string, uploadID string) (*Session, error) {
	return s.remove(ctx, id, func(sess *Session) bool { return sess.UploadID == uploadID })
}

func (s *SQLiteStore) remove(ctx context.Context, id string, match func(*Session) bool) (*Session, error) {
	var removed *Session
	err := withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		removed, err = loadSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if !match(removed) {
			return ErrSessionNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_parts WHERE correlation_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM chunk_sessions WHERE correlation_id = ?`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *SQLiteStore) Expired(ctx context.Context, olderThan time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT correlation_id FROM chunk_sessions WHERE updated_at < ? ORDER BY updated_at`, olderThan.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	expired := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := loadSession(ctx, s.db, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		expired = append(expired, sess)
	}
	return expired, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
