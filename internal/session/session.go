// Package session tracks in-flight chunked uploads: which provider multipart
// upload a client correlation id is bound to and which parts it has
// delivered so far.
package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrSessionNotFound is returned when no session exists for a correlation id.
var ErrSessionNotFound = errors.New("upload session not found")

// Part is one uploaded chunk of a session.
type Part struct {
	Number int    `json:"partNumber"`
	ETag   string `json:"etag"`
	Size   int64  `json:"size,omitempty"`
}

// Session is the state of one resumable upload.
type Session struct {
	CorrelationID string
	ObjectKey     string
	UploadID      string
	Parts         map[int]Part
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Parts = maps.Clone(s.Parts)
	if c.Parts == nil {
		c.Parts = make(map[int]Part)
	}
	return &c
}

// SortedParts returns the recorded parts ordered by part number.
func (s *Session) SortedParts() []Part {
	parts := slices.Collect(maps.Values(s.Parts))
	slices.SortFunc(parts, func(a, b Part) int { return a.Number - b.Number })
	return parts
}

// CreateFunc produces a new session, typically by starting a provider
// multipart upload. Stores set CorrelationID and the timestamps.
type CreateFunc func(ctx context.Context) (*Session, error)

// Store keeps sessions keyed by correlation id. All returned sessions are
// snapshots; changes go through the Store methods.
type Store interface {
	// GetOrCreate returns the session for id, invoking create when none
	// exists. create runs at most once per id even when callers race, and
	// runs without holding any store-wide lock. created reports whether this
	// call's create produced the session.
	GetOrCreate(ctx context.Context, id string, create CreateFunc) (s *Session, created bool, err error)

	Get(ctx context.Context, id string) (*Session, error)

	// AppendPart records part on the session. added is false when a part with
	// the same number was already recorded; the existing entry is kept.
	AppendPart(ctx context.Context, id string, part Part) (added bool, err error)

	// Remove deletes the session and returns its final state. A second
	// Remove for the same id returns ErrSessionNotFound.
	Remove(ctx context.Context, id string) (*Session, error)

	// RemoveUpload is Remove restricted to the session holding uploadID. When
	// id has since been bound to another upload the newer session is left
	// alone and ErrSessionNotFound is returned.
	RemoveUpload(ctx context.Context, id string, uploadID string) (*Session, error)

	// Expired lists sessions not updated since olderThan.
	Expired(ctx context.Context, olderThan time.Time) ([]*Session, error)

	Close() error
}

func now() time.Time {
	return time.Now().UTC()
}

// stamp fills in the bookkeeping fields of a freshly created session.
func stamp(s *Session, id string) *Session {
	s = s.Clone()
	s.CorrelationID = id
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	return s
}
