// Package upload implements the resumable chunked upload protocol on top of
// a provider's multipart upload primitive.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"ossgate/internal/metrics"
	"ossgate/internal/session"
	"ossgate/internal/storage"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency bounds the part uploads in flight per Coordinator.
const DefaultMaxConcurrency = 16

// Chunk is one client chunk of a resumable upload.
type Chunk struct {
	CorrelationID string
	ObjectKey     string
	PartNumber    int
	Data          []byte
}

// PartResult is the outcome of accepting a chunk.
type PartResult struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Duplicate  bool   `json:"duplicate"`
}

// MergeRequest asks for a multipart upload to be completed. When Parts is
// set it is authoritative and the session is optional; otherwise the parts
// recorded on the session identified by CorrelationID are used.
type MergeRequest struct {
	CorrelationID string
	ObjectKey     string
	UploadID      string
	Parts         []session.Part
}

// Coordinator drives chunked uploads against one gateway.
type Coordinator struct {
	gw             storage.Gateway
	store          session.Store
	locator        *storage.Locator
	metrics        *metrics.Collector
	maxConcurrency int64
	sem            *semaphore.Weighted
	retention      time.Duration
	closed         *finalized
}

type Option func(*Coordinator)

// WithMaxConcurrency bounds the number of concurrent part uploads.
func WithMaxConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxConcurrency = int64(n)
		}
	}
}

// WithLocator sets the URL deriver used for merged object descriptors.
func WithLocator(l *storage.Locator) Option {
	return func(c *Coordinator) {
		c.locator = l
	}
}

// WithMetrics records chunk and merge metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithFinalizedRetention sets how long merged or aborted correlation ids
// refuse further chunks. Zero turns the check off.
func WithFinalizedRetention(d time.Duration) Option {
	return func(c *Coordinator) {
		c.retention = d
	}
}

// New creates a Coordinator. store is owned by the caller.
func New(gw storage.Gateway, store session.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		gw:             gw,
		store:          store,
		locator:        &storage.Locator{},
		maxConcurrency: DefaultMaxConcurrency,
		retention:      DefaultFinalizedRetention,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sem = semaphore.NewWeighted(c.maxConcurrency)
	c.closed = newFinalized(c.retention)
	return c
}

// InitUpload starts a provider multipart upload for key.
func (c *Coordinator) InitUpload(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty object key", ErrInvalidChunk)
	}

	uploadID, err := c.gw.CreateMultipartUpload(ctx, key)
	if err != nil {
		return "", fmt.Errorf("create multipart upload for %q: %w", key, err)
	}

	slog.Debug("Created multipart upload", "key", key, "uploadId", uploadID)
	return uploadID, nil
}

func validateChunk(ch Chunk) error {
	switch {
	case ch.CorrelationID == "":
		return fmt.Errorf("%w: empty guid", ErrInvalidChunk)
	case ch.ObjectKey == "":
		return fmt.Errorf("%w: empty object key", ErrInvalidChunk)
	case ch.PartNumber < 1 || ch.PartNumber > storage.MaxPartNumber:
		return fmt.Errorf("%w: part number %d outside 1..%d", ErrInvalidChunk, ch.PartNumber, storage.MaxPartNumber)
	}
	return nil
}

// AcceptChunk uploads one chunk as a multipart part. The first chunk for a
// correlation id starts the provider upload. A part number that was already
// recorded is answered from the session without touching the provider.
func (c *Coordinator) AcceptChunk(ctx context.Context, ch Chunk) (PartResult, error) {
	if err := validateChunk(ch); err != nil {
		return PartResult{}, err
	}
	if c.closed.has(ch.CorrelationID) {
		return PartResult{}, fmt.Errorf("guid %q already finished: %w", ch.CorrelationID, session.ErrSessionNotFound)
	}

	var opened string
	sess, created, err := c.store.GetOrCreate(ctx, ch.CorrelationID, func(ctx context.Context) (*session.Session, error) {
		// Merge or Abort may have finished the guid after the check above.
		if c.closed.has(ch.CorrelationID) {
			return nil, fmt.Errorf("guid %q already finished: %w", ch.CorrelationID, session.ErrSessionNotFound)
		}
		uploadID, err := c.InitUpload(ctx, ch.ObjectKey)
		if err != nil {
			return nil, err
		}
		opened = uploadID
		return &session.Session{ObjectKey: ch.ObjectKey, UploadID: uploadID}, nil
	})
	if opened != "" && (err != nil || sess.UploadID != opened) {
		// The store kept another upload for the guid, or never recorded ours.
		c.abortUpload(context.WithoutCancel(ctx), ch.ObjectKey, opened)
	}
	if err != nil {
		return PartResult{}, fmt.Errorf("open session %q: %w", ch.CorrelationID, err)
	}
	if created {
		c.metrics.SessionOpened()
		slog.Info("Upload session started", "guid", ch.CorrelationID, "key", ch.ObjectKey, "uploadId", sess.UploadID)
	}

	if sess.ObjectKey != ch.ObjectKey {
		return PartResult{}, fmt.Errorf("%w: guid %s is bound to %q, chunk targets %q",
			ErrKeyMismatch, ch.CorrelationID, sess.ObjectKey, ch.ObjectKey)
	}

	if p, ok := sess.Parts[ch.PartNumber]; ok {
		c.metrics.RecordChunk("duplicate", int64(len(ch.Data)), 0)
		return PartResult{PartNumber: p.Number, ETag: p.ETag, Duplicate: true}, nil
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return PartResult{}, err
	}
	start := time.Now()
	part, err := c.gw.UploadPart(ctx, sess.ObjectKey, sess.UploadID, ch.PartNumber, ch.Data)
	c.sem.Release(1)

	if err != nil {
		c.metrics.RecordChunk("failed", int64(len(ch.Data)), time.Since(start))
		c.evict(ctx, sess)
		return PartResult{}, &PartUploadError{
			Key:           sess.ObjectKey,
			PartNumber:    ch.PartNumber,
			CorrelationID: ch.CorrelationID,
			Err:           err,
		}
	}

	added, err := c.store.AppendPart(ctx, ch.CorrelationID, session.Part{
		Number: ch.PartNumber,
		ETag:   part.ETag,
		Size:   int64(len(ch.Data)),
	})
	if err != nil {
		return PartResult{}, fmt.Errorf("record part %d of %q: %w", ch.PartNumber, ch.CorrelationID, err)
	}

	if !added {
		// The same part number raced in on another request; report whatever
		// was recorded first.
		current, err := c.store.Get(ctx, ch.CorrelationID)
		if err != nil {
			return PartResult{}, fmt.Errorf("record part %d of %q: %w", ch.PartNumber, ch.CorrelationID, err)
		}
		p := current.Parts[ch.PartNumber]
		c.metrics.RecordChunk("duplicate", int64(len(ch.Data)), 0)
		return PartResult{PartNumber: p.Number, ETag: p.ETag, Duplicate: true}, nil
	}

	c.metrics.RecordChunk("uploaded", int64(len(ch.Data)), time.Since(start))
	slog.Debug("Accepted chunk", "guid", ch.CorrelationID, "part", ch.PartNumber, "etag", part.ETag, "size", len(ch.Data))
	return PartResult{PartNumber: ch.PartNumber, ETag: part.ETag}, nil
}

// evict aborts the provider upload behind sess and forgets the session. A
// newer session for the same guid is left in place.
func (c *Coordinator) evict(ctx context.Context, sess *session.Session) {
	ctx = context.WithoutCancel(ctx)

	c.abortUpload(ctx, sess.ObjectKey, sess.UploadID)

	_, err := c.store.RemoveUpload(ctx, sess.CorrelationID, sess.UploadID)
	switch {
	case err == nil:
		c.metrics.SessionClosed()
	case errors.Is(err, session.ErrSessionNotFound):
		slog.Debug("Upload session already replaced", "guid", sess.CorrelationID, "uploadId", sess.UploadID)
	default:
		slog.Warn("Failed to evict upload session", "guid", sess.CorrelationID, "err", err)
	}
}

func (c *Coordinator) abortUpload(ctx context.Context, key string, uploadID string) {
	if err := c.gw.AbortMultipartUpload(ctx, key, uploadID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("Failed to abort multipart upload", "key", key, "uploadId", uploadID, "err", err)
	}
}

// sortParts returns parts ordered by number, rejecting duplicates and
// out-of-range numbers.
func sortParts(parts []session.Part) ([]storage.Part, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no parts to merge", ErrInvalidChunk)
	}

	sorted := slices.Clone(parts)
	slices.SortFunc(sorted, func(a, b session.Part) int { return a.Number - b.Number })

	out := make([]storage.Part, 0, len(sorted))
	for i, p := range sorted {
		if p.Number < 1 || p.Number > storage.MaxPartNumber {
			return nil, fmt.Errorf("%w: part number %d outside 1..%d", ErrInvalidChunk, p.Number, storage.MaxPartNumber)
		}
		if i > 0 && sorted[i-1].Number == p.Number {
			return nil, fmt.Errorf("%w: duplicate part number %d", ErrInvalidChunk, p.Number)
		}
		if p.ETag == "" {
			return nil, fmt.Errorf("%w: part %d has no etag", ErrInvalidChunk, p.Number)
		}
		out = append(out, storage.Part{Number: p.Number, ETag: p.ETag})
	}
	return out, nil
}

// Merge completes the multipart upload and removes the session.
func (c *Coordinator) Merge(ctx context.Context, req MergeRequest) (storage.ObjectInfo, error) {
	var (
		sess *session.Session
		err  error
	)

	if c.closed.has(req.CorrelationID) {
		return storage.ObjectInfo{}, fmt.Errorf("guid %q already finished: %w", req.CorrelationID, session.ErrSessionNotFound)
	}

	if req.CorrelationID != "" {
		sess, err = c.store.Get(ctx, req.CorrelationID)
		if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			return storage.ObjectInfo{}, err
		}
	}

	key, uploadID, parts := req.ObjectKey, req.UploadID, req.Parts
	if len(parts) == 0 {
		if sess == nil {
			return storage.ObjectInfo{}, fmt.Errorf("merge guid %q: %w", req.CorrelationID, session.ErrSessionNotFound)
		}
		parts = sess.SortedParts()
	}

	if sess != nil {
		if key != "" && key != sess.ObjectKey {
			return storage.ObjectInfo{}, fmt.Errorf("%w: guid %s is bound to %q, merge targets %q",
				ErrKeyMismatch, req.CorrelationID, sess.ObjectKey, key)
		}
		key = sess.ObjectKey
		if uploadID == "" {
			uploadID = sess.UploadID
		}
	}

	if key == "" || uploadID == "" {
		return storage.ObjectInfo{}, fmt.Errorf("%w: merge without a session needs object key and upload id", ErrInvalidChunk)
	}

	sorted, err := sortParts(parts)
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	start := time.Now()
	if err := c.gw.CompleteMultipartUpload(ctx, key, uploadID, sorted); err != nil {
		c.metrics.RecordMerge(false, time.Since(start))
		return storage.ObjectInfo{}, &MergeError{
			Key:           key,
			UploadID:      uploadID,
			CorrelationID: req.CorrelationID,
			Err:           err,
		}
	}
	c.metrics.RecordMerge(true, time.Since(start))
	c.closed.add(req.CorrelationID)

	if req.CorrelationID != "" {
		if _, err := c.store.Remove(ctx, req.CorrelationID); err == nil {
			c.metrics.SessionClosed()
		} else if !errors.Is(err, session.ErrSessionNotFound) {
			slog.Warn("Failed to remove merged session", "guid", req.CorrelationID, "err", err)
		}
	}

	obj, err := c.gw.HeadObject(ctx, key)
	if err != nil {
		slog.Warn("Merged object not visible yet", "key", key, "err", err)
		obj = storage.Object{Key: key}
	}

	slog.Info("Merged upload", "guid", req.CorrelationID, "key", key, "parts", len(sorted), "size", obj.Size)
	return c.locator.Info(obj), nil
}

// Abort cancels the upload for correlationID and removes its session. The
// guid refuses new chunks from here on, even when no session was found.
func (c *Coordinator) Abort(ctx context.Context, correlationID string) error {
	c.closed.add(correlationID)

	sess, err := c.store.Remove(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("abort guid %q: %w", correlationID, err)
	}
	c.metrics.SessionClosed()

	if err := c.gw.AbortMultipartUpload(ctx, sess.ObjectKey, sess.UploadID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("abort multipart upload %q: %w", sess.UploadID, err)
	}

	slog.Info("Upload aborted", "guid", correlationID, "key", sess.ObjectKey, "parts", len(sess.Parts))
	return nil
}

// Status returns a snapshot of the session for correlationID.
func (c *Coordinator) Status(ctx context.Context, correlationID string) (*session.Session, error) {
	return c.store.Get(ctx, correlationID)
}
