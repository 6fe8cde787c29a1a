// Package core serves the JSON REST API of the gateway: chunked uploads,
// directory trees and single-shot object operations.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"ossgate/internal/metrics"
	"ossgate/internal/session"
	"ossgate/internal/storage"
	"ossgate/internal/upload"
)

// DefaultMaxChunkSize caps the body of a single chunk request.
const DefaultMaxChunkSize = 64 << 20

// Server wires one gateway, its session store and the upload coordinator
// behind an HTTP handler.
type Server struct {
	cfg     Config
	ops     *storage.Ops
	uploads *upload.Coordinator
	sweeper *session.Sweeper
}

// NewServer validates cfg and returns a new Server. Without a session store
// an in-memory one is used.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {

	if cfg.Gateway == nil {
		return nil, errors.New("Gateway must not be nil")
	}

	if cfg.Store == nil {
		cfg.Store = session.NewMemoryStore()
	}

	if cfg.Locator == nil {
		cfg.Locator = &storage.Locator{}
	}

	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}

	if cfg.Metrics == nil {
		m, err := metrics.NewCollector(metrics.Config{})
		if err != nil {
			return nil, fmt.Errorf("create metrics collector: %w", err)
		}
		cfg.Metrics = m
	}

	s := &Server{
		cfg: cfg,
		ops: storage.NewOps(cfg.Gateway, cfg.Locator, cfg.Codec),
		uploads: upload.New(cfg.Gateway, cfg.Store,
			upload.WithMaxConcurrency(cfg.MaxConcurrency),
			upload.WithLocator(cfg.Locator),
			upload.WithMetrics(cfg.Metrics),
		),
	}

	s.sweeper = session.NewSweeper(cfg.Store, cfg.Gateway, cfg.SessionTTL,
		session.WithSweepInterval(cfg.SweepInterval),
		session.WithOnExpired(func(*session.Session) {
			cfg.Metrics.SessionClosed()
			cfg.Metrics.SessionExpired()
		}),
	)

	slog.Info("Serving bucket", "gateway", cfg.Gateway.String(), "prefix", cfg.Prefix, "sweeper", s.sweeper.Enabled())
	return s, nil
}

// Ops returns the single-shot object helpers bound to the server's gateway.
func (s *Server) Ops() *storage.Ops {
	return s.ops
}

// Uploads returns the chunked upload coordinator.
func (s *Server) Uploads() *upload.Coordinator {
	return s.uploads
}

// RunSweeper expires idle upload sessions until ctx is cancelled.
func (s *Server) RunSweeper(ctx context.Context) error {
	return s.sweeper.Run(ctx)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

// writeInternalError writes a generic InternalError response.
func writeInternalError(w http.ResponseWriter, r *http.Request) {
	writeError(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
}

// writeNoSuchKeyError writes a generic NoSuchKey response.
func writeNoSuchKeyError(w http.ResponseWriter, r *http.Request) {
	writeError(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
}

func writeInvalidArgument(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, "InvalidArgument", message, r.URL.Path, http.StatusBadRequest)
}

// writeFailure maps err onto the error code and status the client sees.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		partErr  *upload.PartUploadError
		mergeErr *upload.MergeError
	)

	switch {
	case errors.As(err, &partErr):
		writeError(w, "PartUploadFailed", err.Error(), r.URL.Path, http.StatusBadGateway)
	case errors.As(err, &mergeErr):
		writeError(w, "MergeFailed", err.Error(), r.URL.Path, http.StatusBadGateway)
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, "SessionNotFound", err.Error(), r.URL.Path, http.StatusNotFound)
	case errors.Is(err, upload.ErrKeyMismatch):
		writeError(w, "KeyMismatch", err.Error(), r.URL.Path, http.StatusConflict)
	case errors.Is(err, upload.ErrInvalidChunk), errors.Is(err, storage.ErrInvalidPrefix):
		writeInvalidArgument(w, r, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeNoSuchKeyError(w, r)
	case errors.Is(err, context.Canceled):
		// client went away, nobody is left to read the response
		slog.Debug("Request cancelled", "path", r.URL.Path)
	default:
		slog.Error("Request failed", "path", r.URL.Path, "err", err)
		writeInternalError(w, r)
	}
}

// writeJSONResponse writes v as a JSON response body.
func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

// decodeJSONRequest reads a JSON request body into v.
func decodeJSONRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeInvalidArgument(w, r, "malformed JSON body: "+err.Error())
		return false
	}
	return true
}
