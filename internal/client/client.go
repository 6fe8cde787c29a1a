// Package client talks to the ossgate chunk upload endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"ossgate/internal/core"
	"ossgate/internal/session"
	"ossgate/internal/storage"
	"ossgate/internal/upload"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	core.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsSessionNotFound reports whether err says the gateway has no session for
// the requested guid.
func IsSessionNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "SessionNotFound"
}

type Client struct {
	baseURL     string
	http        *http.Client
	mode        Mode
	chunkSize   int
	concurrency int
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithChunkSize(n int) Option {
	return func(c *Client) {
		c.chunkSize = n
	}
}

func WithMode(m Mode) Option {
	return func(c *Client) {
		c.mode = m
	}
}

// WithConcurrency bounds the number of chunks in flight.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		c.concurrency = n
	}
}

// New returns a client for the gateway mounted at baseURL, for example
// http://localhost:8080/oss.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		http:        &http.Client{Timeout: 10 * time.Minute},
		mode:        ModeFixed,
		chunkSize:   DefaultChunkSize,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	return c
}

// FileUpload describes one local file headed for the gateway.
type FileUpload struct {
	// GUID identifies the upload session. Reusing the GUID of an
	// interrupted upload resumes it. A fresh one is generated when empty.
	GUID      string
	LocalPath string
	Path      string
	Filename  string
}

// Upload sends the file in chunks and merges them. Parts the gateway has
// already recorded for the GUID are skipped.
func (c *Client) Upload(ctx context.Context, fu FileUpload) (storage.ObjectInfo, error) {
	if fu.GUID == "" {
		fu.GUID = uuid.NewString()
	}
	if fu.Filename == "" {
		fu.Filename = filepath.Base(fu.LocalPath)
	}

	log := slog.With("guid", fu.GUID, "file", fu.LocalPath)

	done := make(map[int]session.Part)
	status, err := c.Status(ctx, fu.GUID)
	switch {
	case err == nil:
		for _, p := range status.Parts {
			done[p.Number] = p
		}
		log.Info("Resuming upload", "key", status.Key, "parts", len(done))
	case IsSessionNotFound(err):
	default:
		return storage.ObjectInfo{}, err
	}

	f, err := os.Open(fu.LocalPath)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	defer f.Close()

	var mu sync.Mutex
	parts := make([]session.Part, 0, len(done))
	for _, p := range done {
		parts = append(parts, p)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	err = Split(f, c.mode, c.chunkSize, func(number int, data []byte) error {
		if _, ok := done[number]; ok {
			return nil
		}
		if err := gctx.Err(); err != nil {
			return err
		}

		g.Go(func() error {
			res, err := c.SendChunk(gctx, fu.GUID, fu.Path, fu.Filename, number, data)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", number, err)
			}

			mu.Lock()
			parts = append(parts, session.Part{Number: res.PartNumber, ETag: res.ETag, Size: int64(len(data))})
			mu.Unlock()

			log.Debug("Sent chunk", "part", number, "size", len(data), "duplicate", res.Duplicate)
			return nil
		})
		return nil
	})

	if werr := g.Wait(); werr != nil {
		return storage.ObjectInfo{}, werr
	}
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("read %q: %w", fu.LocalPath, err)
	}

	info, err := c.Merge(ctx, core.MergeRequest{
		GUID:     fu.GUID,
		Path:     fu.Path,
		Filename: fu.Filename,
		Parts:    parts,
	})
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	log.Info("Upload complete", "key", info.Key, "size", info.Size, "parts", len(parts))
	return info, nil
}

// SendChunk posts one chunk as multipart/form-data.
func (c *Client) SendChunk(ctx context.Context, guid string, path string, filename string, number int, data []byte) (upload.PartResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for name, value := range map[string]string{
		"guid":        guid,
		"path":        path,
		"filename":    filename,
		"chunkNumber": strconv.Itoa(number),
	} {
		if err := mw.WriteField(name, value); err != nil {
			return upload.PartResult{}, err
		}
	}

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return upload.PartResult{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return upload.PartResult{}, err
	}
	if err := mw.Close(); err != nil {
		return upload.PartResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chunk", &body)
	if err != nil {
		return upload.PartResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res upload.PartResult
	return res, c.do(req, &res)
}

// Status returns what the gateway has recorded for guid.
func (c *Client) Status(ctx context.Context, guid string) (core.SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chunk/"+url.PathEscape(guid), nil)
	if err != nil {
		return core.SessionStatus{}, err
	}

	var status core.SessionStatus
	return status, c.do(req, &status)
}

func (c *Client) Merge(ctx context.Context, mr core.MergeRequest) (storage.ObjectInfo, error) {
	payload, err := json.Marshal(mr)
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chunk/merge", bytes.NewReader(payload))
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var info storage.ObjectInfo
	return info, c.do(req, &info)
}

// Abort drops the session for guid and its pending parts.
func (c *Client) Abort(ctx context.Context, guid string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/chunk/"+url.PathEscape(guid), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// do sends req and decodes a JSON answer into out when out is not nil.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.ErrorResponse); err != nil {
			slog.Debug("Undecodable error body", "status", resp.StatusCode, "err", err)
		}
		return apiErr
	}

	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
