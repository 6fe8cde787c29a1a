package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// Provider names the family of object store behind a Gateway.
type Provider string

const (
	ProviderMinio Provider = "minio"
	ProviderS3    Provider = "s3"
	ProviderOBS   Provider = "obs"
	ProviderLocal Provider = "local"
)

// MaxPartNumber is the largest part number accepted by S3-compatible
// multipart uploads.
const MaxPartNumber = 10000

// ErrNotFound is returned by gateways when the provider reports that the
// requested key or bucket does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a single stored object as reported by a listing or a
// metadata lookup.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	ContentType  string
	Metadata     map[string]string
}

// IsDirMarker reports whether the object is a zero-byte "directory" key.
func (o Object) IsDirMarker() bool {
	return strings.HasSuffix(o.Key, "/")
}

// Part is one uploaded part of a multipart upload.
type Part struct {
	Number int
	ETag   string
}

// PutOptions carries the optional attributes of a single-shot upload.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Gateway is the thin surface of an S3-compatible SDK client that the rest
// of the service relies on. Implementations translate provider "no such key"
// and "no such bucket" responses into ErrNotFound.
type Gateway interface {
	// String returns a short description such as "minio://bucket".
	String() string

	// Bucket returns the name of the bucket this gateway is bound to.
	Bucket() string

	// EnsureBucket creates the bucket when it does not exist yet.
	EnsureBucket(ctx context.Context) error

	// SetCORS allows cross-origin GET requests on the bucket.
	SetCORS(ctx context.Context) error

	CreateMultipartUpload(ctx context.Context, key string) (string, error)
	UploadPart(ctx context.Context, key string, uploadID string, number int, data []byte) (Part, error)
	CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []Part) error
	AbortMultipartUpload(ctx context.Context, key string, uploadID string) error

	// ListObjects returns every object whose key starts with prefix, following
	// pagination until the listing is exhausted.
	ListObjects(ctx context.Context, prefix string) ([]Object, error)
	HeadObject(ctx context.Context, key string) (Object, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, Object, error)
	PutObject(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error
	DeleteObject(ctx context.Context, key string) error
	DeleteObjects(ctx context.Context, keys []string) error
}

// Config holds the connection settings for a Gateway.
type Config struct {
	Provider  Provider
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string

	// PathStyle forces path-style bucket addressing on providers that
	// support both styles.
	PathStyle bool

	MaxConnections    int
	ConnectionTimeout time.Duration

	// PublicURL overrides the base used to derive display URLs.
	PublicURL string

	// DataDir is the storage root of the local provider.
	DataDir string
}

// New constructs the Gateway selected by cfg.Provider.
func New(ctx context.Context, cfg Config) (Gateway, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name must not be empty")
	}

	switch cfg.Provider {
	case ProviderMinio, "":
		return NewMinioGateway(cfg)
	case ProviderS3:
		return NewS3Gateway(ctx, cfg)
	case ProviderOBS:
		return NewOBSGateway(cfg)
	case ProviderLocal:
		return NewLocalGateway(cfg.DataDir, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// parseEndpoint splits an endpoint into host[:port] and whether TLS should
// be used. Endpoints without a scheme are treated as plain HTTP.
func parseEndpoint(endpoint string) (string, bool, error) {
	if endpoint == "" {
		return "", false, errors.New("endpoint must not be empty")
	}

	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), false, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

// metadataValue looks up a user metadata entry ignoring key case, since
// providers disagree on how they canonicalize metadata names.
func metadataValue(md map[string]string, key string) (string, bool) {
	for k, v := range md {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// chunkKeys splits keys into batches of at most n entries.
func chunkKeys(keys []string, n int) [][]string {
	var batches [][]string
	for len(keys) > n {
		batches = append(batches, keys[:n])
		keys = keys[n:]
	}
	if len(keys) > 0 {
		batches = append(batches, keys)
	}
	return batches
}
