package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/cors"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioGateway talks to MinIO (or any S3-compatible endpoint) through the
// minio-go Core client, which exposes the raw multipart primitives.
type MinioGateway struct {
	bucket string
	region string
	core   *minio.Core
}

// NewMinioGateway creates a MinioGateway for cfg.
func NewMinioGateway(cfg Config) (*MinioGateway, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	transport, err := minio.DefaultTransport(secure)
	if err != nil {
		return nil, fmt.Errorf("create minio transport: %w", err)
	}
	if cfg.MaxConnections > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxConnections
		transport.MaxConnsPerHost = cfg.MaxConnections
	}
	if cfg.ConnectionTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.ConnectionTimeout
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	core, err := minio.NewCore(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioGateway{bucket: cfg.Bucket, region: cfg.Region, core: core}, nil
}

func (g *MinioGateway) String() string {
	return fmt.Sprintf("minio://%s", g.bucket)
}

func (g *MinioGateway) Bucket() string {
	return g.bucket
}

func (g *MinioGateway) EnsureBucket(ctx context.Context) error {
	exists, err := g.core.BucketExists(ctx, g.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", g.bucket, err)
	}
	if exists {
		return nil
	}

	if err := g.core.MakeBucket(ctx, g.bucket, minio.MakeBucketOptions{Region: g.region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", g.bucket, err)
	}
	slog.Info("Created bucket", "bucket", g.bucket)
	return nil
}

func (g *MinioGateway) SetCORS(ctx context.Context) error {
	cfg := cors.NewConfig([]cors.Rule{{
		AllowedOrigin: []string{"*"},
		AllowedMethod: []string{http.MethodGet},
		AllowedHeader: []string{"*"},
	}})
	return g.core.SetBucketCors(ctx, g.bucket, cfg)
}

func (g *MinioGateway) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	uploadID, err := g.core.NewMultipartUpload(ctx, g.bucket, key, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", translateMinioError(err)
	}
	return uploadID, nil
}

func (g *MinioGateway) UploadPart(ctx context.Context, key string, uploadID string, number int, data []byte) (Part, error) {
	part, err := g.core.PutObjectPart(ctx, g.bucket, key, uploadID, number, bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return Part{}, translateMinioError(err)
	}
	return Part{Number: number, ETag: part.ETag}, nil
}

func (g *MinioGateway) CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []Part) error {
	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: p.Number, ETag: p.ETag})
	}

	_, err := g.core.CompleteMultipartUpload(ctx, g.bucket, key, uploadID, complete, minio.PutObjectOptions{})
	return translateMinioError(err)
}

func (g *MinioGateway) AbortMultipartUpload(ctx context.Context, key string, uploadID string) error {
	return translateMinioError(g.core.AbortMultipartUpload(ctx, g.bucket, key, uploadID))
}

func (g *MinioGateway) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	for info := range g.core.Client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, translateMinioError(info.Err)
		}
		objects = append(objects, minioObject(info))
	}
	return objects, nil
}

func (g *MinioGateway) HeadObject(ctx context.Context, key string) (Object, error) {
	info, err := g.core.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return Object{}, translateMinioError(err)
	}
	return minioObject(info), nil
}

func (g *MinioGateway) GetObject(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	obj, err := g.core.Client.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, translateMinioError(err)
	}

	// GetObject is lazy; Stat forces the request so a missing key surfaces here.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, Object{}, translateMinioError(err)
	}
	return obj, minioObject(info), nil
}

func (g *MinioGateway) PutObject(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	_, err := g.core.Client.PutObject(ctx, g.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	return translateMinioError(err)
}

func (g *MinioGateway) DeleteObject(ctx context.Context, key string) error {
	return translateMinioError(g.core.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{}))
}

func (g *MinioGateway) DeleteObjects(ctx context.Context, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			select {
			case objectsCh <- minio.ObjectInfo{Key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var errs []error
	for rerr := range g.core.RemoveObjects(ctx, g.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("remove %q: %w", rerr.ObjectName, rerr.Err))
	}
	return errors.Join(errs...)
}

func minioObject(info minio.ObjectInfo) Object {
	return Object{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		Metadata:     info.UserMetadata,
	}
}

// translateMinioError maps "no such key/bucket" responses to ErrNotFound.
func translateMinioError(err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.Code == "NoSuchKey",
		resp.Code == "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
	}
	return err
}
