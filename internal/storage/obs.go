package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/huaweicloud/huaweicloud-sdk-go-obs/obs"
)

// OBSGateway talks to Huawei OBS through its native SDK. The SDK predates
// context support, so ctx is only checked before each call.
type OBSGateway struct {
	bucket string
	region string
	c      *obs.ObsClient
}

// SDK defaults applied when the configuration leaves a value at zero.
const (
	obsDefaultMaxConnections = 1000
	obsDefaultConnectTimeout = 60 * time.Second
)

// NewOBSGateway creates an OBSGateway for cfg.
func NewOBSGateway(cfg Config) (*OBSGateway, error) {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = obsDefaultMaxConnections
	}
	timeout := cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = obsDefaultConnectTimeout
	}

	c, err := obs.New(cfg.AccessKey, cfg.SecretKey, cfg.Endpoint,
		obs.WithMaxConnections(maxConns),
		obs.WithConnectTimeout(int(timeout.Seconds())),
		obs.WithPathStyle(cfg.PathStyle),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OBS: %w", err)
	}

	return &OBSGateway{bucket: cfg.Bucket, region: cfg.Region, c: c}, nil
}

func (g *OBSGateway) String() string {
	return fmt.Sprintf("obs://%s", g.bucket)
}

func (g *OBSGateway) Bucket() string {
	return g.bucket
}

func (g *OBSGateway) EnsureBucket(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := g.c.HeadBucket(g.bucket)
	if err == nil {
		return nil
	}
	if !errors.Is(translateOBSError(err), ErrNotFound) {
		return fmt.Errorf("check bucket %q: %w", g.bucket, err)
	}

	params := &obs.CreateBucketInput{}
	params.Bucket = g.bucket
	params.Location = g.region
	if _, err := g.c.CreateBucket(params); err != nil {
		return fmt.Errorf("create bucket %q: %w", g.bucket, err)
	}
	slog.Info("Created bucket", "bucket", g.bucket)
	return nil
}

func (g *OBSGateway) SetCORS(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &obs.SetBucketCorsInput{}
	params.Bucket = g.bucket
	params.CorsRules = []obs.CorsRule{{
		AllowedOrigin: []string{"*"},
		AllowedMethod: []string{http.MethodGet},
		AllowedHeader: []string{"*"},
	}}
	_, err := g.c.SetBucketCors(params)
	return err
}

func (g *OBSGateway) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &obs.InitiateMultipartUploadInput{}
	params.Bucket = g.bucket
	params.Key = key
	params.ContentType = "application/octet-stream"
	output, err := g.c.InitiateMultipartUpload(params)
	if err != nil {
		return "", translateOBSError(err)
	}
	return output.UploadId, nil
}

func (g *OBSGateway) UploadPart(ctx context.Context, key string, uploadID string, number int, data []byte) (Part, error) {
	if err := ctx.Err(); err != nil {
		return Part{}, err
	}

	params := &obs.UploadPartInput{}
	params.Bucket = g.bucket
	params.Key = key
	params.UploadId = uploadID
	params.PartNumber = number
	params.PartSize = int64(len(data))
	params.Body = bytes.NewReader(data)
	output, err := g.c.UploadPart(params)
	if err != nil {
		return Part{}, translateOBSError(err)
	}
	return Part{Number: number, ETag: output.ETag}, nil
}

func (g *OBSGateway) CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []Part) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &obs.CompleteMultipartUploadInput{}
	params.Bucket = g.bucket
	params.Key = key
	params.UploadId = uploadID
	for _, p := range parts {
		params.Parts = append(params.Parts, obs.Part{ETag: p.ETag, PartNumber: p.Number})
	}
	_, err := g.c.CompleteMultipartUpload(params)
	return translateOBSError(err)
}

func (g *OBSGateway) AbortMultipartUpload(ctx context.Context, key string, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &obs.AbortMultipartUploadInput{}
	params.Bucket = g.bucket
	params.Key = key
	params.UploadId = uploadID
	_, err := g.c.AbortMultipartUpload(params)
	return translateOBSError(err)
}

func (g *OBSGateway) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	params := &obs.ListObjectsInput{}
	params.Bucket = g.bucket
	params.Prefix = prefix
	params.MaxKeys = 1000

	var objects []Object
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		output, err := g.c.ListObjects(params)
		if err != nil {
			return nil, translateOBSError(err)
		}
		for _, o := range output.Contents {
			objects = append(objects, Object{
				Key:          o.Key,
				Size:         o.Size,
				LastModified: o.LastModified,
				ETag:         o.ETag,
			})
		}
		if !output.IsTruncated {
			break
		}
		params.Marker = output.NextMarker
	}
	return objects, nil
}

func (g *OBSGateway) HeadObject(ctx context.Context, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	params := &obs.GetObjectMetadataInput{}
	params.Bucket = g.bucket
	params.Key = key
	output, err := g.c.GetObjectMetadata(params)
	if err != nil {
		return Object{}, translateOBSError(err)
	}
	return Object{
		Key:          key,
		Size:         output.ContentLength,
		LastModified: output.LastModified,
		ETag:         output.ETag,
		ContentType:  output.ContentType,
		Metadata:     output.Metadata,
	}, nil
}

func (g *OBSGateway) GetObject(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, Object{}, err
	}

	params := &obs.GetObjectInput{}
	params.Bucket = g.bucket
	params.Key = key
	output, err := g.c.GetObject(params)
	if err != nil {
		return nil, Object{}, translateOBSError(err)
	}
	return output.Body, Object{
		Key:          key,
		Size:         output.ContentLength,
		LastModified: output.LastModified,
		ETag:         output.ETag,
		ContentType:  output.ContentType,
		Metadata:     output.Metadata,
	}, nil
}

func (g *OBSGateway) PutObject(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &obs.PutObjectInput{}
	params.Bucket = g.bucket
	params.Key = key
	params.Body = r
	params.Metadata = opts.Metadata
	params.ContentType = opts.ContentType
	if size >= 0 {
		params.ContentLength = size
	}
	_, err := g.c.PutObject(params)
	return translateOBSError(err)
}

func (g *OBSGateway) DeleteObject(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &obs.DeleteObjectInput{}
	params.Bucket = g.bucket
	params.Key = key
	_, err := g.c.DeleteObject(params)
	return translateOBSError(err)
}

func (g *OBSGateway) DeleteObjects(ctx context.Context, keys []string) error {
	for _, batch := range chunkKeys(keys, deleteBatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}

		toDelete := make([]obs.ObjectToDelete, len(batch))
		for i := range batch {
			toDelete[i].Key = batch[i]
		}
		params := &obs.DeleteObjectsInput{}
		params.Bucket = g.bucket
		params.Objects = toDelete
		params.Quiet = true
		output, err := g.c.DeleteObjects(params)
		if err != nil {
			return translateOBSError(err)
		}

		var errs []error
		for _, e := range output.Errors {
			errs = append(errs, fmt.Errorf("remove %q: %s", e.Key, e.Message))
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}
	}
	return nil
}

// translateOBSError maps OBS 404 responses to ErrNotFound.
func translateOBSError(err error) error {
	if err == nil {
		return nil
	}

	if obsErr, ok := err.(obs.ObsError); ok {
		if obsErr.StatusCode == http.StatusNotFound || obsErr.Code == "NoSuchKey" || obsErr.Code == "NoSuchBucket" {
			return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
		}
	}
	return err
}
