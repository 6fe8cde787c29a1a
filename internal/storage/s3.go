package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// deleteBatchSize is the maximum number of keys accepted by one
// DeleteObjects request.
const deleteBatchSize = 1000

// S3Gateway talks to AWS S3 through aws-sdk-go-v2.
type S3Gateway struct {
	bucket string
	region string
	client *s3.Client
}

// NewS3Gateway loads the AWS configuration and creates an S3Gateway. Static
// credentials from cfg take precedence over the default credential chain.
func NewS3Gateway(ctx context.Context, cfg Config) (*S3Gateway, error) {
	httpClient := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		if cfg.MaxConnections > 0 {
			tr.MaxIdleConnsPerHost = cfg.MaxConnections
			tr.MaxConnsPerHost = cfg.MaxConnections
		}
		if cfg.ConnectionTimeout > 0 {
			tr.ResponseHeaderTimeout = cfg.ConnectionTimeout
		}
	})

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Gateway{bucket: cfg.Bucket, region: awsCfg.Region, client: client}, nil
}

func (g *S3Gateway) String() string {
	return fmt.Sprintf("s3://%s", g.bucket)
}

func (g *S3Gateway) Bucket() string {
	return g.bucket
}

func (g *S3Gateway) EnsureBucket(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)})
	if err == nil {
		return nil
	}
	if !errors.Is(translateS3Error(err), ErrNotFound) {
		return fmt.Errorf("check bucket %q: %w", g.bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(g.bucket)}
	if g.region != "" && g.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(g.region),
		}
	}
	if _, err := g.client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("create bucket %q: %w", g.bucket, err)
	}
	slog.Info("Created bucket", "bucket", g.bucket)
	return nil
}

func (g *S3Gateway) SetCORS(ctx context.Context) error {
	_, err := g.client.PutBucketCors(ctx, &s3.PutBucketCorsInput{
		Bucket: aws.String(g.bucket),
		CORSConfiguration: &types.CORSConfiguration{
			CORSRules: []types.CORSRule{{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{http.MethodGet},
				AllowedHeaders: []string{"*"},
			}},
		},
	})
	return err
}

func (g *S3Gateway) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	out, err := g.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", translateS3Error(err)
	}
	return aws.ToString(out.UploadId), nil
}

func (g *S3Gateway) UploadPart(ctx context.Context, key string, uploadID string, number int, data []byte) (Part, error) {
	out, err := g.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(number)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return Part{}, translateS3Error(err)
	}
	return Part{Number: number, ETag: aws.ToString(out.ETag)}, nil
}

func (g *S3Gateway) CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []Part) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.Number)),
		})
	}

	_, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(g.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	return translateS3Error(err)
}

func (g *S3Gateway) AbortMultipartUpload(ctx context.Context, key string, uploadID string) error {
	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	return translateS3Error(err)
}

func (g *S3Gateway) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translateS3Error(err)
		}
		for _, o := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
				ETag:         aws.ToString(o.ETag),
			})
		}
	}
	return objects, nil
}

func (g *S3Gateway) HeadObject(ctx context.Context, key string) (Object, error) {
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Object{}, translateS3Error(err)
	}
	return Object{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         aws.ToString(out.ETag),
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     out.Metadata,
	}, nil
}

func (g *S3Gateway) GetObject(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, Object{}, translateS3Error(err)
	}
	return out.Body, Object{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         aws.ToString(out.ETag),
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     out.Metadata,
	}, nil
}

func (g *S3Gateway) PutObject(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		Body:     r,
		Metadata: opts.Metadata,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	_, err := g.client.PutObject(ctx, input)
	return translateS3Error(err)
}

func (g *S3Gateway) DeleteObject(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	return translateS3Error(err)
}

func (g *S3Gateway) DeleteObjects(ctx context.Context, keys []string) error {
	for _, batch := range chunkKeys(keys, deleteBatchSize) {
		ids := make([]types.ObjectIdentifier, 0, len(batch))
		for _, key := range batch {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}

		out, err := g.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(g.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return translateS3Error(err)
		}

		var errs []error
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("remove %q: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}
	}
	return nil
}

// translateS3Error maps "no such key/bucket" and bare 404 responses to
// ErrNotFound.
func translateS3Error(err error) error {
	if err == nil {
		return nil
	}

	var (
		noSuchKey    *types.NoSuchKey
		noSuchBucket *types.NoSuchBucket
		notFound     *types.NotFound
	)
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
	}
	return err
}
