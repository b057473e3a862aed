package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"bollette/internal/core"
	"bollette/internal/log"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioBlobs keeps attachment files in an S3-compatible bucket.
type MinioBlobs struct {
	client *minio.Client
	bucket string
	logger *log.Logger
}

// NewMinioBlobs connects to the endpoint and creates the bucket when it is
// missing.
func NewMinioBlobs(ctx context.Context, cfg MinioConfig, logger *log.Logger) (*MinioBlobs, error) {
	if logger == nil {
		logger = log.Discard()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, classifyBlobErr("check bucket "+cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, classifyBlobErr("create bucket "+cfg.Bucket, err)
		}
		logger.InfoContext(ctx, "Attachment bucket created", "bucket", cfg.Bucket)
	}

	return &MinioBlobs{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.WithComponent(log.ComponentAttachments),
	}, nil
}

func (b *MinioBlobs) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, path, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return classifyBlobErr("upload attachment", err)
	}
	return nil
}

func (b *MinioBlobs) Remove(ctx context.Context, path string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return classifyBlobErr("remove attachment", err)
	}
	return nil
}

// SignedURL returns a presigned GET link valid for ttl.
func (b *MinioBlobs) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucket, path, ttl, nil)
	if err != nil {
		return "", classifyBlobErr("sign attachment url", err)
	}
	return u.String(), nil
}

func classifyBlobErr(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return &core.TransientError{Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &core.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
