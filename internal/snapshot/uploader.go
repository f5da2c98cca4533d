// Package snapshot backs up the local database to S3-compatible storage.
// When S3 is not configured (empty bucket), the NoopUploader is used and all
// S3 operations are skipped, keeping the device in local-only mode.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/tally/internal/config"
)

// DefaultLinkTTL is the lifetime of a download link when none is given.
const DefaultLinkTTL = 15 * time.Minute

// ErrNotConfigured is returned when S3 backup storage is not configured.
var ErrNotConfigured = errors.New("backup storage not configured")

// Uploader stores backups and hands out temporary download links to them.
type Uploader interface {
	// Upload stores the file at filePath under key and returns the number
	// of bytes sent.
	Upload(ctx context.Context, key, filePath string) (int64, error)

	// DownloadURL returns a link to key valid for ttl, and when it expires.
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

// bucketClient is the subset of *minio.Client the S3 uploader calls.
type bucketClient interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// S3Uploader stores device backups in one S3 bucket.
type S3Uploader struct {
	client bucketClient
	bucket string
	now    func() time.Time
}

// Upload stores a database snapshot under key.
func (u *S3Uploader) Upload(ctx context.Context, key, filePath string) (int64, error) {
	info, err := u.client.FPutObject(ctx, u.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	if err != nil {
		return 0, fmt.Errorf("upload %s to bucket %s: %w", key, u.bucket, err)
	}
	return info.Size, nil
}

// DownloadURL presigns a GET for key. A non-positive ttl takes
// DefaultLinkTTL.
func (u *S3Uploader) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	expires := u.now().Add(ttl)
	link, err := u.client.PresignedGetObject(ctx, u.bucket, key, ttl, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return link.String(), expires, nil
}

// NoopUploader keeps backups local-only.
type NoopUploader struct{}

func (NoopUploader) Upload(ctx context.Context, key, filePath string) (int64, error) {
	return 0, nil
}

func (NoopUploader) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader returns a NoopUploader when no bucket is configured and an
// S3Uploader otherwise.
func NewUploader(cfg config.BackupConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client: client,
		bucket: cfg.Bucket,
		now:    time.Now,
	}, nil
}

// stripScheme removes an http(s):// prefix from endpoint. An explicit
// scheme decides useSSL; a bare host leaves it unchanged.
func stripScheme(endpoint string, useSSL *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*useSSL = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*useSSL = false
		return strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}

// ObjectKey returns the object key of a device backup taken on day.
// Convention: {tenant}/{device}/{yyyy-mm-dd}/local.db
func ObjectKey(tenant, device string, day time.Time) string {
	return tenant + "/" + device + "/" + day.Format(time.DateOnly) + "/local.db"
}
