// Package archive copies uploaded videos to object storage before the
// temporary file is removed.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
)

// Sentinel errors.
var (
	ErrConnect = errors.New("object storage unreachable")
	ErrUpload  = errors.New("object upload failed")
)

// Config addresses a MinIO or S3-compatible bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// objectStore is the subset of *minio.Client the archiver uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver uploads videos under "<subject-hash>/<date>/<uuid><ext>".
type Archiver struct {
	client   objectStore
	bucket   string
	region   string
	endpoint string
	logger   logger.Logger
	now      func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time used for object keys.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// Connect creates a MinIO client and makes sure the bucket exists.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Archiver, error) {
	const op = "archive.connect"

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("%w: %w", ErrConnect, err))
	}
	a := newArchiver(cli, cfg, cli.EndpointURL().Host, opts...)
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func newArchiver(client objectStore, cfg Config, endpoint string, opts ...Option) *Archiver {
	a := &Archiver{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: endpoint,
		logger:   logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	const op = "archive.ensure_bucket"

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("%w: %w", ErrConnect, err))
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("%w: %w", ErrConnect, err))
	}
	a.logger.Info(ctx, "bucket created", logger.String("bucket", a.bucket))
	return nil
}

// Archive uploads localPath and returns the object URL. The local file is
// left in place.
func (a *Archiver) Archive(ctx context.Context, subject model.Subject, localPath string) (string, error) {
	const op = "archive.upload"

	key := a.objectKey(subject, localPath)
	_, err := a.client.FPutObject(ctx, a.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", failure.WrapKind(op, failure.ErrUpstream, fmt.Errorf("%w: %w", ErrUpload, err))
	}

	url := fmt.Sprintf("http://%s/%s/%s", a.endpoint, a.bucket, key)
	a.logger.Debug(ctx, "video archived", logger.String("key", key))
	return url, nil
}

// objectKey avoids putting the raw subject in object names.
func (a *Archiver) objectKey(subject model.Subject, localPath string) string {
	owner := uuid.NewSHA1(uuid.NameSpaceURL, []byte(subject)).String()
	ext := strings.ToLower(filepath.Ext(localPath))
	return path.Join(owner, a.now().UTC().Format("2006/01/02"), uuid.NewString()+ext)
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
}

func contentType(p string) string {
	if ct, ok := videoTypes[strings.ToLower(filepath.Ext(p))]; ok {
		return ct
	}
	return "application/octet-stream"
}
