// Package media uploads seed and fork images to S3-compatible object storage.
package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"artive/api/internal/util"
)

var (
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrTooLarge        = errors.New("media exceeds size limit")
	ErrEmpty           = errors.New("media is empty")
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ObjectPutter is the subset of *minio.Client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL prefixes returned object URLs. Defaults to the endpoint.
	PublicURL string
	MaxBytes  int64
}

// Object describes a stored upload.
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Store struct {
	client    ObjectPutter
	bucket    string
	publicURL string
	maxBytes  int64
	newID     func() string
}

// Connect opens a MinIO client and creates the bucket when it is missing.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	if cfg.PublicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		cfg.PublicURL = scheme + "://" + cfg.Endpoint
	}
	return NewStore(client, cfg), nil
}

func NewStore(client ObjectPutter, cfg Config) *Store {
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		maxBytes:  cfg.MaxBytes,
		newID:     util.NewID,
	}
}

func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Upload stores an image owned by ownerID. The content type is sniffed from
// the payload; a declared type is not trusted. size may be -1 when unknown.
func (s *Store) Upload(ctx context.Context, ownerID string, body io.Reader, size int64) (Object, error) {
	if s.maxBytes > 0 && size > s.maxBytes {
		return Object{}, ErrTooLarge
	}

	buffered := bufio.NewReaderSize(body, 512)
	head, err := buffered.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Object{}, fmt.Errorf("read media: %w", err)
	}
	if len(head) == 0 {
		return Object{}, ErrEmpty
	}

	contentType := http.DetectContentType(head)
	ext, ok := extensions[contentType]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	var reader io.Reader = buffered
	if s.maxBytes > 0 {
		reader = &limitedReader{r: buffered, remaining: s.maxBytes}
	}

	key := ownerID + "/" + s.newID() + ext
	info, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return Object{}, ErrTooLarge
		}
		return Object{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return Object{
		Key:         key,
		URL:         s.publicURL + "/" + s.bucket + "/" + key,
		ContentType: contentType,
		Size:        info.Size,
	}, nil
}

// limitedReader fails with ErrTooLarge instead of silently truncating.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
