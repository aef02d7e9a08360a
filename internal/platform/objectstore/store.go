// Package objectstore mirrors generated images into S3-compatible object
// storage. Provider-hosted result URLs expire, so durable results are
// re-uploaded under deterministic keys and served from the bucket (or a
// CDN in front of it).
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/easelhq/easel-api/internal/config"
	"github.com/easelhq/easel-api/internal/job"
)

const (
	defaultMirrorTimeout = 30 * time.Second

	// defaultMirrorByteLimit caps how much of a provider-hosted image the
	// mirror will buffer. Anything larger stays on the provider URL.
	defaultMirrorByteLimit = 32 << 20
)

// Common errors returned by the object store.
var (
	ErrMissingEndpoint = errors.New("objectstore: endpoint is required")
	ErrMissingBucket   = errors.New("objectstore: bucket is required")
	ErrEmptyImage      = errors.New("objectstore: empty image data")
	ErrMirrorTooLarge  = errors.New("objectstore: mirrored image exceeds size limit")
)

// objectAPI is the slice of the MinIO client the store uses. Tests swap in
// a fake; production code always holds a *minio.Client.
type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Ensure the real client satisfies the seam.
var _ objectAPI = (*minio.Client)(nil)

// Store uploads generated images to a bucket and hands back public URLs.
// Objects land under tasks/{taskID}/{subtaskID}-{slug}.{ext} so everything
// belonging to one creative request shares a prefix.
type Store struct {
	client          objectAPI
	httpClient      *http.Client
	bucket          string
	endpoint        string
	publicBaseURL   string
	useSSL          bool
	mirrorByteLimit int64
	logger          *slog.Logger
}

// Ensure Store implements the job pipeline's artifact seam.
var _ job.ArtifactStore = (*Store)(nil)

// New creates a Store from storage configuration.
//
// Parameters:
//   - cfg: endpoint, credentials, bucket, and optional public base URL.
//   - httpClient: client used to fetch provider-hosted images for
//     mirroring. If nil, a default client with a 30-second timeout is used.
//   - logger: the structured logger. Must not be nil.
//
// Returns:
//   - *Store: the configured store.
//   - error: if the logger is nil, required settings are missing, or the
//     storage client cannot be constructed.
func New(cfg config.StorageConfig, httpClient *http.Client, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrMissingEndpoint
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, ErrMissingBucket
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultMirrorTimeout}
	}

	return &Store{
		client:          client,
		httpClient:      httpClient,
		bucket:          cfg.Bucket,
		endpoint:        cfg.Endpoint,
		publicBaseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		useSSL:          cfg.UseSSL,
		mirrorByteLimit: defaultMirrorByteLimit,
		logger:          logger,
	}, nil
}

// EnsureBucket verifies the configured bucket exists, creating it when
// missing. Called once at startup so later upload failures mean a real
// outage rather than a provisioning gap.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
	}

	s.logger.InfoContext(ctx, "created artifact bucket", "bucket", s.bucket)
	return nil
}

// StoreImage uploads inline image bytes and returns their public URL.
func (s *Store) StoreImage(ctx context.Context, taskID, subtaskID uuid.UUID, slug string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	key := objectKey(taskID, subtaskID, slug, contentType)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %q: %w", key, err)
	}

	s.logger.DebugContext(ctx, "stored generated image",
		"key", key,
		"bytes", len(data),
		"content_type", contentType)
	return s.publicURL(key), nil
}

// MirrorURL downloads a provider-hosted image and re-uploads it, returning
// the storage-backed URL.
func (s *Store) MirrorURL(ctx context.Context, taskID, subtaskID uuid.UUID, slug, srcURL string) (string, error) {
	data, contentType, err := s.download(ctx, srcURL)
	if err != nil {
		return "", err
	}
	return s.StoreImage(ctx, taskID, subtaskID, slug, data, contentType)
}

func (s *Store) download(ctx context.Context, srcURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create mirror request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch provider image: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.WarnContext(ctx, "failed to close mirror response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("objectstore: mirror fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.mirrorByteLimit+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read provider image: %w", err)
	}
	if int64(len(data)) > s.mirrorByteLimit {
		return nil, "", ErrMirrorTooLarge
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// publicURL builds the URL callers hand to end users. PublicBaseURL, when
// set, must map to the bucket root (a CDN domain in front of the bucket);
// otherwise the endpoint-derived form matches MinIO's path-style layout.
func (s *Store) publicURL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, key)
}

func objectKey(taskID, subtaskID uuid.UUID, slug, contentType string) string {
	return fmt.Sprintf("tasks/%s/%s-%s.%s", taskID, subtaskID, slug, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
