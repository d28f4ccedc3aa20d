package archive

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/xtxerr/runstore/internal/config"
)

// MinIO uploads to a MinIO or other S3 compatible server.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIO creates a MinIO archiver. Endpoint is host:port without scheme.
func NewMinIO(cfg config.ArchiveConfig) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIO{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Driver implements Archiver.
func (m *MinIO) Driver() string { return DriverMinIO }

// Upload implements Archiver.
func (m *MinIO) Upload(ctx context.Context, path string) (Object, error) {
	key := Key(m.prefix, path)
	info, err := m.client.FPutObject(ctx, m.bucket, key, path, minio.PutObjectOptions{
		ContentType: ContentType,
	})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code != "" {
			return Object{}, fmt.Errorf("upload minio://%s/%s: %s: %w", m.bucket, key, resp.Code, err)
		}
		return Object{}, fmt.Errorf("upload minio://%s/%s: %w", m.bucket, key, err)
	}
	return Object{Bucket: m.bucket, Key: key, Size: info.Size}, nil
}
