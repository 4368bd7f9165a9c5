package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive keeps a copy of raw uploaded documents. Archiving is
// best-effort: the chat flow works from extracted text and does not read
// the archive back.
type Archive interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// DirArchive writes uploads to disk under a base directory.
type DirArchive struct {
	basePath string
}

// NewDirArchive creates the base directory if missing.
func NewDirArchive(basePath string) (*DirArchive, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("archive base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &DirArchive{basePath: basePath}, nil
}

// Put writes the upload under basePath/key, creating parent directories.
func (d *DirArchive) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target := filepath.Join(d.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create archive subdir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}
	return nil
}

// MinioArchive stores uploads in MinIO/S3 compatible object storage.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to MinIO and ensures the bucket exists.
func NewMinioArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

// Put uploads an object.
func (m *MinioArchive) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
