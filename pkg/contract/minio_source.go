package contract

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig contains configuration for the MinIO metadata store
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	BucketName string
	BasePath   string
}

// MinioSource reads metadata from an object in a MinIO bucket.
type MinioSource struct {
	client     *minio.Client
	bucketName string
	objectName string
}

// NewMinioSource creates a source for objectName, relative to cfg.BasePath.
func NewMinioSource(cfg MinioConfig, objectName string) (*MinioSource, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	objectName = strings.TrimPrefix(objectName, "/")
	if cfg.BasePath != "" {
		objectName = path.Join(cfg.BasePath, objectName)
	}
	return &MinioSource{
		client:     client,
		bucketName: cfg.BucketName,
		objectName: objectName,
	}, nil
}

// Fetch downloads the object.
func (s *MinioSource) Fetch(ctx context.Context) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, s.objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download object %s: %w", s.objectName, err)
	}
	defer obj.Close()

	// GetObject is lazy: a missing object surfaces on the first read
	data, err := readLimited(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to download object %s: %w", s.objectName, err)
	}
	return data, nil
}

// Store validates data as metadata and uploads it, creating the bucket if needed.
func (s *MinioSource) Store(ctx context.Context, data []byte) error {
	if _, err := ParseMetadata(data); err != nil {
		return err
	}

	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket %s exists: %w", s.bucketName, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.bucketName, err)
		}
	}

	_, err = s.client.PutObject(ctx, s.bucketName, s.objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", s.objectName, err)
	}
	return nil
}

func (s *MinioSource) String() string {
	return fmt.Sprintf("minio:%s/%s", s.bucketName, s.objectName)
}
