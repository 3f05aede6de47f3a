package minioctrl

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	PlanArchiveBucket = "plan-archives"
)

// MinioService archives generated plan markdown as immutable snapshots.
// Archiving is best-effort from the pipeline's point of view; the plan row
// in postgres stays the source of truth.
type MinioService struct {
	client *minio.Client
}

func NewMinioService(endpoint, accessKeyID, secretAccessKey string, useSSL bool) (*MinioService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %v", err)
	}

	return &MinioService{
		client: client,
	}, nil
}

func (s *MinioService) EnsureBucketExists(ctx context.Context, bucketName string) error {
	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
	}

	return nil
}

// ArchivePlanMarkdown stores one plan version's markdown and returns the
// object name.
func (s *MinioService) ArchivePlanMarkdown(ctx context.Context, planID int64, version int, markdown string) (string, error) {
	if err := s.EnsureBucketExists(ctx, PlanArchiveBucket); err != nil {
		return "", err
	}

	objectName := fmt.Sprintf("plans/%d/v%d.md", planID, version)
	data := []byte(markdown)

	_, err := s.client.PutObject(ctx, PlanArchiveBucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/markdown",
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive plan markdown: %v", err)
	}

	return objectName, nil
}
