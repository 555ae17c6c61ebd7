package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"textml-orchestrator/core/models"
	"textml-orchestrator/training"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// ErrNotFound means no blob exists at the requested path.
	ErrNotFound = errors.New("artifact not found")
	// ErrCorruptArtifact means the stored blob exists but cannot be decoded.
	ErrCorruptArtifact = errors.New("artifact is corrupt")
	// ErrNotTrained means the project has no trained model artifact yet.
	ErrNotTrained = errors.New("project has no trained model")
)

// ArtifactStore persists model bundles and dataset snapshots in an
// S3-compatible blob store.
type ArtifactStore struct {
	client *minio.Client
	bucket string
}

// NewArtifactStore creates a blob-store client and ensures the bucket
// exists.
func NewArtifactStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*ArtifactStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &ArtifactStore{client: client, bucket: bucket}, nil
}

// ModelPath returns the deterministic artifact path for a project.
func ModelPath(projectID string) string {
	return fmt.Sprintf("models/%s/model.bundle", projectID)
}

// DatasetSnapshotPath returns the blob path of a job's dataset snapshot.
func DatasetSnapshotPath(jobID string) string {
	return fmt.Sprintf("datasets/jobs/%s.json", jobID)
}

// SaveModel serializes and stores a trained bundle at the project's model
// path, returning that path.
func (s *ArtifactStore) SaveModel(ctx context.Context, projectID string, b *training.Bundle) (string, error) {
	data, err := b.Encode()
	if err != nil {
		return "", err
	}
	path := ModelPath(projectID)
	if err := s.put(ctx, path, data); err != nil {
		return "", err
	}
	return path, nil
}

// LoadModel fetches and decodes the project's model bundle.
func (s *ArtifactStore) LoadModel(ctx context.Context, projectID string) (*training.Bundle, error) {
	data, err := s.get(ctx, ModelPath(projectID))
	if err != nil {
		return nil, err
	}
	b, err := training.DecodeBundle(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	return b, nil
}

// ModelExists reports whether the project has a stored model artifact.
func (s *ArtifactStore) ModelExists(ctx context.Context, projectID string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, ModelPath(projectID), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteModel removes the project's model artifact. Deleting a missing
// artifact is not an error.
func (s *ArtifactStore) DeleteModel(ctx context.Context, projectID string) error {
	return s.client.RemoveObject(ctx, s.bucket, ModelPath(projectID), minio.RemoveObjectOptions{})
}

// SaveDatasetSnapshot freezes a job's dataset at creation time so later
// edits to the live project dataset are invisible to the running job.
func (s *ArtifactStore) SaveDatasetSnapshot(ctx context.Context, jobID string, examples []models.TextExample) (string, error) {
	data, err := json.Marshal(examples)
	if err != nil {
		return "", fmt.Errorf("marshal dataset snapshot: %w", err)
	}
	path := DatasetSnapshotPath(jobID)
	if err := s.put(ctx, path, data); err != nil {
		return "", err
	}
	return path, nil
}

// LoadDatasetSnapshot reads a frozen dataset back.
func (s *ArtifactStore) LoadDatasetSnapshot(ctx context.Context, path string) ([]models.TextExample, error) {
	data, err := s.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var examples []models.TextExample
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	return examples, nil
}

// DeleteDatasetSnapshot removes a job's frozen dataset.
func (s *ArtifactStore) DeleteDatasetSnapshot(ctx context.Context, jobID string) error {
	return s.client.RemoveObject(ctx, s.bucket, DatasetSnapshotPath(jobID), minio.RemoveObjectOptions{})
}

func (s *ArtifactStore) put(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		path,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"},
	)
	if err != nil {
		return fmt.Errorf("blob put %s: %w", path, err)
	}
	return nil
}

func (s *ArtifactStore) get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blob get %s: %w", path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob read %s: %w", path, err)
	}
	return data, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
