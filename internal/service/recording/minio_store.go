package recording

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	apperrors "vocalink-backend/pkg/errors"
)

// ObjectStore is a Recorder that captures into a local scratch file and
// finalizes it into MinIO object storage under recordings/<call-id>.ogg.
// The scratch file is what the platform media layer writes into while the
// recording is active.
type ObjectStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger

	mu    sync.Mutex
	files map[uuid.UUID]string
}

// NewObjectStore creates a MinIO-backed recording store and ensures the
// target bucket exists
func NewObjectStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool, logger *zap.Logger) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, apperrors.StorageError("failed to create MinIO client", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, apperrors.StorageError("failed to check recording bucket", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, apperrors.StorageError("failed to create recording bucket", err)
		}
	}

	return &ObjectStore{
		client: client,
		bucket: bucket,
		logger: logger,
		files:  make(map[uuid.UUID]string),
	}, nil
}

// Start allocates the local capture file for the call
func (s *ObjectStore) Start(ctx context.Context, callID uuid.UUID) error {
	f, err := os.CreateTemp("", "rec-"+callID.String()+"-*.ogg")
	if err != nil {
		return apperrors.StorageError("failed to allocate capture file", err)
	}
	if err := f.Close(); err != nil {
		return apperrors.StorageError("failed to allocate capture file", err)
	}

	s.mu.Lock()
	s.files[callID] = f.Name()
	s.mu.Unlock()

	return nil
}

// Stop uploads the finalized capture to object storage and returns the
// object path
func (s *ObjectStore) Stop(ctx context.Context, callID uuid.UUID) (string, error) {
	s.mu.Lock()
	local, ok := s.files[callID]
	delete(s.files, callID)
	s.mu.Unlock()

	if !ok {
		return "", nil
	}

	objectName := "recordings/" + callID.String() + ".ogg"

	_, err := s.client.FPutObject(ctx, s.bucket, objectName, local, minio.PutObjectOptions{
		ContentType: "audio/ogg",
	})
	if err != nil {
		s.logger.Error("failed to upload recording",
			zap.String("call_id", callID.String()),
			zap.String("object", objectName),
			zap.Error(err))
		return "", apperrors.StorageError("failed to store recording", err)
	}

	if err := os.Remove(local); err != nil {
		s.logger.Warn("failed to remove capture file",
			zap.String("path", local),
			zap.Error(err))
	}

	return s.bucket + "/" + objectName, nil
}
