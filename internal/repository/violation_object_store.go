package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/stemsi/forms-backend/internal/model"
)

// ViolationObjectStore writes violation records as JSON objects to an
// S3-compatible bucket, one object per record.
type ViolationObjectStore struct {
	client *minio.Client
	bucket string
}

// NewViolationObjectStore creates a store writing into bucket.
func NewViolationObjectStore(client *minio.Client, bucket string) *ViolationObjectStore {
	return &ViolationObjectStore{client: client, bucket: bucket}
}

// ObjectKey is where the record for v is written.
func (s *ViolationObjectStore) ObjectKey(v *model.ViolationRecord) string {
	return fmt.Sprintf("violations/%s/%s.json", v.FormID, v.ID)
}

// Insert uploads v.
func (s *ViolationObjectStore) Insert(ctx context.Context, v *model.ViolationRecord) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode violation: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.ObjectKey(v), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"form-id": v.FormID,
			"user":    v.User,
		},
	})
	if err != nil {
		return fmt.Errorf("minio put violation: %w", err)
	}
	return nil
}
