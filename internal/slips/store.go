package slips

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/skewerpos-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
	"github.com/angelmondragon/skewerpos-backend/pkg/storage/gcs"
)

type objectStore interface {
	UploadObject(ctx context.Context, bucket, object, contentType string, data []byte) error
	DeleteObject(ctx context.Context, bucket, object string) error
	ObjectURL(bucket, object string) string
}

// Store uploads proof-of-transfer images to object storage.
type Store struct {
	objects  objectStore
	bucket   string
	prefix   string
	maxBytes int64
	logg     *logger.Logger
	now      func() time.Time
}

// NewStore builds a slip store writing under prefix in bucket.
func NewStore(objects objectStore, bucket, prefix string, maxBytes int64, logg *logger.Logger) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("slip bucket required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "slips"
	}
	return &Store{
		objects:  objects,
		bucket:   bucket,
		prefix:   prefix,
		maxBytes: maxBytes,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Upload stores data and returns the slip to buffer on the settlement engine.
func (s *Store) Upload(ctx context.Context, data []byte) (settlement.Slip, error) {
	if len(data) == 0 {
		return settlement.Slip{}, pkgerrors.New(pkgerrors.CodeValidation, "slip image is empty")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return settlement.Slip{}, pkgerrors.New(pkgerrors.CodeValidation, "slip image is too large").
			WithDetails(map[string]any{"max_bytes": s.maxBytes, "size_bytes": len(data)})
	}
	contentType, ext, ok := sniff(data)
	if !ok {
		return settlement.Slip{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("slip must be %s", allowedSlipDescription)).
			WithDetails(map[string]any{"content_type": contentType})
	}

	id := uuid.New()
	uploadedAt := s.now()
	object := s.objectName(id, ext, uploadedAt)
	if err := s.objects.UploadObject(ctx, s.bucket, object, contentType, data); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "object", object), "slips.upload_failed", err)
		return settlement.Slip{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload slip")
	}

	return settlement.Slip{
		ID:          id,
		FileRef:     object,
		PreviewRef:  s.objects.ObjectURL(s.bucket, object),
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		UploadedAt:  uploadedAt,
	}, nil
}

// Delete removes a slip object. An object that is already gone is not an error.
func (s *Store) Delete(ctx context.Context, slip settlement.Slip) error {
	err := s.objects.DeleteObject(ctx, s.bucket, slip.FileRef)
	if err == nil || errors.Is(err, gcs.ErrObjectNotFound) {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete slip")
}

func (s *Store) objectName(id uuid.UUID, ext string, at time.Time) string {
	return path.Join(s.prefix, at.Format("2006/01/02"), id.String()+ext)
}
