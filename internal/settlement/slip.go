package settlement

import (
	"time"

	"github.com/google/uuid"
)

// Slip is an uploaded proof-of-transfer image waiting to be attached to a QR payment.
type Slip struct {
	ID          uuid.UUID `json:"id"`
	FileRef     string    `json:"file_ref"`
	PreviewRef  string    `json:"preview_ref"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
