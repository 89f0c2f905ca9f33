package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentSlip is one proof-of-transfer image attached to a QR payment.
type PaymentSlip struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	PaymentID   *uuid.UUID `gorm:"column:payment_id;type:uuid"`
	FileRef     string     `gorm:"column:file_ref;not null"`
	PreviewRef  string     `gorm:"column:preview_ref;not null"`
	ContentType string     `gorm:"column:content_type;not null"`
	SizeBytes   int64      `gorm:"column:size_bytes;not null"`
	UploadedAt  time.Time  `gorm:"column:uploaded_at;not null"`
}
