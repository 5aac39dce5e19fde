package model

import "time"

// DocumentBlob holds the uploaded file until it has been parsed.
type DocumentBlob struct {
	DocumentID string    `gorm:"primaryKey;size:36"`
	TenantID   string    `gorm:"size:64;not null;index"`
	Data       []byte    `gorm:"type:longblob;not null"`
	CreatedAt  time.Time
}
