package model

import "time"

type DocumentStatus string

const (
	DocumentPending DocumentStatus = "pending"
	DocumentParsing DocumentStatus = "parsing"
	DocumentParsed  DocumentStatus = "parsed"
	DocumentFailed  DocumentStatus = "failed"
)

// Document is an uploaded reference file. Only parsed documents have searchable chunks.
type Document struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	TenantID   string         `gorm:"size:64;not null;index" json:"tenant_id"`
	Filename   string         `gorm:"size:255;not null" json:"filename"`
	Status     DocumentStatus `gorm:"size:16;not null;index" json:"status"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	PageCount  int            `json:"page_count"`
	ChunkCount int            `json:"chunk_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (d *Document) Ready() bool {
	return d != nil && d.Status == DocumentParsed
}
