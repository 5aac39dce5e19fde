package model

import (
	"encoding/json"
	"time"
)

type SourceType string

const (
	SourceLiveDoc     SourceType = "live_doc"
	SourcePDF         SourceType = "pdf_source"
	SourceChatMessage SourceType = "chat_message"
	SourceChatSummary SourceType = "chat_summary"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceLiveDoc, SourcePDF, SourceChatMessage, SourceChatSummary:
		return true
	}
	return false
}

// Chunk is one embedded window of source text. Chunks are never updated in place;
// re-indexing a source replaces its chunk set.
type Chunk struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	TenantID     string            `gorm:"size:64;not null;index:idx_chunk_scope,priority:1" json:"tenant_id"`
	SourceType   SourceType        `gorm:"size:32;not null;index:idx_chunk_scope,priority:2" json:"source_type"`
	SourceID     string            `gorm:"size:255;not null;index:idx_chunk_scope,priority:3" json:"source_id"`
	ChunkIndex   int               `gorm:"not null" json:"chunk_index"`
	Text         string            `gorm:"type:text;not null" json:"text"`
	Metadata     map[string]string `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	EmbeddingRaw string            `gorm:"column:embedding;type:mediumtext" json:"-"` // JSON array of float32
	Embedding    []float32         `gorm:"-" json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
}

// EmbeddingVector returns the embedding, decoding EmbeddingRaw when needed; nil on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if len(c.Embedding) > 0 {
		return c.Embedding
	}
	return DecodeEmbedding(c.EmbeddingRaw)
}

// SetEmbedding stores the embedding on both the in-memory and the persisted field.
func (c *Chunk) SetEmbedding(vec []float32) {
	c.Embedding = vec
	c.EmbeddingRaw = EncodeEmbedding(vec)
}

func EncodeEmbedding(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(vec)
	return string(b)
}

func DecodeEmbedding(raw string) []float32 {
	if raw == "" || raw == "[]" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}
