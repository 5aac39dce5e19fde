package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is append-only. Seq is the 1-based, gap-free position inside the chat.
type ChatMessage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     string    `gorm:"size:64;not null;uniqueIndex:idx_chat_seq,priority:1" json:"tenant_id"`
	ChatID       string    `gorm:"size:64;not null;uniqueIndex:idx_chat_seq,priority:2" json:"chat_id"`
	Seq          int64     `gorm:"not null;uniqueIndex:idx_chat_seq,priority:3" json:"seq"`
	Role         string    `gorm:"size:16;not null" json:"role"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	EmbeddingRaw string    `gorm:"column:embedding;type:mediumtext" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (m *ChatMessage) EmbeddingVector() []float32 {
	return DecodeEmbedding(m.EmbeddingRaw)
}

func (m *ChatMessage) SetEmbedding(vec []float32) {
	m.EmbeddingRaw = EncodeEmbedding(vec)
}

// ChatSummary is the single compacted digest of everything up to CoveredThroughSeq.
type ChatSummary struct {
	TenantID          string    `gorm:"primaryKey;size:64" json:"tenant_id"`
	ChatID            string    `gorm:"primaryKey;size:64" json:"chat_id"`
	SummaryText       string    `gorm:"type:text;not null" json:"summary_text"`
	CoveredThroughSeq int64     `gorm:"not null" json:"covered_through_seq"`
	EmbeddingRaw      string    `gorm:"column:embedding;type:mediumtext" json:"-"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (s *ChatSummary) EmbeddingVector() []float32 {
	return DecodeEmbedding(s.EmbeddingRaw)
}

func (s *ChatSummary) SetEmbedding(vec []float32) {
	s.EmbeddingRaw = EncodeEmbedding(vec)
}
