package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"inkwell/internal/model"
)

type ChatMessageRepository struct {
	db *gorm.DB
}

func NewChatMessageRepository(db *gorm.DB) *ChatMessageRepository {
	return &ChatMessageRepository{db: db}
}

func (r *ChatMessageRepository) Create(ctx context.Context, message *model.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create chat message failed: %w", err)
	}
	return nil
}

// LastSeq returns the highest sequence number of the chat, 0 for a new chat.
func (r *ChatMessageRepository) LastSeq(ctx context.Context, tenantID, chatID string) (int64, error) {
	var seq *int64
	err := r.db.WithContext(ctx).Model(&model.ChatMessage{}).
		Where("tenant_id = ? AND chat_id = ?", tenantID, chatID).
		Select("MAX(seq)").Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("get last chat seq failed: %w", err)
	}
	if seq == nil {
		return 0, nil
	}
	return *seq, nil
}

// ListRange returns messages with afterSeq < seq <= throughSeq in order.
func (r *ChatMessageRepository) ListRange(ctx context.Context, tenantID, chatID string, afterSeq, throughSeq int64) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND chat_id = ? AND seq > ? AND seq <= ?", tenantID, chatID, afterSeq, throughSeq).
		Order("seq ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list chat messages failed: %w", err)
	}
	return messages, nil
}

// ListRecent returns at most limit of the newest messages after afterSeq, oldest first.
func (r *ChatMessageRepository) ListRecent(ctx context.Context, tenantID, chatID string, afterSeq int64, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND chat_id = ? AND seq > ?", tenantID, chatID, afterSeq).
		Order("seq DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list recent chat messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
