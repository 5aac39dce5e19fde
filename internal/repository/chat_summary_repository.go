package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inkwell/internal/model"
)

type ChatSummaryRepository struct {
	db *gorm.DB
}

func NewChatSummaryRepository(db *gorm.DB) *ChatSummaryRepository {
	return &ChatSummaryRepository{db: db}
}

func (r *ChatSummaryRepository) Get(ctx context.Context, tenantID, chatID string) (*model.ChatSummary, error) {
	var summary model.ChatSummary
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND chat_id = ?", tenantID, chatID).First(&summary).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat summary failed: %w", err)
	}
	return &summary, nil
}

// Upsert overwrites the single summary row of the chat.
func (r *ChatSummaryRepository) Upsert(ctx context.Context, summary *model.ChatSummary) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary_text", "covered_through_seq", "embedding", "updated_at"}),
	}).Create(summary).Error
	if err != nil {
		return fmt.Errorf("upsert chat summary failed: %w", err)
	}
	return nil
}
