package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inkwell/internal/model"
)

type RulesRepository struct {
	db *gorm.DB
}

func NewRulesRepository(db *gorm.DB) *RulesRepository {
	return &RulesRepository{db: db}
}

func (r *RulesRepository) Get(ctx context.Context, workspaceID string) (*model.Rules, error) {
	var rules model.Rules
	if err := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).First(&rules).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rules failed: %w", err)
	}
	return &rules, nil
}

func (r *RulesRepository) Upsert(ctx context.Context, rules *model.Rules) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workspace_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(rules).Error
	if err != nil {
		return fmt.Errorf("upsert rules failed: %w", err)
	}
	return nil
}
