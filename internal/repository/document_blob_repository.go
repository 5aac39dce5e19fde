package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"inkwell/internal/model"
)

type DocumentBlobRepository struct {
	db *gorm.DB
}

func NewDocumentBlobRepository(db *gorm.DB) *DocumentBlobRepository {
	return &DocumentBlobRepository{db: db}
}

func (r *DocumentBlobRepository) Put(ctx context.Context, tenantID, documentID string, data []byte) error {
	blob := &model.DocumentBlob{DocumentID: documentID, TenantID: tenantID, Data: data}
	if err := r.db.WithContext(ctx).Save(blob).Error; err != nil {
		return fmt.Errorf("save document blob failed: %w", err)
	}
	return nil
}

// Get returns nil, nil when the blob does not exist.
func (r *DocumentBlobRepository) Get(ctx context.Context, tenantID, documentID string) ([]byte, error) {
	var blob model.DocumentBlob
	err := r.db.WithContext(ctx).Where("document_id = ? AND tenant_id = ?", documentID, tenantID).First(&blob).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document blob failed: %w", err)
	}
	return blob.Data, nil
}

func (r *DocumentBlobRepository) Delete(ctx context.Context, tenantID, documentID string) error {
	err := r.db.WithContext(ctx).Where("document_id = ? AND tenant_id = ?", documentID, tenantID).Delete(&model.DocumentBlob{}).Error
	if err != nil {
		return fmt.Errorf("delete document blob failed: %w", err)
	}
	return nil
}
