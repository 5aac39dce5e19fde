// Package gormvec keeps chunks in a relational table with JSON-encoded embeddings and
// ranks them in process. It suits small workspaces on MySQL without a vector extension.
package gormvec

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"inkwell/internal/model"
	"inkwell/internal/vectorstore"
)

type Store struct {
	db        *gorm.DB
	dimension int
}

func New(db *gorm.DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension}
}

// scoped restricts a statement to one tenant and the query's source filters.
func scoped(db *gorm.DB, q vectorstore.Query) *gorm.DB {
	tx := db.Where("tenant_id = ?", q.Scope.TenantID)
	if len(q.SourceTypes) > 0 {
		tx = tx.Where("source_type IN ?", q.SourceTypes)
	}
	if len(q.SourceIDs) > 0 {
		tx = tx.Where("source_id IN ?", q.SourceIDs)
	}
	return tx
}

func (s *Store) Search(ctx context.Context, q vectorstore.Query) ([]vectorstore.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if s.dimension > 0 && len(q.Embedding) != s.dimension {
		return nil, vectorstore.ErrDimensionMismatch
	}
	var candidates []model.Chunk
	if err := scoped(s.db.WithContext(ctx), q).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("load chunk candidates failed: %w", err)
	}
	return vectorstore.Rank(q, candidates), nil
}

func (s *Store) Upsert(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := vectorstore.CheckWrite(vectorstore.Scope{}, s.dimension, "", "", chunks); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&chunks).Error; err != nil {
		return fmt.Errorf("upsert chunks failed: %w", err)
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, scope vectorstore.Scope, sourceType model.SourceType, sourceID string, chunks []model.Chunk) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := vectorstore.CheckWrite(scope, s.dimension, sourceType, sourceID, chunks); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteSource(tx, scope, sourceType, sourceID); err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(&chunks, 100).Error
	})
	if err != nil {
		return fmt.Errorf("replace chunks failed: %w", err)
	}
	return nil
}

func deleteSource(tx *gorm.DB, scope vectorstore.Scope, sourceType model.SourceType, sourceID string) error {
	return tx.Where("tenant_id = ? AND source_type = ? AND source_id = ?", scope.TenantID, sourceType, sourceID).
		Delete(&model.Chunk{}).Error
}

func (s *Store) Delete(ctx context.Context, scope vectorstore.Scope, sourceType model.SourceType, sourceID string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := deleteSource(s.db.WithContext(ctx), scope, sourceType, sourceID); err != nil {
		return fmt.Errorf("delete chunks failed: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, scope vectorstore.Scope, sourceType model.SourceType, sourceID string) ([]model.Chunk, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var chunks []model.Chunk
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND source_type = ? AND source_id = ?", scope.TenantID, sourceType, sourceID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks failed: %w", err)
	}
	return chunks, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op; the gorm connection belongs to the caller.
func (s *Store) Close() error { return nil }
