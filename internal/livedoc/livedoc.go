package livedoc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"inkwell/internal/chunker"
	"inkwell/internal/embedding"
	"inkwell/internal/model"
	"inkwell/internal/pkg/keylock"
	"inkwell/internal/vectorstore"
)

const DefaultMaxChunks = 2000

var (
	ErrInvalidInput     = errors.New("invalid live document input")
	ErrDocumentTooLarge = errors.New("live document is too large")
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type UpdateResult struct {
	Chunks  int `json:"chunks"`
	Skipped int `json:"skipped"`
}

// Cache keeps a semantic index of each workspace's working documents.
type Cache struct {
	chunker   *chunker.Chunker
	embedder  Embedder
	store     vectorstore.Store
	locks     *keylock.KeyLock
	maxChunks int
	logger    *zap.Logger
}

func NewCache(c *chunker.Chunker, embedder Embedder, store vectorstore.Store, maxChunks int, logger *zap.Logger) *Cache {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		chunker:   c,
		embedder:  embedder,
		store:     store,
		locks:     keylock.New(),
		maxChunks: maxChunks,
		logger:    logger,
	}
}

// Update re-indexes the full text of one document. Readers see either the previous
// index or the new one, never a mix. Empty text clears the index.
func (c *Cache) Update(ctx context.Context, workspaceID, filename, text string) (*UpdateResult, error) {
	if strings.TrimSpace(workspaceID) == "" || strings.TrimSpace(filename) == "" {
		return nil, ErrInvalidInput
	}
	unlock, err := c.locks.Lock(ctx, workspaceID+"\x00"+filename)
	if err != nil {
		return nil, err
	}
	defer unlock()

	scope := vectorstore.Scope{TenantID: workspaceID}
	chunks := c.chunker.Chunk(chunker.Source{TenantID: workspaceID, Type: model.SourceLiveDoc, ID: filename}, text)
	if len(chunks) == 0 {
		if err := c.store.Delete(ctx, scope, model.SourceLiveDoc, filename); err != nil {
			return nil, fmt.Errorf("clear live document failed: %w", err)
		}
		return &UpdateResult{}, nil
	}
	if len(chunks) > c.maxChunks {
		return nil, fmt.Errorf("%w: %d chunks, limit %d", ErrDocumentTooLarge, len(chunks), c.maxChunks)
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
		chunks[i].Metadata = map[string]string{"filename": filename}
	}
	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	var batchErr *embedding.BatchError
	if err != nil && !errors.As(err, &batchErr) {
		return nil, fmt.Errorf("embed live document failed: %w", err)
	}

	kept := chunks[:0]
	for i := range chunks {
		if vecs == nil || vecs[i] == nil {
			continue
		}
		chunks[i].SetEmbedding(vecs[i])
		kept = append(kept, chunks[i])
	}
	skipped := len(texts) - len(kept)
	if len(kept) == 0 {
		return nil, fmt.Errorf("embed live document failed, previous index kept: %w", err)
	}
	if skipped > 0 {
		c.logger.Warn("live document chunks skipped after embedding failure",
			zap.String("workspace_id", workspaceID), zap.String("filename", filename),
			zap.Int("skipped", skipped), zap.Error(err))
	}

	if err := c.store.Replace(ctx, scope, model.SourceLiveDoc, filename, kept); err != nil {
		return nil, fmt.Errorf("replace live document chunks failed: %w", err)
	}
	c.logger.Debug("live document indexed",
		zap.String("workspace_id", workspaceID), zap.String("filename", filename), zap.Int("chunks", len(kept)))
	return &UpdateResult{Chunks: len(kept), Skipped: skipped}, nil
}

func (c *Cache) Delete(ctx context.Context, workspaceID, filename string) error {
	if strings.TrimSpace(workspaceID) == "" || strings.TrimSpace(filename) == "" {
		return ErrInvalidInput
	}
	unlock, err := c.locks.Lock(ctx, workspaceID+"\x00"+filename)
	if err != nil {
		return err
	}
	defer unlock()
	if err := c.store.Delete(ctx, vectorstore.Scope{TenantID: workspaceID}, model.SourceLiveDoc, filename); err != nil {
		return fmt.Errorf("delete live document failed: %w", err)
	}
	return nil
}

// Chunks lists the indexed chunks of one document in order.
func (c *Cache) Chunks(ctx context.Context, workspaceID, filename string) ([]model.Chunk, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, ErrInvalidInput
	}
	return c.store.List(ctx, vectorstore.Scope{TenantID: workspaceID}, model.SourceLiveDoc, filename)
}
