// Package memory is an in-process vector store using brute-force cosine similarity.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"inkwell/internal/model"
	"inkwell/internal/vectorstore"
)

type sourceKey struct {
	tenant     string
	sourceType model.SourceType
	sourceID   string
}

type Store struct {
	mu        sync.RWMutex
	dimension int
	chunks    map[string]model.Chunk
	bySource  map[sourceKey]map[string]struct{}
	now       func() time.Time
}

// New returns an empty store. A dimension of 0 accepts any non-empty vector length.
func New(dimension int) *Store {
	return &Store{
		dimension: dimension,
		chunks:    make(map[string]model.Chunk),
		bySource:  make(map[sourceKey]map[string]struct{}),
		now:       time.Now,
	}
}

func keyOf(c *model.Chunk) sourceKey {
	return sourceKey{tenant: c.TenantID, sourceType: c.SourceType, sourceID: c.SourceID}
}

func (s *Store) Search(ctx context.Context, q vectorstore.Query) ([]vectorstore.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if s.dimension > 0 && len(q.Embedding) != s.dimension {
		return nil, vectorstore.ErrDimensionMismatch
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make([]model.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if c.TenantID == q.Scope.TenantID {
			candidates = append(candidates, c)
		}
	}
	s.mu.RUnlock()

	return vectorstore.Rank(q, candidates), nil
}

func (s *Store) Upsert(ctx context.Context, chunks []model.Chunk) error {
	if err := vectorstore.CheckWrite(vectorstore.Scope{}, s.dimension, "", "", chunks); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range chunks {
		s.put(chunks[i])
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(sourceKey{tenant: scope.TenantID, sourceType: sourceType, sourceID: sourceID})
	for i := range chunks {
		s.put(chunks[i])
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, scope vectorstore.Scope, sourceType model.SourceType, sourceID string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(sourceKey{tenant: scope.TenantID, sourceType: sourceType, sourceID: sourceID})
	return nil
}

func (s *Store) List(ctx context.Context, scope vectorstore.Scope, sourceType model.SourceType, sourceID string) ([]model.Chunk, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := s.bySource[sourceKey{tenant: scope.TenantID, sourceType: sourceType, sourceID: sourceID}]
	out := make([]model.Chunk, 0, len(ids))
	for id := range ids {
		out = append(out, s.chunks[id])
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// put must be called with mu held.
func (s *Store) put(c model.Chunk) {
	if old, ok := s.chunks[c.ID]; ok {
		delete(s.bySource[keyOf(&old)], c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.Embedding = c.EmbeddingVector()
	s.chunks[c.ID] = c
	k := keyOf(&c)
	if s.bySource[k] == nil {
		s.bySource[k] = make(map[string]struct{})
	}
	s.bySource[k][c.ID] = struct{}{}
}

// remove must be called with mu held.
func (s *Store) remove(k sourceKey) {
	for id := range s.bySource[k] {
		delete(s.chunks, id)
	}
	delete(s.bySource, k)
}
