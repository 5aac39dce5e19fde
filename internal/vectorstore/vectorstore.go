// Package vectorstore defines the similarity-search contract shared by every backend.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"inkwell/internal/model"
)

var (
	// ErrScopeViolation is returned for queries or writes without a tenant, and by
	// callers that detect a result from a different tenant. It is never retried.
	ErrScopeViolation    = errors.New("vector store scope violation")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidQuery      = errors.New("invalid vector query")
)

// Scope pins every operation to a single tenant (workspace).
type Scope struct {
	TenantID string
}

func (s Scope) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return fmt.Errorf("%w: tenant is required", ErrScopeViolation)
	}
	return nil
}

type Query struct {
	Scope         Scope
	Embedding     []float32
	SourceTypes   []model.SourceType
	SourceIDs     []string
	MinSimilarity *float64
	TopK          int
}

func (q Query) Validate() error {
	if err := q.Scope.Validate(); err != nil {
		return err
	}
	if len(q.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrInvalidQuery)
	}
	if q.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive", ErrInvalidQuery)
	}
	return nil
}

// Matches reports whether c passes the query's tenant and source filters.
func (q Query) Matches(c *model.Chunk) bool {
	if c.TenantID != q.Scope.TenantID {
		return false
	}
	if len(q.SourceTypes) > 0 && !containsType(q.SourceTypes, c.SourceType) {
		return false
	}
	if len(q.SourceIDs) > 0 && !containsString(q.SourceIDs, c.SourceID) {
		return false
	}
	return true
}

// Passes reports whether a similarity clears the optional threshold.
func (q Query) Passes(similarity float64) bool {
	return q.MinSimilarity == nil || similarity >= *q.MinSimilarity
}

type Hit struct {
	Chunk      model.Chunk
	Similarity float64
}

type Store interface {
	Search(ctx context.Context, q Query) ([]Hit, error)
	// Upsert inserts or overwrites chunks by ID.
	Upsert(ctx context.Context, chunks []model.Chunk) error
	// Replace atomically swaps every chunk of one source for the given set.
	Replace(ctx context.Context, scope Scope, sourceType model.SourceType, sourceID string, chunks []model.Chunk) error
	Delete(ctx context.Context, scope Scope, sourceType model.SourceType, sourceID string) error
	// List returns a source's chunks ordered by ChunkIndex.
	List(ctx context.Context, scope Scope, sourceType model.SourceType, sourceID string) ([]model.Chunk, error)
	Ping(ctx context.Context) error
	Close() error
}

// Cosine returns the cosine similarity of a and b, 0 when either is a zero vector.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortHits orders hits by similarity desc, then creation time asc, then ID.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Chunk.CreatedAt.Equal(b.Chunk.CreatedAt) {
			return a.Chunk.CreatedAt.Before(b.Chunk.CreatedAt)
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

// CheckWrite validates chunks before they reach a backend: every chunk must carry an
// embedding of length dim (when dim > 0) and belong to scope and, when sourceType is
// set, to that source.
func CheckWrite(scope Scope, dim int, sourceType model.SourceType, sourceID string, chunks []model.Chunk) error {
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			return fmt.Errorf("%w: chunk %d has no id", ErrInvalidQuery, i)
		}
		if scope.TenantID != "" && c.TenantID != scope.TenantID {
			return fmt.Errorf("%w: chunk %s belongs to tenant %q", ErrScopeViolation, c.ID, c.TenantID)
		}
		if err := (Scope{TenantID: c.TenantID}).Validate(); err != nil {
			return err
		}
		if sourceType != "" && (c.SourceType != sourceType || c.SourceID != sourceID) {
			return fmt.Errorf("%w: chunk %s is not part of %s/%s", ErrInvalidQuery, c.ID, sourceType, sourceID)
		}
		vec := c.EmbeddingVector()
		if len(vec) == 0 || (dim > 0 && len(vec) != dim) {
			return fmt.Errorf("%w: chunk %s has %d dimensions, want %d", ErrDimensionMismatch, c.ID, len(vec), dim)
		}
	}
	return nil
}

// Rank scores candidates against q, applies the threshold, sorts canonically and cuts to TopK.
// Backends without native similarity search use it.
func Rank(q Query, candidates []model.Chunk) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for i := range candidates {
		c := candidates[i]
		if !q.Matches(&c) {
			continue
		}
		sim := Cosine(q.Embedding, c.EmbeddingVector())
		if !q.Passes(sim) {
			continue
		}
		hits = append(hits, Hit{Chunk: c, Similarity: sim})
	}
	SortHits(hits)
	if len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	return hits
}

func containsType(list []model.SourceType, v model.SourceType) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
