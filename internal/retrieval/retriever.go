package retrieval

import (
	"context"
	"fmt"

	"inkwell/internal/model"
	"inkwell/internal/vectorstore"
)

const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.6
)

type Request struct {
	TenantID      string
	Embedding     []float32
	SourceTypes   []model.SourceType
	SourceIDs     []string
	TopK          int
	MinSimilarity *float64
}

type Config struct {
	TopK          int
	MinSimilarity float64
}

// Retriever is the only path from sources to the vector store.
type Retriever struct {
	store vectorstore.Store
	cfg   Config
}

func NewRetriever(store vectorstore.Store, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Retriever{store: store, cfg: cfg}
}

// Retrieve returns the best scoring chunks in canonical order. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]vectorstore.Hit, error) {
	q := vectorstore.Query{
		Scope:         vectorstore.Scope{TenantID: req.TenantID},
		Embedding:     req.Embedding,
		SourceTypes:   req.SourceTypes,
		SourceIDs:     req.SourceIDs,
		TopK:          req.TopK,
		MinSimilarity: req.MinSimilarity,
	}
	if q.TopK <= 0 {
		q.TopK = r.cfg.TopK
	}
	if q.MinSimilarity == nil {
		min := r.cfg.MinSimilarity
		q.MinSimilarity = &min
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	hits, err := r.store.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := hits[:0]
	for _, h := range hits {
		if h.Chunk.TenantID != req.TenantID {
			return nil, fmt.Errorf("%w: hit %s belongs to tenant %q", vectorstore.ErrScopeViolation, h.Chunk.ID, h.Chunk.TenantID)
		}
		if !q.Passes(h.Similarity) {
			continue
		}
		out = append(out, h)
	}
	vectorstore.SortHits(out)
	if len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

func Threshold(v float64) *float64 { return &v }
