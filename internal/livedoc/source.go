package livedoc

import (
	"context"
	"fmt"

	"inkwell/internal/model"
	"inkwell/internal/retrieval"
	"inkwell/internal/source"
)

type SourceConfig struct {
	TopK          int
	MinSimilarity float64
}

type Source struct {
	retriever *retrieval.Retriever
	cfg       SourceConfig
}

func NewSource(retriever *retrieval.Retriever, cfg SourceConfig) *Source {
	return &Source{retriever: retriever, cfg: cfg}
}

func (s *Source) Name() string { return string(source.KindLiveDoc) }

func (s *Source) Fetch(ctx context.Context, req source.Request) (source.Result, error) {
	if len(req.Embedding) == 0 {
		return source.Result{}, nil
	}
	hits, err := s.retriever.Retrieve(ctx, retrieval.Request{
		TenantID:      req.WorkspaceID,
		Embedding:     req.Embedding,
		SourceTypes:   []model.SourceType{model.SourceLiveDoc},
		TopK:          s.cfg.TopK,
		MinSimilarity: retrieval.Threshold(s.cfg.MinSimilarity),
	})
	if err != nil {
		return source.Result{}, fmt.Errorf("retrieve live document chunks failed: %w", err)
	}
	fragments := make([]source.Fragment, 0, len(hits))
	for _, h := range hits {
		fragments = append(fragments, source.Fragment{
			Kind:       source.KindLiveDoc,
			ID:         h.Chunk.ID,
			Title:      h.Chunk.SourceID,
			Text:       h.Chunk.Text,
			Similarity: h.Similarity,
			CreatedAt:  h.Chunk.CreatedAt,
		})
	}
	return source.Result{Fragments: fragments}, nil
}

var _ source.ContextSource = (*Source)(nil)
