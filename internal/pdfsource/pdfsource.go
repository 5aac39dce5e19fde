// Package pdfsource retrieves context from parsed reference documents.
package pdfsource

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"inkwell/internal/model"
	"inkwell/internal/retrieval"
	"inkwell/internal/source"
)

// Chunk metadata keys written by ingestion.
const (
	MetaFilename = "filename"
	MetaPage     = "page"
)

type DocumentLookup interface {
	GetMany(ctx context.Context, tenantID string, ids []string) ([]model.Document, error)
	List(ctx context.Context, tenantID string) ([]model.Document, error)
}

type Config struct {
	TopK          int
	MinSimilarity float64
}

type Source struct {
	docs      DocumentLookup
	retriever *retrieval.Retriever
	cfg       Config
	logger    *zap.Logger
}

func NewSource(docs DocumentLookup, retriever *retrieval.Retriever, cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{docs: docs, retriever: retriever, cfg: cfg, logger: logger}
}

func (s *Source) Name() string { return string(source.KindPDF) }

// Fetch searches the attached documents, or every parsed document of the workspace when
// nothing is attached. Attachments that are unknown or not parsed yet become notices.
func (s *Source) Fetch(ctx context.Context, req source.Request) (source.Result, error) {
	if len(req.Embedding) == 0 {
		return source.Result{}, nil
	}

	docs, notices, err := s.searchable(ctx, req)
	if err != nil {
		return source.Result{Notices: notices}, err
	}
	if len(docs) == 0 {
		return source.Result{Notices: notices}, nil
	}

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	hits, err := s.retriever.Retrieve(ctx, retrieval.Request{
		TenantID:      req.WorkspaceID,
		Embedding:     req.Embedding,
		SourceTypes:   []model.SourceType{model.SourcePDF},
		SourceIDs:     ids,
		TopK:          s.cfg.TopK,
		MinSimilarity: retrieval.Threshold(s.cfg.MinSimilarity),
	})
	if err != nil {
		return source.Result{Notices: notices}, fmt.Errorf("retrieve source chunks failed: %w", err)
	}

	fragments := make([]source.Fragment, 0, len(hits))
	for _, h := range hits {
		fragments = append(fragments, source.Fragment{
			Kind:       source.KindPDF,
			ID:         h.Chunk.ID,
			Title:      Title(docs[h.Chunk.SourceID], h.Chunk),
			Text:       h.Chunk.Text,
			Similarity: h.Similarity,
			CreatedAt:  h.Chunk.CreatedAt,
		})
	}
	return source.Result{Fragments: fragments, Notices: notices}, nil
}

func (s *Source) searchable(ctx context.Context, req source.Request) (map[string]model.Document, []string, error) {
	out := make(map[string]model.Document)
	if len(req.AttachedDocumentIDs) == 0 {
		docs, err := s.docs.List(ctx, req.WorkspaceID)
		if err != nil {
			return nil, nil, fmt.Errorf("list documents failed: %w", err)
		}
		for _, d := range docs {
			if d.Ready() {
				out[d.ID] = d
			}
		}
		return out, nil, nil
	}

	docs, err := s.docs.GetMany(ctx, req.WorkspaceID, req.AttachedDocumentIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load attached documents failed: %w", err)
	}
	found := make(map[string]model.Document, len(docs))
	for _, d := range docs {
		found[d.ID] = d
	}

	var notices []string
	seen := make(map[string]bool)
	for _, id := range req.AttachedDocumentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		d, ok := found[id]
		switch {
		case !ok:
			notices = append(notices, fmt.Sprintf("Attached document %s was not found.", id))
		case !d.Ready():
			notices = append(notices, fmt.Sprintf("Attached document %s is not ready yet (status: %s).", d.Filename, d.Status))
		default:
			out[id] = d
		}
	}
	if len(notices) > 0 {
		s.logger.Info("attached documents skipped", zap.String("workspace_id", req.WorkspaceID), zap.Strings("notices", notices))
	}
	return out, notices, nil
}

// Title renders "<filename> - Page <n>", falling back to chunk metadata and "?" for the page.
func Title(doc model.Document, chunk model.Chunk) string {
	name := doc.Filename
	if name == "" {
		name = chunk.Metadata[MetaFilename]
	}
	if name == "" {
		name = chunk.SourceID
	}
	page := chunk.Metadata[MetaPage]
	if page == "" {
		page = "?"
	}
	return name + " - Page " + page
}

var _ source.ContextSource = (*Source)(nil)
