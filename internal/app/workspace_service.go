package app

import (
	"context"
	"strings"

	"inkwell/internal/chatmemory"
	"inkwell/internal/ingest"
	"inkwell/internal/livedoc"
	"inkwell/internal/model"
	"inkwell/internal/rules"
)

// WorkspaceService exposes the per-workspace write paths: live documents, rules,
// reference documents and chat memory inspection.
type WorkspaceService struct {
	livedocs  *livedoc.Cache
	rules     *rules.Provider
	memory    *chatmemory.Manager
	documents *ingest.Service
}

func NewWorkspaceService(livedocs *livedoc.Cache, rulesProvider *rules.Provider, memory *chatmemory.Manager, documents *ingest.Service) *WorkspaceService {
	return &WorkspaceService{
		livedocs:  livedocs,
		rules:     rulesProvider,
		memory:    memory,
		documents: documents,
	}
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

func (s *WorkspaceService) UpdateLiveDoc(ctx context.Context, workspaceID, filename, text string) (*livedoc.UpdateResult, error) {
	if blank(workspaceID, filename) {
		return nil, ErrInvalidInput
	}
	return s.livedocs.Update(ctx, workspaceID, filename, text)
}

func (s *WorkspaceService) DeleteLiveDoc(ctx context.Context, workspaceID, filename string) error {
	if blank(workspaceID, filename) {
		return ErrInvalidInput
	}
	return s.livedocs.Delete(ctx, workspaceID, filename)
}

func (s *WorkspaceService) LiveDocChunks(ctx context.Context, workspaceID, filename string) ([]model.Chunk, error) {
	if blank(workspaceID, filename) {
		return nil, ErrInvalidInput
	}
	return s.livedocs.Chunks(ctx, workspaceID, filename)
}

func (s *WorkspaceService) GetRules(ctx context.Context, workspaceID string) (model.RulesContent, error) {
	if blank(workspaceID) {
		return model.RulesContent{}, ErrInvalidInput
	}
	return s.rules.Get(ctx, workspaceID)
}

func (s *WorkspaceService) SaveRules(ctx context.Context, workspaceID string, content model.RulesContent) (*model.Rules, error) {
	if blank(workspaceID) {
		return nil, ErrInvalidInput
	}
	return s.rules.Save(ctx, workspaceID, content)
}

func (s *WorkspaceService) ChatMemory(ctx context.Context, workspaceID, chatID string, historyLimit int) (*chatmemory.Snapshot, error) {
	if blank(workspaceID, chatID) {
		return nil, ErrInvalidInput
	}
	return s.memory.Snapshot(ctx, workspaceID, chatID, historyLimit)
}

func (s *WorkspaceService) UploadDocument(ctx context.Context, workspaceID, filename string, data []byte) (*model.Document, error) {
	return s.documents.Submit(ctx, workspaceID, filename, data)
}

func (s *WorkspaceService) ListDocuments(ctx context.Context, workspaceID string) ([]model.Document, error) {
	return s.documents.List(ctx, workspaceID)
}

func (s *WorkspaceService) GetDocument(ctx context.Context, workspaceID, id string) (*model.Document, error) {
	return s.documents.Get(ctx, workspaceID, id)
}

func (s *WorkspaceService) DeleteDocument(ctx context.Context, workspaceID, id string) error {
	return s.documents.Delete(ctx, workspaceID, id)
}
