// Package ingest turns uploaded PDFs into searchable pdf_source chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inkwell/internal/chunker"
	"inkwell/internal/embedding"
	"inkwell/internal/model"
	"inkwell/internal/pdfsource"
	"inkwell/internal/pkg/pdfextract"
	"inkwell/internal/vectorstore"
)

const DefaultMaxBytes = 20 << 20

var (
	ErrInvalidDocument  = errors.New("invalid document")
	ErrDocumentNotFound = errors.New("document not found")
	ErrNoText           = errors.New("document has no extractable text")
	ErrEnqueue          = errors.New("enqueue ingest job failed")
)

// Job asks a worker to parse one document.
type Job struct {
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`
}

type JobPublisher interface {
	Publish(ctx context.Context, job Job) error
}

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, tenantID, id string) (*model.Document, error)
	List(ctx context.Context, tenantID string) ([]model.Document, error)
	Update(ctx context.Context, doc *model.Document) error
	Delete(ctx context.Context, tenantID, id string) error
}

type BlobStore interface {
	Put(ctx context.Context, tenantID, documentID string, data []byte) error
	Get(ctx context.Context, tenantID, documentID string) ([]byte, error)
	Delete(ctx context.Context, tenantID, documentID string) error
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PageParser extracts page texts from a file.
type PageParser func(data []byte) ([]pdfextract.Page, error)

type Config struct {
	MaxBytes       int
	ProcessTimeout time.Duration
}

type Deps struct {
	Documents DocumentStore
	Blobs     BlobStore
	Index     vectorstore.Store
	Chunker   *chunker.Chunker
	Embedder  Embedder
	// Publisher is optional; without one, jobs run in-process in the background.
	Publisher JobPublisher
	Parser    PageParser
	Logger    *zap.Logger
}

type Service struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Parser == nil {
		deps.Parser = pdfextract.Pages
	}
	if deps.Chunker == nil {
		deps.Chunker = chunker.New()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{deps: deps, cfg: cfg, now: time.Now, ctx: ctx, cancel: cancel}
}

// Submit stores the upload as a pending document and schedules parsing.
func (s *Service) Submit(ctx context.Context, tenantID, filename string, data []byte) (*model.Document, error) {
	tenantID, filename = strings.TrimSpace(tenantID), strings.TrimSpace(filename)
	switch {
	case tenantID == "" || filename == "":
		return nil, fmt.Errorf("%w: tenant and filename are required", ErrInvalidDocument)
	case len(data) == 0:
		return nil, fmt.Errorf("%w: empty file", ErrInvalidDocument)
	case len(data) > s.cfg.MaxBytes:
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidDocument, s.cfg.MaxBytes)
	case !pdfextract.LooksLikePDF(data):
		return nil, fmt.Errorf("%w: not a pdf", ErrInvalidDocument)
	}

	now := s.now()
	doc := &model.Document{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Filename:  filename,
		Status:    model.DocumentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Documents.Create(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.deps.Blobs.Put(ctx, tenantID, doc.ID, data); err != nil {
		s.fail(ctx, doc, err)
		return nil, err
	}

	job := Job{DocumentID: doc.ID, TenantID: tenantID}
	if s.deps.Publisher == nil {
		s.processAsync(job)
		return doc, nil
	}
	if err := s.deps.Publisher.Publish(ctx, job); err != nil {
		s.fail(ctx, doc, err)
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	return doc, nil
}

func (s *Service) processAsync(job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Process(s.ctx, job); err != nil {
			s.deps.Logger.Error("process document failed", zap.String("document_id", job.DocumentID), zap.Error(err))
		}
	}()
}

// Process parses, chunks, embeds and indexes one document. The document ends up parsed
// or failed; ErrDocumentNotFound means there is nothing left to do.
func (s *Service) Process(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	defer cancel()

	doc, err := s.deps.Documents.Get(ctx, job.TenantID, job.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if doc.Status == model.DocumentParsed {
		return nil
	}

	doc.Status, doc.Error, doc.UpdatedAt = model.DocumentParsing, "", s.now()
	if err := s.deps.Documents.Update(ctx, doc); err != nil {
		return err
	}

	pages, chunks, err := s.index(ctx, doc)
	if err != nil {
		s.fail(ctx, doc, err)
		return err
	}

	doc.Status = model.DocumentParsed
	doc.PageCount, doc.ChunkCount = pages, chunks
	doc.UpdatedAt = s.now()
	if err := s.deps.Documents.Update(ctx, doc); err != nil {
		return err
	}
	if err := s.deps.Blobs.Delete(ctx, doc.TenantID, doc.ID); err != nil {
		s.deps.Logger.Warn("delete parsed document blob failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	s.deps.Logger.Info("document parsed",
		zap.String("document_id", doc.ID), zap.Int("pages", pages), zap.Int("chunks", chunks))
	return nil
}

func (s *Service) index(ctx context.Context, doc *model.Document) (int, int, error) {
	data, err := s.deps.Blobs.Get(ctx, doc.TenantID, doc.ID)
	if err != nil {
		return 0, 0, err
	}
	if data == nil {
		return 0, 0, errors.New("uploaded file is missing")
	}
	pages, err := s.deps.Parser(data)
	if err != nil {
		return 0, 0, err
	}

	var chunks []model.Chunk
	for _, p := range pages {
		for _, w := range s.deps.Chunker.Split(p.Text) {
			chunks = append(chunks, model.Chunk{
				ID:         uuid.NewString(),
				TenantID:   doc.TenantID,
				SourceType: model.SourcePDF,
				SourceID:   doc.ID,
				ChunkIndex: len(chunks),
				Text:       w.Text,
				Metadata: map[string]string{
					pdfsource.MetaFilename: doc.Filename,
					pdfsource.MetaPage:     strconv.Itoa(p.Number),
				},
			})
		}
	}
	if len(chunks) == 0 {
		return len(pages), 0, ErrNoText
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	vectors, err := s.deps.Embedder.EmbedBatch(ctx, texts)
	var batchErr *embedding.BatchError
	if err != nil && !errors.As(err, &batchErr) {
		return 0, 0, fmt.Errorf("embed document chunks failed: %w", err)
	}

	kept := chunks[:0]
	now := s.now()
	for i, c := range chunks {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			continue
		}
		c.SetEmbedding(vectors[i])
		c.CreatedAt = now
		c.ChunkIndex = len(kept)
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return 0, 0, fmt.Errorf("embed document chunks failed: %w", err)
	}
	if batchErr != nil {
		s.deps.Logger.Warn("document chunks skipped after embedding failure",
			zap.String("document_id", doc.ID), zap.Ints("chunks", batchErr.Failed))
	}

	scope := vectorstore.Scope{TenantID: doc.TenantID}
	if err := s.deps.Index.Replace(ctx, scope, model.SourcePDF, doc.ID, kept); err != nil {
		return 0, 0, fmt.Errorf("index document chunks failed: %w", err)
	}
	return len(pages), len(kept), nil
}

func (s *Service) fail(ctx context.Context, doc *model.Document, cause error) {
	doc.Status = model.DocumentFailed
	doc.Error = cause.Error()
	doc.UpdatedAt = s.now()
	if err := s.deps.Documents.Update(context.WithoutCancel(ctx), doc); err != nil {
		s.deps.Logger.Error("mark document failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (*model.Document, error) {
	doc, err := s.deps.Documents.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]model.Document, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrInvalidDocument
	}
	return s.deps.Documents.List(ctx, tenantID)
}

// Delete removes the document's chunks first so no search can return them afterwards.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.deps.Index.Delete(ctx, vectorstore.Scope{TenantID: tenantID}, model.SourcePDF, id); err != nil {
		return fmt.Errorf("delete document chunks failed: %w", err)
	}
	if err := s.deps.Blobs.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	return s.deps.Documents.Delete(ctx, tenantID, id)
}

// Close cancels in-process jobs and waits for them.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until in-process jobs started so far have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
