package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"inkwell/internal/ai"
	"inkwell/internal/chunker"
	"inkwell/internal/embedding"
	"inkwell/internal/ingest"
	"inkwell/internal/model"
	"inkwell/internal/pkg/pdfextract"
	"inkwell/internal/vectorstore"
	"inkwell/internal/vectorstore/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const dim = 64

var fakePDF = []byte("%PDF-1.7\nfake body")

type documents struct {
	mu   sync.Mutex
	rows map[string]model.Document
}

func (d *documents) Create(_ context.Context, doc *model.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows[doc.ID] = *doc
	return nil
}

func (d *documents) Get(_ context.Context, tenantID, id string) (*model.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.rows[id]
	if !ok || doc.TenantID != tenantID {
		return nil, nil
	}
	return &doc, nil
}

func (d *documents) List(_ context.Context, tenantID string) ([]model.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Document
	for _, doc := range d.rows {
		if doc.TenantID == tenantID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (d *documents) Update(_ context.Context, doc *model.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows[doc.ID] = *doc
	return nil
}

func (d *documents) Delete(_ context.Context, _ string, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rows, id)
	return nil
}

type blobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *blobs) Put(_ context.Context, _, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[id] = data
	return nil
}

func (b *blobs) Get(_ context.Context, _, id string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[id], nil
}

func (b *blobs) Delete(_ context.Context, _, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, id)
	return nil
}

type publisher struct {
	jobs []ingest.Job
	err  error
}

func (p *publisher) Publish(_ context.Context, job ingest.Job) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

type fixture struct {
	docs  *documents
	blobs *blobs
	index *memory.Store
	svc   *ingest.Service
}

func newFixture(t *testing.T, pub ingest.JobPublisher, parser ingest.PageParser) *fixture {
	t.Helper()
	f := &fixture{
		docs:  &documents{rows: map[string]model.Document{}},
		blobs: &blobs{data: map[string][]byte{}},
		index: memory.New(dim),
	}
	f.svc = ingest.NewService(ingest.Deps{
		Documents: f.docs,
		Blobs:     f.blobs,
		Index:     f.index,
		Chunker:   chunker.New(chunker.WithSize(120), chunker.WithOverlap(10)),
		Embedder:  embedding.NewGateway(ai.NewHashingEmbedder(dim), embedding.Config{Dimension: dim}),
		Publisher: pub,
		Parser:    parser,
	}, ingest.Config{MaxBytes: 1024})
	t.Cleanup(f.svc.Close)
	return f
}

func pages(texts ...string) ingest.PageParser {
	return func([]byte) ([]pdfextract.Page, error) {
		out := make([]pdfextract.Page, len(texts))
		for i, text := range texts {
			out[i] = pdfextract.Page{Number: i + 1, Text: text}
		}
		return out, nil
	}
}

func TestSubmitValidates(t *testing.T) {
	f := newFixture(t, &publisher{}, pages("x"))
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "w1", "notes.txt", []byte("plain text"))
	assert.ErrorIs(t, err, ingest.ErrInvalidDocument)
	_, err = f.svc.Submit(ctx, "w1", "empty.pdf", nil)
	assert.ErrorIs(t, err, ingest.ErrInvalidDocument)
	_, err = f.svc.Submit(ctx, "w1", "big.pdf", append([]byte("%PDF-1.7"), make([]byte, 2048)...))
	assert.ErrorIs(t, err, ingest.ErrInvalidDocument)
	_, err = f.svc.Submit(ctx, "", "a.pdf", fakePDF)
	assert.ErrorIs(t, err, ingest.ErrInvalidDocument)
}

func TestSubmitPublishesThenProcess(t *testing.T) {
	pub := &publisher{}
	f := newFixture(t, pub, pages("Background on the region.", "The main finding is X"))
	ctx := context.Background()

	doc, err := f.svc.Submit(ctx, "w1", "report.pdf", fakePDF)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentPending, doc.Status)
	require.Equal(t, []ingest.Job{{DocumentID: doc.ID, TenantID: "w1"}}, pub.jobs)

	require.NoError(t, f.svc.Process(ctx, pub.jobs[0]))
	got, err := f.svc.Get(ctx, "w1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentParsed, got.Status)
	assert.Equal(t, 2, got.PageCount)
	assert.Equal(t, 2, got.ChunkCount)

	chunks, err := f.index.List(ctx, vectorstore.Scope{TenantID: "w1"}, model.SourcePDF, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "The main finding is X", chunks[1].Text)
	assert.Equal(t, "2", chunks[1].Metadata["page"])
	assert.Equal(t, "report.pdf", chunks[1].Metadata["filename"])

	blob, err := f.blobs.Get(ctx, "w1", doc.ID)
	require.NoError(t, err)
	assert.Nil(t, blob, "blob is dropped once parsed")

	require.NoError(t, f.svc.Process(ctx, pub.jobs[0]), "redelivery of a parsed job is a no-op")
}

func TestSubmitWithoutPublisherProcessesInBackground(t *testing.T) {
	f := newFixture(t, nil, pages("Solar microgrids in rural Kenya."))
	doc, err := f.svc.Submit(context.Background(), "w1", "kenya.pdf", fakePDF)
	require.NoError(t, err)
	f.svc.Wait()

	got, err := f.svc.Get(context.Background(), "w1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentParsed, got.Status)
	assert.Equal(t, 1, f.index.Len())
}

func TestPublishFailureMarksFailed(t *testing.T) {
	f := newFixture(t, &publisher{err: errors.New("broker down")}, pages("x"))
	_, err := f.svc.Submit(context.Background(), "w1", "a.pdf", fakePDF)
	require.ErrorIs(t, err, ingest.ErrEnqueue)

	docs, err := f.svc.List(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.DocumentFailed, docs[0].Status)
	assert.Contains(t, docs[0].Error, "broker down")
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name   string
		parser ingest.PageParser
		want   error
	}{
		{"parse error", func([]byte) ([]pdfextract.Page, error) { return nil, pdfextract.ErrNotPDF }, pdfextract.ErrNotPDF},
		{"no text", pages("   ", "\n"), ingest.ErrNoText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &publisher{}
			f := newFixture(t, pub, tt.parser)
			doc, err := f.svc.Submit(context.Background(), "w1", "a.pdf", fakePDF)
			require.NoError(t, err)

			err = f.svc.Process(context.Background(), pub.jobs[0])
			assert.ErrorIs(t, err, tt.want)
			got, err := f.svc.Get(context.Background(), "w1", doc.ID)
			require.NoError(t, err)
			assert.Equal(t, model.DocumentFailed, got.Status)
			assert.NotEmpty(t, got.Error)
			assert.Zero(t, f.index.Len())
		})
	}
}

func TestProcessUnknownDocument(t *testing.T) {
	f := newFixture(t, &publisher{}, pages("x"))
	err := f.svc.Process(context.Background(), ingest.Job{DocumentID: "nope", TenantID: "w1"})
	assert.ErrorIs(t, err, ingest.ErrDocumentNotFound)
}

func TestDeleteRemovesChunksAndRow(t *testing.T) {
	pub := &publisher{}
	f := newFixture(t, pub, pages("Some page text."))
	ctx := context.Background()
	doc, err := f.svc.Submit(ctx, "w1", "a.pdf", fakePDF)
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(ctx, pub.jobs[0]))
	require.Equal(t, 1, f.index.Len())

	assert.ErrorIs(t, f.svc.Delete(ctx, "w2", doc.ID), ingest.ErrDocumentNotFound)
	require.NoError(t, f.svc.Delete(ctx, "w1", doc.ID))
	assert.Zero(t, f.index.Len())
	_, err = f.svc.Get(ctx, "w1", doc.ID)
	assert.ErrorIs(t, err, ingest.ErrDocumentNotFound)
}
