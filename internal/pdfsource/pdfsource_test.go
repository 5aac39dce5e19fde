package pdfsource_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/ai"
	"inkwell/internal/embedding"
	"inkwell/internal/model"
	"inkwell/internal/pdfsource"
	"inkwell/internal/retrieval"
	"inkwell/internal/source"
	"inkwell/internal/vectorstore/memory"
)

const dim = 64

type docs struct {
	rows []model.Document
	err  error
}

func (d *docs) GetMany(_ context.Context, tenantID string, ids []string) ([]model.Document, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []model.Document
	for _, r := range d.rows {
		for _, id := range ids {
			if r.ID == id && r.TenantID == tenantID {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (d *docs) List(_ context.Context, tenantID string) ([]model.Document, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []model.Document
	for _, r := range d.rows {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fixture struct {
	gw    *embedding.Gateway
	store *memory.Store
	docs  *docs
	src   *pdfsource.Source
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:    embedding.NewGateway(ai.NewHashingEmbedder(dim), embedding.Config{Dimension: dim}),
		store: memory.New(dim),
		docs:  &docs{},
	}
	f.src = pdfsource.NewSource(f.docs, retrieval.NewRetriever(f.store, retrieval.Config{}), pdfsource.Config{TopK: 3, MinSimilarity: retrieval.DefaultMinSimilarity}, nil)
	return f
}

func (f *fixture) addDoc(t *testing.T, tenant, id, filename string, status model.DocumentStatus, pages ...string) {
	t.Helper()
	f.docs.rows = append(f.docs.rows, model.Document{ID: id, TenantID: tenant, Filename: filename, Status: status})
	var chunks []model.Chunk
	for i, text := range pages {
		vec, err := f.gw.EmbedOne(context.Background(), text)
		require.NoError(t, err)
		c := model.Chunk{
			ID:         id + "-" + string(rune('a'+i)),
			TenantID:   tenant,
			SourceType: model.SourcePDF,
			SourceID:   id,
			ChunkIndex: i,
			Text:       text,
			Metadata:   map[string]string{pdfsource.MetaFilename: filename, pdfsource.MetaPage: string(rune('1' + i))},
		}
		c.SetEmbedding(vec)
		chunks = append(chunks, c)
	}
	require.NoError(t, f.store.Upsert(context.Background(), chunks))
}

func (f *fixture) request(t *testing.T, tenant, query string, attached ...string) source.Request {
	t.Helper()
	vec, err := f.gw.EmbedOne(context.Background(), query)
	require.NoError(t, err)
	return source.Request{WorkspaceID: tenant, Query: query, Embedding: vec, AttachedDocumentIDs: attached}
}

func TestAttachedDocumentTopHit(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "w1", "d1", "report.pdf", model.DocumentParsed,
		"Background on the survey region and weather.",
		"The main finding is X")

	res, err := f.src.Fetch(context.Background(), f.request(t, "w1", "What is the main finding?", "d1"))
	require.NoError(t, err)
	require.NotEmpty(t, res.Fragments)
	top := res.Fragments[0]
	assert.Equal(t, "The main finding is X", top.Text)
	assert.Equal(t, source.KindPDF, top.Kind)
	assert.Equal(t, "report.pdf - Page 2", top.Title)
	assert.GreaterOrEqual(t, top.Similarity, retrieval.DefaultMinSimilarity)
	assert.Empty(t, res.Notices)
}

func TestAttachmentNotices(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "w1", "d1", "draft.pdf", model.DocumentParsing, "The main finding is X")
	f.addDoc(t, "w2", "d2", "other.pdf", model.DocumentParsed, "The main finding is X")

	res, err := f.src.Fetch(context.Background(), f.request(t, "w1", "main finding", "d1", "d2", "missing"))
	require.NoError(t, err)
	assert.Empty(t, res.Fragments)
	assert.Equal(t, []string{
		"Attached document draft.pdf is not ready yet (status: parsing).",
		"Attached document d2 was not found.",
		"Attached document missing was not found.",
	}, res.Notices)
}

func TestWithoutAttachmentsSearchesParsedDocuments(t *testing.T) {
	f := newFixture(t)
	f.addDoc(t, "w1", "d1", "ready.pdf", model.DocumentParsed, "microgrid battery storage costs")
	f.addDoc(t, "w1", "d2", "failed.pdf", model.DocumentFailed, "microgrid battery storage costs")
	f.addDoc(t, "w2", "d3", "foreign.pdf", model.DocumentParsed, "microgrid battery storage costs")

	res, err := f.src.Fetch(context.Background(), f.request(t, "w1", "battery storage for the microgrid"))
	require.NoError(t, err)
	require.Len(t, res.Fragments, 1)
	assert.Equal(t, "ready.pdf - Page 1", res.Fragments[0].Title)
}

func TestEmptyWorkspaceAndMissingEmbedding(t *testing.T) {
	f := newFixture(t)
	res, err := f.src.Fetch(context.Background(), f.request(t, "w1", "anything"))
	require.NoError(t, err)
	assert.Empty(t, res.Fragments)

	res, err = f.src.Fetch(context.Background(), source.Request{WorkspaceID: "w1", AttachedDocumentIDs: []string{"d1"}})
	require.NoError(t, err)
	assert.Empty(t, res.Fragments)
}

func TestLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.docs.err = errors.New("db down")
	_, err := f.src.Fetch(context.Background(), f.request(t, "w1", "anything"))
	assert.Error(t, err)
}

func TestTitleFallbacks(t *testing.T) {
	assert.Equal(t, "a.pdf - Page ?", pdfsource.Title(model.Document{}, model.Chunk{Metadata: map[string]string{"filename": "a.pdf"}}))
	assert.Equal(t, "d9 - Page 3", pdfsource.Title(model.Document{}, model.Chunk{SourceID: "d9", Metadata: map[string]string{"page": "3"}}))
}
