package chatmemory_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"inkwell/internal/ai"
	"inkwell/internal/chatmemory"
	"inkwell/internal/embedding"
	"inkwell/internal/model"
	"inkwell/internal/retrieval"
	"inkwell/internal/source"
	"inkwell/internal/vectorstore"
	"inkwell/internal/vectorstore/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type messageStore struct {
	mu   sync.Mutex
	rows []model.ChatMessage
}

func (s *messageStore) Create(_ context.Context, m *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.TenantID == m.TenantID && r.ChatID == m.ChatID && r.Seq == m.Seq {
			return errors.New("duplicate seq")
		}
	}
	m.ID = uint(len(s.rows) + 1)
	s.rows = append(s.rows, *m)
	return nil
}

func (s *messageStore) LastSeq(_ context.Context, tenantID, chatID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last int64
	for _, r := range s.rows {
		if r.TenantID == tenantID && r.ChatID == chatID && r.Seq > last {
			last = r.Seq
		}
	}
	return last, nil
}

func (s *messageStore) chat(tenantID, chatID string) []model.ChatMessage {
	var out []model.ChatMessage
	for _, r := range s.rows {
		if r.TenantID == tenantID && r.ChatID == chatID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *messageStore) ListRange(_ context.Context, tenantID, chatID string, after, through int64) ([]model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ChatMessage
	for _, r := range s.chat(tenantID, chatID) {
		if r.Seq > after && r.Seq <= through {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *messageStore) ListRecent(_ context.Context, tenantID, chatID string, after int64, limit int) ([]model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ChatMessage
	for _, r := range s.chat(tenantID, chatID) {
		if r.Seq > after {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type summaryStore struct {
	mu      sync.Mutex
	rows    map[string]model.ChatSummary
	upserts int
}

func (s *summaryStore) Get(_ context.Context, tenantID, chatID string) (*model.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[tenantID+"/"+chatID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *summaryStore) Upsert(_ context.Context, sum *model.ChatSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = map[string]model.ChatSummary{}
	}
	s.rows[sum.TenantID+"/"+sum.ChatID] = *sum
	s.upserts++
	return nil
}

func (s *summaryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type fakeSummarizer struct {
	mu      sync.Mutex
	calls   [][]model.ChatMessage
	priors  []string
	gate    chan struct{}
	err     error
	started chan struct{}
}

func (f *fakeSummarizer) Summarize(ctx context.Context, prior string, msgs []model.ChatMessage) (string, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msgs)
	f.priors = append(f.priors, prior)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("The user discussed solar microgrid budgets across %d messages.", len(msgs)), nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	messages   *messageStore
	summaries  *summaryStore
	summarizer *fakeSummarizer
	index      *memory.Store
	gateway    *embedding.Gateway
	manager    *chatmemory.Manager
}

func newFixture(t *testing.T, cfg chatmemory.Config, sum *fakeSummarizer, locker chatmemory.Locker) *fixture {
	t.Helper()
	f := &fixture{
		messages:   &messageStore{},
		summaries:  &summaryStore{},
		summarizer: sum,
		index:      memory.New(64),
		gateway:    embedding.NewGateway(ai.NewHashingEmbedder(64), embedding.Config{Dimension: 64}),
	}
	f.manager = f.newManager(cfg, locker)
	t.Cleanup(f.manager.Close)
	return f
}

func (f *fixture) newManager(cfg chatmemory.Config, locker chatmemory.Locker) *chatmemory.Manager {
	return chatmemory.NewManager(chatmemory.Deps{
		Messages:   f.messages,
		Summaries:  f.summaries,
		Window:     chatmemory.NewMemoryWindow(),
		Locker:     locker,
		Summarizer: f.summarizer,
		Embedder:   f.gateway,
		Index:      f.index,
		Retriever:  retrieval.NewRetriever(f.index, retrieval.Config{}),
	}, cfg)
}

func appendN(t *testing.T, m *chatmemory.Manager, from, to int) {
	t.Helper()
	for i := from; i <= to; i++ {
		role := model.RoleUser
		if i%2 == 0 {
			role = model.RoleAssistant
		}
		_, err := m.Append(context.Background(), "w1", "c1", role, fmt.Sprintf("message %d about the budget", i))
		require.NoError(t, err)
	}
}

func defaultCfg() chatmemory.Config {
	return chatmemory.Config{WindowSize: 10, SummaryThreshold: 10, RetainRecent: 1}
}

func TestAppendAssignsGapFreeSeq(t *testing.T) {
	f := newFixture(t, defaultCfg(), &fakeSummarizer{}, nil)
	appendN(t, f.manager, 1, 3)

	recent, err := f.manager.Recent(context.Background(), "w1", "c1")
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i, m := range recent {
		assert.Equal(t, int64(i+1), m.Seq)
		assert.NotEmpty(t, m.EmbeddingVector())
	}
}

func TestAppendValidates(t *testing.T) {
	f := newFixture(t, defaultCfg(), &fakeSummarizer{}, nil)
	ctx := context.Background()

	_, err := f.manager.Append(ctx, "", "c1", model.RoleUser, "hi")
	assert.ErrorIs(t, err, chatmemory.ErrChatKeyInvalid)
	_, err = f.manager.Append(ctx, "w1", "c1", "system", "hi")
	assert.ErrorIs(t, err, chatmemory.ErrInvalidInput)
	_, err = f.manager.Append(ctx, "w1", "c1", model.RoleUser, "  ")
	assert.ErrorIs(t, err, chatmemory.ErrInvalidInput)
}

func TestRollover(t *testing.T) {
	f := newFixture(t, defaultCfg(), &fakeSummarizer{}, nil)
	appendN(t, f.manager, 1, 11)
	f.manager.Wait()

	recent, err := f.manager.Recent(context.Background(), "w1", "c1")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(10), recent[0].Seq)
	assert.Equal(t, int64(11), recent[1].Seq)

	sum, err := f.summaries.Get(context.Background(), "w1", "c1")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, int64(9), sum.CoveredThroughSeq)
	assert.NotEmpty(t, sum.SummaryText)
	require.Equal(t, 1, f.summarizer.callCount())
	assert.Len(t, f.summarizer.calls[0], 9)

	q, err := f.gateway.EmbedOne(context.Background(), "what did we decide about the solar microgrid budgets?")
	require.NoError(t, err)
	res, err := chatmemory.NewSource(f.manager).Fetch(context.Background(), source.Request{WorkspaceID: "w1", ChatID: "c1", Embedding: q})
	require.NoError(t, err)
	require.Len(t, res.Fragments, 2)

	recentFrag := res.Fragments[0]
	assert.Equal(t, source.KindChatRecent, recentFrag.Kind)
	assert.True(t, recentFrag.Essential)
	assert.Equal(t, "Assistant: message 10 about the budget\nUser: message 11 about the budget", recentFrag.Text)
	for i := 1; i <= 9; i++ {
		assert.NotContains(t, recentFrag.Text, fmt.Sprintf("message %d ", i))
	}
	assert.Equal(t, source.KindChatSummary, res.Fragments[1].Kind)
	assert.Equal(t, sum.SummaryText, res.Fragments[1].Text)
}

func TestSecondCompactionFoldsPriorSummary(t *testing.T) {
	f := newFixture(t, defaultCfg(), &fakeSummarizer{}, nil)
	appendN(t, f.manager, 1, 10)
	f.manager.Wait()
	appendN(t, f.manager, 11, 20)
	f.manager.Wait()

	require.Equal(t, 2, f.summarizer.callCount())
	assert.Empty(t, f.summarizer.priors[0])
	assert.NotEmpty(t, f.summarizer.priors[1])
	second := f.summarizer.calls[1]
	require.Len(t, second, 10)
	assert.Equal(t, int64(10), second[0].Seq)
	assert.Equal(t, int64(19), second[9].Seq)

	chunks, err := f.index.List(context.Background(), vectorstore.Scope{TenantID: "w1"}, model.SourceChatSummary, "c1")
	require.NoError(t, err)
	assert.Len(t, chunks, 1, "summary chunk is replaced, not accumulated")
}

func TestNextAppendWaitsForSummary(t *testing.T) {
	sum := &fakeSummarizer{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	f := newFixture(t, defaultCfg(), sum, nil)
	appendN(t, f.manager, 1, 10)
	<-sum.started

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.manager.Append(context.Background(), "w1", "c1", model.RoleUser, "message 11")
		assert.NoError(t, err)
	}()

	select {
	case <-done:
		t.Fatal("append finished while summary was running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, f.summaries.count())

	close(sum.gate)
	<-done
	assert.Equal(t, 1, f.summaries.count())
}

func TestConcurrentBurstWritesOneSummary(t *testing.T) {
	f := newFixture(t, defaultCfg(), &fakeSummarizer{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.Append(context.Background(), "w1", "c1", model.RoleUser, fmt.Sprintf("burst %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	f.manager.Wait()

	assert.Equal(t, 1, f.summaries.count())
	last, err := f.messages.LastSeq(context.Background(), "w1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), last)
}

func TestFailedSummaryIsRetriedOnNextCrossing(t *testing.T) {
	sum := &fakeSummarizer{err: errors.New("model unavailable")}
	f := newFixture(t, defaultCfg(), sum, nil)
	appendN(t, f.manager, 1, 10)
	f.manager.Wait()

	s, err := f.summaries.Get(context.Background(), "w1", "c1")
	require.NoError(t, err)
	assert.Nil(t, s)

	sum.mu.Lock()
	sum.err = nil
	sum.mu.Unlock()
	appendN(t, f.manager, 11, 20)
	f.manager.Wait()

	s, err = f.summaries.Get(context.Background(), "w1", "c1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, int64(19), s.CoveredThroughSeq)
	assert.Len(t, sum.calls[1], 19)
}

func TestLockHeldElsewhereSkips(t *testing.T) {
	locker := chatmemory.NewLocalLocker()
	release, ok, err := locker.TryLock(context.Background(), "summary:w1:c1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	f := newFixture(t, defaultCfg(), &fakeSummarizer{}, locker)
	appendN(t, f.manager, 1, 10)
	f.manager.Wait()
	assert.Zero(t, f.summaries.count())
	assert.Zero(t, f.summarizer.callCount())
}

func TestWindowRebuildsFromStorage(t *testing.T) {
	f := newFixture(t, defaultCfg(), &fakeSummarizer{}, nil)
	appendN(t, f.manager, 1, 13)
	f.manager.Wait()

	restarted := f.newManager(defaultCfg(), nil)
	defer restarted.Close()
	recent, err := restarted.Recent(context.Background(), "w1", "c1")
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, int64(10), recent[0].Seq)
	assert.Equal(t, int64(13), recent[3].Seq)
}

func TestSourceErrorsOnlyWhenEverythingFails(t *testing.T) {
	f := newFixture(t, defaultCfg(), &fakeSummarizer{}, nil)
	src := chatmemory.NewSource(f.manager)

	res, err := src.Fetch(context.Background(), source.Request{WorkspaceID: "w1"})
	require.NoError(t, err)
	assert.Empty(t, res.Fragments)

	res, err = src.Fetch(context.Background(), source.Request{WorkspaceID: "w1", ChatID: "empty-chat"})
	require.NoError(t, err)
	assert.Empty(t, res.Fragments)

	_, err = src.Fetch(context.Background(), source.Request{WorkspaceID: "", ChatID: "c1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, chatmemory.ErrChatKeyInvalid))
}

func TestSummaryPrompt(t *testing.T) {
	p := chatmemory.SummaryPrompt("Earlier they chose a budget.", []model.ChatMessage{
		{Role: model.RoleUser, Content: "What region?"},
		{Role: model.RoleAssistant, Content: "Sub-Saharan Africa."},
	})
	assert.True(t, strings.HasPrefix(p, "Summarize the following chat conversation in 2-3 sentences"))
	assert.Contains(t, p, "Earlier summary:\nEarlier they chose a budget.")
	assert.True(t, strings.HasSuffix(p, "user: What region?\nassistant: Sub-Saharan Africa."))
}

// stallingStore pauses the first ListRecent after it has read storage.
type stallingStore struct {
	*messageStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *stallingStore) ListRecent(ctx context.Context, tenantID, chatID string, after int64, limit int) ([]model.ChatMessage, error) {
	out, err := s.messageStore.ListRecent(ctx, tenantID, chatID, after, limit)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return out, err
}

func contents(msgs []model.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestWindowRefillKeepsConcurrentAppend(t *testing.T) {
	store := &stallingStore{messageStore: &messageStore{}, read: make(chan struct{}), release: make(chan struct{})}
	m := chatmemory.NewManager(chatmemory.Deps{
		Messages:  store,
		Summaries: &summaryStore{},
		Window:    chatmemory.NewMemoryWindow(),
	}, defaultCfg())
	defer m.Close()
	ctx := context.Background()

	_, err := m.Append(ctx, "w1", "c1", model.RoleUser, "one")
	require.NoError(t, err)

	refilled := make(chan error, 1)
	go func() {
		_, err := m.Recent(ctx, "w1", "c1")
		refilled <- err
	}()
	<-store.read

	appended := make(chan error, 1)
	go func() {
		_, err := m.Append(ctx, "w1", "c1", model.RoleAssistant, "two")
		appended <- err
	}()
	select {
	case <-appended:
		close(store.release)
		t.Fatal("append completed while the window was being refilled")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-refilled)
	require.NoError(t, <-appended)

	_, err = m.Append(ctx, "w1", "c1", model.RoleUser, "three")
	require.NoError(t, err)

	recent, err := m.Recent(ctx, "w1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, contents(recent))
}

func TestSummaryWithoutEmbedder(t *testing.T) {
	summaries := &summaryStore{}
	m := chatmemory.NewManager(chatmemory.Deps{
		Messages:   &messageStore{},
		Summaries:  summaries,
		Summarizer: &fakeSummarizer{},
	}, defaultCfg())
	defer m.Close()

	appendN(t, m, 1, 11)
	m.Wait()

	require.Equal(t, 1, summaries.count())
	sum, err := summaries.Get(context.Background(), "w1", "c1")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, int64(9), sum.CoveredThroughSeq)
	assert.Empty(t, sum.EmbeddingRaw)

	recent, err := m.Recent(context.Background(), "w1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"message 10 about the budget", "message 11 about the budget"}, contents(recent))
}

func TestSnapshotIncludesHistory(t *testing.T) {
	f := newFixture(t, defaultCfg(), &fakeSummarizer{}, nil)
	appendN(t, f.manager, 1, 11)
	f.manager.Wait()
	ctx := context.Background()

	snap, err := f.manager.Snapshot(ctx, "w1", "c1", 0)
	require.NoError(t, err)
	assert.Len(t, snap.Recent, 2)
	require.NotNil(t, snap.Summary)
	require.Len(t, snap.History, 11)
	assert.Equal(t, int64(1), snap.History[0].Seq)

	history, err := f.manager.History(ctx, "w1", "c1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(9), history[0].Seq)
	assert.Equal(t, int64(11), history[2].Seq)

	_, err = f.manager.History(ctx, "w1", "", 3)
	assert.ErrorIs(t, err, chatmemory.ErrChatKeyInvalid)
}
