package chatmemory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inkwell/internal/model"
	"inkwell/internal/pkg/keylock"
	"inkwell/internal/retrieval"
	"inkwell/internal/vectorstore"
)

var (
	ErrInvalidInput   = errors.New("invalid chat message")
	ErrChatKeyInvalid = errors.New("tenant and chat id are required")
	ErrHistoryGap     = errors.New("chat history is not contiguous")
)

type MessageStore interface {
	Create(ctx context.Context, message *model.ChatMessage) error
	LastSeq(ctx context.Context, tenantID, chatID string) (int64, error)
	ListRange(ctx context.Context, tenantID, chatID string, afterSeq, throughSeq int64) ([]model.ChatMessage, error)
	ListRecent(ctx context.Context, tenantID, chatID string, afterSeq int64, limit int) ([]model.ChatMessage, error)
}

type SummaryStore interface {
	Get(ctx context.Context, tenantID, chatID string) (*model.ChatSummary, error)
	Upsert(ctx context.Context, summary *model.ChatSummary) error
}

// WindowCache holds the hot window. Push must not create a window that does not exist.
type WindowCache interface {
	Push(ctx context.Context, tenantID, chatID string, msg model.ChatMessage, limit int) error
	Window(ctx context.Context, tenantID, chatID string) ([]model.ChatMessage, bool, error)
	Reset(ctx context.Context, tenantID, chatID string, messages []model.ChatMessage) error
	Invalidate(ctx context.Context, tenantID, chatID string) error
}

// Locker is a cross-process advisory lock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, prior string, messages []model.ChatMessage) (string, error)
}

type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	WindowSize       int
	SummaryThreshold int
	// RetainRecent messages stay out of each summary so the window never starts empty.
	RetainRecent         int
	SummaryMinSimilarity float64
	SummaryTimeout       time.Duration
	AppendWaitTimeout    time.Duration
	LockTTL              time.Duration
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.SummaryThreshold <= 0 {
		c.SummaryThreshold = 10
	}
	if c.RetainRecent < 0 {
		c.RetainRecent = 0
	}
	if c.RetainRecent >= c.SummaryThreshold {
		c.RetainRecent = c.SummaryThreshold - 1
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 60 * time.Second
	}
	if c.AppendWaitTimeout <= 0 {
		c.AppendWaitTimeout = 5 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * c.SummaryTimeout
	}
	return c
}

type Deps struct {
	Messages   MessageStore
	Summaries  SummaryStore
	Window     WindowCache
	Locker     Locker
	Summarizer Summarizer
	Embedder   Embedder
	Index      vectorstore.Store
	Retriever  *retrieval.Retriever
	Logger     *zap.Logger
}

// Manager owns the two-tier memory of every chat: a hot window of recent messages and
// one compacted summary of everything before it.
type Manager struct {
	deps  Deps
	cfg   Config
	locks *keylock.KeyLock
	now   func() time.Time

	mu       sync.Mutex
	inflight map[string]chan struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Window == nil {
		deps.Window = NewMemoryWindow()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		locks:    keylock.New(),
		now:      time.Now,
		inflight: make(map[string]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func chatKey(tenantID, chatID string) string {
	return tenantID + ":" + chatID
}

func validKey(tenantID, chatID string) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(chatID) == "" {
		return ErrChatKeyInvalid
	}
	return nil
}

// Append stores one message at the end of the chat. Writes within a chat are serialized
// and wait, up to AppendWaitTimeout, for a running summarization of that chat.
func (m *Manager) Append(ctx context.Context, tenantID, chatID, role, content string) (*model.ChatMessage, error) {
	if err := validKey(tenantID, chatID); err != nil {
		return nil, err
	}
	if role != model.RoleUser && role != model.RoleAssistant {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}

	key := chatKey(tenantID, chatID)
	unlock, err := m.lockChat(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	last, err := m.deps.Messages.LastSeq(ctx, tenantID, chatID)
	if err != nil {
		return nil, err
	}
	msg := model.ChatMessage{
		TenantID:  tenantID,
		ChatID:    chatID,
		Seq:       last + 1,
		Role:      role,
		Content:   content,
		CreatedAt: m.now(),
	}
	if m.deps.Embedder != nil {
		vec, err := m.deps.Embedder.EmbedOne(ctx, content)
		if err != nil {
			m.deps.Logger.Warn("embed chat message failed, storing without embedding",
				zap.String("chat_id", chatID), zap.Int64("seq", msg.Seq), zap.Error(err))
		} else {
			msg.SetEmbedding(vec)
		}
	}
	if err := m.deps.Messages.Create(ctx, &msg); err != nil {
		return nil, err
	}

	if err := m.deps.Window.Push(ctx, tenantID, chatID, msg, m.cfg.WindowSize); err != nil {
		m.deps.Logger.Warn("push chat window failed, invalidating", zap.String("chat_id", chatID), zap.Error(err))
		_ = m.deps.Window.Invalidate(ctx, tenantID, chatID)
	}

	if msg.Seq%int64(m.cfg.SummaryThreshold) == 0 {
		m.triggerSummary(tenantID, chatID, msg.Seq)
	}
	return &msg, nil
}

// lockChat takes the per-chat write lock once no summarization of the chat is running,
// or once AppendWaitTimeout has passed.
func (m *Manager) lockChat(ctx context.Context, key string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.AppendWaitTimeout)
	defer cancel()
	for {
		unlock, err := m.locks.Lock(ctx, key)
		if err != nil {
			return nil, err
		}
		done := m.inflightFor(key)
		if done == nil {
			return unlock, nil
		}
		unlock()
		select {
		case <-done:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.deps.Logger.Warn("summarization still running, appending anyway", zap.String("chat", key))
			return m.locks.Lock(ctx, key)
		}
	}
}

func (m *Manager) inflightFor(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[key]
}

// triggerSummary starts one background compaction per chat; a chat that is already
// compacting is skipped. Without a summarizer the chat keeps only its window.
func (m *Manager) triggerSummary(tenantID, chatID string, seq int64) {
	if m.deps.Summarizer == nil {
		return
	}
	key := chatKey(tenantID, chatID)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, busy := m.inflight[key]; busy {
		m.mu.Unlock()
		return
	}
	done := make(chan struct{})
	m.inflight[key] = done
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.inflight, key)
			m.mu.Unlock()
			close(done)
		}()

		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.SummaryTimeout)
		defer cancel()
		if err := m.summarize(ctx, tenantID, chatID, seq); err != nil {
			m.deps.Logger.Error("chat summarization failed",
				zap.String("tenant_id", tenantID), zap.String("chat_id", chatID),
				zap.Int64("seq", seq), zap.Error(err))
		}
	}()
}

func (m *Manager) summarize(ctx context.Context, tenantID, chatID string, seq int64) error {
	if m.deps.Locker != nil {
		release, ok, err := m.deps.Locker.TryLock(ctx, "summary:"+chatKey(tenantID, chatID), m.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			m.deps.Logger.Debug("summarization held elsewhere", zap.String("chat_id", chatID))
			return nil
		}
		defer release()
	}

	prior, err := m.deps.Summaries.Get(ctx, tenantID, chatID)
	if err != nil {
		return err
	}
	var covered int64
	var priorText string
	if prior != nil {
		covered, priorText = prior.CoveredThroughSeq, prior.SummaryText
	}
	upTo := seq - int64(m.cfg.RetainRecent)
	if upTo <= covered {
		return nil
	}

	messages, err := m.deps.Messages.ListRange(ctx, tenantID, chatID, covered, upTo)
	if err != nil {
		return err
	}
	if int64(len(messages)) != upTo-covered {
		return fmt.Errorf("%w: want %d messages after seq %d, got %d", ErrHistoryGap, upTo-covered, covered, len(messages))
	}
	for i, msg := range messages {
		if msg.Seq != covered+int64(i)+1 {
			return fmt.Errorf("%w: seq %d at position %d", ErrHistoryGap, msg.Seq, i)
		}
	}

	text, err := m.deps.Summarizer.Summarize(ctx, priorText, messages)
	if err != nil {
		return fmt.Errorf("summarize chat failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("summarizer returned empty text")
	}
	var vec []float32
	if m.deps.Embedder != nil {
		if vec, err = m.deps.Embedder.EmbedOne(ctx, text); err != nil {
			return fmt.Errorf("embed chat summary failed: %w", err)
		}
	}

	summary := &model.ChatSummary{
		TenantID:          tenantID,
		ChatID:            chatID,
		SummaryText:       text,
		CoveredThroughSeq: upTo,
		UpdatedAt:         m.now(),
	}
	if len(vec) > 0 {
		summary.SetEmbedding(vec)
	}
	if err := m.deps.Summaries.Upsert(ctx, summary); err != nil {
		return err
	}

	// Without an embedding the summary is kept but cannot be retrieved by similarity.
	if m.deps.Index != nil && len(vec) > 0 {
		chunk := model.Chunk{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			SourceType: model.SourceChatSummary,
			SourceID:   chatID,
			Text:       text,
			Metadata:   map[string]string{"covered_through_seq": fmt.Sprint(upTo)},
			CreatedAt:  summary.UpdatedAt,
		}
		chunk.SetEmbedding(vec)
		if err := m.deps.Index.Replace(ctx, vectorstore.Scope{TenantID: tenantID}, model.SourceChatSummary, chatID, []model.Chunk{chunk}); err != nil {
			m.deps.Logger.Error("index chat summary failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}

	if err := m.rebuildWindow(ctx, tenantID, chatID, upTo); err != nil {
		m.deps.Logger.Warn("rebuild chat window failed", zap.String("chat_id", chatID), zap.Error(err))
		_ = m.deps.Window.Invalidate(ctx, tenantID, chatID)
	}
	m.deps.Logger.Info("chat summarized",
		zap.String("chat_id", chatID), zap.Int64("covered_through_seq", upTo), zap.Int("messages", len(messages)))
	return nil
}

func (m *Manager) rebuildWindow(ctx context.Context, tenantID, chatID string, afterSeq int64) error {
	unlock, err := m.locks.Lock(ctx, chatKey(tenantID, chatID))
	if err != nil {
		return err
	}
	defer unlock()
	recent, err := m.deps.Messages.ListRecent(ctx, tenantID, chatID, afterSeq, m.cfg.WindowSize)
	if err != nil {
		return err
	}
	return m.deps.Window.Reset(ctx, tenantID, chatID, recent)
}

// Recent returns the hot window in chronological order, rebuilding it from storage on a miss.
func (m *Manager) Recent(ctx context.Context, tenantID, chatID string) ([]model.ChatMessage, error) {
	if err := validKey(tenantID, chatID); err != nil {
		return nil, err
	}
	if msgs, ok := m.cachedWindow(ctx, tenantID, chatID); ok {
		return msgs, nil
	}

	// The refill must not interleave with Append or rebuildWindow, or the window loses
	// or repeats messages until the next reset.
	unlock, err := m.locks.Lock(ctx, chatKey(tenantID, chatID))
	if err != nil {
		return nil, err
	}
	defer unlock()
	if msgs, ok := m.cachedWindow(ctx, tenantID, chatID); ok {
		return msgs, nil
	}

	var covered int64
	summary, err := m.deps.Summaries.Get(ctx, tenantID, chatID)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		covered = summary.CoveredThroughSeq
	}
	recent, err := m.deps.Messages.ListRecent(ctx, tenantID, chatID, covered, m.cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	if err := m.deps.Window.Reset(ctx, tenantID, chatID, recent); err != nil {
		m.deps.Logger.Warn("refill chat window failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	return recent, nil
}

func (m *Manager) cachedWindow(ctx context.Context, tenantID, chatID string) ([]model.ChatMessage, bool) {
	msgs, ok, err := m.deps.Window.Window(ctx, tenantID, chatID)
	if err != nil {
		m.deps.Logger.Warn("read chat window failed, using storage", zap.String("chat_id", chatID), zap.Error(err))
		return nil, false
	}
	return msgs, ok
}

// RelevantSummary returns the chat summary when it is similar enough to the query, else nil.
func (m *Manager) RelevantSummary(ctx context.Context, tenantID, chatID string, embedding []float32) (*vectorstore.Hit, error) {
	if err := validKey(tenantID, chatID); err != nil {
		return nil, err
	}
	if m.deps.Retriever == nil || len(embedding) == 0 {
		return nil, nil
	}
	hits, err := m.deps.Retriever.Retrieve(ctx, retrieval.Request{
		TenantID:      tenantID,
		Embedding:     embedding,
		SourceTypes:   []model.SourceType{model.SourceChatSummary},
		SourceIDs:     []string{chatID},
		TopK:          1,
		MinSimilarity: retrieval.Threshold(m.cfg.SummaryMinSimilarity),
	})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return &hits[0], nil
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// History returns up to limit of the chat's latest stored messages, summarized or not,
// in chronological order.
func (m *Manager) History(ctx context.Context, tenantID, chatID string, limit int) ([]model.ChatMessage, error) {
	if err := validKey(tenantID, chatID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	return m.deps.Messages.ListRecent(ctx, tenantID, chatID, 0, limit)
}

type Snapshot struct {
	Recent  []model.ChatMessage `json:"recent"`
	Summary *model.ChatSummary  `json:"summary,omitempty"`
	History []model.ChatMessage `json:"history"`
}

// Snapshot reports the hot window, the summary row and the latest historyLimit messages.
func (m *Manager) Snapshot(ctx context.Context, tenantID, chatID string, historyLimit int) (*Snapshot, error) {
	recent, err := m.Recent(ctx, tenantID, chatID)
	if err != nil {
		return nil, err
	}
	summary, err := m.deps.Summaries.Get(ctx, tenantID, chatID)
	if err != nil {
		return nil, err
	}
	history, err := m.History(ctx, tenantID, chatID, historyLimit)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Recent: recent, Summary: summary, History: history}, nil
}

// Close stops accepting summarizations, cancels running ones and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

// Wait blocks until background summarizations started so far have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
