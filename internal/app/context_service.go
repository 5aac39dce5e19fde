package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inkwell/internal/ai"
	"inkwell/internal/assembler"
	"inkwell/internal/model"
	"inkwell/internal/source"
)

const emptyAnswer = "The model returned an empty response."

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrLLMConfig    = errors.New("chat model is not configured")
)

type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ChatMemory records the exchange after an answer.
type ChatMemory interface {
	Append(ctx context.Context, tenantID, chatID, role, content string) (*model.ChatMessage, error)
}

type ContextConfig struct {
	EmbedTimeout      time.Duration
	SourceTimeout     time.Duration
	CompletionTimeout time.Duration
}

func (c ContextConfig) withDefaults() ContextConfig {
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 10 * time.Second
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 5 * time.Second
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = 2 * time.Minute
	}
	return c
}

// ContextService builds prompts from all context sources and answers queries with them.
type ContextService struct {
	embedder  QueryEmbedder
	sources   []source.ContextSource
	assembler *assembler.Assembler
	completer ai.Completer
	memory    ChatMemory
	cfg       ContextConfig
	logger    *zap.Logger
}

type ContextDeps struct {
	Embedder  QueryEmbedder
	Sources   []source.ContextSource
	Assembler *assembler.Assembler
	Completer ai.Completer
	Memory    ChatMemory
	Logger    *zap.Logger
}

func NewContextService(deps ContextDeps, cfg ContextConfig) *ContextService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Assembler == nil {
		deps.Assembler = assembler.New(assembler.Config{})
	}
	return &ContextService{
		embedder:  deps.Embedder,
		sources:   deps.Sources,
		assembler: deps.Assembler,
		completer: deps.Completer,
		memory:    deps.Memory,
		cfg:       cfg.withDefaults(),
		logger:    deps.Logger,
	}
}

type BuildContextInput struct {
	WorkspaceID         string
	ChatID              string
	Query               string
	AttachedDocumentIDs []string
}

type BuildContextResult struct {
	Prompt        string        `json:"prompt"`
	SourcesUsed   []source.Kind `json:"sources_used"`
	FailedSources []string      `json:"failed_sources,omitempty"`
	Notices       []string      `json:"notices,omitempty"`
	Truncated     bool          `json:"truncated"`
}

type fetchResult struct {
	res source.Result
	err error
}

// BuildContext embeds the query once, fans out to every source with its own timeout and
// assembles the prompt. A failing source contributes nothing and is reported in
// FailedSources; it never fails the call.
func (s *ContextService) BuildContext(ctx context.Context, input BuildContextInput) (*BuildContextResult, error) {
	input.WorkspaceID = strings.TrimSpace(input.WorkspaceID)
	input.ChatID = strings.TrimSpace(input.ChatID)
	query := strings.TrimSpace(input.Query)
	if input.WorkspaceID == "" || query == "" {
		return nil, ErrInvalidInput
	}

	req := source.Request{
		WorkspaceID:         input.WorkspaceID,
		ChatID:              input.ChatID,
		Query:               query,
		AttachedDocumentIDs: input.AttachedDocumentIDs,
		Embedding:           s.embedQuery(ctx, input.WorkspaceID, query),
	}

	results := make([]fetchResult, len(s.sources))
	var g errgroup.Group
	for i, src := range s.sources {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout)
			defer cancel()
			res, err := src.Fetch(sctx, req)
			results[i] = fetchResult{res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &BuildContextResult{}
	var fragments []source.Fragment
	for i, r := range results {
		out.Notices = append(out.Notices, r.res.Notices...)
		if r.err != nil {
			name := s.sources[i].Name()
			s.logger.Warn("context source failed",
				zap.String("source", name), zap.String("workspace_id", input.WorkspaceID), zap.Error(r.err))
			out.FailedSources = append(out.FailedSources, name)
			continue
		}
		fragments = append(fragments, r.res.Fragments...)
	}

	assembled := s.assembler.Assemble(assembler.Input{Query: query, Fragments: fragments})
	out.Prompt = assembled.Prompt
	out.SourcesUsed = assembled.SourcesUsed
	out.Truncated = assembled.Truncated
	s.logger.Debug("context built",
		zap.String("workspace_id", input.WorkspaceID),
		zap.Int("fragments", len(fragments)),
		zap.Int("included", len(assembled.Included)),
		zap.Int("dropped", assembled.Dropped),
		zap.Int("prompt_runes", len([]rune(out.Prompt))))
	return out, nil
}

// embedQuery returns nil when the query cannot be embedded; only rules and the recent
// window contribute then.
func (s *ContextService) embedQuery(ctx context.Context, workspaceID, query string) []float32 {
	if s.embedder == nil {
		return nil
	}
	ectx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()
	vec, err := s.embedder.EmbedOne(ectx, query)
	if err != nil {
		s.logger.Warn("embed query failed, similarity sources skipped",
			zap.String("workspace_id", workspaceID), zap.Error(err))
		return nil
	}
	return vec
}

type AskInput = BuildContextInput

type AskResult struct {
	Answer  string              `json:"answer"`
	Context *BuildContextResult `json:"context"`
}

// Ask answers the query with the assembled prompt and records the exchange in chat memory.
func (s *ContextService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	return s.ask(ctx, input, nil)
}

// AskStream is Ask with incremental output. Completers without streaming deliver the
// whole answer as one chunk.
func (s *ContextService) AskStream(ctx context.Context, input AskInput, onChunk func(string) error) (*AskResult, error) {
	if onChunk == nil {
		return nil, ErrInvalidInput
	}
	return s.ask(ctx, input, onChunk)
}

func (s *ContextService) ask(ctx context.Context, input AskInput, onChunk func(string) error) (*AskResult, error) {
	if s.completer == nil {
		return nil, ErrLLMConfig
	}
	built, err := s.BuildContext(ctx, input)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CompletionTimeout)
	defer cancel()
	var answer string
	switch sc, ok := s.completer.(ai.StreamCompleter); {
	case onChunk == nil:
		answer, err = s.completer.Complete(cctx, built.Prompt)
	case ok:
		answer, err = sc.Stream(cctx, built.Prompt, onChunk)
	default:
		answer, err = s.completer.Complete(cctx, built.Prompt)
		if err == nil {
			err = onChunk(answer)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("complete prompt failed: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = emptyAnswer
	}

	s.remember(ctx, input, answer)
	return &AskResult{Answer: answer, Context: built}, nil
}

func (s *ContextService) remember(ctx context.Context, input AskInput, answer string) {
	if s.memory == nil || strings.TrimSpace(input.ChatID) == "" {
		return
	}
	ws, chat := strings.TrimSpace(input.WorkspaceID), strings.TrimSpace(input.ChatID)
	if _, err := s.memory.Append(ctx, ws, chat, model.RoleUser, strings.TrimSpace(input.Query)); err != nil {
		s.logger.Error("append user message failed", zap.String("chat_id", chat), zap.Error(err))
		return
	}
	if _, err := s.memory.Append(ctx, ws, chat, model.RoleAssistant, answer); err != nil {
		s.logger.Error("append assistant message failed", zap.String("chat_id", chat), zap.Error(err))
	}
}
