package chatmemory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"inkwell/internal/model"
	"inkwell/internal/source"
)

// Source contributes the recent window (essential) and, when relevant, the chat summary.
type Source struct {
	manager *Manager
}

func NewSource(manager *Manager) *Source {
	return &Source{manager: manager}
}

func (s *Source) Name() string { return "chat_memory" }

func (s *Source) Fetch(ctx context.Context, req source.Request) (source.Result, error) {
	if strings.TrimSpace(req.ChatID) == "" {
		return source.Result{}, nil
	}
	var res source.Result

	recent, recentErr := s.manager.Recent(ctx, req.WorkspaceID, req.ChatID)
	if recentErr == nil && len(recent) > 0 {
		res.Fragments = append(res.Fragments, RecentFragment(recent))
	}

	hit, summaryErr := s.manager.RelevantSummary(ctx, req.WorkspaceID, req.ChatID, req.Embedding)
	if summaryErr == nil && hit != nil {
		res.Fragments = append(res.Fragments, source.Fragment{
			Kind:       source.KindChatSummary,
			ID:         hit.Chunk.ID,
			Text:       hit.Chunk.Text,
			Similarity: hit.Similarity,
			CreatedAt:  hit.Chunk.CreatedAt,
		})
	}

	switch {
	case recentErr != nil && summaryErr != nil:
		return source.Result{}, fmt.Errorf("load chat memory failed: %w", errors.Join(recentErr, summaryErr))
	case recentErr != nil:
		s.manager.deps.Logger.Warn("load recent chat window failed", zap.String("chat_id", req.ChatID), zap.Error(recentErr))
	case summaryErr != nil:
		s.manager.deps.Logger.Warn("load chat summary failed", zap.String("chat_id", req.ChatID), zap.Error(summaryErr))
	}
	return res, nil
}

// RecentFragment renders the window as one essential fragment.
func RecentFragment(messages []model.ChatMessage) source.Fragment {
	turns := make([]source.Turn, len(messages))
	lines := make([]string, len(messages))
	for i, m := range messages {
		turns[i] = source.Turn{Role: m.Role, Content: m.Content}
		lines[i] = source.FormatTurn(turns[i])
	}
	return source.Fragment{
		Kind:      source.KindChatRecent,
		ID:        fmt.Sprintf("recent:%s:%d", messages[len(messages)-1].ChatID, messages[len(messages)-1].Seq),
		Text:      strings.Join(lines, "\n"),
		Turns:     turns,
		Essential: true,
	}
}

var _ source.ContextSource = (*Source)(nil)
