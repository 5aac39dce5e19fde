package chatmemory

import (
	"context"
	"strings"

	"inkwell/internal/ai"
	"inkwell/internal/model"
)

const summaryInstruction = "Summarize the following chat conversation in 2-3 sentences, focusing on key topics and decisions made."

// LLMSummarizer folds messages into the prior summary with a chat model.
type LLMSummarizer struct {
	completer ai.Completer
}

func NewLLMSummarizer(completer ai.Completer) *LLMSummarizer {
	return &LLMSummarizer{completer: completer}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, prior string, messages []model.ChatMessage) (string, error) {
	return s.completer.Complete(ctx, SummaryPrompt(prior, messages))
}

func SummaryPrompt(prior string, messages []model.ChatMessage) string {
	var b strings.Builder
	b.WriteString(summaryInstruction)
	if prior = strings.TrimSpace(prior); prior != "" {
		b.WriteString(" Merge it with the earlier summary so nothing important is lost.\n\nEarlier summary:\n")
		b.WriteString(prior)
	}
	b.WriteString("\n\nConversation:\n")
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
