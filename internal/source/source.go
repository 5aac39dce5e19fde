// Package source defines the fragments that context sources hand to the prompt assembler.
package source

import (
	"context"
	"strings"
	"time"

	"inkwell/internal/model"
)

// DefaultPreamble opens the rules block of a workspace without rules.
const DefaultPreamble = "You are a helpful writing assistant."

type Kind string

const (
	KindRules       Kind = "rules"
	KindChatRecent  Kind = "chat_recent"
	KindChatSummary Kind = "chat_summary"
	KindLiveDoc     Kind = "live_doc"
	KindPDF         Kind = "pdf_source"
)

// Turn is one message of the recent conversation.
type Turn struct {
	Role    string
	Content string
}

const (
	userPrefix      = "User: "
	assistantPrefix = "Assistant: "
)

// FormatTurn renders a turn as one conversation line.
func FormatTurn(t Turn) string {
	if t.Role == model.RoleAssistant {
		return assistantPrefix + t.Content
	}
	return userPrefix + t.Content
}

// ParseTurn reads a line written by FormatTurn. Unprefixed text is taken as a user turn.
func ParseTurn(line string) (Turn, bool) {
	switch {
	case strings.HasPrefix(line, assistantPrefix):
		return Turn{Role: model.RoleAssistant, Content: strings.TrimPrefix(line, assistantPrefix)}, true
	case strings.HasPrefix(line, userPrefix):
		return Turn{Role: model.RoleUser, Content: strings.TrimPrefix(line, userPrefix)}, true
	case strings.TrimSpace(line) != "":
		return Turn{Role: model.RoleUser, Content: line}, true
	}
	return Turn{}, false
}

// Fragment is one piece of candidate prompt context.
type Fragment struct {
	Kind Kind
	// ID identifies the underlying chunk or row and breaks ranking ties.
	ID    string
	Title string
	Text  string
	// Turns is set for chat_recent fragments so the oldest turns can be dropped first.
	Turns      []Turn
	Similarity float64
	CreatedAt  time.Time
	// Essential fragments are allocated before any ranked one.
	Essential bool
	// Default marks placeholder content (the default rules block) that does not count as a used source.
	Default bool
}

// Request carries everything a source may need. Embedding is nil when the query could
// not be embedded; similarity-based sources then return nothing.
type Request struct {
	WorkspaceID         string
	ChatID              string
	Query               string
	Embedding           []float32
	AttachedDocumentIDs []string
}

type Result struct {
	Fragments []Fragment
	// Notices are user-facing remarks such as an attached document that is still parsing.
	Notices []string
}

// ContextSource is one of the four providers of prompt context.
type ContextSource interface {
	Name() string
	Fetch(ctx context.Context, req Request) (Result, error)
}
