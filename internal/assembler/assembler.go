// Package assembler merges context fragments into one bounded prompt.
package assembler

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"inkwell/internal/source"
)

type Policy string

const (
	// PolicySourcePriority ranks summaries, then live document, then reference material.
	PolicySourcePriority Policy = "source_priority"
	// PolicyGlobalSimilarity ranks all fragments by similarity; source priority breaks ties.
	PolicyGlobalSimilarity Policy = "global_similarity"
)

const (
	DefaultMaxChars     = 8000
	DefaultMinKeepRatio = 0.5
	// CharsPerToken is the rough ratio used when only a token budget is configured.
	CharsPerToken = 4
)

const (
	headerRecent  = "=== RECENT CONVERSATION ==="
	headerTopics  = "=== RELEVANT PAST TOPICS ==="
	headerLiveDoc = "=== CURRENT DOCUMENT CONTEXT ==="
	headerSources = "=== RELEVANT SOURCE MATERIAL ==="
	headerQuery   = "=== USER QUERY ==="
)

type Config struct {
	// MaxChars bounds the prompt in runes. When zero, MaxTokens·CharsPerToken is used.
	MaxChars     int
	MaxTokens    int
	Policy       Policy
	MinKeepRatio float64
}

// Budget returns the effective rune budget.
func (c Config) Budget() int {
	switch {
	case c.MaxChars > 0:
		return c.MaxChars
	case c.MaxTokens > 0:
		return c.MaxTokens * CharsPerToken
	default:
		return DefaultMaxChars
	}
}

type Input struct {
	Query     string
	Fragments []source.Fragment
}

type Output struct {
	Prompt string
	// SourcesUsed lists, in section order, the kinds that put content into the prompt.
	SourcesUsed []source.Kind
	Included    []source.Fragment
	Dropped     int
	Truncated   bool
}

type Assembler struct {
	cfg Config
}

func New(cfg Config) *Assembler {
	if cfg.Policy != PolicyGlobalSimilarity {
		cfg.Policy = PolicySourcePriority
	}
	if cfg.MinKeepRatio <= 0 || cfg.MinKeepRatio > 1 {
		cfg.MinKeepRatio = DefaultMinKeepRatio
	}
	return &Assembler{cfg: cfg}
}

func (a *Assembler) Config() Config { return a.cfg }

// layout is the prompt under construction.
type layout struct {
	rules     string
	rulesDflt bool
	turns     []source.Turn
	topics    []source.Fragment
	liveDoc   []source.Fragment
	sources   []source.Fragment
	query     string
}

func (l *layout) render() string {
	parts := []string{l.rules}
	if len(l.turns) > 0 {
		parts = append(parts, "\n"+headerRecent)
		for _, t := range l.turns {
			parts = append(parts, source.FormatTurn(t))
		}
	}
	if len(l.topics) > 0 {
		parts = append(parts, "\n"+headerTopics)
		for _, f := range l.topics {
			parts = append(parts, "- "+f.Text)
		}
	}
	if len(l.liveDoc) > 0 {
		parts = append(parts, "\n"+headerLiveDoc)
		for i, f := range l.liveDoc {
			parts = append(parts, label("Document Chunk", i+1, f.Title)+"\n"+f.Text)
		}
	}
	if len(l.sources) > 0 {
		parts = append(parts, "\n"+headerSources)
		for i, f := range l.sources {
			parts = append(parts, label("Source", i+1, f.Title)+"\n"+f.Text)
		}
	}
	parts = append(parts, "\n"+headerQuery, l.query)
	return strings.Join(parts, "\n")
}

func (l *layout) size() int { return utf8.RuneCountInString(l.render()) }

func (l *layout) section(kind source.Kind) *[]source.Fragment {
	switch kind {
	case source.KindChatSummary:
		return &l.topics
	case source.KindLiveDoc:
		return &l.liveDoc
	default:
		return &l.sources
	}
}

func label(name string, n int, title string) string {
	if title == "" {
		return "[" + name + " " + strconv.Itoa(n) + "]"
	}
	return "[" + name + " " + strconv.Itoa(n) + ": " + title + "]"
}

// Assemble renders the prompt. Essentials (rules, recent conversation, query) are placed
// first; ranked fragments are added greedily while they fit. The result never exceeds
// the budget and depends only on the input.
func (a *Assembler) Assemble(in Input) Output {
	budget := a.cfg.Budget()
	l := &layout{rules: source.DefaultPreamble, rulesDflt: true, query: strings.TrimSpace(in.Query)}
	var ranked []source.Fragment
	haveRecent := false
	for i := range in.Fragments {
		f := in.Fragments[i]
		switch f.Kind {
		case source.KindRules:
			if strings.TrimSpace(f.Text) != "" {
				l.rules, l.rulesDflt = strings.TrimSpace(f.Text), f.Default
			}
		case source.KindChatRecent:
			if !haveRecent {
				haveRecent = true
				l.turns = recentTurns(f)
			}
		case source.KindChatSummary, source.KindLiveDoc, source.KindPDF:
			if strings.TrimSpace(f.Text) != "" {
				ranked = append(ranked, f)
			}
		}
	}

	out := Output{}
	out.Truncated = a.fitEssentials(l, budget)

	a.order(ranked)
	for _, f := range ranked {
		sec := l.section(f.Kind)
		*sec = append(*sec, f)
		if l.size() <= budget {
			out.Included = append(out.Included, f)
			continue
		}

		(*sec)[len(*sec)-1].Text = ""
		room := budget - l.size()
		kept := cutAtSentence(f.Text, room)
		if kept != "" && float64(utf8.RuneCountInString(kept)) >= a.cfg.MinKeepRatio*float64(utf8.RuneCountInString(f.Text)) {
			(*sec)[len(*sec)-1].Text = kept
			f.Text = kept
			out.Included = append(out.Included, f)
			out.Truncated = true
			continue
		}
		*sec = (*sec)[:len(*sec)-1]
		out.Dropped++
	}

	out.Prompt = l.render()
	if utf8.RuneCountInString(out.Prompt) > budget {
		out.Prompt = cutRunes(out.Prompt, budget)
		out.Truncated = true
	}
	out.SourcesUsed = sourcesUsed(l)
	return out
}

func recentTurns(f source.Fragment) []source.Turn {
	if len(f.Turns) > 0 {
		return append([]source.Turn(nil), f.Turns...)
	}
	var turns []source.Turn
	for _, line := range strings.Split(f.Text, "\n") {
		if t, ok := source.ParseTurn(line); ok {
			turns = append(turns, t)
		}
	}
	return turns
}

// fitEssentials shrinks the essentials until they fit: oldest turns go first, then the
// rules are cut at a sentence boundary, then the query is cut.
func (a *Assembler) fitEssentials(l *layout, budget int) bool {
	truncated := false
	for l.size() > budget && len(l.turns) > 0 {
		l.turns = l.turns[1:]
		truncated = true
	}
	if over := l.size() - budget; over > 0 {
		keep := utf8.RuneCountInString(l.rules) - over
		if cut := cutAtSentence(l.rules, keep); cut != "" {
			l.rules = cut
		} else {
			l.rules = cutRunes(l.rules, keep)
		}
		truncated = true
	}
	if over := l.size() - budget; over > 0 {
		l.query = cutRunes(l.query, utf8.RuneCountInString(l.query)-over)
		truncated = true
	}
	return truncated
}

func priority(kind source.Kind) int {
	switch kind {
	case source.KindChatSummary:
		return 0
	case source.KindLiveDoc:
		return 1
	default:
		return 2
	}
}

func (a *Assembler) order(frags []source.Fragment) {
	sort.SliceStable(frags, func(i, j int) bool {
		x, y := frags[i], frags[j]
		px, py := priority(x.Kind), priority(y.Kind)
		if a.cfg.Policy == PolicySourcePriority && px != py {
			return px < py
		}
		if x.Similarity != y.Similarity {
			return x.Similarity > y.Similarity
		}
		if px != py {
			return px < py
		}
		if !x.CreatedAt.Equal(y.CreatedAt) {
			return x.CreatedAt.Before(y.CreatedAt)
		}
		return x.ID < y.ID
	})
}

func sourcesUsed(l *layout) []source.Kind {
	used := []source.Kind{}
	if !l.rulesDflt && l.rules != "" {
		used = append(used, source.KindRules)
	}
	if len(l.turns) > 0 {
		used = append(used, source.KindChatRecent)
	}
	if len(l.topics) > 0 {
		used = append(used, source.KindChatSummary)
	}
	if len(l.liveDoc) > 0 {
		used = append(used, source.KindLiveDoc)
	}
	if len(l.sources) > 0 {
		used = append(used, source.KindPDF)
	}
	return used
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}
