// Package chunker splits normalized text into overlapping rune windows.
package chunker

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"inkwell/internal/model"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Source identifies what is being chunked.
type Source struct {
	TenantID string
	Type     model.SourceType
	ID       string
}

// Window is one slice of the normalized text, in rune offsets.
type Window struct {
	Index int
	Start int
	End   int
	Text  string
}

type Chunker struct {
	size    int
	overlap int
}

type Option func(*Chunker)

// WithSize sets the window size in runes.
func WithSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets how many runes consecutive windows share.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split normalizes text and returns its windows. Empty input yields no windows.
func (c *Chunker) Split(text string) []Window {
	runes := []rune(Normalize(text))
	n := len(runes)
	if n == 0 {
		return nil
	}

	var windows []Window
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			end = n
		} else if cut := lastSpace(runes, start+c.size/2, end); cut > start {
			end = cut
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			windows = append(windows, Window{
				Index: len(windows),
				Start: start,
				End:   end,
				Text:  piece,
			})
		}
		if end >= n {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		for next < end && !unicode.IsSpace(runes[next-1]) {
			next++
		}
		start = next
	}
	return windows
}

// Chunk splits text into chunk records for src, indexed from zero.
func (c *Chunker) Chunk(src Source, text string) []model.Chunk {
	windows := c.Split(text)
	if len(windows) == 0 {
		return nil
	}
	chunks := make([]model.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = model.Chunk{
			ID:         uuid.NewString(),
			TenantID:   src.TenantID,
			SourceType: src.Type,
			SourceID:   src.ID,
			ChunkIndex: w.Index,
			Text:       w.Text,
		}
	}
	return chunks
}

// lastSpace returns the index of the last whitespace rune in runes[from:to], or -1.
func lastSpace(runes []rune, from, to int) int {
	if from < 0 {
		from = 0
	}
	for i := to - 1; i >= from; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
