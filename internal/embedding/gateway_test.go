package embedding_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/ai"
	"inkwell/internal/embedding"
)

// fakeProvider embeds "text" as [len(text), 1] and fails according to its hooks.
type fakeProvider struct {
	mu      sync.Mutex
	calls   [][]string
	failFor func(call int, texts []string) error
	dim     int
}

func (p *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]string(nil), texts...))
	n := len(p.calls)
	p.mu.Unlock()

	if p.failFor != nil {
		if err := p.failFor(n, texts); err != nil {
			return nil, err
		}
	}
	dim := p.dim
	if dim == 0 {
		dim = 2
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestEmbedBatchSplitsAndKeepsOrder(t *testing.T) {
	p := &fakeProvider{}
	g := embedding.NewGateway(p, embedding.Config{Dimension: 2, BatchSize: 3}, embedding.WithSleep(noSleep))

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}
	vecs, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, 3, p.callCount())
}

func TestBatchSizeIsCapped(t *testing.T) {
	p := &fakeProvider{}
	g := embedding.NewGateway(p, embedding.Config{BatchSize: 500}, embedding.WithSleep(noSleep))

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = "x"
	}
	_, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Equal(t, 3, p.callCount())
	for _, call := range p.calls {
		assert.LessOrEqual(t, len(call), embedding.MaxBatchSize)
	}
}

func TestTransientFailureIsRetriedWithBackoff(t *testing.T) {
	p := &fakeProvider{failFor: func(call int, _ []string) error {
		if call < 3 {
			return &ai.StatusError{StatusCode: http.StatusTooManyRequests}
		}
		return nil
	}}
	var waits []time.Duration
	g := embedding.NewGateway(p, embedding.Config{
		MaxAttempts:    4,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     15 * time.Millisecond,
	}, embedding.WithSleep(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))

	vecs, err := g.EmbedBatch(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, float32(5), vecs[0][0])
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, waits)
}

func TestTransientFailureGivesUp(t *testing.T) {
	p := &fakeProvider{failFor: func(int, []string) error {
		return &embedding.TransientError{Err: errors.New("flaky")}
	}}
	g := embedding.NewGateway(p, embedding.Config{MaxAttempts: 3}, embedding.WithSleep(noSleep))

	vecs, err := g.EmbedBatch(context.Background(), []string{"hello"})
	var be *embedding.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []int{0}, be.Failed)
	assert.Nil(t, vecs[0])
	assert.Equal(t, 3, p.callCount())
}

func TestBadItemDoesNotSinkItsBatch(t *testing.T) {
	p := &fakeProvider{failFor: func(_ int, texts []string) error {
		for _, t := range texts {
			if strings.Contains(t, "poison") {
				return &ai.StatusError{StatusCode: http.StatusBadRequest, Body: "bad input"}
			}
		}
		return nil
	}}
	g := embedding.NewGateway(p, embedding.Config{}, embedding.WithSleep(noSleep))

	vecs, err := g.EmbedBatch(context.Background(), []string{"ok", "poison pill", "fine"})
	var be *embedding.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []int{1}, be.Failed)
	assert.NotNil(t, vecs[0])
	assert.Nil(t, vecs[1])
	assert.NotNil(t, vecs[2])
	// one batch call, then one call per item
	assert.Equal(t, 4, p.callCount())
}

func TestEmptyInputs(t *testing.T) {
	p := &fakeProvider{}
	g := embedding.NewGateway(p, embedding.Config{}, embedding.WithSleep(noSleep))

	vecs, err := g.EmbedBatch(context.Background(), []string{"", "text", "   "})
	var be *embedding.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []int{0, 2}, be.Failed)
	assert.ErrorIs(t, be.Causes[0], embedding.ErrEmptyInput)
	assert.NotNil(t, vecs[1])
	assert.Equal(t, 1, p.callCount())

	_, err = g.EmbedOne(context.Background(), " ")
	assert.ErrorIs(t, err, embedding.ErrEmptyInput)
}

func TestDimensionMismatch(t *testing.T) {
	p := &fakeProvider{dim: 3}
	g := embedding.NewGateway(p, embedding.Config{Dimension: 2}, embedding.WithSleep(noSleep))

	_, err := g.EmbedOne(context.Background(), "hello")
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
	assert.Equal(t, 2, g.Dimension())
}

func TestCallTimeoutIsTransient(t *testing.T) {
	calls := 0
	p := providerFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return [][]float32{{1, 0}}, nil
	})
	g := embedding.NewGateway(p, embedding.Config{CallTimeout: 5 * time.Millisecond}, embedding.WithSleep(noSleep))

	vec, err := g.EmbedOne(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, 2, calls)
}

func TestCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := embedding.NewGateway(&fakeProvider{}, embedding.Config{}, embedding.WithSleep(noSleep))

	_, err := g.EmbedBatch(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

type providerFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f providerFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
