package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"inkwell/internal/ai"
)

const MaxBatchSize = 100

var (
	ErrEmptyInput        = errors.New("embedding input is empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider is any backend that embeds a batch of texts in order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TransientError marks a provider failure as retryable.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// BatchError lists the inputs that could not be embedded. Vectors for the
// other inputs are still returned.
type BatchError struct {
	Failed []int
	Causes map[int]error
}

func (e *BatchError) Error() string {
	first := e.Causes[e.Failed[0]]
	return fmt.Sprintf("embedding failed for %d input(s), first (index %d): %v", len(e.Failed), e.Failed[0], first)
}

type Config struct {
	Dimension      int
	BatchSize      int
	CallTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RatePerSecond  float64
	Burst          int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 || c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Gateway wraps a Provider with batching, throttling, retries and dimension checks.
type Gateway struct {
	provider Provider
	cfg      Config
	limiter  *rate.Limiter
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Gateway)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = sleep }
}

func NewGateway(provider Provider, cfg Config, opts ...Option) *Gateway {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	g := &Gateway{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		logger:   zap.NewNop(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Dimension() int { return g.cfg.Dimension }

// EmbedOne embeds a single text.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			return nil, be.Causes[0]
		}
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input in input order. When some inputs fail the
// result still carries the successful vectors, failed slots are nil and the error
// is a *BatchError. Context cancellation aborts the whole call.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	causes := make(map[int]error)

	pending := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			causes[i] = ErrEmptyInput
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		idx := pending[start:end]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vecs, err := g.call(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if len(idx) == 1 {
				causes[idx[0]] = err
				continue
			}
			g.logger.Warn("embedding batch failed, retrying items one by one",
				zap.Int("batch_size", len(idx)), zap.Error(err))
			for _, i := range idx {
				one, err := g.call(ctx, []string{texts[i]})
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					causes[i] = err
					continue
				}
				g.place(out, causes, i, one[0])
			}
			continue
		}
		for j, i := range idx {
			g.place(out, causes, i, vecs[j])
		}
	}

	if len(causes) == 0 {
		return out, nil
	}
	failed := make([]int, 0, len(causes))
	for i := range causes {
		failed = append(failed, i)
	}
	sort.Ints(failed)
	return out, &BatchError{Failed: failed, Causes: causes}
}

func (g *Gateway) place(out [][]float32, causes map[int]error, i int, vec []float32) {
	if g.cfg.Dimension > 0 && len(vec) != g.cfg.Dimension {
		causes[i] = fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), g.cfg.Dimension)
		return
	}
	out[i] = vec
}

// call runs one provider request with throttling, timeout and retry.
func (g *Gateway) call(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := g.sleep(ctx, g.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limiter wait failed: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		vecs, err := g.provider.Embed(callCtx, batch)
		timedOut := callCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			if len(vecs) != len(batch) {
				return nil, fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(batch))
			}
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !timedOut && !isTransient(err) {
			return nil, err
		}
		g.logger.Debug("transient embedding failure",
			zap.Int("attempt", attempt), zap.Int("batch_size", len(batch)), zap.Error(err))
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", g.cfg.MaxAttempts, lastErr)
}

func (g *Gateway) backoff(n int) time.Duration {
	d := g.cfg.InitialBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= g.cfg.MaxBackoff {
			return g.cfg.MaxBackoff
		}
	}
	if d > g.cfg.MaxBackoff {
		return g.cfg.MaxBackoff
	}
	return d
}

func isTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ai.IsTemporary(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
