package matching

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"politikcred/internal/domain"
	"politikcred/pkg/platform/circuit"
)

// FallbackScorer routes to the primary scorer while it is healthy and to the
// fallback scorer on primary errors. Once the breaker opens the primary is
// only retried every retryInterval until enough retries succeed to close it.
type FallbackScorer struct {
	primary  Scorer
	fallback Scorer
	breaker  *circuit.Breaker
	logger   *slog.Logger

	retryInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	lastRetry time.Time
}

type FallbackOption func(*FallbackScorer)

func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(f *FallbackScorer) {
		f.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) FallbackOption {
	return func(f *FallbackScorer) {
		if b != nil {
			f.breaker = b
		}
	}
}

func WithRetryInterval(d time.Duration) FallbackOption {
	return func(f *FallbackScorer) {
		f.retryInterval = d
	}
}

func WithFallbackClock(now func() time.Time) FallbackOption {
	return func(f *FallbackScorer) {
		f.now = now
	}
}

func NewFallbackScorer(primary, fallback Scorer, opts ...FallbackOption) *FallbackScorer {
	f := &FallbackScorer{
		primary:       primary,
		fallback:      fallback,
		breaker:       circuit.New("scorer." + string(primary.Method())),
		logger:        slog.Default(),
		retryInterval: 30 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FallbackScorer) Method() domain.Method {
	return f.primary.Method()
}

func (f *FallbackScorer) Assess(ctx context.Context, promise *domain.Promise, action *domain.Action) (Assessment, error) {
	if f.breaker.IsOpen() && !f.retryDue() {
		return f.fallback.Assess(ctx, promise, action)
	}

	out, err := f.primary.Assess(ctx, promise, action)
	if err == nil {
		usePrimary, change := f.breaker.RecordSuccess()
		if change.Closed {
			f.logger.InfoContext(ctx, "primary scorer recovered", "breaker", f.breaker.Name())
		}
		if usePrimary {
			return out, nil
		}
		return f.fallback.Assess(ctx, promise, action)
	}
	if ctx.Err() != nil {
		return Assessment{}, ctx.Err()
	}

	_, change := f.breaker.RecordFailure()
	if change.Opened {
		f.markRetry()
		f.logger.WarnContext(ctx, "primary scorer unhealthy, using fallback",
			"breaker", f.breaker.Name(),
			"error", err,
		)
	}
	return f.fallback.Assess(ctx, promise, action)
}

func (f *FallbackScorer) markRetry() {
	f.mu.Lock()
	f.lastRetry = f.now()
	f.mu.Unlock()
}

func (f *FallbackScorer) retryDue() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if now.Sub(f.lastRetry) < f.retryInterval {
		return false
	}
	f.lastRetry = now
	return true
}
