// Package scoring computes politician credibility scores from the effective
// verdicts of their promises.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"politikcred/internal/domain"
)

// ErrScoring marks data the engine refuses to score. The stored score is
// left unchanged when it is returned.
var ErrScoring = errors.New("scoring_error")

// Config holds the scoring constants.
type Config struct {
	// HalfLife is the age at which a verdict counts half. Zero disables decay.
	HalfLife time.Duration
	// AutomatedWeight scales verdicts nobody confirmed (Automated method).
	AutomatedWeight float64
	// Steepness of the logistic mapping from raw sum to [0,100].
	Steepness float64
}

func DefaultConfig() Config {
	return Config{
		HalfLife:        365 * 24 * time.Hour,
		AutomatedWeight: 0.5,
		Steepness:       1.0,
	}
}

// Result is a computed score.
type Result struct {
	Score    int
	Label    domain.CredibilityLabel
	Resolved int
	Raw      float64
}

type PromiseReader interface {
	ListPromises(ctx context.Context, politicianID domain.PoliticianID) ([]*domain.Promise, error)
}

type VerificationReader interface {
	ListByPolitician(ctx context.Context, politicianID domain.PoliticianID) ([]*domain.Verification, error)
}

type ScoreWriter interface {
	UpdateScore(ctx context.Context, id domain.PoliticianID, score int, label domain.CredibilityLabel, at time.Time) error
}

// Engine recomputes and stores credibility scores.
type Engine struct {
	promises      PromiseReader
	verifications VerificationReader
	scores        ScoreWriter
	cfg           Config
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(promises PromiseReader, verifications VerificationReader, scores ScoreWriter, cfg Config, opts ...Option) (*Engine, error) {
	if promises == nil || verifications == nil || scores == nil {
		return nil, errors.New("promise, verification and score stores are required")
	}
	if cfg.HalfLife < 0 {
		return nil, errors.New("half life must not be negative")
	}
	if cfg.Steepness <= 0 {
		return nil, errors.New("steepness must be positive")
	}
	if cfg.AutomatedWeight < 0 || cfg.AutomatedWeight > 1 {
		return nil, errors.New("automated weight must be within [0,1]")
	}
	e := &Engine{
		promises:      promises,
		verifications: verifications,
		scores:        scores,
		cfg:           cfg,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Recompute scores the politician from stored data and persists the result.
// Recomputing without data changes at the same clock yields the same score.
func (e *Engine) Recompute(ctx context.Context, politicianID domain.PoliticianID) (Result, error) {
	promises, err := e.promises.ListPromises(ctx, politicianID)
	if err != nil {
		return Result{}, fmt.Errorf("list promises: %w", err)
	}
	verifications, err := e.verifications.ListByPolitician(ctx, politicianID)
	if err != nil {
		return Result{}, fmt.Errorf("list verifications: %w", err)
	}

	now := e.now()
	res, err := e.Compute(promises, verifications, now)
	if err != nil {
		e.logger.ErrorContext(ctx, "refusing to score politician",
			"politician_id", politicianID.String(),
			"error", err,
		)
		return Result{}, err
	}
	if err := e.scores.UpdateScore(ctx, politicianID, res.Score, res.Label, now); err != nil {
		return Result{}, fmt.Errorf("store score: %w", err)
	}
	e.logger.InfoContext(ctx, "politician rescored",
		"politician_id", politicianID.String(),
		"score", res.Score,
		"label", string(res.Label),
		"resolved_promises", res.Resolved,
	)
	return res, nil
}

// Compute is the pure scoring function over a politician's promises and
// verifications at instant now.
func (e *Engine) Compute(promises []*domain.Promise, verifications []*domain.Verification, now time.Time) (Result, error) {
	byPromise := make(map[domain.PromiseID][]domain.Verification, len(promises))
	for _, v := range verifications {
		if err := v.Validate(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrScoring, err)
		}
		byPromise[v.PromiseID] = append(byPromise[v.PromiseID], *v)
	}

	var (
		sum      float64
		resolved int
	)
	for _, p := range promises {
		w, ok := domain.Winner(byPromise[p.ID])
		if !ok {
			continue
		}
		status := w.MatchType.Status()
		if status == domain.PromiseOpen {
			continue
		}
		resolved++
		sum += status.Weight() * e.decay(w.VerifiedAt, now) * e.trust(w.Method)
	}

	score := normalize(sum, e.cfg.Steepness)
	return Result{
		Score:    score,
		Label:    domain.LabelFor(score, resolved),
		Resolved: resolved,
		Raw:      sum,
	}, nil
}

func (e *Engine) decay(verifiedAt, now time.Time) float64 {
	if e.cfg.HalfLife == 0 {
		return 1
	}
	age := now.Sub(verifiedAt)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(e.cfg.HalfLife))
}

func (e *Engine) trust(method domain.Method) float64 {
	if method == domain.MethodAutomated {
		return e.cfg.AutomatedWeight
	}
	return 1
}

// normalize maps the raw sum onto [0,100] with a logistic curve centered on
// 50, so one early verdict cannot push a score to an extreme.
func normalize(sum, steepness float64) int {
	return int(math.Round(100 / (1 + math.Exp(-steepness*sum))))
}
