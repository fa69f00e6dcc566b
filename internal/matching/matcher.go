// Package matching turns candidate actions into verdict drafts for a promise.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"politikcred/internal/domain"
)

// Config bounds which actions are considered and which verdicts are kept.
type Config struct {
	MinConfidence float64
	Lookback      time.Duration
	Lookahead     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.35,
		Lookback:      90 * 24 * time.Hour,
		Lookahead:     5 * 365 * 24 * time.Hour,
	}
}

// MatchFailure records a pair the scorer could not assess. The pair is
// skipped; the action is still marked processed, so the pair is not assessed
// again unless the action is re-ingested.
type MatchFailure struct {
	PromiseID domain.PromiseID
	ActionID  domain.ActionID
	Err       error
}

func (f MatchFailure) Error() string {
	return fmt.Sprintf("match %s/%s: %v", f.PromiseID, f.ActionID, f.Err)
}

func (f MatchFailure) Unwrap() error {
	return f.Err
}

// Matcher evaluates a promise against candidate actions. Given the same
// promise, actions and configuration it returns the same drafts.
type Matcher struct {
	scorer Scorer
	cfg    Config
	logger *slog.Logger
}

type Option func(*Matcher)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

func New(scorer Scorer, cfg Config, opts ...Option) (*Matcher, error) {
	if scorer == nil {
		return nil, errors.New("scorer is required")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence %v outside [0,1]", cfg.MinConfidence)
	}
	if cfg.Lookback < 0 || cfg.Lookahead < 0 {
		return nil, errors.New("lookback and lookahead must not be negative")
	}
	m := &Matcher{scorer: scorer, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Candidates filters actions to those relevant to the politician and inside
// the window around the promise's creation date.
func (m *Matcher) Candidates(promise *domain.Promise, politician *domain.Politician, actions []domain.Action) []domain.Action {
	from := promise.CreatedAt.Add(-m.cfg.Lookback)
	to := promise.CreatedAt.Add(m.cfg.Lookahead)
	out := make([]domain.Action, 0, len(actions))
	for i := range actions {
		a := &actions[i]
		if !a.RelevantTo(politician) {
			continue
		}
		if a.OccurredAt.Before(from) || a.OccurredAt.After(to) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Match scores every candidate and returns the drafts worth persisting.
// Unrelated verdicts and verdicts below MinConfidence are dropped. Drafts
// with equal confidence are all kept; status derivation picks the winner.
func (m *Matcher) Match(ctx context.Context, promise *domain.Promise, politician *domain.Politician, actions []domain.Action) ([]domain.VerdictDraft, []MatchFailure) {
	if promise.PoliticianID != politician.ID {
		return nil, []MatchFailure{{
			PromiseID: promise.ID,
			Err:       fmt.Errorf("promise belongs to politician %s, not %s", promise.PoliticianID, politician.ID),
		}}
	}

	var (
		drafts   []domain.VerdictDraft
		failures []MatchFailure
	)
	for _, a := range m.Candidates(promise, politician, actions) {
		if err := ctx.Err(); err != nil {
			failures = append(failures, MatchFailure{PromiseID: promise.ID, ActionID: a.ID, Err: err})
			continue
		}
		res, err := m.scorer.Assess(ctx, promise, &a)
		if err != nil {
			m.logger.WarnContext(ctx, "scorer failed",
				"promise_id", promise.ID.String(),
				"action_id", string(a.ID),
				"error", err,
			)
			failures = append(failures, MatchFailure{PromiseID: promise.ID, ActionID: a.ID, Err: err})
			continue
		}
		if res.MatchType == domain.MatchUnrelated || !res.MatchType.IsValid() {
			continue
		}
		if res.Confidence < m.cfg.MinConfidence || res.Confidence > 1 {
			continue
		}
		method := res.Method
		if !method.IsValid() {
			method = m.scorer.Method()
		}
		drafts = append(drafts, domain.VerdictDraft{
			PromiseID:    promise.ID,
			ActionID:     a.ID,
			PoliticianID: politician.ID,
			MatchType:    res.MatchType,
			Confidence:   res.Confidence,
			Method:       method,
			VerifiedAt:   a.OccurredAt,
		})
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		a, b := drafts[i], drafts[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.VerifiedAt.Equal(b.VerifiedAt) {
			return a.VerifiedAt.After(b.VerifiedAt)
		}
		return a.ActionID < b.ActionID
	})
	return drafts, failures
}
