package matching

import (
	"context"

	"politikcred/internal/domain"
)

//go:generate mockgen -source=scorer.go -destination=mocks/mocks.go -package=mocks Scorer

// Assessment is a scorer's view of one (promise, action) pair.
type Assessment struct {
	MatchType  domain.MatchType
	Confidence float64
	Method     domain.Method
}

// Scorer rates how strongly an action bears on a promise. Implementations
// must be deterministic for identical inputs.
type Scorer interface {
	// Method is the verification method the scorer nominally produces.
	Method() domain.Method
	// Assess returns the directional verdict and its confidence in [0,1].
	Assess(ctx context.Context, promise *domain.Promise, action *domain.Action) (Assessment, error)
}
