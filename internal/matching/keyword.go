package matching

import (
	"context"
	"math"

	"politikcred/internal/domain"
)

// Cue lexicons, already folded. Matched against action tokens after stemming.
var (
	affirmCues = cueSet(
		"adopte", "adoptee", "vote", "votee", "promulgue", "promulguee", "signe", "signee",
		"lance", "lancee", "instaure", "instauree", "cree", "creee", "augmente", "augmentee",
		"applique", "appliquee", "realise", "realisee", "tenu", "tenue",
		"adopted", "passed", "voted", "enacted", "signed", "launched", "implemented", "introduced",
		"approved", "delivered", "raised", "created",
	)
	contradictCues = cueSet(
		"rejete", "rejetee", "abandonne", "abandonnee", "retire", "retiree", "repousse",
		"repoussee", "refuse", "refusee", "annule", "annulee", "supprime", "supprimee",
		"renonce", "gele", "gelee", "reporte", "reportee",
		"rejected", "abandoned", "withdrawn", "withdrew", "postponed", "refused",
		"cancelled", "canceled", "scrapped", "repealed", "blocked", "vetoed",
	)
	partialCues = cueSet(
		"partiel", "partielle", "partiellement", "amende", "amendee", "reduit", "reduite",
		"limite", "limitee", "progressif", "progressive", "etape", "premiere",
		"partial", "partially", "amended", "reduced", "limited", "phased", "pilot",
	)
)

func cueSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[stem(Fold(w))] = struct{}{}
	}
	return set
}

// KeywordScorer is the automated scorer: token overlap between the promise
// (content and keywords) and the action text, with the direction taken from
// the vote position or from affirm/contradict cues.
type KeywordScorer struct {
	floor float64
}

// KeywordOption configures a KeywordScorer.
type KeywordOption func(*KeywordScorer)

// WithRelatednessFloor sets the overlap under which a pair is Unrelated.
func WithRelatednessFloor(f float64) KeywordOption {
	return func(k *KeywordScorer) {
		if f >= 0 && f <= 1 {
			k.floor = f
		}
	}
}

func NewKeywordScorer(opts ...KeywordOption) *KeywordScorer {
	k := &KeywordScorer{floor: 0.15}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *KeywordScorer) Method() domain.Method {
	return domain.MethodAutomated
}

func (k *KeywordScorer) Assess(_ context.Context, promise *domain.Promise, action *domain.Action) (Assessment, error) {
	out := Assessment{MatchType: domain.MatchUnrelated, Method: domain.MethodAutomated}

	promiseTokens := tokenSet(promise.Content)
	keywordTokens := tokenSet(promise.Keywords...)
	actionTokens := tokenSet(action.Text())
	if len(actionTokens) == 0 || len(promiseTokens)+len(keywordTokens) == 0 {
		return out, nil
	}

	relatedness := overlap(promiseTokens, actionTokens)
	if len(keywordTokens) > 0 {
		relatedness = 0.6*overlap(keywordTokens, actionTokens) + 0.4*relatedness
	}
	if relatedness < k.floor {
		out.Confidence = round4(relatedness)
		return out, nil
	}

	match, strength := direction(action, Tokens(action.Text()))
	out.MatchType = match
	out.Confidence = round4(math.Min(1, relatedness*strength))
	return out, nil
}

// negationWindow is how many tokens before an affirm cue a negator may sit.
const negationWindow = 2

// direction maps an action to a verdict and a strength multiplier. Votes
// carry an explicit position; other actions rely on the cue lexicons, and an
// action with no cue at all counts as a weak partial step. A negated affirm
// cue counts as a contradiction.
func direction(action *domain.Action, tokens []string) (domain.MatchType, float64) {
	if action.Kind == domain.ActionVote {
		switch action.Position {
		case domain.PositionFor:
			return domain.MatchFulfilled, 1
		case domain.PositionAgainst:
			return domain.MatchBroken, 1
		case domain.PositionAbstain:
			return domain.MatchPartial, 0.8
		}
	}

	affirm, contradict, partial := cues(tokens)

	switch {
	case contradict > affirm:
		return domain.MatchBroken, 0.9
	case affirm > 0 && partial > 0:
		return domain.MatchPartial, 0.85
	case affirm > contradict:
		return domain.MatchFulfilled, 0.9
	case partial > 0:
		return domain.MatchPartial, 0.8
	default:
		return domain.MatchPartial, 0.6
	}
}

// cues counts cue hits in token order. An affirm cue preceded by a negator
// within negationWindow, or directly followed by an opposer, is a contradict
// hit instead.
func cues(tokens []string) (affirm, contradict, partial int) {
	for i, t := range tokens {
		switch {
		case has(affirmCues, t):
			if negated(tokens, i) {
				contradict++
			} else {
				affirm++
			}
		case has(contradictCues, t):
			contradict++
		case has(partialCues, t):
			partial++
		}
	}
	return affirm, contradict, partial
}

func negated(tokens []string, i int) bool {
	for j := max(0, i-negationWindow); j < i; j++ {
		if isNegator(tokens[j]) {
			return true
		}
	}
	return i+1 < len(tokens) && isOpposer(tokens[i+1])
}

func has(set map[string]struct{}, t string) bool {
	_, ok := set[t]
	return ok
}

func overlap(want, have map[string]struct{}) float64 {
	if len(want) == 0 {
		return 0
	}
	hits := count(have, want)
	return float64(hits) / float64(len(want))
}

func count(tokens, set map[string]struct{}) int {
	n := 0
	for t := range tokens {
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
