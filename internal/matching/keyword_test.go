package matching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"politikcred/internal/domain"
)

func TestFold(t *testing.T) {
	assert.Equal(t, Fold("REFORME"), Fold("Réformé"))
	assert.Equal(t, "ecole", Fold("École"))
	// NFKC turns the ligature into plain letters.
	assert.Equal(t, "fi", Fold("ﬁ"))
}

func TestTokensDropStopwordsAndPlurals(t *testing.T) {
	assert.Equal(t, []string{"retraite", "reforme"}, Tokens("Les retraites et la réforme"))
	assert.Equal(t, []string{"hospital", "funding"}, Tokens("the hospitals and funding"))
	assert.Empty(t, Tokens("de la et le"))
}

func keywordFixtures() (*domain.Promise, domain.Action) {
	promise := &domain.Promise{
		ID:       domain.NewPromiseID(),
		Content:  "Construire des logements sociaux",
		Keywords: []string{"logement social", "HLM"},
	}
	action := domain.Action{
		ID:         "an:1",
		Source:     "an",
		Kind:       domain.ActionVote,
		Title:      "Programme de logements sociaux",
		Content:    "Financement de nouveaux HLM",
		OccurredAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	return promise, action
}

func TestKeywordScorerVoteDirection(t *testing.T) {
	ctx := context.Background()
	k := NewKeywordScorer()
	promise, action := keywordFixtures()

	tests := []struct {
		position domain.VotePosition
		want     domain.MatchType
	}{
		{domain.PositionFor, domain.MatchFulfilled},
		{domain.PositionAgainst, domain.MatchBroken},
		{domain.PositionAbstain, domain.MatchPartial},
	}
	for _, tt := range tests {
		action.Position = tt.position
		got, err := k.Assess(ctx, promise, &action)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.MatchType, "position %q", tt.position)
		assert.Equal(t, domain.MethodAutomated, got.Method)
		assert.Greater(t, got.Confidence, 0.35)
		assert.LessOrEqual(t, got.Confidence, 1.0)
	}
}

func TestKeywordScorerStatementCues(t *testing.T) {
	ctx := context.Background()
	k := NewKeywordScorer()
	promise, action := keywordFixtures()
	action.Kind = domain.ActionStatement

	action.Content = "Le plan logement social a été abandonné"
	got, err := k.Assess(ctx, promise, &action)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchBroken, got.MatchType)

	action.Content = "Le plan HLM est adopté"
	got, err = k.Assess(ctx, promise, &action)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchFulfilled, got.MatchType)

	action.Content = "Le plan HLM est adopté dans une version réduite"
	got, err = k.Assess(ctx, promise, &action)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchPartial, got.MatchType)
}

func TestKeywordScorerNegation(t *testing.T) {
	ctx := context.Background()
	k := NewKeywordScorer()
	promise := &domain.Promise{ID: domain.NewPromiseID(), Content: "Abroger la réforme des retraites"}
	english := &domain.Promise{ID: domain.NewPromiseID(), Content: "Repeal the pension reform"}

	tests := []struct {
		name    string
		promise *domain.Promise
		content string
		want    domain.MatchType
	}{
		{"voted against", promise, "Le député a voté contre l'abrogation de la réforme des retraites", domain.MatchBroken},
		{"did not adopt", promise, "Le député n'a pas adopté l'abrogation de la réforme des retraites", domain.MatchBroken},
		{"never adopted", promise, "La réforme des retraites n'a jamais été abrogée ni adoptée", domain.MatchBroken},
		{"plain vote", promise, "Le député a voté l'abrogation de la réforme des retraites", domain.MatchFulfilled},
		{"english against", english, "The senator voted against the pension reform repeal", domain.MatchBroken},
		{"english not adopted", english, "The pension reform repeal has not been adopted", domain.MatchBroken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := domain.Action{
				ID:         "an:2",
				Source:     "an",
				Kind:       domain.ActionStatement,
				Content:    tt.content,
				OccurredAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			}
			got, err := k.Assess(ctx, tt.promise, &action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.MatchType)
			assert.Greater(t, got.Confidence, 0.35)
		})
	}
}

func TestNegatorsDoNotCountTowardRelatedness(t *testing.T) {
	assert.Equal(t, []string{"pas", "adopte"}, Tokens("n'a pas adopté"))
	assert.Empty(t, tokenSet("n'a pas", "contre", "never"))
}

func TestKeywordScorerUnrelated(t *testing.T) {
	k := NewKeywordScorer()
	promise, action := keywordFixtures()
	action.Title = "Question écrite"
	action.Content = "Pêche maritime en Bretagne"

	got, err := k.Assess(context.Background(), promise, &action)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchUnrelated, got.MatchType)
	assert.Zero(t, got.Confidence)
}

func TestKeywordScorerIsDeterministic(t *testing.T) {
	k := NewKeywordScorer()
	promise, action := keywordFixtures()
	action.Position = domain.PositionFor

	first, err := k.Assess(context.Background(), promise, &action)
	require.NoError(t, err)
	for range 5 {
		again, err := k.Assess(context.Background(), promise, &action)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
