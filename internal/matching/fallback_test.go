package matching_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"politikcred/internal/domain"
	"politikcred/internal/matching"
	"politikcred/internal/matching/mocks"
	"politikcred/internal/platform/logger"
	"politikcred/pkg/platform/circuit"
)

func TestFallbackScorer(t *testing.T) {
	ctx := context.Background()
	promise := &domain.Promise{ID: domain.NewPromiseID()}
	action := &domain.Action{ID: "an:1"}
	aiVerdict := matching.Assessment{MatchType: domain.MatchFulfilled, Confidence: 0.9, Method: domain.MethodAIAssisted}
	kwVerdict := matching.Assessment{MatchType: domain.MatchPartial, Confidence: 0.5, Method: domain.MethodAutomated}

	setup := func(t *testing.T) (*mocks.MockScorer, *mocks.MockScorer, *time.Time, *matching.FallbackScorer) {
		ctrl := gomock.NewController(t)
		primary := mocks.NewMockScorer(ctrl)
		fallback := mocks.NewMockScorer(ctrl)
		primary.EXPECT().Method().Return(domain.MethodAIAssisted).AnyTimes()
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		f := matching.NewFallbackScorer(primary, fallback,
			matching.WithFallbackLogger(logger.Discard()),
			matching.WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))),
			matching.WithRetryInterval(time.Minute),
			matching.WithFallbackClock(func() time.Time { return now }),
		)
		return primary, fallback, &now, f
	}

	t.Run("healthy primary answers", func(t *testing.T) {
		primary, _, _, f := setup(t)
		primary.EXPECT().Assess(ctx, promise, action).Return(aiVerdict, nil)

		got, err := f.Assess(ctx, promise, action)
		require.NoError(t, err)
		assert.Equal(t, aiVerdict, got)
		assert.Equal(t, domain.MethodAIAssisted, f.Method())
	})

	t.Run("primary error falls back with the fallback method", func(t *testing.T) {
		primary, fallback, _, f := setup(t)
		primary.EXPECT().Assess(ctx, promise, action).Return(matching.Assessment{}, errors.New("503"))
		fallback.EXPECT().Assess(ctx, promise, action).Return(kwVerdict, nil)

		got, err := f.Assess(ctx, promise, action)
		require.NoError(t, err)
		assert.Equal(t, domain.MethodAutomated, got.Method)
	})

	t.Run("open breaker skips primary until a retry is due", func(t *testing.T) {
		primary, fallback, now, f := setup(t)
		primary.EXPECT().Assess(ctx, promise, action).Return(matching.Assessment{}, errors.New("503")).Times(2)
		fallback.EXPECT().Assess(ctx, promise, action).Return(kwVerdict, nil).Times(3)

		for range 2 {
			_, err := f.Assess(ctx, promise, action)
			require.NoError(t, err)
		}
		// Breaker just opened; no retry until the interval elapses.
		_, err := f.Assess(ctx, promise, action)
		require.NoError(t, err)

		*now = now.Add(2 * time.Minute)
		primary.EXPECT().Assess(ctx, promise, action).Return(aiVerdict, nil)
		got, err := f.Assess(ctx, promise, action)
		require.NoError(t, err)
		assert.Equal(t, aiVerdict, got)
	})

	t.Run("breaker transitions are logged once each", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		primary := mocks.NewMockScorer(ctrl)
		fallback := mocks.NewMockScorer(ctrl)
		primary.EXPECT().Method().Return(domain.MethodAIAssisted).AnyTimes()
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		var buf bytes.Buffer
		f := matching.NewFallbackScorer(primary, fallback,
			matching.WithFallbackLogger(logger.NewWithWriter(&buf, "debug")),
			matching.WithBreaker(circuit.New("openai", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))),
			matching.WithRetryInterval(time.Minute),
			matching.WithFallbackClock(func() time.Time { return now }),
		)

		primary.EXPECT().Assess(ctx, promise, action).Return(matching.Assessment{}, errors.New("timeout")).Times(3)
		fallback.EXPECT().Assess(ctx, promise, action).Return(kwVerdict, nil).Times(4)
		for range 4 {
			_, err := f.Assess(ctx, promise, action)
			require.NoError(t, err)
			now = now.Add(40 * time.Second)
		}
		// Calls 1 and 2 open the breaker; call 3 is inside the retry interval;
		// call 4 is a failed retry and logs nothing new.
		assert.Equal(t, 1, strings.Count(buf.String(), "primary scorer unhealthy"))
		assert.Zero(t, strings.Count(buf.String(), "primary scorer recovered"))

		now = now.Add(time.Minute)
		primary.EXPECT().Assess(ctx, promise, action).Return(aiVerdict, nil)
		got, err := f.Assess(ctx, promise, action)
		require.NoError(t, err)
		assert.Equal(t, aiVerdict, got)
		assert.Equal(t, 1, strings.Count(buf.String(), "primary scorer recovered"))
		assert.Contains(t, buf.String(), `"breaker":"openai"`)
	})
}
