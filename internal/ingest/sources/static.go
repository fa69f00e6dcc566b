package sources

import (
	"context"
	"iter"
	"sort"
	"time"
)

// StaticSource serves a fixed list of actions. Used for local runs and
// tests; Err, when set, is yielded after the actions.
type StaticSource struct {
	SourceID string
	Actions  []RawAction
	Err      error
}

func NewStaticSource(id string, actions ...RawAction) *StaticSource {
	return &StaticSource{SourceID: id, Actions: actions}
}

func (s *StaticSource) ID() string { return s.SourceID }

func (s *StaticSource) FetchSince(ctx context.Context, since time.Time) iter.Seq2[RawAction, error] {
	return func(yield func(RawAction, error) bool) {
		actions := make([]RawAction, len(s.Actions))
		copy(actions, s.Actions)
		sort.SliceStable(actions, func(i, j int) bool { return actions[i].OccurredAt.Before(actions[j].OccurredAt) })
		for _, a := range actions {
			if err := ctx.Err(); err != nil {
				yield(RawAction{}, err)
				return
			}
			if a.OccurredAt.Before(since) {
				continue
			}
			if !yield(a, nil) {
				return
			}
		}
		if s.Err != nil {
			yield(RawAction{}, s.Err)
		}
	}
}
