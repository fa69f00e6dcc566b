// Package events publishes pipeline outcomes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"politikcred/internal/domain"
)

// Kind names the event type carried in Event.Type.
type Kind string

const (
	KindScoreChanged Kind = "score_changed"
	KindRunCompleted Kind = "run_completed"
)

// Event is the wire payload. Key is the record key: the politician for
// score changes, the run for completions.
type Event struct {
	Type         Kind                    `json:"type"`
	RunID        domain.RunID            `json:"run_id"`
	PoliticianID *domain.PoliticianID    `json:"politician_id,omitempty"`
	Score        *int                    `json:"score,omitempty"`
	Label        domain.CredibilityLabel `json:"label,omitempty"`
	Status       domain.RunStatus        `json:"status,omitempty"`
	Watermark    *time.Time              `json:"watermark,omitempty"`
	OccurredAt   time.Time               `json:"occurred_at"`
}

func (e Event) Key() string {
	if e.PoliticianID != nil {
		return e.PoliticianID.String()
	}
	return e.RunID.String()
}

// ScoreChanged builds the event for a recomputed politician score.
func ScoreChanged(runID domain.RunID, id domain.PoliticianID, score int, label domain.CredibilityLabel, at time.Time) Event {
	return Event{Type: KindScoreChanged, RunID: runID, PoliticianID: &id, Score: &score, Label: label, OccurredAt: at}
}

// RunCompleted builds the event for a finished run.
func RunCompleted(runID domain.RunID, status domain.RunStatus, watermark time.Time, at time.Time) Event {
	return Event{Type: KindRunCompleted, RunID: runID, Status: status, Watermark: &watermark, OccurredAt: at}
}

// Sink is where encoded events go. *kafka.Client satisfies it.
type Sink interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Publisher encodes events and hands them to a sink. A nil sink drops
// events, so deployments without a broker need no special casing.
type Publisher struct {
	sink Sink
}

func NewPublisher(sink Sink) *Publisher {
	return &Publisher{sink: sink}
}

func (p *Publisher) Emit(ctx context.Context, e Event) error {
	if p == nil || p.sink == nil {
		return nil
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return p.sink.Publish(ctx, e.Key(), payload)
}

// MemorySink records published payloads in order.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

type Record struct {
	Key   string
	Value []byte
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Publish(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{Key: key, Value: append([]byte(nil), value...)})
	return nil
}

// Events decodes everything published so far.
func (m *MemorySink) Events() ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, len(m.records))
	for _, r := range m.records {
		var e Event
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
