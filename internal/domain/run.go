package domain

import "time"

// RunStatus is the pipeline run state machine:
// Idle -> Running -> {Succeeded, Failed, PartiallyFailed}.
type RunStatus string

const (
	RunIdle            RunStatus = "Idle"
	RunRunning         RunStatus = "Running"
	RunSucceeded       RunStatus = "Succeeded"
	RunFailed          RunStatus = "Failed"
	RunPartiallyFailed RunStatus = "PartiallyFailed"
)

func (s RunStatus) IsFinal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunPartiallyFailed
}

// RunState is the single record tracking the active run and the last
// durable ingest watermark.
type RunState struct {
	RunID      RunID      `json:"run_id"`
	Status     RunStatus  `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Watermark  time.Time  `json:"watermark"`
	// ModerationCursor is the start of the last run that rescored every
	// politician moderated before it. Later moderation is still pending.
	ModerationCursor *time.Time `json:"moderation_cursor,omitempty"`
	Summary          []byte     `json:"-"`
}

// IsActive reports whether a run holds the claim and is not stale. A claim
// turns stale once it is strictly older than staleAfter.
func (s *RunState) IsActive(now time.Time, staleAfter time.Duration) bool {
	if s.Status != RunRunning || s.StartedAt == nil {
		return false
	}
	if staleAfter <= 0 {
		return true
	}
	return now.Sub(*s.StartedAt) <= staleAfter
}

// IdleRunState is the state before the first run.
func IdleRunState() RunState {
	return RunState{Status: RunIdle}
}
