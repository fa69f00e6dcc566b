package models

import (
	"time"

	"politikcred/internal/domain"
)

// FailureKind classifies a recorded run failure.
type FailureKind string

const (
	// FailureIngestUnavailable: every source failed; the run fails.
	FailureIngestUnavailable FailureKind = "IngestUnavailable"
	// FailureSourcePartial: some sources failed; the run continues.
	FailureSourcePartial FailureKind = "SourcePartialFailure"
	// FailureMatch: the scorer failed on one pair; the pair is skipped.
	FailureMatch FailureKind = "MatchError"
	// FailurePersistConflict: an upsert lost a race twice; the batch fails.
	FailurePersistConflict FailureKind = "PersistConflict"
	// FailureScoring: stored data could not be scored; the score is unchanged.
	FailureScoring FailureKind = "ScoringError"
	// FailureBatch: a store error aborted a batch.
	FailureBatch FailureKind = "BatchError"
)

// Failure is one entry in the run summary.
type Failure struct {
	Kind         FailureKind `json:"kind"`
	PoliticianID string      `json:"politician_id,omitempty"`
	PromiseID    string      `json:"promise_id,omitempty"`
	ActionID     string      `json:"action_id,omitempty"`
	SourceID     string      `json:"source_id,omitempty"`
	Transient    bool        `json:"transient,omitempty"`
	Message      string      `json:"message"`
}

// Trigger describes who started a run.
type Trigger struct {
	Origin  string `json:"origin"` // "http", "cli"
	Subject string `json:"subject,omitempty"`
}

// Summary is the structured result returned to the trigger.
type Summary struct {
	RunID                domain.RunID     `json:"run_id"`
	Status               domain.RunStatus `json:"status"`
	StartedAt            time.Time        `json:"started_at"`
	FinishedAt           time.Time        `json:"finished_at"`
	IngestedActions      int              `json:"ingested_actions"`
	PendingActions       int              `json:"pending_actions"`
	NewVerifications     int              `json:"new_verifications"`
	UpdatedVerifications int              `json:"updated_verifications"`
	RescoredPoliticians  int              `json:"rescored_politicians"`
	SourceFailures       []Failure        `json:"source_failures,omitempty"`
	MatchErrors          []Failure        `json:"match_errors,omitempty"`
	BatchFailures        []Failure        `json:"batch_failures,omitempty"`
	ScoringFailures      []Failure        `json:"scoring_failures,omitempty"`
	Warnings             []string         `json:"warnings,omitempty"`
	Cancelled            bool             `json:"cancelled,omitempty"`
	AlreadyRunning       bool             `json:"already_running,omitempty"`
	Watermark            time.Time        `json:"watermark"`
}

// ClaimResult is the outcome of trying to take the single run slot.
type ClaimResult struct {
	Claimed     bool
	ActiveRunID domain.RunID
	State       domain.RunState
}

// Completion is what a finished run writes back to RunState.
type Completion struct {
	RunID            domain.RunID
	Status           domain.RunStatus
	FinishedAt       time.Time
	Watermark        time.Time
	ModerationCursor *time.Time
	Summary          []byte
}
