package domain

import (
	"strings"
	"time"

	dErrors "politikcred/pkg/domain-errors"
)

// ActionKind classifies external political activity.
type ActionKind string

const (
	ActionVote      ActionKind = "vote"
	ActionStatement ActionKind = "statement"
	ActionRecord    ActionKind = "record"
)

func (k ActionKind) IsValid() bool {
	return k == ActionVote || k == ActionStatement || k == ActionRecord
}

// VotePosition is the recorded position on a vote; empty for non-votes.
type VotePosition string

const (
	PositionFor     VotePosition = "for"
	PositionAgainst VotePosition = "against"
	PositionAbstain VotePosition = "abstain"
	PositionNone    VotePosition = ""
)

// Action is an immutable external record. ProcessedAt is pipeline
// bookkeeping: nil until every batch that referenced the action committed.
type Action struct {
	ID           ActionID      `json:"id"`
	Source       string        `json:"source"`
	ExternalID   string        `json:"external_id"`
	Kind         ActionKind    `json:"kind"`
	PoliticianID *PoliticianID `json:"politician_id,omitempty"`
	Position     VotePosition  `json:"position,omitempty"`
	Title        string        `json:"title"`
	Content      string        `json:"content"`
	OccurredAt   time.Time     `json:"occurred_at"`
	IngestedAt   time.Time     `json:"ingested_at"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
}

// Text is the searchable text of the action.
func (a *Action) Text() string {
	if a.Title == "" {
		return a.Content
	}
	return a.Title + "\n" + a.Content
}

// NewAction validates raw fields and builds an action.
func NewAction(source, externalID string, kind ActionKind, politician *PoliticianID,
	position VotePosition, title, content string, occurredAt, ingestedAt time.Time) (*Action, error) {
	source = strings.TrimSpace(source)
	externalID = strings.TrimSpace(externalID)
	if source == "" || externalID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "action source and external id are required")
	}
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown action kind: "+string(kind))
	}
	if occurredAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "action timestamp is required")
	}
	if strings.TrimSpace(title) == "" && strings.TrimSpace(content) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "action has no content")
	}
	switch position {
	case PositionFor, PositionAgainst, PositionAbstain, PositionNone:
	default:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown vote position: "+string(position))
	}
	if politician != nil && politician.IsNil() {
		politician = nil
	}
	return &Action{
		ID:           NewActionID(source, externalID),
		Source:       strings.ToLower(source),
		ExternalID:   externalID,
		Kind:         kind,
		PoliticianID: politician,
		Position:     position,
		Title:        strings.TrimSpace(title),
		Content:      strings.TrimSpace(content),
		OccurredAt:   occurredAt.UTC(),
		IngestedAt:   ingestedAt.UTC(),
	}, nil
}

// RelevantTo reports whether the action concerns the politician: either it
// names them, or it is a source-wide record from a source they follow.
func (a *Action) RelevantTo(p *Politician) bool {
	if a.PoliticianID != nil {
		return *a.PoliticianID == p.ID
	}
	return p.FollowsSource(a.Source)
}
