package domain

import (
	"fmt"
	"time"
)

// MatchType is the directional verdict of an action against a promise.
type MatchType string

const (
	MatchFulfilled MatchType = "Fulfilled"
	MatchBroken    MatchType = "Broken"
	MatchPartial   MatchType = "Partial"
	MatchUnrelated MatchType = "Unrelated"
)

func (m MatchType) IsValid() bool {
	switch m {
	case MatchFulfilled, MatchBroken, MatchPartial, MatchUnrelated:
		return true
	}
	return false
}

// Status maps a persisted verdict to the promise status it implies.
func (m MatchType) Status() PromiseStatus {
	switch m {
	case MatchFulfilled:
		return PromiseFulfilled
	case MatchBroken:
		return PromiseBroken
	case MatchPartial:
		return PromisePartiallyFulfilled
	default:
		return PromiseOpen
	}
}

// Method records how a verdict was produced.
type Method string

const (
	MethodAutomated  Method = "Automated"
	MethodAIAssisted Method = "AIAssisted"
	MethodManual     Method = "Manual"
)

func (m Method) IsValid() bool {
	return m == MethodAutomated || m == MethodAIAssisted || m == MethodManual
}

// VerdictDraft is a matcher verdict awaiting persistence. VerifiedAt is the
// action's timestamp so that re-matching the same pair is reproducible.
type VerdictDraft struct {
	PromiseID    PromiseID
	ActionID     ActionID
	PoliticianID PoliticianID
	MatchType    MatchType
	Confidence   float64
	Method       Method
	VerifiedAt   time.Time
}

// PairKey identifies the (promise, action) pair.
type PairKey struct {
	PromiseID PromiseID
	ActionID  ActionID
}

func (d VerdictDraft) Key() PairKey {
	return PairKey{PromiseID: d.PromiseID, ActionID: d.ActionID}
}

// Verification links one promise to one action. At most one exists per
// pair; it is superseded or disputed, never deleted.
//
// Invariants:
//   - Confidence is within [0,1]
//   - MatchType is never Unrelated on a persisted row
//   - a re-match never clears IsDisputed, DisputeReason or Resolution
//   - Version increases on every write and backs compare-and-set updates
type Verification struct {
	ID            VerificationID `json:"id"`
	PromiseID     PromiseID      `json:"promise_id"`
	ActionID      ActionID       `json:"action_id"`
	PoliticianID  PoliticianID   `json:"politician_id"`
	MatchType     MatchType      `json:"match_type"`
	Confidence    float64        `json:"confidence"`
	Method        Method         `json:"verification_method"`
	VerifiedAt    time.Time      `json:"verified_at"`
	IsDisputed    bool           `json:"is_disputed"`
	DisputeReason string         `json:"dispute_reason,omitempty"`
	DisputedAt    *time.Time     `json:"disputed_at,omitempty"`
	Resolution    *MatchType     `json:"resolution,omitempty"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
	ModeratedAt   *time.Time     `json:"moderated_at,omitempty"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewVerification builds the first version of a verification from a draft.
func NewVerification(d VerdictDraft, now time.Time) *Verification {
	return &Verification{
		ID:           NewVerificationID(),
		PromiseID:    d.PromiseID,
		ActionID:     d.ActionID,
		PoliticianID: d.PoliticianID,
		MatchType:    d.MatchType,
		Confidence:   d.Confidence,
		Method:       d.Method,
		VerifiedAt:   d.VerifiedAt,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SameVerdict reports whether applying d would leave the verdict unchanged.
func (v *Verification) SameVerdict(d VerdictDraft) bool {
	return v.MatchType == d.MatchType &&
		v.Confidence == d.Confidence &&
		v.Method == d.Method &&
		v.VerifiedAt.Equal(d.VerifiedAt)
}

// ApplyDraft overwrites the verdict fields from a re-match. Moderation state
// is left untouched.
func (v *Verification) ApplyDraft(d VerdictDraft, now time.Time) {
	v.MatchType = d.MatchType
	v.Confidence = d.Confidence
	v.Method = d.Method
	v.VerifiedAt = d.VerifiedAt
	v.UpdatedAt = now
	v.Version++
}

// ApplyDispute flags the verification for moderation review.
func (v *Verification) ApplyDispute(reason string, now time.Time) {
	v.IsDisputed = true
	v.DisputeReason = reason
	v.DisputedAt = &now
	v.Resolution = nil
	v.ResolvedAt = nil
	v.ModeratedAt = &now
	v.UpdatedAt = now
	v.Version++
}

// ApplyResolution records the moderator's outcome and lifts the dispute.
func (v *Verification) ApplyResolution(outcome MatchType, now time.Time) {
	v.IsDisputed = false
	v.Resolution = &outcome
	v.ResolvedAt = &now
	v.ModeratedAt = &now
	v.UpdatedAt = now
	v.Version++
}

// Verdict is the view of a verification used for status and scoring.
type Verdict struct {
	VerificationID VerificationID
	ActionID       ActionID
	MatchType      MatchType
	Confidence     float64
	Method         Method
	VerifiedAt     time.Time
}

// Effective returns the verdict that counts, or false when the verification
// is excluded: disputed and unresolved, or dismissed by the moderator. A
// resolved verification counts once, with the moderator's outcome as a
// manually confirmed verdict and the original confidence.
func (v *Verification) Effective() (Verdict, bool) {
	if v.Resolution != nil {
		if *v.Resolution == MatchUnrelated {
			return Verdict{}, false
		}
		return Verdict{
			VerificationID: v.ID,
			ActionID:       v.ActionID,
			MatchType:      *v.Resolution,
			Confidence:     v.Confidence,
			Method:         MethodManual,
			VerifiedAt:     v.VerifiedAt,
		}, true
	}
	if v.IsDisputed || v.MatchType == MatchUnrelated {
		return Verdict{}, false
	}
	return Verdict{
		VerificationID: v.ID,
		ActionID:       v.ActionID,
		MatchType:      v.MatchType,
		Confidence:     v.Confidence,
		Method:         v.Method,
		VerifiedAt:     v.VerifiedAt,
	}, true
}

// Validate reports malformed data that scoring must refuse to use.
func (v *Verification) Validate() error {
	if !v.MatchType.IsValid() {
		return fmt.Errorf("verification %s: unknown match type %q", v.ID, v.MatchType)
	}
	if !v.Method.IsValid() {
		return fmt.Errorf("verification %s: unknown method %q", v.ID, v.Method)
	}
	if v.Confidence < 0 || v.Confidence > 1 || v.Confidence != v.Confidence {
		return fmt.Errorf("verification %s: confidence %v outside [0,1]", v.ID, v.Confidence)
	}
	if v.VerifiedAt.IsZero() {
		return fmt.Errorf("verification %s: verified_at is zero", v.ID)
	}
	if v.Resolution != nil && !v.Resolution.IsValid() {
		return fmt.Errorf("verification %s: unknown resolution %q", v.ID, *v.Resolution)
	}
	return nil
}
