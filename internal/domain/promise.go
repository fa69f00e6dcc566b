package domain

import "time"

// PromiseStatus is derived from the promise's effective verifications.
type PromiseStatus string

const (
	PromiseOpen               PromiseStatus = "Open"
	PromiseFulfilled          PromiseStatus = "Fulfilled"
	PromiseBroken             PromiseStatus = "Broken"
	PromisePartiallyFulfilled PromiseStatus = "PartiallyFulfilled"
)

// IsTerminal reports whether the promise is closed. Closed promises are no
// longer offered new candidate actions but still accept verification updates.
func (s PromiseStatus) IsTerminal() bool {
	return s == PromiseFulfilled || s == PromiseBroken
}

// Weight is the signed contribution of a resolved promise to the raw score.
func (s PromiseStatus) Weight() float64 {
	switch s {
	case PromiseFulfilled:
		return 1
	case PromiseBroken:
		return -1
	case PromisePartiallyFulfilled:
		return 0.3
	default:
		return 0
	}
}

// Promise is a tracked commitment. Status is a cache of DeriveStatus over the
// promise's verifications and is rewritten whenever they change.
type Promise struct {
	ID           PromiseID     `json:"id"`
	PoliticianID PoliticianID  `json:"politician_id"`
	Content      string        `json:"content"`
	Keywords     []string      `json:"keywords,omitempty"`
	Status       PromiseStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// IsMatchable reports whether new candidate actions should be evaluated.
func (p *Promise) IsMatchable() bool {
	return !p.Status.IsTerminal()
}
