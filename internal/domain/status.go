package domain

// Winner picks the verdict that determines a promise's status: highest
// confidence, then most recent VerifiedAt, then the greater ActionID so the
// choice never depends on input order.
func Winner(verifications []Verification) (Verdict, bool) {
	var best Verdict
	found := false
	for i := range verifications {
		v, ok := verifications[i].Effective()
		if !ok {
			continue
		}
		if !found || beats(v, best) {
			best = v
			found = true
		}
	}
	return best, found
}

func beats(a, b Verdict) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.VerifiedAt.Equal(b.VerifiedAt) {
		return a.VerifiedAt.After(b.VerifiedAt)
	}
	return a.ActionID > b.ActionID
}

// DeriveStatus computes a promise status from its verifications. With no
// effective verdict the promise is Open.
func DeriveStatus(verifications []Verification) PromiseStatus {
	w, ok := Winner(verifications)
	if !ok {
		return PromiseOpen
	}
	return w.MatchType.Status()
}
