package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks moderation activity on verifications.
type Metrics struct {
	Moderations *prometheus.CounterVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Moderations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "politikcred_verification_moderations_total",
			Help: "Moderation operations on verifications by action and outcome",
		}, []string{"action", "outcome"}), // action: "dispute", "resolve"
	}
}

// IncrementModeration records one dispute or resolution. outcome is the
// resolution verdict, or "flagged" for disputes.
func (m *Metrics) IncrementModeration(action, outcome string) {
	if m != nil {
		m.Moderations.WithLabelValues(action, outcome).Inc()
	}
}
