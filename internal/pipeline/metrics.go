package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NewStageHistogram builds the stage-duration histogram and registers it with
// reg. Buckets span quick text turns through slow synthesis runs.
func NewStageHistogram(reg prometheus.Registerer) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voiceforge",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of each pipeline stage run.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage"})
	if reg != nil {
		reg.MustRegister(h)
	}
	return h
}
