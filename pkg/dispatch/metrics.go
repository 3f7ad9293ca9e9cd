package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels a finished dispatch.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomePanic   Outcome = "panic"
	OutcomeSkipped Outcome = "skipped"
)

var (
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "async_dispatch_total", Help: "deferred handler runs by route and outcome"},
		[]string{"route", "outcome"},
	)

	dispatchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "async_dispatch_seconds",
			Help:    "deferred handler duration.",
			Buckets: []float64{0.05, 0.25, 1, 5, 30, 120},
		},
		[]string{"route"},
	)

	inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "async_inflight", Help: "deferred handlers currently running"},
	)
)

func init() {
	prometheus.MustRegister(dispatchTotal, dispatchSeconds, inflight)
}
