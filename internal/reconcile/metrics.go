package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	dispatched  *prometheus.CounterVec
	denied      *prometheus.CounterVec
	completed   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	settleReads prometheus.Histogram
	notVisible  prometheus.Counter
	readErrors  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reel",
			Name:      "submissions_dispatched_total",
			Help:      "Writes accepted by the eligibility gate.",
		}, []string{"action"}),
		denied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reel",
			Name:      "submissions_denied_total",
			Help:      "Writes refused before dispatch, by reason.",
		}, []string{"reason"}),
		completed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reel",
			Name:      "submissions_completed_total",
			Help:      "Writes that reached a terminal phase.",
		}, []string{"action", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reel",
			Name:      "submission_duration_seconds",
			Help:      "Time from dispatch to terminal phase.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"action"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "reel",
			Name:      "submissions_in_flight",
			Help:      "Writes awaiting signature or confirmation.",
		}),
		settleReads: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reel",
			Name:      "settle_reads",
			Help:      "Re-reads needed before a confirmed write became visible.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
		notVisible: f.NewCounter(prometheus.CounterOpts{
			Namespace: "reel",
			Name:      "settle_not_visible_total",
			Help:      "Confirmed writes still invisible after the retry budget.",
		}),
		readErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reel",
			Name:      "read_errors_total",
			Help:      "Gateway reads degraded to empty state.",
		}, []string{"source"}),
	}
}
