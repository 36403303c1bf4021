package replay

import (
	"github.com/buger/logreplay/fetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exported while a replay runs.
type Metrics struct {
	Requests       *prometheus.CounterVec
	Duration       prometheus.Histogram
	BusySlots      prometheus.Gauge
	Drift          prometheus.Gauge
	BehindSchedule prometheus.Counter
	SkippedLines   prometheus.Counter
}

// NewMetrics registers the replay collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logreplay_requests_total",
				Help: "Replayed requests by result",
			},
			[]string{"result"},
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "logreplay_request_duration_seconds",
				Help:    "Time from dispatch to completion of replayed requests",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
		),
		BusySlots: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "logreplay_busy_slots",
				Help: "Fetch slots with a request in flight",
			},
		),
		Drift: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "logreplay_schedule_drift_seconds",
				Help: "Scheduled minus actual elapsed time; negative is behind",
			},
		),
		BehindSchedule: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "logreplay_behind_schedule_total",
				Help: "Entries dispatched later than the falling-behind threshold",
			},
		),
		SkippedLines: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "logreplay_skipped_lines_total",
				Help: "Malformed log lines skipped",
			},
		),
	}
}

func (m *Metrics) observe(o fetch.Outcome) {
	result := "success"
	if !o.Success {
		result = "failure"
	}
	m.Requests.WithLabelValues(result).Inc()
	m.Duration.Observe(o.Latency().Seconds())
}
