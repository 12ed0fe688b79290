package generation

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiosk",
			Subsystem: "generation",
			Name:      "jobs_total",
			Help:      "Generation jobs by outcome",
		},
		[]string{"outcome"},
	)

	failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiosk",
			Subsystem: "generation",
			Name:      "failures_total",
			Help:      "Generation failures delivered to callers, by kind",
		},
		[]string{"kind"},
	)

	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiosk",
			Subsystem: "generation",
			Name:      "attempts_total",
			Help:      "txt2img requests sent, by result",
		},
		[]string{"result"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kiosk",
			Subsystem: "generation",
			Name:      "job_duration_seconds",
			Help:      "Time from submission to a delivered image",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kiosk",
			Subsystem: "generation",
			Name:      "active_jobs",
			Help:      "Jobs submitted and not yet delivered or cancelled",
		},
	)
)

const (
	outcomeSuccess   = "success"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
	outcomeRejected  = "rejected"
)

func init() {
	prometheus.MustRegister(jobsTotal, failuresTotal, attemptsTotal, jobDuration, activeJobs)
}
