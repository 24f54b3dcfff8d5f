package issue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink receives lifecycle events for instrumentation. Calls are
// fire-and-forget: implementations must never fail or block the core.
type Sink interface {
	IssueCreated(source string)
	DedupHit(source string)
	Notified(source string, followUp bool)
	Escalated(source string)
	Resolved(source, reason string, openFor time.Duration)
	Ignored(source, reason string)
	TickDone(dueIssues int, duration time.Duration)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) IssueCreated(string)                    {}
func (NopSink) DedupHit(string)                        {}
func (NopSink) Notified(string, bool)                  {}
func (NopSink) Escalated(string)                       {}
func (NopSink) Resolved(string, string, time.Duration) {}
func (NopSink) Ignored(string, string)                 {}
func (NopSink) TickDone(int, time.Duration)            {}

// Metrics holds Prometheus metrics for the distribution core and implements
// Sink.
type Metrics struct {
	IssuesCreated     *prometheus.CounterVec
	DedupHits         *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	Escalations       *prometheus.CounterVec
	Terminations      *prometheus.CounterVec
	ResolutionLatency *prometheus.HistogramVec
	SchedTickDuration prometheus.Histogram
	SchedDueIssues    prometheus.Gauge
}

// NewMetrics registers and returns core metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IssuesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_issues_created_total",
			Help: "Issues created by source.",
		}, []string{"source"}),
		DedupHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_dedup_hits_total",
			Help: "Events merged into an existing open issue, by source.",
		}, []string{"source"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_notifications_total",
			Help: "Notification sends by source and kind (initial or follow_up).",
		}, []string{"source", "kind"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_escalations_total",
			Help: "Escalation follow-ups by source.",
		}, []string{"source"}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_terminations_total",
			Help: "Terminal transitions by source, outcome and reason.",
		}, []string{"source", "outcome", "reason"}),
		ResolutionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herald_resolution_latency_seconds",
			Help:    "Time from issue open to terminal transition.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 14), // 1m .. ~5.7d
		}, []string{"source"}),
		SchedTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "herald_scheduler_tick_duration_seconds",
			Help:    "Duration of scheduler ticks.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),
		SchedDueIssues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "herald_scheduler_due_issues",
			Help: "Issues due for action in the last scheduler tick.",
		}),
	}

	reg.MustRegister(
		m.IssuesCreated,
		m.DedupHits,
		m.Notifications,
		m.Escalations,
		m.Terminations,
		m.ResolutionLatency,
		m.SchedTickDuration,
		m.SchedDueIssues,
	)

	return m
}

func (m *Metrics) IssueCreated(source string) {
	m.IssuesCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) DedupHit(source string) {
	m.DedupHits.WithLabelValues(source).Inc()
}

func (m *Metrics) Notified(source string, followUp bool) {
	kind := "initial"
	if followUp {
		kind = "follow_up"
	}
	m.Notifications.WithLabelValues(source, kind).Inc()
}

func (m *Metrics) Escalated(source string) {
	m.Escalations.WithLabelValues(source).Inc()
}

func (m *Metrics) Resolved(source, reason string, openFor time.Duration) {
	m.Terminations.WithLabelValues(source, "resolved", reason).Inc()
	m.ResolutionLatency.WithLabelValues(source).Observe(openFor.Seconds())
}

func (m *Metrics) Ignored(source, reason string) {
	m.Terminations.WithLabelValues(source, "ignored", reason).Inc()
}

func (m *Metrics) TickDone(dueIssues int, duration time.Duration) {
	m.SchedDueIssues.Set(float64(dueIssues))
	m.SchedTickDuration.Observe(duration.Seconds())
}
