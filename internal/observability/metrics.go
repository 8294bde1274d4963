// Package observability exposes the pipeline's Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Plan generation outcomes
const (
	PlanGenerated    = "generated"
	PlanSkippedGuard = "skipped_guard"
	PlanSkippedLease = "skipped_lease"
	PlanFailed       = "failed"
)

var (
	jobsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lararun",
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Jobs finished by the worker pool, by type and outcome.",
	}, []string{"type", "outcome"})

	activitiesImported = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lararun",
		Subsystem: "importer",
		Name:      "activities_imported_total",
		Help:      "New activities persisted by the importer.",
	})

	recordsSet = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lararun",
		Subsystem: "records",
		Name:      "personal_records_set_total",
		Help:      "Personal records created or improved, by record type.",
	}, []string{"record_type"})

	planGenerations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lararun",
		Subsystem: "coach",
		Name:      "plan_generations_total",
		Help:      "Weekly plan generation runs by outcome.",
	}, []string{"outcome"})

	llmLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lararun",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Structured generation latency by schema and status.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"schema", "status"})

	eventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lararun",
		Subsystem: "events",
		Name:      "activity_events_total",
		Help:      "Activity change events handled, by kind and outcome.",
	}, []string{"kind", "outcome"})

	stravaQuota = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lararun",
		Subsystem: "strava",
		Name:      "rate_limit_remaining",
		Help:      "Strava requests left in the current window, as of the last import.",
	}, []string{"window"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lararun",
		Subsystem: "queue",
		Name:      "jobs",
		Help:      "Jobs in the queue table by status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(jobsCounter, activitiesImported, recordsSet, planGenerations, llmLatency, eventsConsumed,
		stravaQuota, queueDepth)
}

// SetStravaRateLimitRemaining records the quota left in the 15-minute and
// daily windows.
func SetStravaRateLimitRemaining(short, daily int) {
	stravaQuota.WithLabelValues("15min").Set(float64(short))
	stravaQuota.WithLabelValues("daily").Set(float64(daily))
}

// SetQueueDepth replaces the per-status job counts.
func SetQueueDepth(counts map[string]int) {
	queueDepth.Reset()
	for status, n := range counts {
		queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// RecordJob counts a finished job ("done", "retry", "failed" or "dropped").
func RecordJob(jobType, outcome string) {
	jobsCounter.WithLabelValues(jobType, outcome).Inc()
}

func RecordActivitiesImported(n int) {
	activitiesImported.Add(float64(n))
}

func RecordPersonalRecord(recordType string) {
	recordsSet.WithLabelValues(recordType).Inc()
}

func RecordPlanGeneration(outcome string) {
	planGenerations.WithLabelValues(outcome).Inc()
}

// ObserveLLMRequest records latency for one structured generation call.
func ObserveLLMRequest(schema string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmLatency.WithLabelValues(schema, status).Observe(d.Seconds())
}

func RecordEvent(kind, outcome string) {
	eventsConsumed.WithLabelValues(kind, outcome).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
