// Package metrics implements the Prometheus surface every hot-path
// component reports to (radar_* series), grounded on Livepeer-FrameWorks'
// pkg/monitoring collector: package-level vectors registered once at import
// time, incremented from each component's own code.
package metrics

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_fetch_attempts_total",
		Help: "Fetcher attempts by source, strategy, pool, status class, and error class.",
	}, []string{"source_id", "strategy", "pool", "status_class", "error_class"})

	FetchLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radar_fetch_latency_seconds",
		Help:    "Fetcher request latency by strategy and pool.",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy", "pool"})

	ExtractItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_extract_items_total",
		Help: "Documents successfully extracted by source and strategy.",
	}, []string{"source_id", "strategy"})

	OrganizerDocsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_organizer_docs_total",
		Help: "Documents organized into Events by source, lane, and whether an existing Event matched.",
	}, []string{"source_id", "lane", "matched_existing"})

	AnchorYieldTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_anchor_yield_total",
		Help: "Anchors extracted per source.",
	}, []string{"source_id"})

	EvidenceScoreHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radar_evidence_score",
		Help:    "Per-document evidence score distribution by source.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"source_id"})

	EventStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_event_state_transitions_total",
		Help: "Event state machine transitions by from/to state and trigger.",
	}, []string{"from_status", "to_status", "reason"})

	EventScoreHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "radar_event_score",
		Help:    "Computed Event scores by score type and lane.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"score_type", "lane"})

	UnverifiedViralEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_unverified_viral_events_total",
		Help: "Events flagged UNVERIFIED_VIRAL by lane.",
	}, []string{"lane"})

	EventMergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_event_merges_total",
		Help: "Event merges by merge rule/reason code.",
	}, []string{"reason_code"})

	QueueBacklogEstimate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "radar_queue_backlog_estimate",
		Help: "Approximate depth of a Fetcher pool's job channel.",
	}, []string{"queue_name"})

	DataStarvationIncidentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_data_starvation_incidents_total",
		Help: "Yield monitor starvation incidents by source domain.",
	}, []string{"source_domain"})

	SSEEventsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radar_sse_events_sent_total",
		Help: "Live event-stream frames sent by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(
		FetchAttemptsTotal,
		FetchLatencySeconds,
		ExtractItemsTotal,
		OrganizerDocsTotal,
		AnchorYieldTotal,
		EvidenceScoreHistogram,
		EventStateTransitionsTotal,
		EventScoreHistogram,
		UnverifiedViralEventsTotal,
		EventMergesTotal,
		QueueBacklogEstimate,
		DataStarvationIncidentsTotal,
		SSEEventsSentTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint for internal/httpapi to mount.
func Handler() echo.HandlerFunc {
	h := promhttp.Handler()
	return echo.WrapHandler(h)
}

// StatusClass buckets an HTTP status code the way radar_fetch_attempts_total
// labels it: "2xx"/"3xx"/"4xx"/"5xx", or "0" when the request never got a
// response at all.
func StatusClass(code int) string {
	if code <= 0 {
		return "0"
	}
	return fmt.Sprintf("%dxx", code/100)
}
