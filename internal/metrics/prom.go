package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardianpath",
		Name:      "events_ingested_total",
		Help:      "Access events accepted into the history by source.",
	}, []string{"source"})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardianpath",
		Name:      "events_dropped_total",
		Help:      "Access events dropped before analysis by reason.",
	}, []string{"reason"})

	TravelAnalyses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardianpath",
		Name:      "travel_analyses_total",
		Help:      "Travel analyses produced across recomputes by status.",
	}, []string{"status"})

	TravelPairsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardianpath",
		Name:      "travel_pairs_skipped_total",
		Help:      "Consecutive event pairs skipped by reason.",
	}, []string{"reason"})

	BehaviorAnomalies = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "guardianpath",
		Name:      "behavior_anomalies",
		Help:      "Behavior anomalies in the latest recompute by type and severity.",
	}, []string{"type", "severity"})

	AlertsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardianpath",
		Name:      "alerts_ingested_total",
		Help:      "Alerts ingested into the stream processor by type and source.",
	}, []string{"type", "source"})

	AlertsUnread = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardianpath",
		Name:      "alerts_unread",
		Help:      "Unread alerts currently buffered.",
	})

	StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardianpath",
		Name:      "stream_clients",
		Help:      "Connected alert stream clients.",
	})

	RecomputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "guardianpath",
		Name:      "recompute_duration_seconds",
		Help:      "Full-history recompute duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	RecomputesDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guardianpath",
		Name:      "recomputes_discarded_total",
		Help:      "Recompute results discarded because a newer run started.",
	})

	HistorySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardianpath",
		Name:      "history_events",
		Help:      "Access events currently held in the analysis history.",
	})
)

func init() {
	prometheus.MustRegister(
		EventsIngested,
		EventsDropped,
		TravelAnalyses,
		TravelPairsSkipped,
		BehaviorAnomalies,
		AlertsIngested,
		AlertsUnread,
		StreamClients,
		RecomputeDuration,
		RecomputesDiscarded,
		HistorySize,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
