package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Identity Resolver metrics. Adapted from the teacher's NVR health
// gauge/counter-vec shape (online count + queue depth + checks-by-result),
// carried over unit for unit onto the resolver's own health surface:
// registry size in place of "NVRs online", EventLog backlog in place of
// "queue depth", resolution outcomes in place of "health checks".

var (
	RegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resolver_active_registry_size",
		Help: "Current number of entries in the active identity registry",
	})

	EventLogBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resolver_eventlog_backlog",
		Help: "Undelivered plus delivered-but-unacked message count observed on an EventLog subscription",
	}, []string{"topic"})

	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_resolutions_total",
		Help: "Total identity resolutions by outcome source",
	}, []string{"source"}) // matched, gated_unknown, qdrant_unavailable, insufficient_history

	GateRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_gate_rejections_total",
		Help: "Total spatiotemporal gate rejections by reason",
	}, []string{"reason"})

	ANNLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resolver_ann_lookup_latency_ms",
		Help:    "SimilaritySearch.top_k latency in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500},
	})

	ANNConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resolver_ann_consecutive_failures",
		Help: "Current consecutive SimilaritySearch failure count",
	})

	AlertsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_alerts_emitted_total",
		Help: "Total alerts emitted by kind",
	}, []string{"kind"})

	IdentityFlickersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_identity_flickers_total",
		Help: "Total history-ring RESOLVED-to-COLLECTING reversions",
	})

	DeserializationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_deserialization_errors_total",
		Help: "Total DetectionEvents that failed to unmarshal and were skipped",
	})
)

func SetRegistrySize(n int) { RegistrySize.Set(float64(n)) }

func SetEventLogBacklog(topic string, n int) { EventLogBacklog.WithLabelValues(topic).Set(float64(n)) }

func RecordResolution(source string) { ResolutionsTotal.WithLabelValues(source).Inc() }

func RecordGateRejection(reason string) { GateRejectionsTotal.WithLabelValues(reason).Inc() }

func RecordANNLatency(ms float64) { ANNLatency.Observe(ms) }

func SetANNConsecutiveFailures(n int) { ANNConsecutiveFailures.Set(float64(n)) }

func RecordAlertEmitted(kind string) { AlertsEmittedTotal.WithLabelValues(kind).Inc() }

func RecordIdentityFlicker() { IdentityFlickersTotal.Inc() }

func RecordDeserializationError() { DeserializationErrorsTotal.Inc() }
