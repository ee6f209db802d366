// Package metrics holds the Prometheus collectors shared by the gateway and
// worker processes.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callguard"

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "active_sessions",
		Help:      "Number of live client sessions",
	})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "deliveries_total",
		Help:      "Events handed to client sessions, by result",
	}, []string{"result"})

	HeartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "heartbeat_evictions_total",
		Help:      "Sessions disconnected after a failed liveness probe",
	})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "jobs_total",
		Help:      "Inference jobs by modality and status",
	}, []string{"modality", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "job_duration_seconds",
		Help:      "Wall time of an inference job from pick-up to terminal status",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"modality"})

	PlaceholderCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "placeholder_calls_total",
		Help:      "Call records created for jobs that referenced an unknown call",
	})

	StabilityTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stability",
		Name:      "transitions_total",
		Help:      "Stabilized state changes, by target state",
	}, []string{"to"})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "alerts_total",
		Help:      "Alert events built, by type and risk level",
	}, []string{"type", "risk_level"})

	AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "audit_failures_total",
		Help:      "Audit records that could not be persisted",
	})

	SMSSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "sms_total",
		Help:      "Family SMS dispatches, by result",
	}, []string{"result"})

	BridgePublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "published_total",
		Help:      "Messages published to the alert channel, by result",
	}, []string{"result"})

	BridgeReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "reconnects_total",
		Help:      "Times the gateway had to resubscribe to the alert channel",
	})
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "REST requests by route and status class",
	}, []string{"route", "class"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "JSON cache reads, by result",
	}, []string{"result"})
)

// Handler exposes the default registry on a gin route.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
