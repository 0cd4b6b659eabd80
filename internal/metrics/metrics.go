package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector exported on /metrics.
var Registry = prometheus.NewRegistry()

var (
	InvitesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "summons",
		Name:      "invites_total",
		Help:      "Summons invitations by outcome.",
	}, []string{"result"})

	DegradedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "summons",
		Name:      "degraded_total",
		Help:      "Best-effort steps that failed after a summons was stored.",
	}, []string{"step"})

	ResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "summons",
		Name:      "responses_total",
		Help:      "Invitee responses by status.",
	}, []string{"status"})

	MockeryDetections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "summons",
		Name:      "mockery_detections_total",
		Help:      "Texts that matched a mockery trigger phrase.",
	})
)

const (
	ResultCreated  = "created"
	ResultRejected = "rejected"
	ResultFailed   = "failed"

	StepAudit  = "audit"
	StepNotify = "notify"
	StepEvents = "events"
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(InvitesTotal, DegradedTotal, ResponsesTotal, MockeryDetections)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
