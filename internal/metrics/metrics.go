// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_job_attempts_total",
		Help: "Provider submission attempts by outcome.",
	}, []string{"provider", "outcome"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_jobs_finished_total",
		Help: "Jobs that reached a terminal status.",
	}, []string{"provider", "status"})

	KeyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_key_events_total",
		Help: "Key pool selections and health reports.",
	}, []string{"event"})

	Webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhooks_total",
		Help: "Inbound provider callbacks by outcome.",
	}, []string{"provider", "outcome"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_provider_call_seconds",
		Help:    "Latency of outbound provider calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	QueueRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_queue_requeued_total",
		Help: "Job ids moved back from processing lists by the reaper or poller.",
	})
)
