// Package observability wraps the Prometheus metrics exposed by the
// rollout server.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the metric vectors for the deployment engine. It owns a
// private registry so tests can create collectors without colliding on the
// global one.
type Collector struct {
	registry *prometheus.Registry

	DeploymentsTotal  *prometheus.CounterVec
	RollbacksTotal    *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	ApplyCallsTotal   *prometheus.CounterVec
	ActiveDeployments prometheus.Gauge
}

// NewCollector creates a collector with its own Prometheus registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		DeploymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Deployments reaching a terminal status",
		}, []string{"strategy", "status"}),
		RollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollback passes by trigger",
		}, []string{"trigger"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per deployment stage, soak included",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"strategy"}),
		ApplyCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_calls_total",
			Help:      "Target apply calls by result",
		}, []string{"result"}),
		ActiveDeployments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_deployments",
			Help:      "Deployments currently pending or in progress",
		}),
	}

	reg.MustRegister(
		c.DeploymentsTotal,
		c.RollbacksTotal,
		c.StageDuration,
		c.ApplyCallsTotal,
		c.ActiveDeployments,
	)
	return c
}

// Handler returns an HTTP handler serving this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordDeployment counts a deployment that reached a terminal status.
func (c *Collector) RecordDeployment(strategy, status string) {
	c.DeploymentsTotal.WithLabelValues(strategy, status).Inc()
}

// RecordRollback counts one rollback pass.
func (c *Collector) RecordRollback(trigger string) {
	c.RollbacksTotal.WithLabelValues(trigger).Inc()
}

// RecordStageDuration records the wall time of one completed stage.
func (c *Collector) RecordStageDuration(strategy string, d time.Duration) {
	c.StageDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordApply counts one target apply call.
func (c *Collector) RecordApply(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.ApplyCallsTotal.WithLabelValues(result).Inc()
}
