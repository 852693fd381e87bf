// Package metrics exposes Prometheus collectors for the edit-lock service.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"dealroom/api/internal/editlock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LockMetrics records lock manager outcomes. It satisfies editlock.Observer.
type LockMetrics struct {
	registry *prometheus.Registry

	acquireTotal  *prometheus.CounterVec
	renewTotal    *prometheus.CounterVec
	releaseTotal  *prometheus.CounterVec
	sweptTotal    prometheus.Counter
	requestsTotal *prometheus.CounterVec
}

// New creates a registry with lock and HTTP collectors plus the Go runtime
// and process collectors.
func New() (*LockMetrics, error) {
	registry := prometheus.NewRegistry()
	m := &LockMetrics{
		registry: registry,
		acquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealroom_lock_acquire_total",
			Help: "Lock acquisition attempts by entity type and outcome.",
		}, []string{"entity_type", "outcome"}),
		renewTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealroom_lock_heartbeat_total",
			Help: "Lock heartbeats by entity type and outcome.",
		}, []string{"entity_type", "outcome"}),
		releaseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealroom_lock_release_total",
			Help: "Locks removed by release, labelled forced when broken by a manager.",
		}, []string{"entity_type", "forced"}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealroom_lock_swept_total",
			Help: "Expired locks removed by the background sweeper.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealroom_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
	}

	collectors := []prometheus.Collector{
		m.acquireTotal,
		m.renewTotal,
		m.releaseTotal,
		m.sweptTotal,
		m.requestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

func (m *LockMetrics) ObserveAcquire(entityType editlock.EntityType, outcome string) {
	m.acquireTotal.WithLabelValues(string(entityType), outcome).Inc()
}

func (m *LockMetrics) ObserveRenew(entityType editlock.EntityType, outcome string) {
	m.renewTotal.WithLabelValues(string(entityType), outcome).Inc()
}

func (m *LockMetrics) ObserveRelease(entityType editlock.EntityType, forced bool) {
	m.releaseTotal.WithLabelValues(string(entityType), strconv.FormatBool(forced)).Inc()
}

func (m *LockMetrics) ObserveSweep(removed int64) {
	if removed > 0 {
		m.sweptTotal.Add(float64(removed))
	}
}

// ObserveRequest counts one finished HTTP request.
func (m *LockMetrics) ObserveRequest(method string, status int) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *LockMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *LockMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
