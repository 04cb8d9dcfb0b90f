package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
// Every Record method is a no-op on a nil receiver so components run without metrics in tests.
type Metrics struct {
	// Session repository
	SessionWrites *prometheus.CounterVec
	SessionReads  *prometheus.CounterVec

	// Outbound calls
	DispatcherRequests *prometheus.CounterVec

	// Background resource fetches
	ResourceFetches        *prometheus.CounterVec
	ResourceFetchesRunning prometheus.Gauge

	// Store probe
	StoreUp prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics registers the Prometheus metrics once and returns them
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SessionWrites: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "maggie_session_writes_total",
				Help: "Session slot writes by record kind and result",
			}, []string{"kind", "result"}),

			SessionReads: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "maggie_session_reads_total",
				Help: "Session slot reads by record kind and result",
			}, []string{"kind", "result"}), // result: found, not_found, error

			DispatcherRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "maggie_dispatcher_requests_total",
				Help: "Outbound dispatcher requests by dispatcher and result",
			}, []string{"dispatcher", "result"}),

			ResourceFetches: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "maggie_resource_fetches_total",
				Help: "Completed background resource fetches by result",
			}, []string{"result"}),

			ResourceFetchesRunning: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "maggie_resource_fetches_inflight",
				Help: "Background resource fetches currently running",
			}),

			StoreUp: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "maggie_store_up",
				Help: "1 when the last document store probe succeeded, 0 otherwise",
			}),
		}
	})
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordSessionWrite records a repository write
func (m *Metrics) RecordSessionWrite(kind string, err error) {
	if m == nil {
		return
	}
	m.SessionWrites.WithLabelValues(kind, resultLabel(err)).Inc()
}

// RecordSessionRead records a repository read; result is found, not_found or error
func (m *Metrics) RecordSessionRead(kind, result string) {
	if m == nil {
		return
	}
	m.SessionReads.WithLabelValues(kind, result).Inc()
}

// RecordDispatch records one outbound dispatcher call
func (m *Metrics) RecordDispatch(dispatcher string, err error) {
	if m == nil {
		return
	}
	m.DispatcherRequests.WithLabelValues(dispatcher, resultLabel(err)).Inc()
}

// FetchStarted marks a background fetch as running
func (m *Metrics) FetchStarted() {
	if m == nil {
		return
	}
	m.ResourceFetchesRunning.Inc()
}

// FetchFinished records the outcome of a background fetch
func (m *Metrics) FetchFinished(err error) {
	if m == nil {
		return
	}
	m.ResourceFetchesRunning.Dec()
	m.ResourceFetches.WithLabelValues(resultLabel(err)).Inc()
}

// SetStoreUp records the result of a store probe
func (m *Metrics) SetStoreUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.StoreUp.Set(1)
	} else {
		m.StoreUp.Set(0)
	}
}
