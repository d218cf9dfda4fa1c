package poller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds optional Prometheus instrumentation for a Poller. A nil
// *Metrics disables instrumentation entirely; Poller never assumes one is
// present. Unlike a package relying on promauto globals, Metrics is built
// with prometheus.New*, so a caller controls registration explicitly and
// can run more than one Poller without metric name collisions.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance and registers its collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_poller_requests_total",
			Help: "Total number of poll requests issued, by tag.",
		}, []string{"tag"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_poller_errors_total",
			Help: "Total number of poll requests that returned an error, by tag.",
		}, []string{"tag"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modbus_poller_request_duration_seconds",
			Help:    "Duration of poll requests, by tag.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tag"}),
	}

	collectors := []prometheus.Collector{m.requestsTotal, m.errorsTotal, m.requestDuration}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// observeRequest records one poll attempt for tag, including its error
// status and duration. Poller only calls this when its Metrics is non-nil.
func (m *Metrics) observeRequest(tag string, duration time.Duration, err error) {
	m.requestsTotal.WithLabelValues(tag).Inc()
	m.requestDuration.WithLabelValues(tag).Observe(duration.Seconds())
	if err != nil {
		m.errorsTotal.WithLabelValues(tag).Inc()
	}
}
