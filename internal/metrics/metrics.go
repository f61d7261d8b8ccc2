// Package metrics holds the Prometheus collectors of the crud server.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/crud/internal/logger"
)

const namespace = "crud"

// Metrics contains the collectors recorded by actions and listeners
type Metrics struct {
	actions          *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	events           *prometheus.CounterVec
	normalizations   *prometheus.CounterVec
	normalizeLatency prometheus.Histogram
	validationErrors *prometheus.CounterVec
	flashes          *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

var (
	instance *Metrics
	once     sync.Once
)

// Init registers the collectors with registry, or the default registerer when
// registry is nil. Only the first call has any effect.
func Init(registry *prometheus.Registry) {
	once.Do(func() {
		var registerer prometheus.Registerer = prometheus.DefaultRegisterer
		var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
		if registry != nil {
			registerer = registry
			gatherer = registry
		}
		factory := promauto.With(registerer)

		instance = &Metrics{
			actions: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "actions_total",
					Help:      "Total number of crud actions handled",
				},
				[]string{"resource", "action", "outcome"},
			),
			actionDuration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "action_duration_seconds",
					Help:      "Duration of crud actions in seconds",
					Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
				},
				[]string{"resource", "action"},
			),
			events: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "events_dispatched_total",
					Help:      "Total number of crud events dispatched",
				},
				[]string{"event"},
			),
			normalizations: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Subsystem: "public_api",
					Name:      "normalizations_total",
					Help:      "Total number of view variables rewritten for API consumers",
				},
				[]string{"resource", "result"},
			),
			normalizeLatency: factory.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Subsystem: "public_api",
					Name:      "normalize_duration_seconds",
					Help:      "Duration of view variable normalization in seconds",
					Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
				},
			),
			validationErrors: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "validation_errors_total",
					Help:      "Total number of field validation errors",
				},
				[]string{"resource", "field"},
			),
			flashes: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "flash_messages_total",
					Help:      "Total number of flash messages stored",
				},
				[]string{"class"},
			),
			gatherer: gatherer,
		}

		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Total number of errors logged, including sampled-out ones",
		}, func() float64 { return float64(logger.TotalErrors.Load()) })
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_warnings_total",
			Help:      "Total number of warnings logged, including sampled-out ones",
		}, func() float64 { return float64(logger.TotalWarnings.Load()) })
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_slow_requests_total",
			Help:      "Total number of requests slower than the slow request threshold",
		}, func() float64 { return float64(logger.SlowRequests.Load()) })
	})
}

// Get returns the singleton, initializing it with the default registerer if needed
func Get() *Metrics {
	Init(nil)
	return instance
}

// Handler serves the registry the collectors were registered with
func Handler() http.Handler {
	m := Get()
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordAction(resource, action, outcome string, elapsed time.Duration) {
	m.actions.WithLabelValues(resource, action, outcome).Inc()
	m.actionDuration.WithLabelValues(resource, action).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordEvent(event string) {
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordNormalization(resource, result string, elapsed time.Duration) {
	m.normalizations.WithLabelValues(resource, result).Inc()
	m.normalizeLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordValidationError(resource, field string) {
	m.validationErrors.WithLabelValues(resource, field).Inc()
}

func (m *Metrics) RecordFlash(class string) {
	m.flashes.WithLabelValues(class).Inc()
}
