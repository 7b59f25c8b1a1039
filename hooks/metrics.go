package hooks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsHook implements Prometheus metrics collection
type MetricsHook struct {
	actionDuration *prometheus.HistogramVec
	actionTotal    *prometheus.CounterVec
	actionErrors   *prometheus.CounterVec
}

// NewMetricsHook creates a new metrics hook and registers collectors
func NewMetricsHook(registry prometheus.Registerer) (*MetricsHook, error) {
	h := &MetricsHook{
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "connkit_action_duration_seconds",
				Help:    "Duration of connection actions in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),
		actionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connkit_actions_total",
				Help: "Total number of connection actions",
			},
			[]string{"op"},
		),
		actionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connkit_action_errors_total",
				Help: "Total number of failed connection actions",
			},
			[]string{"op"},
		),
	}

	// Register metrics
	collectors := []prometheus.Collector{h.actionDuration, h.actionTotal, h.actionErrors}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			// Check if already registered
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return h, nil
}

// ConnectionAction records metrics for a completed connection action
func (h *MetricsHook) ConnectionAction(ctx context.Context, event Event) {
	h.actionDuration.WithLabelValues(event.Op).Observe(event.Duration.Seconds())
	h.actionTotal.WithLabelValues(event.Op).Inc()

	if event.Err != nil {
		h.actionErrors.WithLabelValues(event.Op).Inc()
	}
}
