package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics counts journal outcomes by event type.
type EventMetrics struct {
	journaled *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking journaled engine events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			journaled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "events",
				Name:      "journaled_total",
				Help:      "Count of engine events persisted to the journal by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of engine events the journal failed to persist by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.journaled, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordJournaled increments the persisted counter for the event type.
func (m *EventMetrics) RecordJournaled(eventType string) {
	if m == nil {
		return
	}
	m.journaled.WithLabelValues(normalizeType(eventType)).Inc()
}

// RecordDropped increments the failure counter for the event type.
func (m *EventMetrics) RecordDropped(eventType string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeType(eventType)).Inc()
}

func normalizeType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
