package aggregates

import (
	"strings"
	"time"

	"github.com/yungbote/videoqueue-backend/internal/observability"
)

// Hooks captures aggregate-level observability events. IncRetry fires once per
// rerun of a write transaction, IncConflict once per write that ends in a
// conflict (in-flight project, claimed head, duplicate clip).
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}

type observabilityHooks struct {
	metrics *observability.Metrics
}

// NewObservabilityHooks creates aggregate hooks backed by the metrics registry.
func NewObservabilityHooks(metrics *observability.Metrics) Hooks {
	if metrics == nil {
		return noopHooks{}
	}
	return &observabilityHooks{metrics: metrics}
}

func (h *observabilityHooks) ObserveOperation(name, status string, dur time.Duration) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.ObserveAggregateOperation(opLabel(name), strings.TrimSpace(status), dur)
}

func (h *observabilityHooks) IncConflict(name string) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.IncAggregateConflict(opLabel(name))
}

func (h *observabilityHooks) IncRetry(name string) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.IncAggregateRetry(opLabel(name))
}

// opLabel folds a blank operation name into the default write label.
func opLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "aggregate.write"
	}
	return name
}
