package routing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/kafka"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/observability/metrics"
)

// Observer receives advisory status notifications. Statuses carry counts,
// categories and provider names, never original values.
type Observer interface {
	Notify(ctx context.Context, status models.Status)
}

type ObserverFunc func(ctx context.Context, status models.Status)

func (f ObserverFunc) Notify(ctx context.Context, status models.Status) { f(ctx, status) }

// Observers fans a status out to each observer in order.
type Observers []Observer

func (o Observers) Notify(ctx context.Context, status models.Status) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(ctx, status)
		}
	}
}

type NopObserver struct{}

func (NopObserver) Notify(context.Context, models.Status) {}

// LogObserver writes statuses to the process logger.
type LogObserver struct{}

func (LogObserver) Notify(_ context.Context, status models.Status) {
	fields := logrus.Fields{
		"request_id": status.RequestID,
		"operation":  status.Operation,
		"phase":      status.Phase,
	}
	for k, v := range status.Fields {
		fields[k] = v
	}
	entry := logger.WithFields(fields)
	switch Phase(status.Phase) {
	case PhaseFailed:
		entry.Warn(status.Message)
	case PhaseDone, PhaseCancelled:
		entry.Info(status.Message)
	default:
		entry.Debug(status.Message)
	}
}

// Status field names understood by MetricsObserver.
const (
	fieldPath       = "path"
	fieldOutcome    = "outcome"
	fieldProvider   = "provider"
	fieldCount      = "replacements"
	fieldConflicts  = "conflicts"
	fieldExtraction = "extraction"
	categoryPrefix  = "category."
)

// MetricsObserver derives Prometheus counters from statuses.
type MetricsObserver struct{}

func (MetricsObserver) Notify(_ context.Context, status models.Status) {
	switch Phase(status.Phase) {
	case PhaseDone, PhaseFailed, PhaseCancelled:
		metrics.Calls.WithLabelValues(status.Operation, status.Fields[fieldPath], status.Fields[fieldOutcome]).Inc()
	case PhaseRedactingInputs:
		if status.Fields[fieldExtraction] == "unavailable" {
			metrics.ExtractionFailures.Inc()
		}
		for k, v := range status.Fields {
			if !strings.HasPrefix(k, categoryPrefix) {
				continue
			}
			if n, err := strconv.Atoi(v); err == nil {
				metrics.Replacements.WithLabelValues(strings.TrimPrefix(k, categoryPrefix)).Add(float64(n))
			}
		}
		if n, err := strconv.Atoi(status.Fields[fieldConflicts]); err == nil && n > 0 {
			metrics.CombineConflicts.Add(float64(n))
		}
	}
}

// EventPublisher is the part of kafka.Producer used for status events.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event, key string) error
}

// KafkaObserver publishes statuses as events keyed by request ID so the
// statuses of one call stay ordered.
type KafkaObserver struct {
	publisher EventPublisher
	source    string
	timeout   time.Duration
}

func NewKafkaObserver(publisher EventPublisher, source string) *KafkaObserver {
	return &KafkaObserver{publisher: publisher, source: source, timeout: 2 * time.Second}
}

func (k *KafkaObserver) Notify(ctx context.Context, status models.Status) {
	fields := make(map[string]interface{}, len(status.Fields))
	for key, v := range status.Fields {
		fields[key] = v
	}
	event := kafka.NewEvent("status", k.source, map[string]interface{}{
		"request_id": status.RequestID,
		"operation":  status.Operation,
		"phase":      status.Phase,
		"message":    status.Message,
		"fields":     fields,
	}, nil)

	// A cancelled call still reports its terminal status.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()
	if err := k.publisher.Publish(pubCtx, event, status.RequestID); err != nil {
		logger.WithRequest(status.RequestID).WithError(err).Warn("Failed to publish status event")
	}
}
