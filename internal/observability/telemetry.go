package observability

import (
	"go.uber.org/zap"
)

const (
	EventFetch = "fetch"
	EventAlarm = "alarm"
)

// TelemetryRecord describes one inbound request or alarm cycle.
type TelemetryRecord struct {
	WebhookID string
	Method    string
	Event     string
	Path      string
	Status    int
}

// Fields returns the record as log fields. The order is part of the
// downstream contract: new fields may only be appended.
func (r TelemetryRecord) Fields() []zap.Field {
	return []zap.Field{
		zap.String("webhookId", r.WebhookID),
		zap.String("method", r.Method),
		zap.String("event", r.Event),
		zap.String("path", r.Path),
		zap.Int("status", r.Status),
	}
}

// Telemetry is a fire-and-forget sink for TelemetryRecords.
type Telemetry struct {
	logger  *zap.Logger
	metrics *Metrics
}

func NewTelemetry(logger *zap.Logger, metrics *Metrics) *Telemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telemetry{
		logger:  logger.Named("telemetry"),
		metrics: metrics,
	}
}

func (t *Telemetry) Send(record TelemetryRecord) {
	if t == nil {
		return
	}
	t.logger.Info("telemetry", record.Fields()...)
	t.metrics.incTelemetryRecord(record.Event, record.Status)
}
