package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/elbethel/academy/pkg/observability"
)

// StreamLogger writes audit events to the application log as structured
// entries tagged audit=true, so they reach whatever sink collects logs.
type StreamLogger struct {
	logger *observability.Logger
}

// NewStreamLogger creates an audit logger on top of logger
func NewStreamLogger(logger *observability.Logger) *StreamLogger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &StreamLogger{logger: logger.WithField("audit", true)}
}

// Log writes one entry per event. Denied and failed events log at warn level.
func (l *StreamLogger) Log(_ context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	fields := map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"status":     string(event.Status),
	}
	optional := map[string]string{
		"actor_id":    event.ActorID,
		"actor_role":  event.ActorRole,
		"target_type": string(event.TargetType),
		"target_id":   event.TargetID,
		"ip_address":  event.IPAddress,
		"request_id":  event.RequestID,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	message := event.Message
	if message == "" {
		message = string(event.Type)
	}
	if event.Status == EventStatusSuccess {
		entry.Info(message)
	} else {
		entry.Warn(message)
	}
	return nil
}

// Close is a no-op
func (l *StreamLogger) Close() error {
	return nil
}
