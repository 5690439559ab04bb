package audit

import (
	"context"

	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records event. ID and OccurredAt are filled in when empty.
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events
	Close() error
}

// NewEvent creates an event carrying the request ID and, when the request is
// authenticated, the acting user from ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Type:      eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		ActorID:   contextkeys.GetUserID(ctx),
		Metadata:  make(map[string]interface{}),
	}
	if identity, ok := ctx.Value(contextkeys.IdentityKey).(*auth.Identity); ok && identity != nil {
		event.ActorID = identity.ID
		event.ActorRole = string(identity.Role)
	}
	return event
}

// WithActor sets the acting user explicitly, for events raised before a session exists
func (e *Event) WithActor(identity *auth.Identity) *Event {
	if identity != nil {
		e.ActorID = identity.ID
		e.ActorRole = string(identity.Role)
	}
	return e
}

// WithTarget records what the event acted on
func (e *Event) WithTarget(targetType TargetType, id string) *Event {
	e.TargetType = targetType
	e.TargetID = id
	return e
}

// WithClient records where the request came from
func (e *Event) WithClient(client auth.ClientInfo) *Event {
	e.IPAddress = client.IPAddress
	e.UserAgent = client.UserAgent
	return e
}

// WithMessage sets the human-readable summary
func (e *Event) WithMessage(message string) *Event {
	e.Message = message
	return e
}

// With adds one metadata entry
func (e *Event) With(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Nop returns a logger that discards every event
func Nop() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *Event) error { return nil }

func (noOpLogger) Close() error { return nil }
