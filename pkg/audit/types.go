package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeSignIn       EventType = "auth.signin"
	EventTypeSignInFailed EventType = "auth.signin_failed"
	EventTypeSignOut      EventType = "auth.signout"
	EventTypeRegister     EventType = "auth.register"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"

	// Invitation lifecycle
	EventTypeInvitationCreate EventType = "invitation.create"
	EventTypeInvitationAccept EventType = "invitation.accept"
	EventTypeInvitationCancel EventType = "invitation.cancel"

	// Password reset lifecycle
	EventTypeResetRequest  EventType = "password_reset.request"
	EventTypeResetCooldown EventType = "password_reset.cooldown"
	EventTypeResetComplete EventType = "password_reset.complete"

	// Admin events
	EventTypeUserActivate   EventType = "admin.user_activate"
	EventTypeUserDeactivate EventType = "admin.user_deactivate"
	EventTypeBootstrap      EventType = "admin.bootstrap"

	// Maintenance
	EventTypeReclaim EventType = "system.reclaim"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// TargetType represents the type of record an event acted on
type TargetType string

const (
	TargetTypeUser          TargetType = "user"
	TargetTypeInvitation    TargetType = "invitation"
	TargetTypePasswordReset TargetType = "password_reset"
	TargetTypeRoute         TargetType = "route"
)

// Event represents a single audit log entry
type Event struct {
	ID         string      `json:"id"`
	OccurredAt time.Time   `json:"occurredAt"`
	Type       EventType   `json:"eventType"`
	Status     EventStatus `json:"status"`

	// Actor information
	ActorID   string `json:"actorId,omitempty"`
	ActorRole string `json:"actorRole,omitempty"`

	// Target information
	TargetType TargetType `json:"targetType,omitempty"`
	TargetID   string     `json:"targetId,omitempty"`

	// Request context
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	RequestID string `json:"requestId,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter narrows an audit search. Zero values match everything.
type SearchFilter struct {
	Since *time.Time
	Until *time.Time

	ActorID  string
	TargetID string

	EventTypes []EventType
	Status     EventStatus

	// Limit defaults to 100 and is capped at 1000
	Limit  int
	Offset int
}

// DefaultRetention is how long audit events are kept before reclamation
const DefaultRetention = 90 * 24 * time.Hour
