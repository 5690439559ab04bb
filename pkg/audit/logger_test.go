package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/contextkeys"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/rbac"
)

func TestNewEvent_FromContext(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-9")
	ctx = contextkeys.WithIdentity(ctx, &auth.Identity{ID: "u-7", Role: rbac.RoleAdmin})

	event := NewEvent(ctx, EventTypeInvitationCancel, EventStatusSuccess).
		WithTarget(TargetTypeInvitation, "inv-3").
		WithClient(auth.ClientInfo{IPAddress: "10.0.0.1", UserAgent: "curl"}).
		WithMessage("cancelled").
		With("email", "a@x.io")

	assert.Equal(t, "req-9", event.RequestID)
	assert.Equal(t, "u-7", event.ActorID)
	assert.Equal(t, "admin", event.ActorRole)
	assert.Equal(t, TargetTypeInvitation, event.TargetType)
	assert.Equal(t, "10.0.0.1", event.IPAddress)
	assert.Equal(t, "a@x.io", event.Metadata["email"])
}

func TestNewEvent_ExplicitActor(t *testing.T) {
	event := NewEvent(context.Background(), EventTypeSignIn, EventStatusSuccess).
		WithActor(&auth.Identity{ID: "u-1", Role: rbac.RoleStudent})
	assert.Equal(t, "u-1", event.ActorID)
	assert.Equal(t, "student", event.ActorRole)

	assert.NoError(t, Nop().Log(context.Background(), event))
}

func TestStreamLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStreamLogger(observability.NewLogger(observability.InfoLevel, &buf))

	event := &Event{Type: EventTypeAccessDenied, Status: EventStatusDenied, ActorID: "u-1", Metadata: map[string]interface{}{"route": "/api/invitations"}}
	require.NoError(t, logger.Log(context.Background(), event))
	assert.NotEmpty(t, event.ID)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, true, entry["audit"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "authz.access_denied", entry["event_type"])
	assert.Equal(t, "u-1", entry["actor_id"])
	assert.Equal(t, "/api/invitations", entry["meta_route"])
	assert.NotContains(t, entry, "target_id")
}

type failingLogger struct {
	logged int
	err    error
}

func (f *failingLogger) Log(context.Context, *Event) error {
	f.logged++
	return f.err
}

func (f *failingLogger) Close() error { return f.err }

func TestMultiLogger_ContinuesPastFailures(t *testing.T) {
	broken := &failingLogger{err: errors.New("db down")}
	healthy := &failingLogger{}
	multi := NewMultiLogger(broken, healthy)

	err := multi.Log(context.Background(), &Event{Type: EventTypeSignOut, Status: EventStatusSuccess})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 1, broken.logged)
	assert.Equal(t, 1, healthy.logged)

	assert.Error(t, multi.Close())
	assert.NoError(t, NewMultiLogger(healthy).Close())
}
