package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), 0)
	assert.Equal(t, 30*time.Second, sm.timeout)

	var order []string
	for _, name := range []string{"database", "redis", "http"} {
		name := name
		sm.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"http", "redis", "database"}, order)
}

func TestShutdownManager_JoinsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)
	ran := false
	sm.Register("first", func(context.Context) error { ran = true; return nil })
	sm.Register("broken", func(context.Context) error { return errors.New("boom") })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: boom")
	assert.True(t, ran)
}

func TestShutdownManager_DeadlinePropagates(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), 10*time.Millisecond)
	sm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := sm.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
