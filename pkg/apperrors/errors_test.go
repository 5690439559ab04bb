package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindConflict, http.StatusBadRequest},
		{KindAuthentication, http.StatusUnauthorized},
		{KindAuthorization, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindRateLimit, http.StatusTooManyRequests},
		{KindDependency, http.StatusInternalServerError},
		{Kind("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.kind))
		})
	}
}

func TestErrorIs(t *testing.T) {
	sentinel := NotFound("Invitation not found")

	t.Run("wrapped sentinel matches", func(t *testing.T) {
		err := fmt.Errorf("cancel: %w", sentinel)
		assert.True(t, errors.Is(err, sentinel))
	})

	t.Run("copy with detail still matches", func(t *testing.T) {
		assert.True(t, errors.Is(sentinel.WithDetail("gone"), sentinel))
	})

	t.Run("different message does not match", func(t *testing.T) {
		assert.False(t, errors.Is(NotFound("User not found"), sentinel))
	})
}

func TestWithField(t *testing.T) {
	base := Authorization("You don't have permission to assign this role")
	withRoles := base.WithField("invitableRoles", []string{"guest"})

	assert.Nil(t, base.Fields, "original must not be mutated")
	assert.Equal(t, []string{"guest"}, withRoles.Fields["invitableRoles"])
	assert.Equal(t, http.StatusForbidden, withRoles.Status())
}

func TestDependencyUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Dependency("failed to load invitation", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindDependency, KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("x: %w", Validation("bad"))))
	assert.Equal(t, KindDependency, KindOf(errors.New("plain")))
}
