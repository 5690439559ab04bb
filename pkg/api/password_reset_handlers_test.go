package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elbethel/academy/pkg/rbac"
)

func TestPasswordReset_FullFlow(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("sam", rbac.RoleStudent)
	anon := h.anonymous()

	status, body := anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "SAM@school.edu"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, resetRequestedMessage, body["message"])
	require.Equal(t, 1, h.outbox.count())
	token := h.outbox.lastResetToken(t)

	status, body = anon.do(http.MethodGet, "/api/auth/verify-reset-token/"+token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "sam@school.edu", body["email"])

	status, body = anon.do(http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token": token, "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Password must be at least 8 characters long", body["error"])

	status, body = anon.do(http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token": token, "password": "brand-new-pass",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Password has been reset successfully", body["message"])
	assert.Equal(t, true, body["success"])

	t.Run("old password no longer works", func(t *testing.T) {
		status, body := h.anonymous().do(http.MethodPost, "/auth/signin/credentials", map[string]string{
			"username": "sam", "password": testPassword,
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "Invalid credentials", body["error"])

		status, _ = h.anonymous().do(http.MethodPost, "/auth/signin/credentials", map[string]string{
			"username": "sam", "password": "brand-new-pass",
		})
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("token is single use", func(t *testing.T) {
		status, body := anon.do(http.MethodPost, "/api/auth/reset-password", map[string]string{
			"token": token, "password": "another-pass",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid or expired reset token", body["error"])
		assert.Equal(t, "Please request a new password reset", body["message"])

		status, body = anon.do(http.MethodGet, "/api/auth/verify-reset-token/"+token, nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, false, body["valid"])
	})
}

func TestPasswordReset_UnknownEmailLooksTheSame(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	anon := h.anonymous()

	status, body := anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "nobody@school.edu"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, resetRequestedMessage, body["message"])
	assert.Zero(t, h.outbox.count())

	status, body = anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email is required", body["error"])

	status, body = anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Please provide a valid email address", body["error"])
}

func TestPasswordReset_CooldownHiddenByDefault(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("sam", rbac.RoleStudent)
	anon := h.anonymous()

	for i := 0; i < 2; i++ {
		status, body := anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "sam@school.edu"})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, resetRequestedMessage, body["message"])
	}
	assert.Equal(t, 1, h.outbox.count(), "the cooldown suppresses the second email")

	h.advance(3 * time.Minute)
	status, _ := anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "sam@school.edu"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, h.outbox.count())
}

func TestPasswordReset_CooldownSurfaced(t *testing.T) {
	h := newHarness(t, harnessOptions{surfaceResetRateLimit: true})
	h.seed("sam", rbac.RoleStudent)
	anon := h.anonymous()

	status, _ := anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "sam@school.edu"})
	require.Equal(t, http.StatusOK, status)

	status, body := anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "sam@school.edu"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Please wait before requesting another password reset", body["error"])
	assert.Equal(t, "You can request a new password reset in a few minutes", body["message"])
}

func TestPasswordReset_DeliveryFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("sam", rbac.RoleStudent)
	h.outbox.set(false, "smtp down")

	status, body := h.anonymous().do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "sam@school.edu"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to send password reset email", body["error"])
	assert.Equal(t, "Please try again later or contact support", body["message"])
	assert.False(t, strings.Contains(body["message"].(string), "smtp down"))
}

func TestPasswordReset_PerIPRateLimit(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	anon := h.anonymous()

	// PasswordResetRateLimitConfig admits five requests per window
	for i := 0; i < 5; i++ {
		status, _ := anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "nobody@school.edu"})
		require.Equal(t, http.StatusOK, status)
	}

	status, body := anon.do(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "nobody@school.edu"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Too many requests", body["error"])
	assert.NotZero(t, body["retryAfter"])
}

func TestPasswordReset_VerifyMalformedToken(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	status, body := h.anonymous().do(http.MethodGet, "/api/auth/verify-reset-token/not-a-token", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid or expired reset token", body["error"])
	assert.Equal(t, false, body["valid"])
}
