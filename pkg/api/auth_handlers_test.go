package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elbethel/academy/pkg/rbac"
)

func TestSignIn(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("tess", rbac.RoleTeacher)

	tests := []struct {
		name       string
		payload    map[string]string
		wantStatus int
		wantError  string
	}{
		{"missing password", map[string]string{"username": "tess"}, http.StatusBadRequest, "Username and password are required"},
		{"unknown user", map[string]string{"username": "ghost", "password": "x"}, http.StatusUnauthorized, "Invalid credentials"},
		{"wrong password", map[string]string{"username": "tess", "password": "wrong"}, http.StatusUnauthorized, "Invalid credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := h.anonymous().do(http.MethodPost, "/auth/signin/credentials", tt.payload)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantError, body["error"])
		})
	}

	t.Run("success", func(t *testing.T) {
		c := h.anonymous()
		status, body := c.do(http.MethodPost, "/auth/signin/credentials", map[string]string{
			"username": "tess", "password": testPassword,
		})
		require.Equal(t, http.StatusOK, status)
		user := body["user"].(map[string]interface{})
		assert.Equal(t, "tess", user["username"])
		assert.Equal(t, "teacher", user["role"])
		assert.NotContains(t, user, "password")
	})
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("tess", rbac.RoleTeacher)

	anon := h.anonymous()
	status, body := anon.do(http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, body["user"])

	c := h.signedIn("tess")
	_, body = c.do(http.MethodGet, "/auth/session", nil)
	assert.Equal(t, "tess", body["user"].(map[string]interface{})["username"])

	status, body = c.do(http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "This is your profile data", body["message"])

	status, body = c.do(http.MethodPost, "/auth/signout", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Signed out successfully", body["message"])

	_, body = c.do(http.MethodGet, "/auth/session", nil)
	assert.Nil(t, body["user"])

	status, _ = c.do(http.MethodGet, "/api/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRegister(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("taken", rbac.RoleStudent)
	c := h.anonymous()

	status, body := c.do(http.MethodPost, "/auth/register", map[string]string{
		"username": "newbie", "email": "newbie@school.edu", "password": testPassword, "name": "New Bie",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "User created successfully", body["message"])
	assert.Equal(t, "guest", body["user"].(map[string]interface{})["role"])

	// registration signs the caller in
	_, body = c.do(http.MethodGet, "/auth/session", nil)
	assert.Equal(t, "newbie", body["user"].(map[string]interface{})["username"])

	status, body = h.anonymous().do(http.MethodPost, "/auth/register", map[string]string{
		"username": "taken", "email": "other@school.edu", "password": testPassword, "name": "Dup",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "User with this username or email already exists", body["error"])

	status, body = h.anonymous().do(http.MethodPost, "/auth/register", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Username, email, password, and name are required", body["error"])
}

func TestSignIn_RateLimited(t *testing.T) {
	h := newHarness(t, harnessOptions{signInLimit: 2})
	c := h.anonymous()

	for i := 0; i < 2; i++ {
		status, _ := c.do(http.MethodPost, "/auth/signin/credentials", map[string]string{"username": "a", "password": "b"})
		assert.Equal(t, http.StatusUnauthorized, status)
	}

	status, body := c.do(http.MethodPost, "/auth/signin/credentials", map[string]string{"username": "a", "password": "b"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Too many requests", body["error"])
}

func TestSignIn_RateLimitIgnoresForwardedFor(t *testing.T) {
	h := newHarness(t, harnessOptions{signInLimit: 2})

	limited := 0
	for i := 0; i < 20; i++ {
		req, err := http.NewRequest(http.MethodPost, h.server.URL+"/auth/signin/credentials",
			strings.NewReader(`{"username":"a","password":"b"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 18, limited)
}

func TestMalformedJSON(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/auth/signin/credentials", strings.NewReader("{not json"))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
