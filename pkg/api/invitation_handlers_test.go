package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elbethel/academy/pkg/rbac"
)

func createInvitation(t *testing.T, c *client, email string, role rbac.Role) (string, map[string]interface{}) {
	t.Helper()
	status, body := c.do(http.MethodPost, "/api/invitations", map[string]string{"email": email, "role": string(role)})
	require.Equal(t, http.StatusCreated, status, body)
	invitation := body["invitation"].(map[string]interface{})
	link := invitation["invitationLink"].(string)
	return link[strings.LastIndex(link, "/")+1:], body
}

func TestInvitations_AdminInvitesTeacher(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("ada", rbac.RoleAdmin)
	admin := h.signedIn("ada")

	token, body := createInvitation(t, admin, "New.Teacher@School.edu", rbac.RoleTeacher)

	assert.Equal(t, "Invitation created and email sent successfully", body["message"])
	invitation := body["invitation"].(map[string]interface{})
	assert.Equal(t, "new.teacher@school.edu", invitation["email"])
	assert.Equal(t, "teacher", invitation["role"])
	assert.Equal(t, true, invitation["emailSent"])
	assert.Equal(t, "http://front.test/invite/"+token, invitation["invitationLink"])
	assert.NotContains(t, invitation, "token")
	assert.Len(t, token, 64)
	assert.Equal(t, 1, h.outbox.count())

	t.Run("duplicate pending invitation", func(t *testing.T) {
		status, body := admin.do(http.MethodPost, "/api/invitations", map[string]string{
			"email": "new.teacher@school.edu", "role": "teacher",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "An invitation for this email and role already exists", body["error"])
	})

	t.Run("role beyond the issuer", func(t *testing.T) {
		status, body := admin.do(http.MethodPost, "/api/invitations", map[string]string{
			"email": "boss@school.edu", "role": "super_admin",
		})
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "You don't have permission to assign this role", body["error"])
		assert.ElementsMatch(t, []interface{}{"moderator", "teacher", "student", "guest"}, body["invitableRoles"])
	})

	t.Run("unknown role", func(t *testing.T) {
		status, body := admin.do(http.MethodPost, "/api/invitations", map[string]string{
			"email": "x@school.edu", "role": "janitor",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Len(t, body["availableRoles"], 6)
	})

	t.Run("list and stats", func(t *testing.T) {
		status, body := admin.do(http.MethodGet, "/api/invitations", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(1), body["count"])
		listed := body["invitations"].([]interface{})[0].(map[string]interface{})
		assert.NotContains(t, listed, "invitationLink", "only the hash is stored")
		assert.Equal(t, "ada", listed["invitedBy"].(map[string]interface{})["name"])

		status, body = admin.do(http.MethodGet, "/api/invitations/stats", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, map[string]interface{}{
			"total": float64(1), "pending": float64(1), "used": float64(0), "expired": float64(0),
		}, body)
	})
}

func TestInvitations_TeacherCannotInvite(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("tess", rbac.RoleTeacher)
	teacher := h.signedIn("tess")

	status, body := teacher.do(http.MethodPost, "/api/invitations", map[string]string{
		"email": "pupil@school.edu", "role": "student",
	})

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Insufficient permissions", body["error"])
	assert.Equal(t, "invite_users", body["required"])
	assert.Equal(t, "teacher", body["userRole"])
	assert.Zero(t, h.outbox.count())

	// teachers may still read invitations
	status, _ = teacher.do(http.MethodGet, "/api/invitations", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestInvitations_RequireSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	anon := h.anonymous()

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/invitations"},
		{http.MethodGet, "/api/invitations"},
		{http.MethodGet, "/api/invitations/stats"},
		{http.MethodDelete, "/api/invitations/some-id"},
		{http.MethodGet, "/api/invitations/email-status"},
	} {
		status, body := anon.do(route.method, route.path, nil)
		assert.Equal(t, http.StatusUnauthorized, status, route.path)
		assert.Equal(t, "Authentication required", body["error"], route.path)
	}
}

func TestInvitations_AcceptFlow(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("root", rbac.RoleSuperAdmin)
	root := h.signedIn("root")
	token, _ := createInvitation(t, root, "mod@school.edu", rbac.RoleModerator)

	anon := h.anonymous()
	status, body := anon.do(http.MethodGet, "/api/invitations/token/"+token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "mod@school.edu", body["email"])
	assert.Equal(t, "moderator", body["role"])
	assert.Equal(t, token, body["token"])

	status, body = anon.do(http.MethodPost, "/api/invitations/token/"+token+"/accept", map[string]string{
		"username": "moddy", "password": "short", "name": "Mo",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Password must be at least 6 characters long", body["error"])

	status, body = anon.do(http.MethodPost, "/api/invitations/token/"+token+"/accept", map[string]string{
		"username": "moddy", "password": testPassword, "name": "Mo",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "Account created successfully", body["message"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "moderator", user["role"])
	assert.Equal(t, "mod@school.edu", user["email"])
	assert.Equal(t, true, user["isActive"])
	assert.NotContains(t, user, "password")

	t.Run("token is single use", func(t *testing.T) {
		status, body := anon.do(http.MethodPost, "/api/invitations/token/"+token+"/accept", map[string]string{
			"username": "moddy2", "password": testPassword, "name": "Mo",
		})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "Invalid or expired invitation", body["error"])
		assert.Equal(t, "This invitation link is no longer valid", body["message"])

		status, _ = anon.do(http.MethodGet, "/api/invitations/token/"+token, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("new account can sign in", func(t *testing.T) {
		moddy := h.signedIn("moddy")
		status, body := moddy.do(http.MethodGet, "/auth/session", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "moderator", body["user"].(map[string]interface{})["role"])
	})

	t.Run("stats count the accepted invitation", func(t *testing.T) {
		_, body := root.do(http.MethodGet, "/api/invitations/stats", nil)
		assert.Equal(t, float64(1), body["used"])
		assert.Equal(t, float64(0), body["pending"])
	})
}

func TestInvitations_ExpiredToken(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("root", rbac.RoleSuperAdmin)
	token, _ := createInvitation(t, h.signedIn("root"), "late@school.edu", rbac.RoleStudent)

	h.advance(8 * 24 * time.Hour)

	status, body := h.anonymous().do(http.MethodGet, "/api/invitations/token/"+token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Invalid or expired invitation", body["error"])
}

func TestInvitations_Cancel(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("ada", rbac.RoleAdmin)
	h.seed("ben", rbac.RoleAdmin)
	ada := h.signedIn("ada")
	ben := h.signedIn("ben")

	createInvitation(t, ada, "kid@school.edu", rbac.RoleStudent)
	_, body := ada.do(http.MethodGet, "/api/invitations", nil)
	id := body["invitations"].([]interface{})[0].(map[string]interface{})["id"].(string)

	status, body := ben.do(http.MethodDelete, "/api/invitations/"+id, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "You can only cancel invitations you created", body["error"])

	status, body = ada.do(http.MethodDelete, "/api/invitations/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Invitation cancelled successfully", body["message"])

	status, body = ada.do(http.MethodDelete, "/api/invitations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Invitation not found", body["error"])
}

func TestInvitations_DegradedEmail(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("ada", rbac.RoleAdmin)
	admin := h.signedIn("ada")

	h.outbox.set(false, "connection refused")
	_, body := createInvitation(t, admin, "a@school.edu", rbac.RoleStudent)
	assert.Equal(t, "Invitation created successfully (email failed)", body["message"])
	invitation := body["invitation"].(map[string]interface{})
	assert.Equal(t, false, invitation["emailSent"])
	assert.Equal(t, "Email delivery failed", invitation["emailError"])
	assert.NotContains(t, fmt.Sprint(body), "connection refused")

	h.outbox.set(true, "")
	_, body = createInvitation(t, admin, "b@school.edu", rbac.RoleStudent)
	assert.Equal(t, "Invitation created successfully (email not configured)", body["message"])
	assert.NotContains(t, body["invitation"], "emailError")
}

func TestInvitations_EmailAdministration(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.seed("ada", rbac.RoleAdmin)
	admin := h.signedIn("ada")

	status, body := admin.do(http.MethodGet, "/api/invitations/email-status", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, "noreply@school.edu", body["fromAddress"])
	assert.Equal(t, "Email service is configured and ready", body["message"])

	status, body = admin.do(http.MethodPost, "/api/invitations/test-email", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email address is required", body["error"])

	status, body = admin.do(http.MethodPost, "/api/invitations/test-email", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Please provide a valid email address", body["error"])

	status, body = admin.do(http.MethodPost, "/api/invitations/test-email", map[string]string{"email": "ops@school.edu"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Test email sent successfully", body["message"])
	assert.Equal(t, "<msg@school.edu>", body["messageId"])

	h.outbox.set(false, "535 auth failed")
	status, body = admin.do(http.MethodPost, "/api/invitations/test-email", map[string]string{"email": "ops@school.edu"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to send test email", body["error"])
	assert.NotContains(t, fmt.Sprint(body), "535")
	assert.Contains(t, body["details"], "server log")

	h.outbox.set(true, "")
	status, body = admin.do(http.MethodPost, "/api/invitations/test-email", map[string]string{"email": "ops@school.edu"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email service is not configured", body["error"])
	assert.Equal(t, "Please configure email settings in environment variables", body["message"])

	_, body = admin.do(http.MethodGet, "/api/invitations/email-status", nil)
	assert.Equal(t, "Email service is not configured", body["message"])
}
