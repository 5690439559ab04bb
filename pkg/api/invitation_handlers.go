package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/httputil"
	"github.com/elbethel/academy/pkg/invitations"
	"github.com/elbethel/academy/pkg/middleware"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/rbac"
	"github.com/elbethel/academy/pkg/validation"
)

// InvitationHandlers exposes the invitation lifecycle over HTTP
type InvitationHandlers struct {
	manager *invitations.Manager
	email   EmailService
	logger  *observability.Logger
}

// RegisterRoutes registers invitation routes
func (h *InvitationHandlers) RegisterRoutes(router *mux.Router, authz *middleware.Authorizer) {
	invite := authz.RequirePermission(rbac.PermInviteUsers)
	read := authz.RequirePermission(rbac.PermReadUser)
	remove := authz.RequirePermission(rbac.PermDeleteUser)

	router.Handle("/api/invitations", invite(http.HandlerFunc(h.create))).Methods(http.MethodPost)
	router.Handle("/api/invitations", read(http.HandlerFunc(h.list))).Methods(http.MethodGet)
	router.Handle("/api/invitations/stats", read(http.HandlerFunc(h.stats))).Methods(http.MethodGet)
	router.Handle("/api/invitations/test-email", invite(http.HandlerFunc(h.testEmail))).Methods(http.MethodPost)
	router.Handle("/api/invitations/email-status", invite(http.HandlerFunc(h.emailStatus))).Methods(http.MethodGet)

	router.HandleFunc("/api/invitations/token/{token}", h.fetchByToken).Methods(http.MethodGet)
	router.HandleFunc("/api/invitations/token/{token}/accept", h.accept).Methods(http.MethodPost)

	router.Handle("/api/invitations/{id}", remove(http.HandlerFunc(h.cancel))).Methods(http.MethodDelete)
}

// invitationView is an invitation as shown to its issuers. The link is only
// present on a freshly created invitation, the one time the raw token is known.
type invitationView struct {
	ID             string              `json:"id"`
	Email          string              `json:"email"`
	Role           rbac.Role           `json:"role"`
	InvitedBy      invitations.Inviter `json:"invitedBy"`
	ExpiresAt      time.Time           `json:"expiresAt"`
	CreatedAt      time.Time           `json:"createdAt"`
	InvitationLink string              `json:"invitationLink,omitempty"`
}

func (h *InvitationHandlers) view(inv *invitations.Invitation) invitationView {
	v := invitationView{
		ID:        inv.ID,
		Email:     inv.Email,
		Role:      inv.Role,
		InvitedBy: inv.Inviter,
		ExpiresAt: inv.ExpiresAt,
		CreatedAt: inv.CreatedAt,
	}
	if inv.Token != "" {
		v.InvitationLink = h.email.InvitationLink(inv.Token)
	}
	return v
}

type createdInvitation struct {
	invitationView
	EmailSent  bool   `json:"emailSent"`
	EmailError string `json:"emailError,omitempty"`
}

// create handles POST /api/invitations
func (h *InvitationHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req invitations.CreateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	result, err := h.manager.Create(r.Context(), middleware.GetIdentity(r), req)
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	view := h.view(result.Invitation)
	view.InvitationLink = result.Link

	message := "Invitation created and email sent successfully"
	var emailError string
	switch {
	case result.EmailSent:
	case result.EmailError != "" && result.EmailAttempted:
		observability.FromContextOr(r.Context(), h.logger).
			WithField("invitation_id", result.Invitation.ID).
			WithField("error", result.EmailError).
			Warn("Invitation email failed")
		emailError = errEmailDeliveryFailed
		message = "Invitation created successfully (email failed)"
	default:
		message = "Invitation created successfully (email not configured)"
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": message,
		"invitation": createdInvitation{
			invitationView: view,
			EmailSent:      result.EmailSent,
			EmailError:     emailError,
		},
	})
}

// list handles GET /api/invitations
func (h *InvitationHandlers) list(w http.ResponseWriter, r *http.Request) {
	pending, err := h.manager.List(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	views := make([]invitationView, 0, len(pending))
	for _, inv := range pending {
		views = append(views, h.view(inv))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"invitations": views,
		"count":       len(views),
	})
}

// stats handles GET /api/invitations/stats
func (h *InvitationHandlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// fetchByToken handles GET /api/invitations/token/{token}
func (h *InvitationHandlers) fetchByToken(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.FetchByToken(r.Context(), httputil.PathVar(r, "token"))
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// accept handles POST /api/invitations/token/{token}/accept
func (h *InvitationHandlers) accept(w http.ResponseWriter, r *http.Request) {
	var req invitations.AcceptRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	user, err := h.manager.Accept(r.Context(), httputil.PathVar(r, "token"), req)
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Account created successfully",
		"user":    user,
	})
}

// cancel handles DELETE /api/invitations/{id}
func (h *InvitationHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Cancel(r.Context(), middleware.GetIdentity(r), httputil.PathVar(r, "id")); err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "Invitation cancelled successfully")
}

var errEmailNotConfigured = apperrors.Validation("Email service is not configured").
	WithDetail("Please configure email settings in environment variables")

// errEmailDeliveryFailed replaces transport errors in responses; the cause is logged
const errEmailDeliveryFailed = "Email delivery failed"

// testEmail handles POST /api/invitations/test-email
func (h *InvitationHandlers) testEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	if req.Email == "" {
		httputil.WriteAppError(w, r, h.logger, apperrors.Validation("Email address is required"))
		return
	}
	if !validation.IsEmail(req.Email) {
		httputil.WriteAppError(w, r, h.logger, invitations.ErrInvalidEmail)
		return
	}
	if !h.email.Enabled() {
		httputil.WriteAppError(w, r, h.logger, errEmailNotConfigured)
		return
	}

	result := h.email.SendTest(r.Context(), req.Email)
	if !result.Success {
		observability.FromContextOr(r.Context(), h.logger).
			WithField("error", result.Error).
			Warn("Test email failed")
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to send test email",
			"details": "Check the mail server settings; the cause is in the server log",
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Test email sent successfully",
		"email":     req.Email,
		"messageId": result.MessageID,
	})
}

// emailStatus handles GET /api/invitations/email-status
func (h *InvitationHandlers) emailStatus(w http.ResponseWriter, r *http.Request) {
	status := h.email.Status()
	message := "Email service is not configured"
	if status.Enabled {
		message = "Email service is configured and ready"
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":     status.Enabled,
		"configured":  status.Configured,
		"fromAddress": status.FromAddress,
		"fromName":    status.FromName,
		"message":     message,
	})
}
