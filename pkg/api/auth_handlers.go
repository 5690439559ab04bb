package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/httputil"
	"github.com/elbethel/academy/pkg/middleware"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/users"
)

// AuthHandlers handles sign-in, sign-out, session and registration requests
type AuthHandlers struct {
	sessions  *auth.SessionManager
	directory *users.Directory
	audit     audit.Logger
	metrics   *observability.Metrics
	logger    *observability.Logger
	limiter   *middleware.RateLimiter
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, authz *middleware.Authorizer) {
	router.Handle("/auth/signin/credentials",
		rateLimited(h.limiter, "signin", h.metrics, h.logger, http.HandlerFunc(h.signIn))).Methods(http.MethodPost)
	router.HandleFunc("/auth/signout", h.signOut).Methods(http.MethodPost)
	router.HandleFunc("/auth/session", h.session).Methods(http.MethodGet)
	router.Handle("/auth/register",
		rateLimited(h.limiter, "register", h.metrics, h.logger, http.HandlerFunc(h.register))).Methods(http.MethodPost)

	router.Handle("/api/profile", authz.RequireAuth()(http.HandlerFunc(h.profile))).Methods(http.MethodGet)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// signIn handles POST /auth/signin/credentials
func (h *AuthHandlers) signIn(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	client := auth.ClientInfoFromRequest(r)

	user, err := h.directory.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidLogin) {
			h.metrics.RecordSignIn("failed")
			h.record(r, audit.NewEvent(ctx, audit.EventTypeSignInFailed, audit.EventStatusFailure).
				WithClient(client).
				With("username", req.Username))
		}
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	identity := user.Identity()
	if err := h.sessions.Establish(w, r, identity); err != nil {
		httputil.WriteAppError(w, r, h.logger, apperrors.Dependency("Failed to establish session", err))
		return
	}

	h.metrics.RecordSignIn("success")
	h.record(r, audit.NewEvent(ctx, audit.EventTypeSignIn, audit.EventStatusSuccess).
		WithActor(identity).
		WithTarget(audit.TargetTypeUser, identity.ID).
		WithClient(client))

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": identity})
}

// signOut handles POST /auth/signout
func (h *AuthHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	identity, _ := h.sessions.Identity(r)

	if err := h.sessions.Destroy(w, r); err != nil {
		observability.FromContextOr(r.Context(), h.logger).WithError(err).Error("Failed to destroy session")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Could not sign out")
		return
	}

	if identity != nil {
		h.record(r, audit.NewEvent(r.Context(), audit.EventTypeSignOut, audit.EventStatusSuccess).
			WithActor(identity).
			WithClient(auth.ClientInfoFromRequest(r)))
	}
	httputil.WriteMessage(w, http.StatusOK, "Signed out successfully")
}

// session handles GET /auth/session
func (h *AuthHandlers) session(w http.ResponseWriter, r *http.Request) {
	identity, err := h.sessions.Identity(r)
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, apperrors.Dependency("Failed to resolve session", err))
		return
	}
	if identity == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": nil})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": identity})
}

// register handles POST /auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req users.RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	user, err := h.directory.Register(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	identity := user.Identity()
	if err := h.sessions.Establish(w, r, identity); err != nil {
		httputil.WriteAppError(w, r, h.logger, apperrors.Dependency("Failed to establish session", err))
		return
	}

	h.record(r, audit.NewEvent(r.Context(), audit.EventTypeRegister, audit.EventStatusSuccess).
		WithActor(identity).
		WithTarget(audit.TargetTypeUser, identity.ID).
		WithClient(auth.ClientInfoFromRequest(r)))

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    identity,
		"message": "User created successfully",
	})
}

// profile handles GET /api/profile
func (h *AuthHandlers) profile(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user":    middleware.GetIdentity(r),
		"message": "This is your profile data",
	})
}

func (h *AuthHandlers) record(r *http.Request, event *audit.Event) {
	if err := h.audit.Log(r.Context(), event); err != nil {
		observability.FromContextOr(r.Context(), h.logger).WithError(err).
			WithField("event_type", string(event.Type)).
			Warn("Failed to record audit event")
	}
}
