package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/httputil"
	"github.com/elbethel/academy/pkg/middleware"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/passwordreset"
)

// resetRequestedMessage is returned whether or not the account exists
const resetRequestedMessage = "If an account with that email exists, you will receive a password reset link shortly"

// PasswordResetHandlers exposes the password reset flow over HTTP
type PasswordResetHandlers struct {
	manager          *passwordreset.Manager
	limiter          *middleware.RateLimiter
	metrics          *observability.Metrics
	logger           *observability.Logger
	surfaceRateLimit bool
}

// RegisterRoutes registers password reset routes
func (h *PasswordResetHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/auth/forgot-password",
		rateLimited(h.limiter, "password_reset", h.metrics, h.logger, http.HandlerFunc(h.forgotPassword))).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/reset-password", h.resetPassword).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/verify-reset-token/{token}", h.verifyToken).Methods(http.MethodGet)
}

// forgotPassword handles POST /api/auth/forgot-password
func (h *PasswordResetHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	err := h.manager.RequestReset(r.Context(), req.Email, auth.ClientInfoFromRequest(r))
	if errors.Is(err, passwordreset.ErrResetCooldown) && !h.surfaceRateLimit {
		observability.FromContextOr(r.Context(), h.logger).Info("Password reset cooldown active, answering generically")
		err = nil
	}
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, resetRequestedMessage)
}

// resetPassword handles POST /api/auth/reset-password
func (h *PasswordResetHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	if err := h.manager.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Password has been reset successfully",
		"success": true,
	})
}

// verifyToken handles GET /api/auth/verify-reset-token/{token}
func (h *PasswordResetHandlers) verifyToken(w http.ResponseWriter, r *http.Request) {
	verification, err := h.manager.VerifyToken(r.Context(), httputil.PathVar(r, "token"))
	if err != nil {
		appErr, ok := apperrors.As(err)
		if !ok || appErr.Kind == apperrors.KindDependency {
			httputil.WriteAppError(w, r, h.logger, err)
			return
		}
		body := httputil.ErrorBody(appErr)
		body["valid"] = false
		httputil.WriteJSON(w, appErr.Status(), body)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verification)
}
