package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/httputil"
	"github.com/elbethel/academy/pkg/middleware"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/users"
)

// AdminHandlers serves user administration and the audit trail
type AdminHandlers struct {
	directory *users.Directory
	sessions  *auth.SessionManager
	audit     audit.Logger
	search    AuditSearcher
	logger    *observability.Logger
}

// RegisterRoutes registers admin routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router, authz *middleware.Authorizer) {
	router.Handle("/api/admin/users", authz.RequireAdmin()(http.HandlerFunc(h.listUsers))).Methods(http.MethodGet)
	router.Handle("/api/admin/users/{id}/activate",
		authz.RequireSuperAdmin()(http.HandlerFunc(h.setActive(true)))).Methods(http.MethodPost)
	router.Handle("/api/admin/users/{id}/deactivate",
		authz.RequireSuperAdmin()(http.HandlerFunc(h.setActive(false)))).Methods(http.MethodPost)

	if h.search != nil {
		router.Handle("/api/admin/audit", authz.RequireSuperAdmin()(http.HandlerFunc(h.searchAudit))).Methods(http.MethodGet)
	}
}

// listUsers handles GET /api/admin/users
func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	all, err := h.directory.List(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, apperrors.Dependency("Failed to fetch users", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users":   all,
		"message": "Admin access: All users list",
	})
}

// setActive handles POST /api/admin/users/{id}/activate and /deactivate
func (h *AdminHandlers) setActive(active bool) http.HandlerFunc {
	eventType, verb := audit.EventTypeUserDeactivate, "deactivated"
	if active {
		eventType, verb = audit.EventTypeUserActivate, "activated"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		actor := middleware.GetIdentity(r)
		id := httputil.PathVar(r, "id")

		user, err := h.directory.SetActive(r.Context(), actor, id, active)
		if err != nil {
			if _, ok := apperrors.As(err); !ok {
				err = apperrors.Dependency("Failed to update user", err)
			}
			httputil.WriteAppError(w, r, h.logger, err)
			return
		}

		// the next request from that user must see the new flag
		h.sessions.Invalidate(user.ID)

		if err := h.audit.Log(r.Context(), audit.NewEvent(r.Context(), eventType, audit.EventStatusSuccess).
			WithActor(actor).
			WithTarget(audit.TargetTypeUser, user.ID).
			WithClient(auth.ClientInfoFromRequest(r))); err != nil {
			observability.FromContextOr(r.Context(), h.logger).WithError(err).Warn("Failed to record audit event")
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"message": "User " + verb + " successfully",
			"user":    user,
		})
	}
}

// searchAudit handles GET /api/admin/audit
func (h *AdminHandlers) searchAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, err)
		return
	}

	events, err := h.search.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, h.logger, apperrors.Dependency("Failed to search audit events", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func parseAuditFilter(r *http.Request) (audit.SearchFilter, error) {
	q := r.URL.Query()
	filter := audit.SearchFilter{
		ActorID:  q.Get("actorId"),
		TargetID: q.Get("targetId"),
		Status:   audit.EventStatus(q.Get("status")),
	}

	if types := q.Get("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
			}
		}
	}

	for key, into := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperrors.Validation("Invalid " + key + " timestamp").WithDetail("Use RFC 3339, e.g. 2026-01-02T15:04:05Z")
		}
		*into = &t
	}

	var err error
	if filter.Limit, err = httputil.QueryInt(r, "limit", 100); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.QueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}
