package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/contextkeys"
	"github.com/elbethel/academy/pkg/httputil"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/rbac"
)

// IdentitySource resolves the signed-in user of a request. It returns nil
// without error when there is no session. *auth.SessionManager satisfies it.
type IdentitySource interface {
	Identity(r *http.Request) (*auth.Identity, error)
}

var (
	errAuthRequired    = apperrors.Authentication("Authentication required")
	errAccountInactive = apperrors.Authorization("Account is inactive")
)

// Authorizer guards routes by session, permission and role
type Authorizer struct {
	source IdentitySource
	audit  audit.Logger
	logger *observability.Logger
}

// NewAuthorizer creates an authorizer over source. auditLogger may be nil.
func NewAuthorizer(source IdentitySource, auditLogger audit.Logger, logger *observability.Logger) *Authorizer {
	if auditLogger == nil {
		auditLogger = audit.Nop()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Authorizer{source: source, audit: auditLogger, logger: logger}
}

// check returns nil to admit identity or the error to deny it with
type check func(identity *auth.Identity) *apperrors.Error

func (a *Authorizer) guard(allow check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.source.Identity(r)
			if err != nil {
				httputil.WriteAppError(w, r, a.logger, apperrors.Dependency("Failed to resolve session", err))
				return
			}
			if identity == nil {
				httputil.WriteAppError(w, r, a.logger, errAuthRequired)
				return
			}

			var denied *apperrors.Error
			if !identity.IsActive {
				denied = errAccountInactive
			} else if allow != nil {
				denied = allow(identity)
			}
			if denied != nil {
				a.recordDenial(r, identity, denied)
				httputil.WriteAppError(w, r, a.logger, denied)
				return
			}

			ctx := contextkeys.WithIdentity(r.Context(), identity)
			ctx = contextkeys.WithUserID(ctx, identity.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authorizer) recordDenial(r *http.Request, identity *auth.Identity, denied *apperrors.Error) {
	route := r.URL.Path
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			route = tmpl
		}
	}

	event := audit.NewEvent(r.Context(), audit.EventTypeAccessDenied, audit.EventStatusDenied).
		WithActor(identity).
		WithTarget(audit.TargetTypeRoute, r.Method+" "+route).
		WithClient(auth.ClientInfoFromRequest(r)).
		WithMessage(denied.Message)
	if required, ok := denied.Fields["required"]; ok {
		event.With("required", required)
	}
	if err := a.audit.Log(r.Context(), event); err != nil {
		observability.FromContextOr(r.Context(), a.logger).WithError(err).Warn("Failed to record access denial")
	}
}

func insufficient(message, required string, identity *auth.Identity, detail string) *apperrors.Error {
	return apperrors.Authorization(message).
		WithDetail(detail).
		WithField("required", required).
		WithField("userRole", string(identity.Role))
}

func joinPermissions(ps []rbac.Permission) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

// RequireAuth admits any active, signed-in user
func (a *Authorizer) RequireAuth() func(http.Handler) http.Handler {
	return a.guard(nil)
}

// RequirePermission admits users whose role grants p
func (a *Authorizer) RequirePermission(p rbac.Permission) func(http.Handler) http.Handler {
	return a.guard(func(identity *auth.Identity) *apperrors.Error {
		if identity.Can(p) {
			return nil
		}
		return insufficient("Insufficient permissions", string(p), identity, "Missing required permission: "+string(p))
	})
}

// RequireAnyPermission admits users whose role grants at least one of ps
func (a *Authorizer) RequireAnyPermission(ps ...rbac.Permission) func(http.Handler) http.Handler {
	required := "One of: " + joinPermissions(ps)
	return a.guard(func(identity *auth.Identity) *apperrors.Error {
		for _, p := range ps {
			if identity.Can(p) {
				return nil
			}
		}
		return insufficient("Insufficient permissions", required, identity, "Missing required permission. "+required)
	})
}

// RequireRole admits users holding exactly role
func (a *Authorizer) RequireRole(role rbac.Role) func(http.Handler) http.Handler {
	return a.RequireAnyRole(role)
}

// RequireAnyRole admits users holding one of roles
func (a *Authorizer) RequireAnyRole(roles ...rbac.Role) func(http.Handler) http.Handler {
	required := string(roles[0])
	if len(roles) > 1 {
		required = "One of: " + strings.Join(rbac.RoleNames(roles), ", ")
	}
	return a.guard(func(identity *auth.Identity) *apperrors.Error {
		for _, r := range roles {
			if identity.Role == r {
				return nil
			}
		}
		return insufficient("Insufficient role", required, identity, "Required role: "+required)
	})
}

// RequireAdmin admits admins and super admins
func (a *Authorizer) RequireAdmin() func(http.Handler) http.Handler {
	return a.RequireAnyRole(rbac.RoleSuperAdmin, rbac.RoleAdmin)
}

// RequireSuperAdmin admits super admins only
func (a *Authorizer) RequireSuperAdmin() func(http.Handler) http.Handler {
	return a.RequireRole(rbac.RoleSuperAdmin)
}

// GetIdentity returns the identity a guard placed in the request context
func GetIdentity(r *http.Request) *auth.Identity {
	identity, _ := r.Context().Value(contextkeys.IdentityKey).(*auth.Identity)
	return identity
}
