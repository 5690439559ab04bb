package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/elbethel/academy/pkg/rbac"
)

// ErrIdentityNotFound is returned by an IdentityLoader for unknown user IDs
var ErrIdentityNotFound = errors.New("identity not found")

// Identity is the session-bound view of a signed-in user
type Identity struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Role     rbac.Role `json:"role"`
	IsActive bool      `json:"isActive"`
}

// Can reports whether the identity's role grants permission
func (i *Identity) Can(permission rbac.Permission) bool {
	return i != nil && rbac.HasPermission(i.Role, permission)
}

// IsSuperAdmin reports whether the identity holds the top role
func (i *Identity) IsSuperAdmin() bool {
	return i != nil && i.Role == rbac.RoleSuperAdmin
}

// IdentityLoader resolves the current state of a user by ID
type IdentityLoader interface {
	LoadIdentity(ctx context.Context, userID string) (*Identity, error)
}

// ClientInfo describes where a request came from, for audit and email footers
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// ClientInfoFromRequest extracts the caller's address and user agent
func ClientInfoFromRequest(r *http.Request) ClientInfo {
	return ClientInfo{
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
