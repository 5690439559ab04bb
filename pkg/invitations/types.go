package invitations

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/rbac"
	"github.com/elbethel/academy/pkg/validation"
)

const (
	// Lifetime is how long an invitation stays acceptable
	Lifetime = 7 * 24 * time.Hour
	// DefaultUsedRetention is how long accepted invitations are kept before reclamation
	DefaultUsedRetention = 30 * 24 * time.Hour
)

var (
	// ErrNotFound is returned by the store when no row matches
	ErrNotFound = errors.New("invitation not found")
	// ErrDuplicate is returned by the store when an active invitation already exists for the pair
	ErrDuplicate = errors.New("active invitation already exists")
)

var (
	ErrInvalidOrExpired    = apperrors.NotFound("Invalid or expired invitation").WithDetail("This invitation link is no longer valid")
	ErrInvitationNotFound  = apperrors.NotFound("Invitation not found")
	ErrDuplicateInvitation = apperrors.Conflict("An invitation for this email and role already exists")
	ErrNotIssuer           = apperrors.Authorization("You can only cancel invitations you created")
	ErrCreateIncomplete    = apperrors.Validation("Email and role are required")
	ErrInvalidEmail        = apperrors.Validation("Please provide a valid email address")
	ErrAcceptIncomplete    = apperrors.Validation("Username, password, and name are required")
)

// Inviter is the snapshot of the issuing user taken when the invitation is created
type Inviter struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}

// Invitation is a pending, accepted or expired offer to join with a role
type Invitation struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      rbac.Role  `json:"role"`
	Token     string     `json:"-"`
	TokenHash string     `json:"-"`
	InvitedBy string     `json:"invitedById"`
	Inviter   Inviter    `json:"invitedBy"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Used      bool       `json:"isUsed"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// NewInvitation builds an invitation with a fresh token and a seven day expiry.
// The token is minted here once and never regenerated. Only TokenHash is
// persisted; Token is known only to the invitation returned here.
func NewInvitation(issuer *auth.TokenIssuer, inviter *auth.Identity, email string, role rbac.Role, now time.Time) (*Invitation, error) {
	if inviter == nil {
		return nil, errors.New("inviter is required")
	}
	token, hash, err := issuer.IssueWithHash()
	if err != nil {
		return nil, fmt.Errorf("failed to issue invitation token: %w", err)
	}
	return &Invitation{
		ID:        uuid.NewString(),
		Email:     validation.NormalizeEmail(email),
		Role:      role,
		Token:     token,
		TokenHash: hash,
		InvitedBy: inviter.ID,
		Inviter: Inviter{
			Name:  strings.TrimSpace(inviter.Name),
			Email: inviter.Email,
			Role:  inviter.Role,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(Lifetime),
	}, nil
}

// IsExpired reports whether the invitation can no longer be accepted because of its age
func (inv *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(inv.ExpiresAt)
}

// IsPending reports whether the invitation is unused and unexpired
func (inv *Invitation) IsPending(now time.Time) bool {
	return !inv.Used && !inv.IsExpired(now)
}

// PublicView is what an unauthenticated holder of the token may see
type PublicView struct {
	Email     string    `json:"email"`
	Role      rbac.Role `json:"role"`
	InvitedBy Inviter   `json:"invitedBy"`
	ExpiresAt time.Time `json:"expiresAt"`
	Token     string    `json:"token"`
}

// CreateRequest is the payload for issuing an invitation
type CreateRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// CreateResult reports the new invitation and whether the email went out.
// A failed email is a degraded success, never an error.
type CreateResult struct {
	Invitation     *Invitation
	Link           string
	EmailSent      bool
	EmailError     string
	EmailAttempted bool
}

// AcceptRequest is the payload for redeeming an invitation
type AcceptRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Stats counts invitations visible to a viewer
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Used    int `json:"used"`
	Expired int `json:"expired"`
}
