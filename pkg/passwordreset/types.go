package passwordreset

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/users"
)

const (
	// Lifetime is how long a reset link stays valid
	Lifetime = time.Hour
	// Cooldown is the minimum age of an active token before another may be requested
	Cooldown = 2 * time.Minute
	// DefaultUsedRetention is how long consumed tokens are kept before reclamation
	DefaultUsedRetention = 24 * time.Hour
	// MinPasswordLength applies to passwords set through a reset link
	MinPasswordLength = 8
)

// ErrNotFound is returned by the store when no row matches
var ErrNotFound = errors.New("password reset token not found")

var (
	ErrEmailRequired      = apperrors.Validation("Email is required")
	ErrInvalidEmail       = apperrors.Validation("Please provide a valid email address")
	ErrTokenRequired      = apperrors.Validation("Token is required")
	ErrResetIncomplete    = apperrors.Validation("Token and password are required")
	ErrInvalidToken       = apperrors.Validation("Invalid or expired reset token").WithDetail("Please request a new password reset")
	ErrAccountUnavailable = apperrors.Validation("User account not found or inactive")
	ErrResetCooldown      = apperrors.RateLimit("Please wait before requesting another password reset").
				WithDetail("You can request a new password reset in a few minutes")
)

// Token is a stored password reset. Only the SHA-256 of the raw token is kept.
type Token struct {
	ID        string
	UserID    string
	Email     string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// NewToken issues a reset token for user. The raw token goes into the email
// link and is never stored.
func NewToken(issuer *auth.TokenIssuer, user *users.User, now time.Time) (*Token, string, error) {
	if user == nil {
		return nil, "", errors.New("user is required")
	}
	raw, hash, err := issuer.IssueWithHash()
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue reset token: %w", err)
	}
	return &Token{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Email:     user.Email,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(Lifetime),
	}, raw, nil
}

// IsActive reports whether the token can still be redeemed at now
func (t *Token) IsActive(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// Verification is the public answer to a token check
type Verification struct {
	Valid     bool      `json:"valid"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}
