package passwordreset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/notify"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/storage"
	"github.com/elbethel/academy/pkg/users"
	"github.com/elbethel/academy/pkg/validation"
)

// Mailer delivers reset links. *notify.Notifier satisfies it.
type Mailer interface {
	SendPasswordReset(ctx context.Context, r notify.PasswordResetEmail) notify.Result
}

// Config wires a Manager. DB, Directory and Mailer are required.
type Config struct {
	DB        *sql.DB
	Directory *users.Directory
	Mailer    Mailer
	Issuer    *auth.TokenIssuer
	Audit     audit.Logger
	Metrics   *observability.Metrics
	Logger    *observability.Logger
	Clock     storage.Clock
	// Cooldown overrides the default minimum interval between requests
	Cooldown time.Duration
	// ResponseFloor is the least time RequestReset takes, so answering for an
	// unknown address is as slow as mailing a known one. Zero disables it.
	ResponseFloor time.Duration
}

// Manager runs the password reset lifecycle
type Manager struct {
	db        *sql.DB
	store     *Store
	directory *users.Directory
	mailer    Mailer
	issuer    *auth.TokenIssuer
	audit     audit.Logger
	metrics   *observability.Metrics
	logger    *observability.Logger
	clock     storage.Clock
	cooldown  time.Duration
	floor     time.Duration
}

// NewManager creates a password reset manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DB == nil || cfg.Directory == nil || cfg.Mailer == nil {
		return nil, errors.New("passwordreset: database, user directory and mailer are required")
	}
	if cfg.Issuer == nil {
		cfg.Issuer = auth.NewTokenIssuer()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = storage.SystemClock
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = Cooldown
	}
	return &Manager{
		db:        cfg.DB,
		store:     NewStore(cfg.DB),
		directory: cfg.Directory,
		mailer:    cfg.Mailer,
		issuer:    cfg.Issuer,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		cooldown:  cfg.Cooldown,
		floor:     cfg.ResponseFloor,
	}, nil
}

// RequestReset emails a reset link to the account owning email.
//
// Unknown or inactive accounts get no email and no error so callers cannot
// probe which addresses exist. A second request within the cooldown of an active
// token returns ErrResetCooldown; an older active token is superseded. Every
// outcome takes at least the configured response floor.
func (m *Manager) RequestReset(ctx context.Context, email string, client auth.ClientInfo) error {
	if m.floor <= 0 {
		return m.requestReset(ctx, email, client)
	}
	deadline := time.Now().Add(m.floor)
	err := m.requestReset(ctx, email, client)
	waitUntil(ctx, deadline)
	return err
}

func waitUntil(ctx context.Context, deadline time.Time) {
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (m *Manager) requestReset(ctx context.Context, email string, client auth.ClientInfo) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmailRequired
	}
	if !validation.IsEmail(email) {
		return ErrInvalidEmail
	}

	log := observability.FromContextOr(ctx, m.logger)
	user, err := m.directory.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		m.metrics.RecordPasswordReset("unknown_account")
		return nil
	}
	if err != nil {
		return apperrors.Dependency("Failed to look up account", err)
	}
	if !user.IsActive {
		m.metrics.RecordPasswordReset("unknown_account")
		return nil
	}

	now := m.clock()
	existing, err := m.store.LatestActiveForUser(ctx, user.ID, now)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return apperrors.Dependency("Failed to look up password reset", err)
	case now.Sub(existing.CreatedAt) < m.cooldown:
		log.WithField("user_id", user.ID).Info("Password reset requested during cooldown")
		m.metrics.RecordPasswordReset("cooldown")
		m.record(ctx, audit.NewEvent(ctx, audit.EventTypeResetCooldown, audit.EventStatusDenied).
			WithActor(user.Identity()).
			WithTarget(audit.TargetTypePasswordReset, existing.ID).
			WithClient(client))
		return ErrResetCooldown
	default:
		// two concurrent requests may both supersede; the later token wins
		if _, err := m.store.MarkUsed(ctx, existing.ID, now); err != nil {
			return apperrors.Dependency("Failed to supersede password reset", err)
		}
	}

	token, raw, err := NewToken(m.issuer, user, now)
	if err != nil {
		return apperrors.Dependency("Failed to create password reset", err)
	}
	if err := m.store.Insert(ctx, token); err != nil {
		return apperrors.Dependency("Failed to create password reset", err)
	}

	sent := m.mailer.SendPasswordReset(ctx, notify.PasswordResetEmail{
		Name:      user.Name,
		Email:     user.Email,
		Token:     raw,
		ExpiresAt: token.ExpiresAt,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
	if !sent.Success {
		if err := m.store.Delete(ctx, token.ID); err != nil && !errors.Is(err, ErrNotFound) {
			log.WithError(err).WithField("reset_id", token.ID).Error("Failed to remove undelivered password reset")
		}
		m.metrics.RecordPasswordReset("send_failed")
		m.record(ctx, audit.NewEvent(ctx, audit.EventTypeResetRequest, audit.EventStatusFailure).
			WithActor(user.Identity()).
			WithTarget(audit.TargetTypePasswordReset, token.ID).
			WithClient(client).
			WithMessage(sent.Error))
		return apperrors.Dependency("Failed to send password reset email", errors.New(sent.Error)).
			WithDetail("Please try again later or contact support")
	}

	log.WithField("user_id", user.ID).Info("Password reset link sent")
	m.metrics.RecordPasswordReset("requested")
	m.record(ctx, audit.NewEvent(ctx, audit.EventTypeResetRequest, audit.EventStatusSuccess).
		WithActor(user.Identity()).
		WithTarget(audit.TargetTypePasswordReset, token.ID).
		WithClient(client))
	return nil
}

// pending resolves raw to an active token and its active owner
func (m *Manager) pending(ctx context.Context, raw string) (*Token, *users.User, error) {
	if !auth.ValidTokenFormat(raw) {
		return nil, nil, ErrInvalidToken
	}
	token, err := m.store.GetPendingByHash(ctx, auth.HashToken(raw), m.clock())
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrInvalidToken
	}
	if err != nil {
		return nil, nil, apperrors.Dependency("Failed to look up password reset", err)
	}

	owner, err := m.directory.Get(ctx, token.UserID)
	if errors.Is(err, users.ErrUserNotFound) {
		return nil, nil, ErrAccountUnavailable
	}
	if err != nil {
		return nil, nil, apperrors.Dependency("Failed to look up account", err)
	}
	if !owner.IsActive {
		return nil, nil, ErrAccountUnavailable
	}
	return token, owner, nil
}

// VerifyToken reports whether raw can still be used to reset a password
func (m *Manager) VerifyToken(ctx context.Context, raw string) (*Verification, error) {
	if raw == "" {
		return nil, ErrTokenRequired
	}
	token, _, err := m.pending(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &Verification{Valid: true, Email: token.Email, ExpiresAt: token.ExpiresAt}, nil
}

// ResetPassword redeems raw and replaces the owner's password.
// The token is consumed, the password replaced and every other outstanding
// token burned in one transaction.
func (m *Manager) ResetPassword(ctx context.Context, raw, password string) error {
	if !validation.Present(raw, password) {
		return ErrResetIncomplete
	}
	if !validation.MinLength(password, MinPasswordLength) {
		return apperrors.Validation(fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}

	token, owner, err := m.pending(ctx, raw)
	if err != nil {
		return err
	}

	now := m.clock()
	err = storage.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		store := m.store.WithTx(tx)
		consumed, err := store.MarkUsed(ctx, token.ID, now)
		if err != nil {
			return err
		}
		if !consumed {
			return ErrInvalidToken
		}
		if err := m.directory.WithTx(tx).SetPassword(ctx, owner.ID, password); err != nil {
			return err
		}
		_, err = store.MarkOthersUsed(ctx, owner.ID, token.ID, now)
		return err
	})
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return err
		}
		return apperrors.Dependency("Failed to reset password", err)
	}

	observability.FromContextOr(ctx, m.logger).WithField("user_id", owner.ID).Info("Password reset completed")
	m.metrics.RecordPasswordReset("completed")
	m.record(ctx, audit.NewEvent(ctx, audit.EventTypeResetComplete, audit.EventStatusSuccess).
		WithActor(owner.Identity()).
		WithTarget(audit.TargetTypePasswordReset, token.ID))
	return nil
}

// ReclaimExpired physically deletes expired tokens and consumed ones older
// than usedRetention (DefaultUsedRetention when zero).
func (m *Manager) ReclaimExpired(ctx context.Context, usedRetention time.Duration) (int64, error) {
	if usedRetention <= 0 {
		usedRetention = DefaultUsedRetention
	}
	now := m.clock()
	n, err := m.store.DeleteExpired(ctx, now, now.Add(-usedRetention))
	if err != nil {
		return 0, err
	}
	m.metrics.RecordReclaimed("password_resets", n)
	return n, nil
}

func (m *Manager) record(ctx context.Context, event *audit.Event) {
	if err := m.audit.Log(ctx, event); err != nil {
		observability.FromContextOr(ctx, m.logger).WithError(err).
			WithField("event_type", string(event.Type)).
			Warn("Failed to record audit event")
	}
}
