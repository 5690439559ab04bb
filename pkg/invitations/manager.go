package invitations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/notify"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/rbac"
	"github.com/elbethel/academy/pkg/storage"
	"github.com/elbethel/academy/pkg/users"
	"github.com/elbethel/academy/pkg/validation"
)

// Mailer sends the invitation and welcome emails. *notify.Notifier satisfies it.
type Mailer interface {
	Enabled() bool
	InvitationLink(token string) string
	SendInvitation(ctx context.Context, inv notify.InvitationEmail) notify.Result
	SendWelcome(ctx context.Context, w notify.WelcomeEmail) notify.Result
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
}

// Manager runs the invitation lifecycle: create, list, look up, accept,
// cancel and reclaim.
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
}

// NewManager creates an invitation manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DB == nil || cfg.Directory == nil || cfg.Mailer == nil {
		return nil, errors.New("invitations: database, user directory and mailer are required")
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
	}, nil
}

func requirePermission(identity *auth.Identity, p rbac.Permission) error {
	if identity == nil {
		return apperrors.Authentication("Authentication required")
	}
	if !identity.Can(p) {
		return apperrors.Authorization("Insufficient permissions").
			WithDetail("Missing required permission: " + string(p)).
			WithField("required", string(p)).
			WithField("userRole", string(identity.Role))
	}
	return nil
}

// Create issues an invitation on behalf of inviter and emails it.
// The invitation is stored before the email is attempted; a failed email
// is reported in the result, not as an error.
func (m *Manager) Create(ctx context.Context, inviter *auth.Identity, req CreateRequest) (*CreateResult, error) {
	if err := requirePermission(inviter, rbac.PermInviteUsers); err != nil {
		return nil, err
	}
	if !validation.Present(req.Email, req.Role) {
		return nil, ErrCreateIncomplete
	}
	if !validation.IsEmail(req.Email) {
		return nil, ErrInvalidEmail
	}
	role, ok := rbac.ParseRole(req.Role)
	if !ok {
		return nil, apperrors.Validation("Invalid role specified").
			WithField("availableRoles", rbac.RoleNames(rbac.AllRoles()))
	}
	if !rbac.CanInviteRole(inviter.Role, role) {
		invitable := rbac.RoleNames(rbac.InvitableRoles(inviter.Role))
		return nil, apperrors.Authorization("You don't have permission to assign this role").
			WithDetail("You can only invite users with the following roles: " + strings.Join(invitable, ", ")).
			WithField("invitableRoles", invitable)
	}

	email := validation.NormalizeEmail(req.Email)
	taken, err := m.directory.EmailTaken(ctx, email)
	if err != nil {
		return nil, apperrors.Dependency("Failed to check existing users", err)
	}
	if taken {
		return nil, users.ErrEmailTaken
	}

	now := m.clock()
	pending, err := m.store.HasPending(ctx, email, string(role), now)
	if err != nil {
		return nil, apperrors.Dependency("Failed to check existing invitations", err)
	}
	if pending {
		m.metrics.RecordInvitation("duplicate")
		return nil, ErrDuplicateInvitation
	}

	inv, err := NewInvitation(m.issuer, inviter, email, role, now)
	if err != nil {
		return nil, apperrors.Dependency("Failed to create invitation", err)
	}

	err = storage.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		store := m.store.WithTx(tx)
		if _, err := store.DeleteStale(ctx, email, string(role), now); err != nil {
			return err
		}
		return store.Insert(ctx, inv)
	})
	if errors.Is(err, ErrDuplicate) {
		m.metrics.RecordInvitation("duplicate")
		return nil, ErrDuplicateInvitation
	}
	if err != nil {
		return nil, apperrors.Dependency("Failed to create invitation", err)
	}

	log := observability.FromContextOr(ctx, m.logger).WithFields(map[string]interface{}{
		"invitation_id": inv.ID,
		"role":          string(inv.Role),
	})
	log.Info("Invitation created")
	m.metrics.RecordInvitation("created")
	m.record(ctx, audit.NewEvent(ctx, audit.EventTypeInvitationCreate, audit.EventStatusSuccess).
		WithActor(inviter).
		WithTarget(audit.TargetTypeInvitation, inv.ID).
		With("email", inv.Email).
		With("role", string(inv.Role)))

	result := &CreateResult{Invitation: inv, Link: m.mailer.InvitationLink(inv.Token)}
	if !m.mailer.Enabled() {
		log.Info("Email service not configured, invitation created without email")
		return result, nil
	}

	result.EmailAttempted = true
	sent := m.mailer.SendInvitation(ctx, notify.InvitationEmail{
		Email:        inv.Email,
		Role:         inv.Role,
		InviterName:  inv.Inviter.Name,
		InviterEmail: inv.Inviter.Email,
		InviterRole:  inv.Inviter.Role,
		Token:        inv.Token,
		ExpiresAt:    inv.ExpiresAt,
	})
	result.EmailSent = sent.Success
	result.EmailError = sent.Error
	return result, nil
}

// List returns the pending invitations viewer may see: every one for a
// super admin, otherwise only those viewer issued.
func (m *Manager) List(ctx context.Context, viewer *auth.Identity) ([]*Invitation, error) {
	if err := requirePermission(viewer, rbac.PermReadUser); err != nil {
		return nil, err
	}
	invitations, err := m.store.ListPending(ctx, issuerScope(viewer), m.clock())
	if err != nil {
		return nil, apperrors.Dependency("Failed to list invitations", err)
	}
	return invitations, nil
}

// issuerScope limits non-super-admins to their own invitations
func issuerScope(viewer *auth.Identity) string {
	if viewer.IsSuperAdmin() {
		return ""
	}
	return viewer.ID
}

// FetchByToken returns the public view of a pending invitation
func (m *Manager) FetchByToken(ctx context.Context, token string) (*PublicView, error) {
	inv, err := m.pendingByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &PublicView{
		Email:     inv.Email,
		Role:      inv.Role,
		InvitedBy: inv.Inviter,
		ExpiresAt: inv.ExpiresAt,
		Token:     token,
	}, nil
}

// redeem consumes inv and creates its account in one transaction. The
// single-use claim comes first, so account checks only run for the request
// holding it. A conflict seen after another request redeemed the invitation
// is reported as ErrInvalidOrExpired.
func (m *Manager) redeem(ctx context.Context, inv *Invitation, req AcceptRequest) (*users.User, error) {
	var user *users.User
	err := storage.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		consumed, err := m.store.WithTx(tx).MarkUsed(ctx, inv.ID, m.clock())
		if err != nil {
			return err
		}
		if !consumed {
			return ErrInvalidOrExpired
		}

		user, err = m.directory.WithTx(tx).Create(ctx, users.NewUserRequest{
			Username: req.Username,
			Email:    inv.Email,
			Name:     req.Name,
			Password: req.Password,
			Role:     inv.Role,
		})
		return err
	})
	if err == nil {
		return user, nil
	}

	if isAccountConflict(err) {
		if _, lookupErr := m.store.GetPendingByHash(ctx, inv.TokenHash, m.clock()); errors.Is(lookupErr, ErrNotFound) {
			return nil, ErrInvalidOrExpired
		}
	}
	if _, ok := apperrors.As(err); ok {
		return nil, err
	}
	return nil, apperrors.Dependency("Failed to accept invitation", err)
}

func isAccountConflict(err error) bool {
	return errors.Is(err, users.ErrEmailTaken) ||
		errors.Is(err, users.ErrUsernameTaken) ||
		errors.Is(err, users.ErrAccountExists)
}

func (m *Manager) pendingByToken(ctx context.Context, token string) (*Invitation, error) {
	if !auth.ValidTokenFormat(token) {
		return nil, ErrInvalidOrExpired
	}
	inv, err := m.store.GetPendingByHash(ctx, auth.HashToken(token), m.clock())
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidOrExpired
	}
	if err != nil {
		return nil, apperrors.Dependency("Failed to look up invitation", err)
	}
	return inv, nil
}

// Accept redeems token and creates the invited account.
// The invitation is consumed and the user inserted in one transaction; when
// two requests race for the same token exactly one wins and the other gets
// ErrInvalidOrExpired.
func (m *Manager) Accept(ctx context.Context, token string, req AcceptRequest) (*users.User, error) {
	if !validation.Present(req.Username, req.Password, req.Name) {
		return nil, ErrAcceptIncomplete
	}
	if err := users.CheckUsername(req.Username); err != nil {
		return nil, err
	}
	if !validation.MinLength(req.Password, users.MinPasswordLength) {
		return nil, apperrors.Validation(fmt.Sprintf("Password must be at least %d characters long", users.MinPasswordLength))
	}

	inv, err := m.pendingByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := m.redeem(ctx, inv, req)
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpired) {
			m.metrics.RecordInvitation("accept_lost")
		}
		return nil, err
	}

	observability.FromContextOr(ctx, m.logger).WithFields(map[string]interface{}{
		"invitation_id": inv.ID,
		"user_id":       user.ID,
		"role":          string(user.Role),
	}).Info("Invitation accepted")
	m.metrics.RecordInvitation("accepted")
	m.record(ctx, audit.NewEvent(ctx, audit.EventTypeInvitationAccept, audit.EventStatusSuccess).
		WithActor(user.Identity()).
		WithTarget(audit.TargetTypeInvitation, inv.ID).
		With("invited_by", inv.InvitedBy))

	if m.mailer.Enabled() {
		m.mailer.SendWelcome(ctx, notify.WelcomeEmail{
			Name:     user.Name,
			Email:    user.Email,
			Username: user.Username,
			Role:     user.Role,
		})
	}
	return user, nil
}

// Cancel deletes an invitation. Only its issuer or a super admin may cancel it.
func (m *Manager) Cancel(ctx context.Context, actor *auth.Identity, id string) error {
	if err := requirePermission(actor, rbac.PermDeleteUser); err != nil {
		return err
	}

	inv, err := m.store.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ErrInvitationNotFound
	}
	if err != nil {
		return apperrors.Dependency("Failed to look up invitation", err)
	}
	if !actor.IsSuperAdmin() && inv.InvitedBy != actor.ID {
		return ErrNotIssuer
	}

	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvitationNotFound
		}
		return apperrors.Dependency("Failed to cancel invitation", err)
	}

	m.metrics.RecordInvitation("cancelled")
	m.record(ctx, audit.NewEvent(ctx, audit.EventTypeInvitationCancel, audit.EventStatusSuccess).
		WithActor(actor).
		WithTarget(audit.TargetTypeInvitation, id).
		With("email", inv.Email))
	return nil
}

// Stats counts the invitations viewer may see, by state
func (m *Manager) Stats(ctx context.Context, viewer *auth.Identity) (*Stats, error) {
	if err := requirePermission(viewer, rbac.PermReadUser); err != nil {
		return nil, err
	}

	scope := issuerScope(viewer)
	now := m.clock()
	stats := &Stats{}

	g, gctx := errgroup.WithContext(ctx)
	counts := []struct {
		state CountState
		into  *int
	}{
		{CountAll, &stats.Total},
		{CountPending, &stats.Pending},
		{CountUsed, &stats.Used},
		{CountExpired, &stats.Expired},
	}
	for _, c := range counts {
		c := c
		g.Go(func() error {
			n, err := m.store.CountWhere(gctx, c.state, scope, now)
			if err != nil {
				return err
			}
			*c.into = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.Dependency("Failed to count invitations", err)
	}
	return stats, nil
}

// ReclaimExpired physically deletes expired invitations and accepted ones
// older than usedRetention (DefaultUsedRetention when zero).
func (m *Manager) ReclaimExpired(ctx context.Context, usedRetention time.Duration) (int64, error) {
	if usedRetention <= 0 {
		usedRetention = DefaultUsedRetention
	}
	now := m.clock()
	n, err := m.store.DeleteExpired(ctx, now, now.Add(-usedRetention))
	if err != nil {
		return 0, err
	}
	m.metrics.RecordReclaimed("invitations", n)
	return n, nil
}

func (m *Manager) record(ctx context.Context, event *audit.Event) {
	if err := m.audit.Log(ctx, event); err != nil {
		observability.FromContextOr(ctx, m.logger).WithError(err).
			WithField("event_type", string(event.Type)).
			Warn("Failed to record audit event")
	}
}
