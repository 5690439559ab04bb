package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/elbethel/academy/pkg/apperrors"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/rbac"
	"github.com/elbethel/academy/pkg/storage"
	"github.com/elbethel/academy/pkg/validation"
)

// MinPasswordLength applies to self-service registration and invitation acceptance
const MinPasswordLength = 6

var (
	ErrEmailTaken      = apperrors.Conflict("A user with this email already exists")
	ErrUsernameTaken   = apperrors.Conflict("Username is already taken")
	ErrAccountExists   = apperrors.Conflict("User with this username or email already exists")
	ErrUserNotFound    = apperrors.NotFound("User not found")
	ErrInvalidLogin    = apperrors.Authentication("Invalid credentials")
	ErrLoginIncomplete = apperrors.Validation("Username and password are required")
)

// Directory is the account service used by the session gateway and the lifecycle managers
type Directory struct {
	store  *Store
	hasher *auth.PasswordHasher
	clock  storage.Clock

	dummyOnce sync.Once
	dummyHash string
}

// NewDirectory creates a directory over store
func NewDirectory(store *Store, hasher *auth.PasswordHasher) *Directory {
	return &Directory{store: store, hasher: hasher, clock: store.clock}
}

// WithTx returns a directory whose reads and writes go through tx
func (d *Directory) WithTx(tx *sql.Tx) *Directory {
	return &Directory{store: d.store.WithTx(tx), hasher: d.hasher, clock: d.clock}
}

// Create adds an account after checking that neither email nor username is taken.
// Callers validate flow-specific input (required fields, password length) first.
func (d *Directory) Create(ctx context.Context, req NewUserRequest) (*User, error) {
	email := validation.NormalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)

	if !req.Role.IsValid() {
		return nil, apperrors.Validation("Invalid role specified")
	}

	taken, err := d.store.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	taken, err = d.store.UsernameExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	hash, err := d.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperrors.Validation("Password is too long")
		}
		return nil, err
	}

	now := d.clock()
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Role:         req.Role,
		IsActive:     true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := d.store.Insert(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrAccountExists
		}
		return nil, err
	}
	return u, nil
}

// RegisterRequest is the self-service sign-up payload
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// CheckUsername validates the alphabet and length of a chosen username. Every
// flow that lets a person pick a username goes through it.
func CheckUsername(username string) error {
	if !validation.IsUsername(strings.TrimSpace(username)) {
		return apperrors.Validation(fmt.Sprintf(
			"Username must be %d-%d characters of letters, digits, dots, dashes or underscores",
			validation.MinUsernameLength, validation.MaxUsernameLength))
	}
	return nil
}

// Register creates a guest account
func (d *Directory) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if !validation.Present(req.Username, req.Email, req.Password, req.Name) {
		return nil, apperrors.Validation("Username, email, password, and name are required")
	}
	if !validation.IsEmail(req.Email) {
		return nil, apperrors.Validation("Please provide a valid email address")
	}
	if err := CheckUsername(req.Username); err != nil {
		return nil, err
	}
	if !validation.MinLength(req.Password, MinPasswordLength) {
		return nil, apperrors.Validation(fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}

	u, err := d.Create(ctx, NewUserRequest{
		Username: req.Username,
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     rbac.DefaultRole,
	})
	if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken) {
		return nil, ErrAccountExists
	}
	return u, err
}

// Authenticate checks a username and password pair.
// Unknown usernames still pay for a bcrypt comparison.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (*User, error) {
	if username == "" || password == "" {
		return nil, ErrLoginIncomplete
	}

	u, err := d.store.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		d.hasher.Verify(d.dummy(), password)
		return nil, ErrInvalidLogin
	}
	if err != nil {
		return nil, err
	}

	if !d.hasher.Verify(u.PasswordHash, password) {
		return nil, ErrInvalidLogin
	}
	return u, nil
}

func (d *Directory) dummy() string {
	d.dummyOnce.Do(func() {
		d.dummyHash, _ = d.hasher.Hash(uuid.NewString())
	})
	return d.dummyHash
}

// Get returns the user with id, or ErrUserNotFound
func (d *Directory) Get(ctx context.Context, id string) (*User, error) {
	u, err := d.store.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// FindByEmail returns the user owning email, or ErrNotFound
func (d *Directory) FindByEmail(ctx context.Context, email string) (*User, error) {
	return d.store.GetByEmail(ctx, validation.NormalizeEmail(email))
}

// EmailTaken reports whether a user already owns email
func (d *Directory) EmailTaken(ctx context.Context, email string) (bool, error) {
	return d.store.EmailExists(ctx, validation.NormalizeEmail(email))
}

// UsernameTaken reports whether a user already owns username
func (d *Directory) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return d.store.UsernameExists(ctx, strings.TrimSpace(username))
}

// List returns all users, newest first
func (d *Directory) List(ctx context.Context) ([]*User, error) {
	return d.store.List(ctx)
}

// SetPassword hashes password and stores it
func (d *Directory) SetPassword(ctx context.Context, id, password string) error {
	hash, err := d.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return apperrors.Validation("Password is too long")
		}
		return err
	}
	if err := d.store.SetPasswordHash(ctx, id, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// SetActive activates or deactivates target on behalf of actor
func (d *Directory) SetActive(ctx context.Context, actor *auth.Identity, id string, active bool) (*User, error) {
	target, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.ID == actor.ID && !active {
		return nil, apperrors.Validation("You cannot deactivate your own account")
	}
	if target.ID != actor.ID && !rbac.CanModifyUser(actor.Role, target.Role) {
		return nil, apperrors.Authorization("You don't have permission to modify this user")
	}

	if err := d.store.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	target.IsActive = active
	target.UpdatedAt = d.clock()
	return target, nil
}

// LoadIdentity resolves the current session view of a user
func (d *Directory) LoadIdentity(ctx context.Context, userID string) (*auth.Identity, error) {
	u, err := d.store.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, auth.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return u.Identity(), nil
}

// BootstrapRequest describes the first super admin account
type BootstrapRequest struct {
	Username string
	Email    string
	Name     string
	Password string
}

// EnsureSuperAdmin creates the bootstrap account when no super admin exists yet.
// It reports whether an account was created.
func (d *Directory) EnsureSuperAdmin(ctx context.Context, req BootstrapRequest) (bool, error) {
	n, err := d.store.CountByRole(ctx, string(rbac.RoleSuperAdmin))
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if !validation.Present(req.Username, req.Email, req.Password) || !validation.IsEmail(req.Email) {
		return false, errors.New("bootstrap super admin requires username, valid email and password")
	}

	name := req.Name
	if name == "" {
		name = rbac.RoleSuperAdmin.DisplayName()
	}
	_, err = d.Create(ctx, NewUserRequest{
		Username: req.Username,
		Email:    req.Email,
		Name:     name,
		Password: req.Password,
		Role:     rbac.RoleSuperAdmin,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create bootstrap super admin: %w", err)
	}
	return true, nil
}
