package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/elbethel/academy/pkg/storage"
)

const userColumns = `id, username, email, name, role, is_active, password_hash, created_at, updated_at`

// Store persists users in the users table
type Store struct {
	q     storage.DBTX
	clock storage.Clock
}

// NewStore creates a user store over db (a *sql.DB or *sql.Tx)
func NewStore(q storage.DBTX, clock storage.Clock) *Store {
	if clock == nil {
		clock = storage.SystemClock
	}
	return &Store{q: q, clock: clock}
}

// WithTx returns a store bound to tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{q: tx, clock: s.clock}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.Name, &u.Role, &u.IsActive,
		&u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

// Insert writes a new user; u.ID and timestamps must already be set
func (s *Store) Insert(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, username, email, name, role, is_active, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q.ExecContext(ctx, query,
		u.ID, u.Username, u.Email, u.Name, string(u.Role), u.IsActive,
		u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Store) getBy(ctx context.Context, column, value string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`
	u, err := scanUser(s.q.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}
	return u, nil
}

// GetByID returns the user with id
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getBy(ctx, "id", id)
}

// GetByEmail returns the user with a normalized email
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getBy(ctx, "email", email)
}

// GetByUsername returns the user with username
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getBy(ctx, "username", username)
}

func (s *Store) exists(ctx context.Context, column, value string) (bool, error) {
	query := `SELECT COUNT(1) FROM users WHERE ` + column + ` = $1`
	var n int
	if err := s.q.QueryRowContext(ctx, query, value).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", column, err)
	}
	return n > 0, nil
}

// EmailExists reports whether any user owns email
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "email", email)
}

// UsernameExists reports whether any user owns username
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, "username", username)
}

// List returns every user, newest first
func (s *Store) List(ctx context.Context) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var result []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return result, nil
}

func (s *Store) updateOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPasswordHash replaces the stored hash
func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.updateOne(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		hash, s.clock(), id)
}

// SetActive flips the active flag
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateOne(ctx,
		`UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, s.clock(), id)
}

// CountByRole returns how many users hold role
func (s *Store) CountByRole(ctx context.Context, role string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE role = $1`, role).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
