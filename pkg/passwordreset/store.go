package passwordreset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elbethel/academy/pkg/storage"
)

const tokenColumns = `id, user_id, email, token_hash, created_at, expires_at, used, used_at`

// Store persists reset tokens
type Store struct {
	q storage.DBTX
}

// NewStore creates a reset token store over db (a *sql.DB or *sql.Tx)
func NewStore(q storage.DBTX) *Store {
	return &Store{q: q}
}

// WithTx returns a store bound to tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{q: tx}
}

func scanToken(row interface{ Scan(...interface{}) error }) (*Token, error) {
	t := &Token{}
	var usedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.UserID, &t.Email, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.Used, &usedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	if usedAt.Valid {
		at := usedAt.Time.UTC()
		t.UsedAt = &at
	}
	return t, nil
}

// Insert writes a new token
func (s *Store) Insert(ctx context.Context, t *Token) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO password_resets (id, user_id, email, token_hash, created_at, expires_at, used, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.UserID, t.Email, t.TokenHash, t.CreatedAt, t.ExpiresAt, t.Used, nil)
	if err != nil {
		return fmt.Errorf("failed to insert password reset: %w", err)
	}
	return nil
}

func (s *Store) getOne(ctx context.Context, query string, args ...interface{}) (*Token, error) {
	t, err := scanToken(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get password reset: %w", err)
	}
	return t, nil
}

// GetPendingByHash returns the unused, unexpired token with tokenHash
func (s *Store) GetPendingByHash(ctx context.Context, tokenHash string, now time.Time) (*Token, error) {
	return s.getOne(ctx,
		`SELECT `+tokenColumns+` FROM password_resets WHERE token_hash = $1 AND used = FALSE AND expires_at > $2`,
		tokenHash, now)
}

// LatestActiveForUser returns the newest unused, unexpired token of userID
func (s *Store) LatestActiveForUser(ctx context.Context, userID string, now time.Time) (*Token, error) {
	return s.getOne(ctx,
		`SELECT `+tokenColumns+` FROM password_resets
		WHERE user_id = $1 AND used = FALSE AND expires_at > $2
		ORDER BY created_at DESC LIMIT 1`,
		userID, now)
}

// MarkUsed consumes the token if it is still unused and unexpired.
// It reports false when the token was already consumed or has expired.
func (s *Store) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, "mark password reset used",
		`UPDATE password_resets SET used = TRUE, used_at = $1 WHERE id = $2 AND used = FALSE AND expires_at > $1`,
		now, id)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkOthersUsed burns every other unused token of userID
func (s *Store) MarkOthersUsed(ctx context.Context, userID, keepID string, now time.Time) (int64, error) {
	return s.exec(ctx, "invalidate password resets",
		`UPDATE password_resets SET used = TRUE, used_at = $1 WHERE user_id = $2 AND id <> $3 AND used = FALSE`,
		now, userID, keepID)
}

// Delete removes the token with id
func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.exec(ctx, "delete password reset", `DELETE FROM password_resets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes unused tokens past expiry and used tokens consumed
// before usedBefore.
func (s *Store) DeleteExpired(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	return s.exec(ctx, "reclaim password resets",
		`DELETE FROM password_resets WHERE (used = FALSE AND expires_at <= $1) OR (used = TRUE AND used_at < $2)`,
		now, usedBefore)
}

func (s *Store) exec(ctx context.Context, what, query string, args ...interface{}) (int64, error) {
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
