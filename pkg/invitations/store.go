package invitations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elbethel/academy/pkg/storage"
)

const invitationColumns = `id, email, role, token_hash, invited_by, inviter_name, inviter_email, inviter_role,
	created_at, expires_at, used, used_at`

// Store persists invitations. Every "now" is passed in by the caller so one
// clock drives both the check and the write.
type Store struct {
	q storage.DBTX
}

// NewStore creates an invitation store over db (a *sql.DB or *sql.Tx)
func NewStore(q storage.DBTX) *Store {
	return &Store{q: q}
}

// WithTx returns a store bound to tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{q: tx}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvitation(row rowScanner) (*Invitation, error) {
	inv := &Invitation{}
	var usedAt sql.NullTime
	if err := row.Scan(
		&inv.ID, &inv.Email, &inv.Role, &inv.TokenHash, &inv.InvitedBy,
		&inv.Inviter.Name, &inv.Inviter.Email, &inv.Inviter.Role,
		&inv.CreatedAt, &inv.ExpiresAt, &inv.Used, &usedAt,
	); err != nil {
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.ExpiresAt = inv.ExpiresAt.UTC()
	if usedAt.Valid {
		t := usedAt.Time.UTC()
		inv.UsedAt = &t
	}
	return inv, nil
}

// Insert writes a new invitation. An active invitation for the same
// (email, role) pair yields ErrDuplicate.
func (s *Store) Insert(ctx context.Context, inv *Invitation) error {
	query := `
		INSERT INTO invitations (id, email, role, token_hash, invited_by, inviter_name, inviter_email, inviter_role,
			created_at, expires_at, used, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	var usedAt interface{}
	if inv.UsedAt != nil {
		usedAt = *inv.UsedAt
	}
	_, err := s.q.ExecContext(ctx, query,
		inv.ID, inv.Email, string(inv.Role), inv.TokenHash, inv.InvitedBy,
		inv.Inviter.Name, inv.Inviter.Email, string(inv.Inviter.Role),
		inv.CreatedAt, inv.ExpiresAt, inv.Used, usedAt,
	)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert invitation: %w", err)
	}
	return nil
}

func (s *Store) getOne(ctx context.Context, what, query string, args ...interface{}) (*Invitation, error) {
	inv, err := scanInvitation(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation by %s: %w", what, err)
	}
	return inv, nil
}

// GetByID returns the invitation with id regardless of state
func (s *Store) GetByID(ctx context.Context, id string) (*Invitation, error) {
	return s.getOne(ctx, "id",
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)
}

// GetPendingByHash returns the unused, unexpired invitation whose token hashes to tokenHash
func (s *Store) GetPendingByHash(ctx context.Context, tokenHash string, now time.Time) (*Invitation, error) {
	return s.getOne(ctx, "token",
		`SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1 AND used = FALSE AND expires_at > $2`,
		tokenHash, now)
}

// HasPending reports whether an unused, unexpired invitation exists for the pair
func (s *Store) HasPending(ctx context.Context, email, role string, now time.Time) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM invitations WHERE email = $1 AND role = $2 AND used = FALSE AND expires_at > $3`,
		email, role, now).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending invitations: %w", err)
	}
	return n > 0, nil
}

// DeleteStale removes an expired, unused invitation for the pair so a new one
// can take its place under the partial unique index.
func (s *Store) DeleteStale(ctx context.Context, email, role string, now time.Time) (int64, error) {
	return s.exec(ctx, "delete stale invitation",
		`DELETE FROM invitations WHERE email = $1 AND role = $2 AND used = FALSE AND expires_at <= $3`,
		email, role, now)
}

// ListPending returns unused, unexpired invitations, newest first.
// An empty invitedBy lists every issuer's invitations.
func (s *Store) ListPending(ctx context.Context, invitedBy string, now time.Time) ([]*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE used = FALSE AND expires_at > $1`
	args := []interface{}{now}
	if invitedBy != "" {
		query += ` AND invited_by = $2`
		args = append(args, invitedBy)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	result := make([]*Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}
	return result, nil
}

// MarkUsed consumes the invitation if it is still unused and unexpired.
// It reports false when another request got there first or the invitation expired.
func (s *Store) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, "mark invitation used",
		`UPDATE invitations SET used = TRUE, used_at = $1 WHERE id = $2 AND used = FALSE AND expires_at > $1`,
		now, id)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete removes the invitation with id
func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.exec(ctx, "delete invitation", `DELETE FROM invitations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountState selects which invitations CountWhere counts
type CountState int

const (
	CountAll CountState = iota
	CountPending
	CountUsed
	CountExpired
)

// CountWhere counts invitations in state, optionally limited to one issuer
func (s *Store) CountWhere(ctx context.Context, state CountState, invitedBy string, now time.Time) (int, error) {
	query := `SELECT COUNT(1) FROM invitations WHERE 1=1`
	var args []interface{}
	switch state {
	case CountPending:
		query += ` AND used = FALSE AND expires_at > $1`
		args = append(args, now)
	case CountUsed:
		query += ` AND used = TRUE`
	case CountExpired:
		query += ` AND used = FALSE AND expires_at <= $1`
		args = append(args, now)
	}
	if invitedBy != "" {
		args = append(args, invitedBy)
		query += fmt.Sprintf(` AND invited_by = $%d`, len(args))
	}

	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count invitations: %w", err)
	}
	return n, nil
}

// DeleteExpired removes unused invitations past expiry and used invitations
// accepted before usedBefore.
func (s *Store) DeleteExpired(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	return s.exec(ctx, "reclaim invitations",
		`DELETE FROM invitations WHERE (used = FALSE AND expires_at <= $1) OR (used = TRUE AND used_at < $2)`,
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
