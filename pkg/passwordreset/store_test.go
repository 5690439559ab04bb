package passwordreset

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storeNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_Insert(t *testing.T) {
	s, mock := newMockStore(t)
	tok := &Token{
		ID: "r-1", UserID: "u-1", Email: "a@x.io", TokenHash: "hash",
		CreatedAt: storeNow, ExpiresAt: storeNow.Add(Lifetime),
	}

	mock.ExpectExec("INSERT INTO password_resets").
		WithArgs("r-1", "u-1", "a@x.io", "hash", storeNow, storeNow.Add(Lifetime), false, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Insert(context.Background(), tok))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetPendingByHash(t *testing.T) {
	s, mock := newMockStore(t)
	usedAt := storeNow.Add(-time.Minute)

	mock.ExpectQuery(`FROM password_resets WHERE token_hash = \$1 AND used = FALSE AND expires_at > \$2`).
		WithArgs("hash", storeNow).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "email", "token_hash", "created_at", "expires_at", "used", "used_at"}).
			AddRow("r-1", "u-1", "a@x.io", "hash", storeNow, storeNow.Add(Lifetime), false, usedAt))

	tok, err := s.GetPendingByHash(context.Background(), "hash", storeNow)
	require.NoError(t, err)
	assert.Equal(t, "u-1", tok.UserID)
	require.NotNil(t, tok.UsedAt)
	assert.Equal(t, usedAt, *tok.UsedAt)

	mock.ExpectQuery("FROM password_resets").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = s.GetPendingByHash(context.Background(), "other", storeNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LatestActiveForUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE user_id = \$1 AND used = FALSE AND expires_at > \$2\s+ORDER BY created_at DESC LIMIT 1`).
		WithArgs("u-1", storeNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.LatestActiveForUser(context.Background(), "u-1", storeNow)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkUsed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE password_resets SET used = TRUE, used_at = \$1 WHERE id = \$2 AND used = FALSE AND expires_at > \$1`).
		WithArgs(storeNow, "r-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.MarkUsed(context.Background(), "r-1", storeNow)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE password_resets").WithArgs(storeNow, "r-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = s.MarkUsed(context.Background(), "r-1", storeNow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_MarkOthersUsedAndReclaim(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`WHERE user_id = \$2 AND id <> \$3 AND used = FALSE`).
		WithArgs(storeNow, "u-1", "r-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err := s.MarkOthersUsed(context.Background(), "u-1", "r-1", storeNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	usedBefore := storeNow.Add(-DefaultUsedRetention)
	mock.ExpectExec(`DELETE FROM password_resets WHERE \(used = FALSE AND expires_at <= \$1\) OR \(used = TRUE AND used_at < \$2\)`).
		WithArgs(storeNow, usedBefore).
		WillReturnResult(sqlmock.NewResult(0, 5))
	n, err = s.DeleteExpired(context.Background(), storeNow, usedBefore)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	mock.ExpectExec("DELETE FROM password_resets WHERE id").WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Delete(context.Background(), "gone"), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
