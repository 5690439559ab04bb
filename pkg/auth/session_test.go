package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elbethel/academy/pkg/rbac"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeLoader struct {
	mu         sync.Mutex
	identities map[string]*Identity
	calls      int
	err        error
}

func (f *fakeLoader) LoadIdentity(ctx context.Context, userID string) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	identity, ok := f.identities[userID]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	cp := *identity
	return &cp, nil
}

func newTestSessionManager(t *testing.T, loader IdentityLoader) *SessionManager {
	t.Helper()
	sm, err := NewSessionManager(SessionConfig{Secret: testSecret, CacheTTL: time.Minute}, loader)
	require.NoError(t, err)
	return sm
}

// signIn establishes a session and returns a request carrying its cookie
func signIn(t *testing.T, sm *SessionManager, identity *Identity) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Establish(rec, httptest.NewRequest("POST", "/auth/signin/credentials", nil), identity))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultSessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest("GET", "/auth/session", nil)
	req.AddCookie(cookies[0])
	return req
}

func TestNewSessionManager_RejectsShortSecret(t *testing.T) {
	_, err := NewSessionManager(SessionConfig{Secret: "short"}, &fakeLoader{})
	assert.Error(t, err)
}

func TestSessionManager_RoundTrip(t *testing.T) {
	jane := &Identity{ID: "u-jane", Username: "jane", Role: rbac.RoleTeacher, IsActive: true}
	loader := &fakeLoader{identities: map[string]*Identity{"u-jane": jane}}
	sm := newTestSessionManager(t, loader)

	req := signIn(t, sm, jane)

	identity, err := sm.Identity(req)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "jane", identity.Username)
	assert.Equal(t, 0, loader.calls, "identity should come from the cache")

	t.Run("invalidate forces a reload", func(t *testing.T) {
		loader.identities["u-jane"] = &Identity{ID: "u-jane", Username: "jane", Role: rbac.RoleTeacher, IsActive: false}
		sm.Invalidate("u-jane")

		identity, err := sm.Identity(req)
		require.NoError(t, err)
		assert.False(t, identity.IsActive)
		assert.Equal(t, 1, loader.calls)
	})
}

func TestSessionManager_NoSession(t *testing.T) {
	sm := newTestSessionManager(t, &fakeLoader{})

	identity, err := sm.Identity(httptest.NewRequest("GET", "/", nil))
	assert.NoError(t, err)
	assert.Nil(t, identity)

	t.Run("tampered cookie is ignored", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: strings.Repeat("x", 40)})
		identity, err := sm.Identity(req)
		assert.NoError(t, err)
		assert.Nil(t, identity)
	})
}

func TestSessionManager_DeletedUser(t *testing.T) {
	ghost := &Identity{ID: "u-ghost", Role: rbac.RoleGuest, IsActive: true}
	loader := &fakeLoader{identities: map[string]*Identity{}}
	sm := newTestSessionManager(t, loader)

	req := signIn(t, sm, ghost)
	sm.Invalidate("u-ghost")

	identity, err := sm.Identity(req)
	assert.NoError(t, err)
	assert.Nil(t, identity)
}

func TestSessionManager_LoaderError(t *testing.T) {
	user := &Identity{ID: "u-1", Role: rbac.RoleGuest, IsActive: true}
	loader := &fakeLoader{err: errors.New("db down")}
	sm := newTestSessionManager(t, loader)

	req := signIn(t, sm, user)
	sm.Invalidate("u-1")

	_, err := sm.Identity(req)
	assert.Error(t, err)
}

func TestSessionManager_Destroy(t *testing.T) {
	user := &Identity{ID: "u-1", Role: rbac.RoleGuest, IsActive: true}
	sm := newTestSessionManager(t, &fakeLoader{identities: map[string]*Identity{"u-1": user}})

	req := signIn(t, sm, user)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Destroy(rec, req))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].MaxAge < 0, "cookie should be expired")

	// A request carrying the cleared cookie has no identity
	next := httptest.NewRequest("GET", "/auth/session", nil)
	next.AddCookie(cookies[0])
	identity, err := sm.Identity(next)
	assert.NoError(t, err)
	assert.Nil(t, identity)
}
