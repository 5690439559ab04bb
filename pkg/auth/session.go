package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultSessionCookie is the cookie name used when none is configured
	DefaultSessionCookie = "academy.sid"

	// MinSecretLength is the shortest accepted cookie signing secret
	MinSecretLength = 32

	sessionUserIDKey = "user_id"
)

// SessionConfig configures cookie sessions
type SessionConfig struct {
	Secret     string
	CookieName string
	Secure     bool
	MaxAge     time.Duration

	// Identity cache; a deactivated account is locked out within CacheTTL
	CacheSize int
	CacheTTL  time.Duration
}

// SessionManager keeps the signed-in user ID in a signed cookie and resolves it
// to a fresh Identity on each request.
type SessionManager struct {
	store  sessions.Store
	name   string
	loader IdentityLoader
	cache  *expirable.LRU[string, Identity]
}

// NewSessionManager creates a cookie-backed session manager
func NewSessionManager(cfg SessionConfig, loader IdentityLoader) (*SessionManager, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultSessionCookie
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}

	store := sessions.NewCookieStore([]byte(cfg.Secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionManager{
		store:  store,
		name:   cfg.CookieName,
		loader: loader,
		cache:  expirable.NewLRU[string, Identity](cfg.CacheSize, nil, cfg.CacheTTL),
	}, nil
}

// Establish binds identity to the caller's session cookie
func (sm *SessionManager) Establish(w http.ResponseWriter, r *http.Request, identity *Identity) error {
	// A cookie that fails to decode yields a fresh session, which is what we want
	session, _ := sm.store.Get(r, sm.name)
	session.Values[sessionUserIDKey] = identity.ID
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	sm.cache.Add(identity.ID, *identity)
	return nil
}

// Destroy expires the caller's session cookie
func (sm *SessionManager) Destroy(w http.ResponseWriter, r *http.Request) error {
	session, _ := sm.store.Get(r, sm.name)
	if userID, ok := session.Values[sessionUserIDKey].(string); ok {
		sm.cache.Remove(userID)
	}
	session.Values = make(map[interface{}]interface{})
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Identity returns the user bound to the request's session, or nil when there
// is no session or the user no longer exists.
func (sm *SessionManager) Identity(r *http.Request) (*Identity, error) {
	session, err := sm.store.Get(r, sm.name)
	if err != nil {
		return nil, nil
	}

	userID, ok := session.Values[sessionUserIDKey].(string)
	if !ok || userID == "" {
		return nil, nil
	}

	if cached, ok := sm.cache.Get(userID); ok {
		identity := cached
		return &identity, nil
	}

	identity, err := sm.loader.LoadIdentity(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session identity: %w", err)
	}

	sm.cache.Add(userID, *identity)
	return identity, nil
}

// Invalidate drops a cached identity after its role or active flag changed
func (sm *SessionManager) Invalidate(userID string) {
	sm.cache.Remove(userID)
}
