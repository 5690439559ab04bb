package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/invitations"
	"github.com/elbethel/academy/pkg/middleware"
	"github.com/elbethel/academy/pkg/notify"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/passwordreset"
	"github.com/elbethel/academy/pkg/rbac"
	"github.com/elbethel/academy/pkg/storage/storagetest"
	"github.com/elbethel/academy/pkg/users"
)

const testPassword = "secret123"

// outbox is a notify.Sender that keeps every message
type outbox struct {
	mu       sync.Mutex
	disabled bool
	fail     string
	messages []notify.Message
}

func (o *outbox) Send(_ context.Context, msg notify.Message) notify.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	if o.fail != "" {
		return notify.Result{Error: o.fail}
	}
	return notify.Result{Success: true, MessageID: "<msg@school.edu>"}
}

func (o *outbox) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.disabled
}

func (o *outbox) set(disabled bool, fail string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disabled = disabled
	o.fail = fail
}

func (o *outbox) From() (string, string) { return "noreply@school.edu", "Test Academy" }

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

var resetTokenPattern = regexp.MustCompile(`token=([0-9a-f]{64})`)

// lastResetToken pulls the raw token out of the newest reset email
func (o *outbox) lastResetToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.messages)
	match := resetTokenPattern.FindStringSubmatch(o.messages[len(o.messages)-1].Text)
	require.Len(t, match, 2, "no reset token in the last email")
	return match[1]
}

type harnessOptions struct {
	surfaceResetRateLimit bool
	signInLimit           int
}

type harness struct {
	t         *testing.T
	db        *sql.DB
	directory *users.Directory
	outbox    *outbox
	redis     *miniredis.Miniredis
	server    *httptest.Server

	mu  sync.Mutex
	now time.Time
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		db:     storagetest.OpenSQLite(t),
		outbox: &outbox{},
		redis:  miniredis.RunT(t),
		now:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	if opts.signInLimit == 0 {
		opts.signInLimit = 100
	}

	logger := observability.NewNopLogger()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	h.directory = users.NewDirectory(users.NewStore(h.db, h.clock), auth.NewPasswordHasher(bcrypt.MinCost))

	auditLog, err := audit.NewDBLogger(h.db, h.clock)
	require.NoError(t, err)

	templates, err := notify.LoadTemplates("", nil)
	require.NoError(t, err)
	notifier := notify.NewNotifier(h.outbox, templates, notify.NotifierConfig{FrontendURL: "http://front.test"}, logger, metrics)

	invitationManager, err := invitations.NewManager(invitations.Config{
		DB: h.db, Directory: h.directory, Mailer: notifier, Audit: auditLog, Metrics: metrics, Logger: logger, Clock: h.clock,
	})
	require.NoError(t, err)

	resetManager, err := passwordreset.NewManager(passwordreset.Config{
		DB: h.db, Directory: h.directory, Mailer: notifier, Audit: auditLog, Metrics: metrics, Logger: logger, Clock: h.clock,
	})
	require.NoError(t, err)

	sessions, err := auth.NewSessionManager(auth.SessionConfig{
		Secret: "0123456789abcdef0123456789abcdef",
	}, h.directory)
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: h.redis.Addr()})
	t.Cleanup(func() { rdb.Close() })

	srv, err := NewServer(Config{
		Sessions:    sessions,
		Directory:   h.directory,
		Invitations: invitationManager,
		Resets:      resetManager,
		Email:       notifier,
		Audit:       auditLog,
		AuditSearch: auditLog,
		Health:      observability.NewHealthChecker("test", h.db, rdb),
		Metrics:     metrics,
		Registry:    registry,
		Logger:      logger,
		SignInLimiter: middleware.NewRateLimiter(rdb, &middleware.RateLimitConfig{
			RequestsPerWindow: opts.signInLimit, WindowDuration: time.Minute,
		}, "test:signin"),
		ResetLimiter:          middleware.NewRateLimiter(rdb, middleware.PasswordResetRateLimitConfig(), "test:reset"),
		SurfaceResetRateLimit: opts.surfaceResetRateLimit,
		AllowedOrigins:        []string{"http://front.test"},
	})
	require.NoError(t, err)

	h.server = httptest.NewServer(srv)
	t.Cleanup(h.server.Close)
	return h
}

// seed creates an account directly in the directory
func (h *harness) seed(username string, role rbac.Role) *users.User {
	h.t.Helper()
	u, err := h.directory.Create(context.Background(), users.NewUserRequest{
		Username: username, Email: username + "@school.edu", Name: username, Password: testPassword, Role: role,
	})
	require.NoError(h.t, err)
	return u
}

// client is a browser with its own cookie jar
type client struct {
	h    *harness
	http *http.Client
}

func (h *harness) anonymous() *client {
	h.t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(h.t, err)
	return &client{h: h, http: &http.Client{Jar: jar}}
}

// signedIn returns a client holding a session for username
func (h *harness) signedIn(username string) *client {
	h.t.Helper()
	c := h.anonymous()
	status, body := c.do(http.MethodPost, "/auth/signin/credentials", map[string]string{
		"username": username, "password": testPassword,
	})
	require.Equal(h.t, http.StatusOK, status, body)
	return c
}

// do sends a JSON request and decodes the JSON response
func (c *client) do(method, path string, payload interface{}) (int, map[string]interface{}) {
	c.h.t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(c.h.t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, c.h.server.URL+path, &body)
	require.NoError(c.h.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	require.NoError(c.h.t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(c.h.t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}
