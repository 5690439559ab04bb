package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/httputil"
	"github.com/elbethel/academy/pkg/invitations"
	"github.com/elbethel/academy/pkg/middleware"
	"github.com/elbethel/academy/pkg/notify"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/passwordreset"
	"github.com/elbethel/academy/pkg/users"
)

// EmailService is the part of the notifier the HTTP layer talks to directly
type EmailService interface {
	Enabled() bool
	Status() notify.Status
	InvitationLink(token string) string
	SendTest(ctx context.Context, to string) notify.Result
}

// AuditSearcher answers the admin audit query
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error)
}

// Config wires a Server. Sessions, Directory, Invitations, Resets and Email
// are required; everything else degrades to a no-op.
type Config struct {
	Sessions    *auth.SessionManager
	Directory   *users.Directory
	Invitations *invitations.Manager
	Resets      *passwordreset.Manager
	Email       EmailService

	Audit       audit.Logger
	AuditSearch AuditSearcher

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Logger   *observability.Logger

	// Per-IP limiters for the public credential routes; nil disables limiting
	SignInLimiter *middleware.RateLimiter
	ResetLimiter  *middleware.RateLimiter

	// SurfaceResetRateLimit answers a reset cooldown with 429 instead of the
	// generic success body
	SurfaceResetRateLimit bool

	AllowedOrigins []string

	// Proxies allowed to report the client address; nil trusts none
	TrustedProxies *auth.ProxyTrust
}

// Server represents our API server
type Server struct {
	router     *mux.Router
	handler    http.Handler
	authorizer *middleware.Authorizer
	logger     *observability.Logger

	authHandlers       *AuthHandlers
	invitationHandlers *InvitationHandlers
	resetHandlers      *PasswordResetHandlers
	adminHandlers      *AdminHandlers
}

// NewServer creates a new API server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil || cfg.Directory == nil || cfg.Invitations == nil || cfg.Resets == nil || cfg.Email == nil {
		return nil, errors.New("api: sessions, directory, invitations, resets and email are required")
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	s := &Server{
		router:     mux.NewRouter(),
		authorizer: middleware.NewAuthorizer(cfg.Sessions, cfg.Audit, cfg.Logger),
		logger:     cfg.Logger,
	}

	s.authHandlers = &AuthHandlers{
		sessions:  cfg.Sessions,
		directory: cfg.Directory,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		limiter:   cfg.SignInLimiter,
	}
	s.invitationHandlers = &InvitationHandlers{
		manager: cfg.Invitations,
		email:   cfg.Email,
		logger:  cfg.Logger,
	}
	s.resetHandlers = &PasswordResetHandlers{
		manager:          cfg.Resets,
		limiter:          cfg.ResetLimiter,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		surfaceRateLimit: cfg.SurfaceResetRateLimit,
	}
	s.adminHandlers = &AdminHandlers{
		directory: cfg.Directory,
		sessions:  cfg.Sessions,
		audit:     cfg.Audit,
		search:    cfg.AuditSearch,
		logger:    cfg.Logger,
	}

	s.setupRoutes(cfg)

	if cfg.TrustedProxies == nil {
		cfg.TrustedProxies = &auth.ProxyTrust{}
	}

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		cfg.TrustedProxies.Middleware,
		httputil.LoggingMiddleware(cfg.Logger),
		httputil.RecoveryMiddleware(cfg.Logger),
		httputil.CORSMiddleware(cfg.AllowedOrigins),
	)(s.router)

	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(cfg Config) {
	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}

	if cfg.Health != nil {
		observability.RegisterHealthRoutes(s.router, cfg.Health)
	}
	if cfg.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(cfg.Registry)).Methods(http.MethodGet)
	}

	s.authHandlers.RegisterRoutes(s.router, s.authorizer)
	s.invitationHandlers.RegisterRoutes(s.router, s.authorizer)
	s.resetHandlers.RegisterRoutes(s.router)
	s.adminHandlers.RegisterRoutes(s.router, s.authorizer)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "Not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// Router returns the bare route table
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler with the full middleware chain applied
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// rateLimited applies rl to h when rate limiting is configured
func rateLimited(rl *middleware.RateLimiter, name string, metrics *observability.Metrics, logger *observability.Logger, h http.Handler) http.Handler {
	if rl == nil {
		return h
	}
	return rl.PerIP(name, metrics, logger)(h)
}
