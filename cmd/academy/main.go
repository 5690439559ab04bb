package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/elbethel/academy/pkg/api"
	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/config"
	"github.com/elbethel/academy/pkg/invitations"
	"github.com/elbethel/academy/pkg/middleware"
	"github.com/elbethel/academy/pkg/notify"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/passwordreset"
	"github.com/elbethel/academy/pkg/reclaim"
	"github.com/elbethel/academy/pkg/storage"
	"github.com/elbethel/academy/pkg/users"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "academy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout).WithField("version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	telemetry, err := observability.StartTelemetry(ctx, cfg.TelemetryConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	shutdown.Register("telemetry", telemetry.Shutdown)

	db, dialect, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	if err := storage.EnsureSchema(ctx, db, dialect); err != nil {
		_ = db.Close()
		return err
	}
	logger.WithField("driver", string(dialect)).Info("Database ready")

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable; rate limits fail open until it recovers")
		}
	} else {
		logger.Warn("No Redis configured; public auth routes are not rate limited")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	directory := users.NewDirectory(users.NewStore(db, storage.SystemClock), auth.NewPasswordHasher(bcrypt.DefaultCost))
	if admin := cfg.SuperAdmin(); admin != nil {
		created, err := directory.EnsureSuperAdmin(ctx, *admin)
		if err != nil {
			return err
		}
		if created {
			logger.WithField("username", admin.Username).Info("Created bootstrap super admin")
		}
	}

	dbAudit, err := audit.NewDBLogger(db, storage.SystemClock)
	if err != nil {
		return err
	}
	auditLog := audit.NewMultiLogger(dbAudit, audit.NewStreamLogger(logger))

	sender, err := notify.NewSender(cfg.NotifySettings())
	if err != nil {
		logger.WithError(err).Warn("Email delivery disabled")
	}
	templates, err := notify.LoadTemplates(cfg.Mail.TemplateDir, logger)
	if err != nil {
		return err
	}
	notifier := notify.NewNotifier(sender, templates, notify.NotifierConfig{
		FrontendURL: cfg.Frontend.URL,
		Timeout:     cfg.Mail.Timeout,
	}, logger, metrics)

	issuer := auth.NewTokenIssuer()
	invitationManager, err := invitations.NewManager(invitations.Config{
		DB:        db,
		Directory: directory,
		Mailer:    notifier,
		Issuer:    issuer,
		Audit:     auditLog,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	resetManager, err := passwordreset.NewManager(passwordreset.Config{
		DB:            db,
		Directory:     directory,
		Mailer:        notifier,
		Issuer:        issuer,
		Audit:         auditLog,
		Metrics:       metrics,
		Logger:        logger,
		Cooldown:      cfg.Reset.Cooldown,
		ResponseFloor: cfg.Reset.ResponseFloor,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionManager(cfg.SessionSettings(), directory)
	if err != nil {
		return err
	}

	var signInLimiter, resetLimiter *middleware.RateLimiter
	if rdb != nil {
		signInLimiter = middleware.NewRateLimiter(rdb, middleware.SignInRateLimitConfig(), "academy:ratelimit:signin")
		resetLimiter = middleware.NewRateLimiter(rdb, middleware.PasswordResetRateLimitConfig(), "academy:ratelimit:reset")
	}

	proxies, err := cfg.ProxyTrust()
	if err != nil {
		return err
	}

	allowedOrigins := cfg.Frontend.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{cfg.Frontend.URL}
	}

	apiConfig := api.Config{
		Sessions:              sessions,
		Directory:             directory,
		Invitations:           invitationManager,
		Resets:                resetManager,
		Email:                 notifier,
		Audit:                 auditLog,
		AuditSearch:           dbAudit,
		Health:                observability.NewHealthChecker(version, db, rdb),
		Metrics:               metrics,
		Logger:                logger,
		SignInLimiter:         signInLimiter,
		ResetLimiter:          resetLimiter,
		SurfaceResetRateLimit: cfg.Reset.SurfaceRateLimit,
		AllowedOrigins:        allowedOrigins,
		TrustedProxies:        proxies,
	}
	if metrics != nil {
		apiConfig.Registry = registry
	}
	server, err := api.NewServer(apiConfig)
	if err != nil {
		return err
	}

	if cfg.Reclaim.Enabled {
		reclaimer := reclaim.New(auditLog, logger).
			Add("invitations", reclaim.Expired(invitationManager, cfg.Reclaim.InvitationUsedRetention)).
			Add("password_reset_tokens", reclaim.Expired(resetManager, cfg.Reclaim.ResetTokenUsedRetention)).
			Add("audit_events", reclaim.Older(dbAudit, cfg.Reclaim.AuditRetention, "audit_events", metrics))
		scheduler, err := reclaimer.Schedule(cfg.Reclaim.Schedule)
		if err != nil {
			return err
		}
		scheduler.Start()
		logger.WithField("schedule", cfg.Reclaim.Schedule).Info("Reclamation scheduled")
		shutdown.Register("reclaim", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(server, "academy"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown.Register("http", httpServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting academy server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := templates.Watch(gctx); err != nil {
			logger.WithError(err).Warn("Email template hot reload disabled")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		return shutdown.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
