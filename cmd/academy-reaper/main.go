package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/config"
	"github.com/elbethel/academy/pkg/invitations"
	"github.com/elbethel/academy/pkg/notify"
	"github.com/elbethel/academy/pkg/observability"
	"github.com/elbethel/academy/pkg/passwordreset"
	"github.com/elbethel/academy/pkg/reclaim"
	"github.com/elbethel/academy/pkg/storage"
	"github.com/elbethel/academy/pkg/users"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for reclamation (default: ACADEMY_RECLAIM_SCHEDULE or @every 1h)")
	runOnce  = flag.Bool("run-once", false, "Run a single reclamation pass and exit")
	timeout  = flag.Duration("timeout", 5*time.Minute, "Deadline for a --run-once pass")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "academy-reaper: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout).WithField("component", "reaper")

	ctx := context.Background()
	db, dialect, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.EnsureSchema(ctx, db, dialect); err != nil {
		logger.WithError(err).Error("Failed to prepare schema")
		os.Exit(1)
	}

	reclaimer, err := newReclaimer(cfg, db, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to build reclaimer")
		os.Exit(1)
	}

	// Run once mode (cron jobs in the orchestrator, manual cleanup)
	if *runOnce {
		runCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		report, err := reclaimer.RunOnce(runCtx)
		if err != nil {
			logger.WithError(err).Error("Reclamation failed")
			os.Exit(1)
		}
		for task, n := range report.Deleted {
			logger.WithField("task", task).WithField("deleted", n).Info("Reclaimed")
		}
		return
	}

	spec := *schedule
	if spec == "" {
		spec = cfg.Reclaim.Schedule
	}
	c, err := reclaimer.Schedule(spec)
	if err != nil {
		logger.WithError(err).Error("Failed to schedule reclamation")
		os.Exit(1)
	}

	c.Start()
	logger.WithField("schedule", spec).Info("Academy reaper started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	stopCtx := c.Stop()
	<-stopCtx.Done()

	logger.Info("Reaper stopped")
}

// newReclaimer wires the same tasks the server schedules. Mail is never sent
// from here, so the managers get a disabled sender.
func newReclaimer(cfg *config.Config, db *sql.DB, logger *observability.Logger) (*reclaim.Reclaimer, error) {
	directory := users.NewDirectory(users.NewStore(db, storage.SystemClock), auth.NewPasswordHasher(bcrypt.DefaultCost))

	dbAudit, err := audit.NewDBLogger(db, storage.SystemClock)
	if err != nil {
		return nil, err
	}

	templates, err := notify.LoadTemplates("", logger)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewNotifier(notify.Disabled{}, templates, notify.NotifierConfig{FrontendURL: cfg.Frontend.URL}, logger, nil)

	invitationManager, err := invitations.NewManager(invitations.Config{
		DB: db, Directory: directory, Mailer: notifier, Audit: dbAudit, Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	resetManager, err := passwordreset.NewManager(passwordreset.Config{
		DB: db, Directory: directory, Mailer: notifier, Audit: dbAudit, Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return reclaim.New(dbAudit, logger).
		Add("invitations", reclaim.Expired(invitationManager, cfg.Reclaim.InvitationUsedRetention)).
		Add("password_reset_tokens", reclaim.Expired(resetManager, cfg.Reclaim.ResetTokenUsedRetention)).
		Add("audit_events", reclaim.Older(dbAudit, cfg.Reclaim.AuditRetention, "audit_events", nil)), nil
}
