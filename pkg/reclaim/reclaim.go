package reclaim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/elbethel/academy/pkg/audit"
	"github.com/elbethel/academy/pkg/observability"
)

// DefaultSchedule runs reclamation hourly
const DefaultSchedule = "@every 1h"

// Func deletes records past their retention and returns how many it removed
type Func func(ctx context.Context) (int64, error)

// Retainer is implemented by the invitation and password reset managers
type Retainer interface {
	ReclaimExpired(ctx context.Context, usedRetention time.Duration) (int64, error)
}

// Pruner is implemented by the database audit logger
type Pruner interface {
	Reclaim(ctx context.Context, retention time.Duration) (int64, error)
}

// Expired adapts a Retainer to a Func
func Expired(r Retainer, usedRetention time.Duration) Func {
	return func(ctx context.Context) (int64, error) {
		return r.ReclaimExpired(ctx, usedRetention)
	}
}

// Older adapts a Pruner to a Func. Deletions are counted under table.
func Older(p Pruner, retention time.Duration, table string, metrics *observability.Metrics) Func {
	return func(ctx context.Context) (int64, error) {
		n, err := p.Reclaim(ctx, retention)
		if err != nil {
			return 0, err
		}
		metrics.RecordReclaimed(table, n)
		return n, nil
	}
}

type task struct {
	name string
	fn   Func
}

// Report is the outcome of one pass
type Report struct {
	Deleted map[string]int64
	Failed  map[string]error
	Took    time.Duration
}

// Total is the number of records deleted across all tasks
func (r Report) Total() int64 {
	var n int64
	for _, d := range r.Deleted {
		n += d
	}
	return n
}

// Reclaimer runs the registered deletion tasks in order. Passes never overlap.
type Reclaimer struct {
	mu      sync.Mutex
	tasks   []task
	audit   audit.Logger
	logger  *observability.Logger
	timeout time.Duration
}

// New creates a reclaimer. auditLogger and logger may be nil.
func New(auditLogger audit.Logger, logger *observability.Logger) *Reclaimer {
	if auditLogger == nil {
		auditLogger = audit.Nop()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Reclaimer{audit: auditLogger, logger: logger, timeout: 5 * time.Minute}
}

// Add registers a task under name
func (r *Reclaimer) Add(name string, fn Func) *Reclaimer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task{name: name, fn: fn})
	return r
}

// RunOnce runs every task. A failing task does not stop the others; the
// joined errors are returned alongside the report.
func (r *Reclaimer) RunOnce(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	report := Report{Deleted: make(map[string]int64), Failed: make(map[string]error)}
	var errs []error

	for _, t := range r.tasks {
		n, err := t.fn(ctx)
		if err != nil {
			report.Failed[t.name] = err
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			r.logger.WithError(err).WithField("task", t.name).Error("Reclamation task failed")
			continue
		}
		report.Deleted[t.name] = n
	}
	report.Took = time.Since(start)

	status := audit.EventStatusSuccess
	if len(errs) > 0 {
		status = audit.EventStatusFailure
	}
	event := audit.NewEvent(ctx, audit.EventTypeReclaim, status).
		With("deleted", report.Deleted).
		With("duration_ms", report.Took.Milliseconds())
	if err := r.audit.Log(ctx, event); err != nil {
		r.logger.WithError(err).Warn("Failed to record audit event")
	}

	r.logger.WithFields(map[string]interface{}{
		"deleted":     report.Total(),
		"failed":      len(report.Failed),
		"duration_ms": report.Took.Milliseconds(),
	}).Info("Reclamation pass finished")

	return report, errors.Join(errs...)
}

// Schedule returns a cron scheduler that runs a pass on spec. The caller
// starts and stops it.
func (r *Reclaimer) Schedule(spec string) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	logger := cronLogger{r.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid reclaim schedule %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger routes cron's own logging through the structured logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(pairs(keysAndValues)).Error(msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
