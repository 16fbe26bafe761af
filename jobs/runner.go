// Package jobs hosts the periodic contract tick for every tenant.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"abonnement-backend/billing"
	"abonnement-backend/config"
	"abonnement-backend/database"
	"abonnement-backend/logger"
	"abonnement-backend/repos"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// cronLogger adapts our logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}

// Runner triggers the contract tick of every tenant on a cron schedule.
type Runner struct {
	db  *gorm.DB
	cfg config.Config
	log *logger.Logger
	Now func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewRunner(db *gorm.DB, cfg config.Config, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{db: db, cfg: cfg, log: log.With("component", "scheduler")}
}

// Start schedules the tick. Overlapping runs are skipped.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("scheduler already started")
	}

	cl := cronLogger{r.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.AddFunc(r.cfg.Scheduler.Cron, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Warn("scheduled tick finished with errors", "error", err)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("invalid scheduler cron %q: %w", r.cfg.Scheduler.Cron, err)
	}
	c.Start()
	r.cron, r.cancel = c, cancel
	r.log.Info("scheduler started", "cron", r.cfg.Scheduler.Cron)
	return nil
}

// Stop cancels a running tick and waits for it until ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		r.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce ticks every tenant schema one after the other. A failing tenant
// does not stop the others.
func (r *Runner) RunOnce(ctx context.Context) (map[string]billing.TickReport, error) {
	schemas, err := database.TenantSchemas(r.db)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	reports := make(map[string]billing.TickReport, len(schemas))
	var errs []error
	for _, schema := range schemas {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		t := repos.NewTenant(r.db, schema, r.cfg.Billing, r.log)
		s, err := t.Scheduler(r.cfg, r.log, r.Now)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", schema, err))
			continue
		}
		report, err := s.Tick(ctx)
		reports[schema] = report
		if err != nil {
			r.log.Error("tenant tick failed", "schema", schema, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", schema, err))
			continue
		}
		if report.Failed > 0 {
			errs = append(errs, fmt.Errorf("tenant %s: %w", schema, report.Err()))
		}
	}
	return reports, errors.Join(errs...)
}
