package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"abonnement-backend/logger"
	"abonnement-backend/models"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs the periodic contract tick. It holds no timer of its own;
// the host calls Tick.
type Scheduler struct {
	Engine      *Engine
	Store       ContractStore
	Log         *logger.Logger
	Concurrency int
	Now         func() time.Time
}

// TickReport summarizes one tick.
type TickReport struct {
	Date       time.Time
	Processed  int
	Invoiced   int
	ExpireSoon int
	Expired    int
	Failed     int
	Skipped    int
	Errors     []error
}

// Err joins the per-contract failures, nil when every contract went through.
func (r TickReport) Err() error {
	return errors.Join(r.Errors...)
}

func (s *Scheduler) log() *logger.Logger {
	if s.Log == nil {
		return logger.Nop()
	}
	return s.Log
}

func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.TickAt(ctx, now())
}

// TickAt advances every contract as of today. Each contract is handled in its
// own atomic update; a failing contract is logged and the tick moves on.
// Cancelling ctx stops picking up contracts but lets running ones finish.
func (s *Scheduler) TickAt(ctx context.Context, today time.Time) (TickReport, error) {
	today = Day(today)
	report := TickReport{Date: today}

	ids, err := s.Store.ContractIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list contracts: %w", err)
	}

	limit := s.Concurrency
	if limit < 1 {
		limit = 1
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(limit)

	work := context.WithoutCancel(ctx)
	for i, id := range ids {
		if ctx.Err() != nil {
			report.Skipped = len(ids) - i
			break
		}
		g.Go(func() error {
			step, err := s.advance(work, id, today)
			mu.Lock()
			defer mu.Unlock()
			report.record(id, step, err)
			return nil
		})
	}
	_ = g.Wait()

	s.log().Info("contract tick finished",
		"date", today.Format(time.DateOnly),
		"processed", report.Processed,
		"invoiced", report.Invoiced,
		"expire_soon", report.ExpireSoon,
		"expired", report.Expired,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, ctx.Err()
}

func (s *Scheduler) advance(ctx context.Context, id uint, today time.Time) (step Step, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("contract %d: panic: %v", id, r)
			s.log().Error("contract tick panicked", "contract_id", id, "panic", r)
		}
	}()

	err = s.Store.Atomic(ctx, id, func(ctx context.Context, c *models.Contract) error {
		var aerr error
		step, aerr = s.Engine.Advance(ctx, c, today)
		return aerr
	})
	if err != nil {
		s.log().Error("contract tick failed", "contract_id", id, "error", err)
		return step, err
	}
	if step.InvoiceErr != nil {
		s.log().Warn("contract invoice skipped", "contract_id", id, "error", step.InvoiceErr)
	}
	if step.From != step.To {
		s.log().Debug("contract state advanced", "contract_id", id, "from", step.From, "to", step.To)
	}
	return step, nil
}

func (r *TickReport) record(id uint, step Step, err error) {
	if err != nil {
		r.Failed++
		r.Errors = append(r.Errors, err)
		return
	}
	r.Processed++
	if step.Invoiced() {
		r.Invoiced++
	}
	if step.InvoiceErr != nil {
		r.Failed++
		r.Errors = append(r.Errors, fmt.Errorf("contract %d: %w", id, step.InvoiceErr))
	}
	if step.From != step.To {
		switch step.To {
		case models.ContractStateExpireSoon:
			r.ExpireSoon++
		case models.ContractStateExpired:
			r.Expired++
		}
	}
}
