package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"abonnement-backend/logger"
	"abonnement-backend/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// tickContract builds a contract running from start for 12 months, invoiced
// every interval days.
func tickContract(t *testing.T, e *Engine, name, start string, interval, reminder int) *models.Contract {
	t.Helper()
	c, err := e.NewContract(context.Background(), ContractDraft{
		Name:             name,
		RecurringPeriod:  models.RecurringPeriod12,
		RecurringInvoice: interval,
		ContractReminder: reminder,
		DateStart:        datePtr(start),
		Lines:            []LinePatch{{ProductID: strPtr("hosting")}},
	})
	if err != nil {
		t.Fatalf("NewContract(%s): %v", name, err)
	}
	c.State = models.ContractStateOngoing
	return c
}

func newScheduler(e *Engine, store ContractStore) *Scheduler {
	return &Scheduler{Engine: e, Store: store, Log: logger.Nop(), Concurrency: 2}
}

func TestTickEntersExpireSoonWindow(t *testing.T) {
	e, _, obs := testEngine(PricingMargin, tierMargins)
	// ends 2025-01-01, warning from 2024-12-02
	store := newMemStore(tickContract(t, e, "A", "2024-01-01", 400, 30))
	s := newScheduler(e, store)

	report, err := s.TickAt(context.Background(), date("2024-12-01"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if got := store.get(1).State; got != models.ContractStateOngoing {
		t.Fatalf("before window: want=Ongoing got=%q", got)
	}

	report, err = s.TickAt(context.Background(), date("2024-12-02"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if got := store.get(1).State; got != models.ContractStateExpireSoon {
		t.Fatalf("in window: want=Expire Soon got=%q", got)
	}
	if report.ExpireSoon != 1 || report.Processed != 1 {
		t.Fatalf("report: want ExpireSoon=1 Processed=1 got %+v", report)
	}

	// date_end itself is still inside the window
	if _, err := s.TickAt(context.Background(), date("2025-01-01")); err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if got := store.get(1).State; got != models.ContractStateExpireSoon {
		t.Fatalf("on end date: want=Expire Soon got=%q", got)
	}
	if got := len(obs.kinds(ChangeState)); got != 1 {
		t.Fatalf("state changes: want=1 got=%d", got)
	}
}

func TestTickExpiredWinsOverWindow(t *testing.T) {
	e, _, _ := testEngine(PricingMargin, tierMargins)
	// reminder longer than the whole contract keeps today inside the window
	store := newMemStore(tickContract(t, e, "A", "2023-01-01", 400, 1000))
	s := newScheduler(e, store)

	report, err := s.TickAt(context.Background(), date("2024-01-02"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if got := store.get(1).State; got != models.ContractStateExpired {
		t.Fatalf("State: want=Expired got=%q", got)
	}
	if report.Expired != 1 || report.ExpireSoon != 0 {
		t.Fatalf("report: want Expired=1 ExpireSoon=0 got %+v", report)
	}

	// no way back once expired
	if _, err := s.TickAt(context.Background(), date("2023-12-30")); err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if got := store.get(1).State; got != models.ContractStateExpired {
		t.Fatalf("State after earlier day: want=Expired got=%q", got)
	}
}

func TestTickInvoicesOncePerDueDate(t *testing.T) {
	e, ledger, _ := testEngine(PricingMargin, tierMargins)
	store := newMemStore(tickContract(t, e, "A", "2024-01-01", 30, 15))
	s := newScheduler(e, store)
	ctx := context.Background()

	if _, err := s.TickAt(ctx, date("2024-01-30")); err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if ledger.count() != 0 {
		t.Fatalf("before due date: want 0 invoices got=%d", ledger.count())
	}

	for i := 0; i < 2; i++ {
		report, err := s.TickAt(ctx, date("2024-01-31"))
		if err != nil {
			t.Fatalf("TickAt: %v", err)
		}
		wantInvoiced := 1
		if i == 1 {
			wantInvoiced = 0
		}
		if report.Invoiced != wantInvoiced {
			t.Fatalf("run %d Invoiced: want=%d got=%d", i, wantInvoiced, report.Invoiced)
		}
	}
	if ledger.count() != 1 {
		t.Fatalf("invoices: want=1 got=%d", ledger.count())
	}
	c := store.get(1)
	if c.InvoiceCount != 1 {
		t.Fatalf("InvoiceCount: want=1 got=%d", c.InvoiceCount)
	}
	if c.BilledDueDate == nil || !c.BilledDueDate.Equal(date("2024-01-31")) {
		t.Fatalf("BilledDueDate: want=2024-01-31 got=%v", c.BilledDueDate)
	}
	if !c.NextInvoiceDate.Equal(date("2024-01-31")) {
		t.Fatalf("NextInvoiceDate: want unchanged 2024-01-31 got=%s", c.NextInvoiceDate)
	}
	if got := ledger.invoices[0]; len(got.Lines) != 1 || !got.Date.Equal(date("2024-01-31")) {
		t.Fatalf("invoice: want one line dated 2024-01-31 got %+v", got)
	}
}

func TestTickNeverInvoicesCancelled(t *testing.T) {
	e, ledger, _ := testEngine(PricingMargin, tierMargins)
	c := tickContract(t, e, "A", "2024-01-01", 30, 400)
	c.State = models.ContractStateCancelled
	store := newMemStore(c)
	s := newScheduler(e, store)

	report, err := s.TickAt(context.Background(), date("2024-01-31"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if ledger.count() != 0 || report.Invoiced != 0 {
		t.Fatalf("invoices: want=0 got=%d", ledger.count())
	}
	if got := store.get(1).State; got != models.ContractStateCancelled {
		t.Fatalf("State: want=Cancelled got=%q", got)
	}

	if _, err := s.TickAt(context.Background(), date("2026-01-01")); err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if got := store.get(1).State; got != models.ContractStateCancelled {
		t.Fatalf("State after end: want=Cancelled got=%q", got)
	}
}

func TestTickToleratesFailingContracts(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e, ledger, _ := testEngine(PricingMargin, tierMargins)

	undated := tickContract(t, e, "UNDATED", "2024-01-01", 30, 15)
	undated.DateStart, undated.DateEnd, undated.NextInvoiceDate = nil, nil, nil
	broken := tickContract(t, e, "BROKEN", "2024-01-01", 30, 15)
	exploding := tickContract(t, e, "EXPLODING", "2024-01-01", 30, 15)
	healthy := tickContract(t, e, "HEALTHY", "2024-01-01", 30, 15)
	ledger.failFor = map[string]error{"BROKEN": errLedgerDown}
	ledger.panicFor = map[string]bool{"EXPLODING": true}

	store := newMemStore(undated, broken, exploding, healthy)
	s := &Scheduler{Engine: e, Store: store, Log: logger.FromZap(zap.New(core)), Concurrency: 1}

	report, err := s.TickAt(context.Background(), date("2024-01-31"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if report.Processed != 2 || report.Invoiced != 1 || report.Failed != 3 {
		t.Fatalf("report: want Processed=2 Invoiced=1 Failed=3 got %+v", report)
	}
	if !errors.Is(report.Err(), ErrMissingDates) || !errors.Is(report.Err(), errLedgerDown) {
		t.Fatalf("Err: want missing dates and ledger errors got=%v", report.Err())
	}
	if !strings.Contains(report.Err().Error(), "panic") {
		t.Fatalf("Err: want panic recorded got=%v", report.Err())
	}
	if ledger.count() != 1 || ledger.invoices[0].ContractName != "HEALTHY" {
		t.Fatalf("invoices: want only HEALTHY got=%+v", ledger.invoices)
	}
	if store.get(2).BilledDueDate != nil {
		t.Fatalf("BROKEN: want due date left open for retry")
	}
	if n := logs.FilterMessage("contract tick failed").Len(); n != 1 {
		t.Fatalf("failure logs: want=1 got=%d", n)
	}
	if n := logs.FilterMessage("contract invoice skipped").Len(); n != 1 {
		t.Fatalf("skip logs: want=1 got=%d", n)
	}

	// the ledger recovers and a later tick on the due date bills it
	ledger.failFor = nil
	report, err = s.TickAt(context.Background(), date("2024-01-31"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if report.Invoiced != 1 || store.get(2).InvoiceCount != 1 {
		t.Fatalf("retry: want BROKEN invoiced got report=%+v count=%d", report, store.get(2).InvoiceCount)
	}
	if ledger.count() != 2 || ledger.invoices[1].ContractName != "BROKEN" {
		t.Fatalf("invoices: want HEALTHY then BROKEN got=%+v", ledger.invoices)
	}
}

func TestTickSkipsPassedDueDates(t *testing.T) {
	e, ledger, _ := testEngine(PricingMargin, tierMargins)
	// due 2022-01-31, ended 2023-01-01
	old := tickContract(t, e, "OLD", "2022-01-01", 30, 15)
	// due 2024-05-01
	live := tickContract(t, e, "LIVE", "2024-04-01", 30, 15)
	store := newMemStore(old, live)
	s := newScheduler(e, store)

	report, err := s.TickAt(context.Background(), date("2024-05-20"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if ledger.count() != 0 || report.Invoiced != 0 {
		t.Fatalf("invoices: want=0 got=%d (%+v)", ledger.count(), ledger.invoices)
	}
	if got := store.get(1).State; got != models.ContractStateExpired {
		t.Fatalf("OLD State: want=Expired got=%q", got)
	}
	if store.get(1).BilledDueDate != nil || store.get(2).BilledDueDate != nil {
		t.Fatalf("BilledDueDate: want both unset")
	}
}

func TestTickDoesNotRetryFailedEmissionAfterDueDate(t *testing.T) {
	e, ledger, _ := testEngine(PricingMargin, tierMargins)
	store := newMemStore(tickContract(t, e, "LATE", "2024-01-01", 30, 15))
	s := newScheduler(e, store)
	ledger.failFor = map[string]error{"LATE": errLedgerDown}

	report, err := s.TickAt(context.Background(), date("2024-01-31"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if report.Invoiced != 0 || ledger.count() != 0 {
		t.Fatalf("due day: want no invoice got %+v", report)
	}

	ledger.failFor = nil
	report, err = s.TickAt(context.Background(), date("2024-02-01"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if report.Invoiced != 0 || ledger.count() != 0 {
		t.Fatalf("day after: want no invoice got %+v", report)
	}
	if store.get(1).BilledDueDate != nil {
		t.Fatalf("BilledDueDate: want unset got=%v", store.get(1).BilledDueDate)
	}
}

func TestTickProcessesContractsConcurrently(t *testing.T) {
	e, ledger, _ := testEngine(PricingMargin, tierMargins)
	var cs []*models.Contract
	for i := 0; i < 25; i++ {
		cs = append(cs, tickContract(t, e, fmt.Sprintf("C%02d", i), "2024-01-01", 30, 15))
	}
	store := newMemStore(cs...)
	s := &Scheduler{Engine: e, Store: store, Concurrency: 5}

	report, err := s.TickAt(context.Background(), date("2024-01-31"))
	if err != nil {
		t.Fatalf("TickAt: %v", err)
	}
	if report.Processed != 25 || report.Invoiced != 25 || ledger.count() != 25 {
		t.Fatalf("report: want 25 processed and invoiced got %+v ledger=%d", report, ledger.count())
	}
}

func TestTickStopsOnCancelledContext(t *testing.T) {
	e, ledger, _ := testEngine(PricingMargin, tierMargins)
	store := newMemStore(
		tickContract(t, e, "A", "2024-01-01", 30, 15),
		tickContract(t, e, "B", "2024-01-01", 30, 15),
	)
	s := newScheduler(e, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := s.TickAt(ctx, date("2024-01-31"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("TickAt: want context.Canceled got=%v", err)
	}
	if report.Skipped != 2 || report.Processed != 0 || ledger.count() != 0 {
		t.Fatalf("report: want Skipped=2 got %+v", report)
	}
}

func TestTickUsesClock(t *testing.T) {
	e, ledger, _ := testEngine(PricingMargin, tierMargins)
	store := newMemStore(tickContract(t, e, "A", "2024-01-01", 30, 15))
	s := newScheduler(e, store)
	s.Now = func() time.Time { return date("2024-01-31").Add(15 * time.Hour) }

	report, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !report.Date.Equal(date("2024-01-31")) || ledger.count() != 1 {
		t.Fatalf("Tick: want invoice on 2024-01-31 got date=%s invoices=%d", report.Date, ledger.count())
	}
}
