package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"abonnement-backend/models"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Engine applies user actions and scheduler steps to contracts held in
// memory. Callers persist the result, normally inside ContractStore.Atomic.
type Engine struct {
	Catalog  Catalog
	Partners PartnerDirectory
	Margins  MarginSource
	Sequence SequenceGenerator
	Ledger   Ledger
	Observer Observer

	Mode            PricingMode
	SequenceCode    string
	DefaultCurrency string
	Clock           func() time.Time
}

// ContractDraft holds the user supplied fields of a new contract.
type ContractDraft struct {
	Name                    string
	Type                    models.ContractType
	CustomerID              *uint
	RecurringPeriod         models.RecurringPeriod
	RecurringPeriodInterval models.PeriodInterval
	RecurringInvoice        int
	ContractReminder        int
	DateStart               *time.Time
	Currency                string
	Note                    string
	Lines                   []LinePatch
}

// ContractPatch updates header fields; nil fields are left alone.
type ContractPatch struct {
	Name                    *string
	Type                    *models.ContractType
	CustomerID              *uint
	RecurringPeriod         *models.RecurringPeriod
	RecurringPeriodInterval *models.PeriodInterval
	RecurringInvoice        *int
	ContractReminder        *int
	DateStart               *time.Time
	Currency                *string
	Note                    *string
}

// LinePatch updates a contract line; nil fields are left alone. A ProductID
// pointing to "" clears the product.
type LinePatch struct {
	ProductID     *string
	Description   *string
	Quantity      *decimal.Decimal
	BaseUnitPrice *decimal.Decimal
	Discount      *decimal.Decimal
	TaxRefs       []string
	Sequence      *int
}

func (p LinePatch) validate() error {
	if p.Quantity != nil && p.Quantity.IsNegative() {
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalid)
	}
	if p.Discount != nil && !validDiscount(*p.Discount) {
		return fmt.Errorf("%w: discount must be between 0 and 100", ErrInvalid)
	}
	if p.BaseUnitPrice != nil && p.BaseUnitPrice.IsNegative() {
		return fmt.Errorf("%w: base unit price must not be negative", ErrInvalid)
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Engine) loadMargins(ctx context.Context) (Margins, error) {
	if e.Margins == nil {
		return Margins{}, nil
	}
	m, err := e.Margins.Margins(ctx)
	if err != nil {
		return Margins{}, fmt.Errorf("load company margins: %w", err)
	}
	return m, nil
}

// notify reports a change of a stored contract; drafts without an id are skipped.
func (e *Engine) notify(ctx context.Context, c *models.Contract, kind ChangeKind, from, to string) {
	if e.Observer == nil || c.ID == 0 {
		return
	}
	e.Observer.ContractChanged(ctx, ContractChange{
		ContractID: c.ID,
		Name:       c.Name,
		Kind:       kind,
		From:       from,
		To:         to,
		At:         e.now(),
	})
}

func (e *Engine) setState(ctx context.Context, c *models.Contract, to models.ContractState) {
	if c.State == to {
		return
	}
	from := c.State
	c.State = to
	e.notify(ctx, c, ChangeState, string(from), string(to))
}

// EnsureEditable rejects header and line edits on locked contracts.
func EnsureEditable(c *models.Contract) error {
	if c.Lock {
		return fmt.Errorf("contract %s: %w", c.Name, ErrLocked)
	}
	return nil
}

func checkHeader(period models.RecurringPeriod, unit models.PeriodInterval) error {
	if _, err := ParsePeriod(period); err != nil {
		return err
	}
	if !ValidInterval(unit) {
		return fmt.Errorf("%w: interval %q", ErrInvalidPeriod, unit)
	}
	return nil
}

// NewContract builds a contract in state New. The name comes from the
// sequence when it is empty or "/".
func (e *Engine) NewContract(ctx context.Context, d ContractDraft) (*models.Contract, error) {
	if d.RecurringPeriodInterval == "" {
		d.RecurringPeriodInterval = models.PeriodIntervalMonths
	}
	if err := checkHeader(d.RecurringPeriod, d.RecurringPeriodInterval); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(d.Name)
	if name == "" || name == "/" {
		if e.Sequence == nil {
			return nil, errors.New("no sequence generator configured")
		}
		n, err := e.Sequence.Next(ctx, e.SequenceCode)
		if err != nil {
			return nil, fmt.Errorf("next contract name: %w", err)
		}
		name = n
	}

	currency := strings.ToUpper(strings.TrimSpace(d.Currency))
	if currency == "" {
		currency = e.DefaultCurrency
	}

	c := &models.Contract{
		Name:                    name,
		Type:                    d.Type,
		CustomerID:              d.CustomerID,
		RecurringPeriod:         d.RecurringPeriod,
		RecurringPeriodInterval: d.RecurringPeriodInterval,
		RecurringInvoice:        d.RecurringInvoice,
		ContractReminder:        d.ContractReminder,
		Currency:                currency,
		Note:                    d.Note,
		State:                   models.ContractStateNew,
		AmountTotal:             decimal.Zero,
		Version:                 1,
	}
	if d.DateStart != nil {
		start := Day(*d.DateStart)
		c.DateStart = &start
	}
	if err := e.derive(ctx, c, fields(fieldDateStart, fieldPeriod, fieldPeriodInterval, fieldInvoiceInterval, fieldLines), nil); err != nil {
		return nil, err
	}
	for _, lp := range d.Lines {
		if _, err := e.addLine(ctx, c, lp); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Update applies header changes and re-derives dates and prices.
func (e *Engine) Update(ctx context.Context, c *models.Contract, p ContractPatch) error {
	if err := EnsureEditable(c); err != nil {
		return err
	}
	period, unit := c.RecurringPeriod, c.RecurringPeriodInterval
	if p.RecurringPeriod != nil {
		period = *p.RecurringPeriod
	}
	if p.RecurringPeriodInterval != nil {
		unit = *p.RecurringPeriodInterval
	}
	if err := checkHeader(period, unit); err != nil {
		return err
	}

	dirty := fieldSet{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" || name == "/" {
			return fmt.Errorf("%w: name must not be empty", ErrInvalid)
		}
		c.Name = name
	}
	if p.Type != nil {
		c.Type = *p.Type
	}
	if p.CustomerID != nil {
		id := *p.CustomerID
		c.CustomerID = &id
	}
	if p.RecurringPeriod != nil && *p.RecurringPeriod != c.RecurringPeriod {
		c.RecurringPeriod = *p.RecurringPeriod
		dirty[fieldPeriod] = true
	}
	if p.RecurringPeriodInterval != nil && *p.RecurringPeriodInterval != c.RecurringPeriodInterval {
		c.RecurringPeriodInterval = *p.RecurringPeriodInterval
		dirty[fieldPeriodInterval] = true
	}
	if p.RecurringInvoice != nil {
		c.RecurringInvoice = *p.RecurringInvoice
		dirty[fieldInvoiceInterval] = true
	}
	if p.ContractReminder != nil {
		c.ContractReminder = *p.ContractReminder
	}
	if p.DateStart != nil {
		start := Day(*p.DateStart)
		c.DateStart = &start
		dirty[fieldDateStart] = true
	}
	if p.Currency != nil {
		c.Currency = strings.ToUpper(strings.TrimSpace(*p.Currency))
	}
	if p.Note != nil {
		c.Note = *p.Note
	}
	return e.derive(ctx, c, dirty, nil)
}

func nextLineSequence(c *models.Contract) int {
	seq := 0
	for _, l := range c.Lines {
		if l.Sequence > seq {
			seq = l.Sequence
		}
	}
	return seq + 10
}

func (e *Engine) addLine(ctx context.Context, c *models.Contract, p LinePatch) (*models.ContractLine, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	c.Lines = append(c.Lines, models.ContractLine{
		ContractID: c.ID,
		Sequence:   nextLineSequence(c),
		Quantity:   decimal.NewFromInt(1),
		TaxRefs:    datatypes.JSONSlice[string]{},
	})
	i := len(c.Lines) - 1
	if err := e.applyLine(ctx, c, i, p); err != nil {
		return nil, err
	}
	if err := e.derive(ctx, c, fields(fieldLines), map[int]fieldSet{i: fields(fieldBasePrice, fieldQuantity)}); err != nil {
		return nil, err
	}
	return &c.Lines[i], nil
}

// applyLine sets the product first so explicit description and price
// overrides in the same patch win over the catalog defaults.
func (e *Engine) applyLine(ctx context.Context, c *models.Contract, i int, p LinePatch) error {
	l := &c.Lines[i]
	if p.ProductID != nil {
		var id *string
		if v := strings.TrimSpace(*p.ProductID); v != "" {
			id = &v
		}
		if !sameProduct(l.ProductID, id) {
			l.ProductID = id
			if err := e.derive(ctx, c, nil, map[int]fieldSet{i: fields(fieldProduct)}); err != nil {
				return err
			}
		}
	}

	dirty := fieldSet{}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Quantity != nil {
		l.Quantity = *p.Quantity
		dirty[fieldQuantity] = true
	}
	if p.BaseUnitPrice != nil {
		l.BaseUnitPrice = *p.BaseUnitPrice
		dirty[fieldBasePrice] = true
	}
	if p.Discount != nil {
		l.Discount = *p.Discount
		dirty[fieldDiscount] = true
	}
	if p.TaxRefs != nil {
		l.TaxRefs = datatypes.JSONSlice[string](append([]string{}, p.TaxRefs...))
	}
	if p.Sequence != nil {
		l.Sequence = *p.Sequence
	}
	if len(dirty) == 0 {
		return nil
	}
	return e.derive(ctx, c, nil, map[int]fieldSet{i: dirty})
}

func sameProduct(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func lineIndex(c *models.Contract, lineID uint) (int, error) {
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("line %d of contract %s: %w", lineID, c.Name, ErrNotFound)
}

func (e *Engine) AddLine(ctx context.Context, c *models.Contract, p LinePatch) (*models.ContractLine, error) {
	if err := EnsureEditable(c); err != nil {
		return nil, err
	}
	return e.addLine(ctx, c, p)
}

func (e *Engine) UpdateLine(ctx context.Context, c *models.Contract, lineID uint, p LinePatch) error {
	if err := EnsureEditable(c); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	i, err := lineIndex(c, lineID)
	if err != nil {
		return err
	}
	return e.applyLine(ctx, c, i, p)
}

func (e *Engine) RemoveLine(ctx context.Context, c *models.Contract, lineID uint) error {
	if err := EnsureEditable(c); err != nil {
		return err
	}
	i, err := lineIndex(c, lineID)
	if err != nil {
		return err
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return e.derive(ctx, c, fields(fieldLines), nil)
}

// Confirm moves the contract to Ongoing. Cancelled contracts stay cancelled.
func (e *Engine) Confirm(ctx context.Context, c *models.Contract) error {
	if c.State == models.ContractStateCancelled {
		return fmt.Errorf("confirm %s: %w", c.Name, ErrInvalidTransition)
	}
	e.setState(ctx, c, models.ContractStateOngoing)
	return nil
}

func (e *Engine) Cancel(ctx context.Context, c *models.Contract) error {
	e.setState(ctx, c, models.ContractStateCancelled)
	return nil
}

func (e *Engine) Lock(ctx context.Context, c *models.Contract) error {
	return e.setLock(ctx, c, true)
}

func (e *Engine) Unlock(ctx context.Context, c *models.Contract) error {
	return e.setLock(ctx, c, false)
}

func (e *Engine) setLock(ctx context.Context, c *models.Contract, lock bool) error {
	if c.Lock == lock {
		return nil
	}
	c.Lock = lock
	e.notify(ctx, c, ChangeLock, strconv.FormatBool(!lock), strconv.FormatBool(lock))
	return nil
}

// ApplyDiscountFromMargin overwrites every line discount with the margin of
// the contract's tier. A zero margin leaves the lines untouched.
func (e *Engine) ApplyDiscountFromMargin(ctx context.Context, c *models.Contract) (bool, error) {
	if err := EnsureEditable(c); err != nil {
		return false, err
	}
	m, err := e.loadMargins(ctx)
	if err != nil {
		return false, err
	}
	margin := m.For(c.RecurringPeriod)
	if margin.IsZero() {
		return false, nil
	}
	if !validDiscount(margin) {
		return false, fmt.Errorf("%w: margin %s is not a valid discount", ErrInvalid, margin)
	}
	lineDirty := make(map[int]fieldSet, len(c.Lines))
	for i := range c.Lines {
		c.Lines[i].Discount = margin
		lineDirty[i] = fields(fieldDiscount)
	}
	if err := e.derive(ctx, c, nil, lineDirty); err != nil {
		return false, err
	}
	return true, nil
}

// Reprice re-derives line prices after the company margins changed. Locked
// contracts keep their prices.
func (e *Engine) Reprice(ctx context.Context, c *models.Contract) error {
	if c.Lock {
		return nil
	}
	return e.derive(ctx, c, fields(fieldMargins), nil)
}

// ComputeNextInvoiceDate re-derives the end date and the next invoice date
// from the start date.
func (e *Engine) ComputeNextInvoiceDate(ctx context.Context, c *models.Contract) error {
	return e.derive(ctx, c, fields(fieldDateStart), nil)
}

// GenerateInvoiceNow emits one invoice dated today with every line and
// refreshes the invoice count.
func (e *Engine) GenerateInvoiceNow(ctx context.Context, c *models.Contract) (uint, error) {
	return e.emitInvoice(ctx, c, Day(e.now()))
}

func (e *Engine) invoiceRequest(c *models.Contract, date time.Time) InvoiceRequest {
	req := InvoiceRequest{
		PartnerID:    c.CustomerID,
		Date:         date,
		ContractID:   c.ID,
		ContractName: c.Name,
		Currency:     c.Currency,
		Lines:        make([]InvoiceLine, 0, len(c.Lines)),
	}
	for _, l := range c.Lines {
		req.Lines = append(req.Lines, InvoiceLine{
			ProductID:   l.ProductID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    l.Discount,
			Taxes:       append([]string{}, l.TaxRefs...),
		})
	}
	return req
}

func (e *Engine) emitInvoice(ctx context.Context, c *models.Contract, date time.Time) (uint, error) {
	if e.Ledger == nil {
		return 0, errors.New("no ledger configured")
	}
	id, err := e.Ledger.CreateInvoice(ctx, e.invoiceRequest(c, date))
	if err != nil {
		return 0, fmt.Errorf("create invoice for %s: %w", c.Name, err)
	}
	count, err := e.Ledger.CountInvoices(ctx, c.ID)
	if err != nil {
		return id, fmt.Errorf("count invoices of %s: %w", c.Name, err)
	}
	c.InvoiceCount = count
	e.notify(ctx, c, ChangeInvoice, "", strconv.FormatUint(uint64(id), 10))
	return id, nil
}

// Step reports what Advance did to one contract.
type Step struct {
	From       models.ContractState
	To         models.ContractState
	InvoiceID  uint
	InvoiceErr error
}

func (s Step) Invoiced() bool { return s.InvoiceID != 0 }

// Advance runs one scheduler step for c on the given day: expiry window,
// expiry and invoice emission. Ledger failures are reported in Step and do
// not undo the state change.
func (e *Engine) Advance(ctx context.Context, c *models.Contract, today time.Time) (Step, error) {
	today = Day(today)
	step := Step{From: c.State, To: c.State}
	if c.DateEnd == nil {
		return step, fmt.Errorf("contract %s: %w", c.Name, ErrMissingDates)
	}

	if c.State != models.ContractStateCancelled {
		end := Day(*c.DateEnd)
		warn := end.AddDate(0, 0, -c.ContractReminder)
		next := c.State
		if !today.Before(warn) && !today.After(end) && c.State != models.ContractStateExpired {
			next = models.ContractStateExpireSoon
		}
		if end.Before(today) {
			next = models.ContractStateExpired
		}
		e.setState(ctx, c, next)
		step.To = next
	}

	if !invoiceDue(c, today) {
		return step, nil
	}
	id, err := e.emitInvoice(ctx, c, today)
	if id != 0 {
		due := Day(*c.NextInvoiceDate)
		c.BilledDueDate = &due
		step.InvoiceID = id
	}
	step.InvoiceErr = err
	return step, nil
}

// invoiceDue reports whether today is the contract's due date and that date
// has not been billed yet. A due date that passed without a tick is not
// billed afterwards.
func invoiceDue(c *models.Contract, today time.Time) bool {
	if c.State == models.ContractStateCancelled || c.NextInvoiceDate == nil {
		return false
	}
	due := Day(*c.NextInvoiceDate)
	if !today.Equal(due) {
		return false
	}
	return c.BilledDueDate == nil || !Day(*c.BilledDueDate).Equal(due)
}
