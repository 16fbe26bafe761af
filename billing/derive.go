package billing

import (
	"context"

	"abonnement-backend/models"

	"github.com/shopspring/decimal"
)

// field names one input or derived attribute of a contract or its lines.
type field string

const (
	fieldProduct       field = "line.product_id"
	fieldDescription   field = "line.description"
	fieldUnitOfMeasure field = "line.unit_of_measure"
	fieldBasePrice     field = "line.base_unit_price"
	fieldQuantity      field = "line.quantity"
	fieldUnitPrice     field = "line.unit_price"
	fieldDiscount      field = "line.discount"
	fieldSubTotal      field = "line.sub_total"

	fieldLines           field = "contract.lines"
	fieldPeriod          field = "contract.recurring_period"
	fieldPeriodInterval  field = "contract.recurring_period_interval"
	fieldInvoiceInterval field = "contract.recurring_invoice"
	fieldDateStart       field = "contract.date_start"
	fieldDateEnd         field = "contract.date_end"
	fieldNextInvoiceDate field = "contract.next_invoice_date"
	fieldAmountTotal     field = "contract.amount_total"
	fieldMargins         field = "company.margins"
)

type fieldSet map[field]bool

func fields(fs ...field) fieldSet {
	s := make(fieldSet, len(fs))
	for _, f := range fs {
		s[f] = true
	}
	return s
}

func (s fieldSet) touches(deps []field) bool {
	for _, d := range deps {
		if s[d] {
			return true
		}
	}
	return false
}

type lineRule struct {
	target field
	deps   []field
	apply  func(ctx context.Context, r *recompute, l *models.ContractLine) error
}

type contractRule struct {
	target field
	deps   []field
	apply  func(r *recompute) error
}

// Rules are listed in topological order; one pass over each list settles
// every dependant of the dirty fields.
var (
	productRules = []lineRule{
		{fieldDescription, []field{fieldProduct}, deriveDescription},
		{fieldUnitOfMeasure, []field{fieldProduct}, deriveUnitOfMeasure},
		{fieldBasePrice, []field{fieldProduct}, seedBasePrice},
	}
	subTotalRule = lineRule{fieldSubTotal, []field{fieldQuantity, fieldUnitPrice, fieldDiscount}, deriveSubTotal}

	marginLineRules = append(append([]lineRule{}, productRules...),
		lineRule{fieldUnitPrice, []field{fieldBasePrice, fieldPeriod, fieldMargins}, marginUnitPrice},
		subTotalRule,
	)
	listPriceLineRules = append(append([]lineRule{}, productRules...),
		lineRule{fieldUnitPrice, []field{fieldProduct}, listUnitPrice},
		subTotalRule,
	)

	contractRules = []contractRule{
		{fieldDateEnd, []field{fieldDateStart, fieldPeriod, fieldPeriodInterval}, deriveDateEnd},
		{fieldNextInvoiceDate, []field{fieldDateStart, fieldInvoiceInterval}, deriveNextInvoiceDate},
		{fieldAmountTotal, []field{fieldSubTotal, fieldLines}, deriveAmountTotal},
	}

	// contract inputs that line rules read
	lineInputsFromContract = []field{fieldPeriod, fieldMargins}
)

func lineRules(mode PricingMode) []lineRule {
	if mode == PricingListPrice {
		return listPriceLineRules
	}
	return marginLineRules
}

// recompute carries lookups shared by the rules of one derive pass.
type recompute struct {
	e        *Engine
	c        *models.Contract
	lang     *string
	margins  *Margins
	products map[string]productHit
}

type productHit struct {
	p  Product
	ok bool
}

func (r *recompute) partnerLang(ctx context.Context) (string, error) {
	if r.lang != nil {
		return *r.lang, nil
	}
	lang := ""
	if r.c.CustomerID != nil && r.e.Partners != nil {
		l, err := r.e.Partners.Lang(ctx, *r.c.CustomerID)
		if err != nil {
			return "", err
		}
		lang = l
	}
	r.lang = &lang
	return lang, nil
}

func (r *recompute) product(ctx context.Context, id *string) (Product, bool, error) {
	if id == nil || *id == "" || r.e.Catalog == nil {
		return Product{}, false, nil
	}
	if hit, ok := r.products[*id]; ok {
		return hit.p, hit.ok, nil
	}
	lang, err := r.partnerLang(ctx)
	if err != nil {
		return Product{}, false, err
	}
	p, ok, err := r.e.Catalog.Lookup(ctx, *id, lang)
	if err != nil {
		return Product{}, false, err
	}
	if r.products == nil {
		r.products = map[string]productHit{}
	}
	r.products[*id] = productHit{p, ok}
	return p, ok, nil
}

func (r *recompute) companyMargins(ctx context.Context) (Margins, error) {
	if r.margins != nil {
		return *r.margins, nil
	}
	m, err := r.e.loadMargins(ctx)
	if err != nil {
		return Margins{}, err
	}
	r.margins = &m
	return m, nil
}

func deriveDescription(ctx context.Context, r *recompute, l *models.ContractLine) error {
	p, ok, err := r.product(ctx, l.ProductID)
	if err != nil {
		return err
	}
	l.Description = ""
	if ok {
		l.Description = p.Description
	}
	return nil
}

func deriveUnitOfMeasure(ctx context.Context, r *recompute, l *models.ContractLine) error {
	p, ok, err := r.product(ctx, l.ProductID)
	if err != nil {
		return err
	}
	l.UnitOfMeasure = ""
	if ok {
		l.UnitOfMeasure = p.UnitOfMeasure
	}
	return nil
}

func seedBasePrice(ctx context.Context, r *recompute, l *models.ContractLine) error {
	p, ok, err := r.product(ctx, l.ProductID)
	if err != nil {
		return err
	}
	l.BaseUnitPrice = decimal.Zero
	if ok {
		l.BaseUnitPrice = p.ListPrice
	}
	return nil
}

func marginUnitPrice(ctx context.Context, r *recompute, l *models.ContractLine) error {
	m, err := r.companyMargins(ctx)
	if err != nil {
		return err
	}
	l.UnitPrice = MarginUnitPrice(l.BaseUnitPrice, m.For(r.c.RecurringPeriod))
	return nil
}

func listUnitPrice(ctx context.Context, r *recompute, l *models.ContractLine) error {
	p, ok, err := r.product(ctx, l.ProductID)
	if err != nil {
		return err
	}
	l.UnitPrice = decimal.Zero
	if ok {
		l.UnitPrice = p.ListPrice
	}
	return nil
}

func deriveSubTotal(_ context.Context, _ *recompute, l *models.ContractLine) error {
	l.SubTotal = SubTotal(l.Quantity, l.UnitPrice, l.Discount)
	return nil
}

func deriveDateEnd(r *recompute) error {
	c := r.c
	if c.DateStart == nil {
		c.DateEnd = nil
		return nil
	}
	n, err := ParsePeriod(c.RecurringPeriod)
	if err != nil {
		return err
	}
	end := AddPeriod(*c.DateStart, n, c.RecurringPeriodInterval)
	c.DateEnd = &end
	return nil
}

func deriveNextInvoiceDate(r *recompute) error {
	c := r.c
	if c.DateStart == nil {
		c.NextInvoiceDate = nil
		return nil
	}
	next := AddDays(*c.DateStart, c.RecurringInvoice)
	c.NextInvoiceDate = &next
	return nil
}

func deriveAmountTotal(r *recompute) error {
	total := decimal.Zero
	for _, l := range r.c.Lines {
		total = total.Add(l.SubTotal)
	}
	r.c.AmountTotal = total
	return nil
}

// derive recomputes every attribute depending on the dirty contract fields and
// the dirty fields of the lines at the given indexes.
func (e *Engine) derive(ctx context.Context, c *models.Contract, dirty fieldSet, lineDirty map[int]fieldSet) error {
	if dirty == nil {
		dirty = fieldSet{}
	}
	if lineDirty == nil {
		lineDirty = map[int]fieldSet{}
	}
	if dirty.touches(lineInputsFromContract) {
		for i := range c.Lines {
			if lineDirty[i] == nil {
				lineDirty[i] = fieldSet{}
			}
			for _, f := range lineInputsFromContract {
				if dirty[f] {
					lineDirty[i][f] = true
				}
			}
		}
	}

	r := &recompute{e: e, c: c}
	before := c.AmountTotal
	rules := lineRules(e.Mode)
	for i := range c.Lines {
		ld := lineDirty[i]
		if len(ld) == 0 {
			continue
		}
		for _, rule := range rules {
			if !ld.touches(rule.deps) {
				continue
			}
			if err := rule.apply(ctx, r, &c.Lines[i]); err != nil {
				return err
			}
			ld[rule.target] = true
		}
		if ld[fieldSubTotal] {
			dirty[fieldSubTotal] = true
		}
	}

	for _, rule := range contractRules {
		if !dirty.touches(rule.deps) {
			continue
		}
		if err := rule.apply(r); err != nil {
			return err
		}
		dirty[rule.target] = true
	}

	if !before.Equal(c.AmountTotal) {
		e.notify(ctx, c, ChangeAmountTotal, before.String(), c.AmountTotal.String())
	}
	return nil
}
