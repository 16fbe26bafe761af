package repos

import (
	"time"

	"abonnement-backend/billing"
	"abonnement-backend/config"
	"abonnement-backend/logger"

	"gorm.io/gorm"
)

// Tenant bundles the repositories of one tenant schema.
type Tenant struct {
	Schema    string
	Contracts *ContractRepo
	Invoices  *InvoiceLedger
	Sequences *SequenceRepo
	Catalog   *ArticleCatalog
	Partners  *CustomerDirectory
	Margins   *CompanyMargins
	Events    *EventRecorder
}

func NewTenant(db *gorm.DB, schema string, cfg config.BillingConfig, log *logger.Logger) *Tenant {
	return &Tenant{
		Schema:    schema,
		Contracts: NewContractRepo(db, schema),
		Invoices:  NewInvoiceLedger(db, schema),
		Sequences: NewSequenceRepo(db, schema, cfg.SequencePrefix),
		Catalog:   NewArticleCatalog(db, schema),
		Partners:  NewCustomerDirectory(db, schema),
		Margins:   NewCompanyMargins(db, schema),
		Events:    NewEventRecorder(db, schema, log),
	}
}

// Engine wires the tenant repositories into a billing engine.
func (t *Tenant) Engine(cfg config.BillingConfig, clock func() time.Time) (*billing.Engine, error) {
	mode, err := billing.ParsePricingMode(cfg.PricingMode)
	if err != nil {
		return nil, err
	}
	return &billing.Engine{
		Catalog:         t.Catalog,
		Partners:        t.Partners,
		Margins:         t.Margins,
		Sequence:        t.Sequences,
		Ledger:          t.Invoices,
		Observer:        t.Events,
		Mode:            mode,
		SequenceCode:    cfg.SequenceCode,
		DefaultCurrency: cfg.DefaultCurrency,
		Clock:           clock,
	}, nil
}

// Scheduler builds the tick runner for this tenant.
func (t *Tenant) Scheduler(cfg config.Config, log *logger.Logger, clock func() time.Time) (*billing.Scheduler, error) {
	engine, err := t.Engine(cfg.Billing, clock)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &billing.Scheduler{
		Engine:      engine,
		Store:       t.Contracts,
		Log:         log.With("schema", t.Schema),
		Concurrency: cfg.Scheduler.Concurrency,
		Now:         clock,
	}, nil
}
