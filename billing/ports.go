package billing

import (
	"context"
	"time"

	"abonnement-backend/models"

	"github.com/shopspring/decimal"
)

// Product is what the catalog knows about a product, with the description
// already localized and rendered multiline.
type Product struct {
	ID            string
	ListPrice     decimal.Decimal
	UnitOfMeasure string
	Description   string
}

type Catalog interface {
	// Lookup returns ok=false when the product does not exist.
	Lookup(ctx context.Context, productID, lang string) (p Product, ok bool, err error)
}

type PartnerDirectory interface {
	// Lang returns the partner's language code, "" when unknown.
	Lang(ctx context.Context, partnerID uint) (string, error)
}

type InvoiceLine struct {
	ProductID   *string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	Taxes       []string
}

type InvoiceRequest struct {
	PartnerID    *uint
	Date         time.Time
	ContractID   uint
	ContractName string
	Currency     string
	Lines        []InvoiceLine
}

type Ledger interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (uint, error)
	CountInvoices(ctx context.Context, contractID uint) (int64, error)
}

type SequenceGenerator interface {
	Next(ctx context.Context, code string) (string, error)
}

// MarginSource resolves the margins of the company owning the contracts.
type MarginSource interface {
	Margins(ctx context.Context) (Margins, error)
}

type ChangeKind string

const (
	ChangeState       ChangeKind = "state"
	ChangeAmountTotal ChangeKind = "amount_total"
	ChangeLock        ChangeKind = "lock"
	ChangeInvoice     ChangeKind = "invoice"
)

type ContractChange struct {
	ContractID uint
	Name       string
	Kind       ChangeKind
	From       string
	To         string
	At         time.Time
}

// Observer is notified after a contract's state, total, lock flag changes or
// an invoice is emitted. It runs inside the triggering update.
type Observer interface {
	ContractChanged(ctx context.Context, ch ContractChange)
}

// ContractStore gives the scheduler per-record atomic access to contracts.
// Atomic loads the contract exclusively, runs fn and persists the result;
// if fn returns an error nothing is written.
type ContractStore interface {
	ContractIDs(ctx context.Context) ([]uint, error)
	Atomic(ctx context.Context, id uint, fn func(ctx context.Context, c *models.Contract) error) error
}
