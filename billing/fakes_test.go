package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"abonnement-backend/models"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string { return &s }

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	t := date(s)
	return &t
}

type memCatalog map[string]memProduct

type memProduct struct {
	name         string
	price        string
	uom          string
	description  string
	translations map[string]string
}

func (m memCatalog) Lookup(_ context.Context, id, lang string) (Product, bool, error) {
	p, ok := m[id]
	if !ok {
		return Product{}, false, nil
	}
	desc := p.description
	if t, ok := p.translations[lang]; ok {
		desc = t
	}
	return Product{
		ID:            id,
		ListPrice:     dec(p.price),
		UnitOfMeasure: p.uom,
		Description:   p.name + "\n" + desc,
	}, true, nil
}

type memPartners map[uint]string

func (m memPartners) Lang(_ context.Context, id uint) (string, error) {
	return m[id], nil
}

type staticMargins Margins

func (m staticMargins) Margins(context.Context) (Margins, error) { return Margins(m), nil }

type memSequence struct {
	mu   sync.Mutex
	next int
}

func (s *memSequence) Next(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("SUB/%05d", s.next), nil
}

type memLedger struct {
	mu       sync.Mutex
	invoices []InvoiceRequest
	failFor  map[string]error
	panicFor map[string]bool
}

func (l *memLedger) CreateInvoice(_ context.Context, req InvoiceRequest) (uint, error) {
	if l.panicFor[req.ContractName] {
		panic("ledger exploded")
	}
	if err := l.failFor[req.ContractName]; err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invoices = append(l.invoices, req)
	return uint(len(l.invoices)), nil
}

func (l *memLedger) CountInvoices(_ context.Context, contractID uint) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, inv := range l.invoices {
		if inv.ContractID == contractID {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.invoices)
}

type recordingObserver struct {
	mu      sync.Mutex
	changes []ContractChange
}

func (o *recordingObserver) ContractChanged(_ context.Context, ch ContractChange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, ch)
}

func (o *recordingObserver) kinds(kind ChangeKind) []ContractChange {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []ContractChange
	for _, ch := range o.changes {
		if ch.Kind == kind {
			out = append(out, ch)
		}
	}
	return out
}

// memStore keeps contracts by value; Atomic works on a copy and stores it
// back only when fn succeeds.
type memStore struct {
	mu        sync.Mutex
	contracts map[uint]models.Contract
}

func newMemStore(cs ...*models.Contract) *memStore {
	s := &memStore{contracts: map[uint]models.Contract{}}
	for i, c := range cs {
		if c.ID == 0 {
			c.ID = uint(i + 1)
		}
		s.contracts[c.ID] = *c
	}
	return s
}

func (s *memStore) ContractIDs(context.Context) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, 0, len(s.contracts))
	for id := range s.contracts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memStore) Atomic(ctx context.Context, id uint, fn func(context.Context, *models.Contract) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return ErrNotFound
	}
	c.Lines = append([]models.ContractLine{}, c.Lines...)
	if err := fn(ctx, &c); err != nil {
		return err
	}
	c.Version++
	s.contracts[id] = c
	return nil
}

func (s *memStore) get(id uint) models.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contracts[id]
}

var errLedgerDown = errors.New("ledger unavailable")

func testCatalog() memCatalog {
	return memCatalog{
		"hosting": {name: "Hosting", price: "100", uom: "Month", description: "Managed hosting", translations: map[string]string{"fr_FR": "Hébergement géré"}},
		"support": {name: "Support", price: "40", uom: "Hours", description: "Support desk"},
	}
}

func testEngine(mode PricingMode, margins Margins) (*Engine, *memLedger, *recordingObserver) {
	ledger := &memLedger{}
	obs := &recordingObserver{}
	return &Engine{
		Catalog:         testCatalog(),
		Partners:        memPartners{1: "fr_FR", 2: "en_US"},
		Margins:         staticMargins(margins),
		Sequence:        &memSequence{},
		Ledger:          ledger,
		Observer:        obs,
		Mode:            mode,
		SequenceCode:    "subscription_contracts",
		DefaultCurrency: "EUR",
		Clock:           func() time.Time { return date("2024-03-15") },
	}, ledger, obs
}

var tierMargins = Margins{Marge12: dec("10"), Marge18: dec("15"), Marge24: dec("20")}
