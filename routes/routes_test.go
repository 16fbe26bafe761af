package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"abonnement-backend/config"
	"abonnement-backend/controllers"
	"abonnement-backend/database"
	"abonnement-backend/logger"
	"abonnement-backend/middlewares"
	"abonnement-backend/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type server struct {
	t     *testing.T
	app   *fiber.App
	db    *gorm.DB
	token string
	today time.Time
}

func newServer(t *testing.T) *server {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	auth, err := middlewares.NewAuthenticator("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	cfg := config.Config{
		Billing: config.BillingConfig{
			PricingMode:     "margin",
			SequenceCode:    "subscription_contracts",
			SequencePrefix:  "SUB/",
			DefaultCurrency: "EUR",
		},
		Scheduler: config.SchedulerConfig{Concurrency: 2},
	}

	s := &server{t: t, db: db, today: mustDay("2024-01-15")}
	s.app = fiber.New(fiber.Config{ErrorHandler: middlewares.ErrorHandler(logger.Nop())})
	Register(s.app, Deps{DB: db, Cfg: cfg, Log: logger.Nop(), Auth: auth, Now: func() time.Time { return s.today }})
	return s
}

func mustDay(v string) time.Time {
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		panic(err)
	}
	return d
}

// do sends a JSON request and decodes the response into out when given.
func (s *server) do(method, path string, in any, out any, headers ...string) int {
	s.t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			s.t.Fatalf("%s %s: decode %s: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode
}

func (s *server) expect(want int, method, path string, in any, out any, headers ...string) {
	s.t.Helper()
	if got := s.do(method, path, in, out, headers...); got != want {
		s.t.Fatalf("%s %s: want=%d got=%d", method, path, want, got)
	}
}

func (s *server) registerAndLogin() {
	s.t.Helper()
	s.expect(fiber.StatusCreated, "POST", "/api/registration", map[string]any{
		"first_name": "Ada", "last_name": "Lovelace",
		"email": "ada@acme.test", "password": "correct-horse", "password_confirm": "correct-horse",
		"company_name": "Acme", "address": "1 Main St", "city": "Lyon", "country": "FR", "zip": "69001",
		"marge_12": 10, "marge_18": 15, "marge_24": 20,
	}, nil)

	var login struct {
		Token  string `json:"token"`
		Schema string `json:"schema"`
	}
	s.expect(fiber.StatusOK, "POST", "/api/login", map[string]any{
		"email": "ada@acme.test", "password": "correct-horse",
	}, &login)
	if login.Schema != "acme" || login.Token == "" {
		s.t.Fatalf("login: want token for schema acme got %+v", login)
	}
	s.token = login.Token
}

type seeded struct {
	customerID uint
	articleID  string
}

func (s *server) seedCatalog() seeded {
	s.t.Helper()
	var customer models.Customer
	s.expect(fiber.StatusCreated, "POST", "/api/customer", map[string]any{
		"company_name": "Globex", "address": "2 Side St", "city": "Paris", "country": "FR", "zip": "75001",
		"email": "billing@globex.test", "first_name": "Hank", "last_name": "Scorpio", "lang": "fr_FR",
	}, &customer)

	var articles []models.Article
	s.expect(fiber.StatusCreated, "POST", "/api/article", []map[string]any{{
		"name": "Hosting", "description": "Managed hosting", "unit_price": "100",
		"unit_of_measure": "Month", "translations": map[string]string{"fr_FR": "Hébergement géré"},
	}}, &articles)
	if len(articles) != 1 {
		s.t.Fatalf("articles: want=1 got=%d", len(articles))
	}

	var tax models.Tax
	s.expect(fiber.StatusCreated, "POST", "/api/taxes", map[string]any{"code": "vat20", "name": "VAT 20%", "rate": "0.2"}, &tax)
	if tax.Code != "VAT20" {
		s.t.Fatalf("tax code: want=VAT20 got=%q", tax.Code)
	}
	return seeded{customerID: customer.Id, articleID: articles[0].Id}
}

func (s *server) createContract(fx seeded) controllers.ContractView {
	s.t.Helper()
	var c controllers.ContractView
	s.expect(fiber.StatusCreated, "POST", "/api/contracts", map[string]any{
		"type":              "convention",
		"customer_id":       fx.customerID,
		"recurring_period":  "12",
		"recurring_invoice": 30,
		"contract_reminder": 15,
		"date_start":        "2024-01-01",
		"lines": []map[string]any{{
			"product_id": fx.articleID, "quantity": "2", "discount": "5", "tax_refs": []string{"VAT20"},
		}},
	}, &c)
	return c
}

func TestContractLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	s.registerAndLogin()
	fx := s.seedCatalog()

	c := s.createContract(fx)
	if c.Name != "SUB/00001" || c.State != models.ContractStateNew {
		t.Fatalf("create: want SUB/00001 New got %q %q", c.Name, c.State)
	}
	if c.DateEnd == nil || !c.DateEnd.Equal(mustDay("2025-01-01")) || !c.NextInvoiceDate.Equal(mustDay("2024-01-31")) {
		t.Fatalf("dates: got end=%v next=%v", c.DateEnd, c.NextInvoiceDate)
	}
	if len(c.Lines) != 1 || !c.Lines[0].UnitPrice.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("line: want unit price 110 got %+v", c.Lines)
	}
	if !c.AmountTotal.Equal(decimal.NewFromInt(209)) {
		t.Fatalf("amount_total: want=209 got=%s", c.AmountTotal)
	}
	if !strings.HasPrefix(c.Lines[0].Description, "Hosting\nHébergement") {
		t.Fatalf("description: want french translation got %q", c.Lines[0].Description)
	}
	path := fmt.Sprintf("/api/contracts/%d", c.ID)

	s.expect(fiber.StatusOK, "PUT", path+"/confirm", nil, &c)
	if c.State != models.ContractStateOngoing {
		t.Fatalf("confirm: want Ongoing got %q", c.State)
	}

	s.expect(fiber.StatusOK, "PUT", path+"/apply-margin-discount", nil, &c)
	if !c.Lines[0].Discount.Equal(decimal.NewFromInt(10)) || !c.AmountTotal.Equal(decimal.NewFromInt(198)) {
		t.Fatalf("margin discount: want discount 10 total 198 got %s %s", c.Lines[0].Discount, c.AmountTotal)
	}

	s.expect(fiber.StatusOK, "PUT", path+"/lock", nil, &c)
	s.expect(fiber.StatusLocked, "PUT", path, map[string]any{"note": "x"}, nil)
	s.expect(fiber.StatusLocked, "POST", path+"/lines", map[string]any{"base_unit_price": "10"}, nil)
	s.expect(fiber.StatusOK, "PUT", path+"/unlock", nil, &c)

	s.expect(fiber.StatusOK, "PUT", path, map[string]any{"recurring_period": "24"}, &c)
	if !c.DateEnd.Equal(mustDay("2026-01-01")) || !c.Lines[0].UnitPrice.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("update period: want end 2026-01-01 price 120 got %v %s", c.DateEnd, c.Lines[0].UnitPrice)
	}
	s.expect(fiber.StatusOK, "PUT", path, map[string]any{"recurring_period": "12"}, &c)

	var inv models.Invoice
	s.expect(fiber.StatusCreated, "POST", path+"/generate-invoice", nil, &inv, "Idempotency-Key", "gen-1")
	if inv.InvoiceNumber != "INV-SUB/00001-0001" || !inv.Total.Equal(decimal.RequireFromString("237.6")) {
		t.Fatalf("invoice: want INV-SUB/00001-0001 total 237.6 got %q %s", inv.InvoiceNumber, inv.Total)
	}
	var replay models.Invoice
	s.expect(fiber.StatusCreated, "POST", path+"/generate-invoice", nil, &replay, "Idempotency-Key", "gen-1")
	if replay.ID != inv.ID {
		t.Fatalf("replay: want invoice %d got %d", inv.ID, replay.ID)
	}

	s.expect(fiber.StatusOK, "GET", path, nil, &c)
	if c.InvoiceCount != 1 || !c.InvoicesActive {
		t.Fatalf("invoice_count: want=1 active got %d %v", c.InvoiceCount, c.InvoicesActive)
	}

	// the scheduled run bills the first due date
	s.today = mustDay("2024-01-31")
	var tick controllers.TickResponse
	s.expect(fiber.StatusOK, "POST", "/api/contracts/tick", nil, &tick)
	if tick.Invoiced != 1 || tick.Failed != 0 || tick.Date != "2024-01-31" {
		t.Fatalf("tick: want one invoice got %+v", tick)
	}
	s.expect(fiber.StatusOK, "POST", "/api/contracts/tick", nil, &tick)
	if tick.Invoiced != 0 {
		t.Fatalf("second tick: want nothing got %+v", tick)
	}

	var invoices struct {
		Invoices []models.Invoice `json:"invoices"`
	}
	s.expect(fiber.StatusOK, "GET", path+"/invoices", nil, &invoices)
	if len(invoices.Invoices) != 2 {
		t.Fatalf("contract invoices: want=2 got=%d", len(invoices.Invoices))
	}

	var events struct {
		Events []models.ContractEvent `json:"events"`
	}
	s.expect(fiber.StatusOK, "GET", path+"/events", nil, &events)
	kinds := map[string]int{}
	for _, ev := range events.Events {
		kinds[ev.Kind]++
	}
	if kinds["state"] != 1 || kinds["lock"] != 2 || kinds["invoice"] != 2 {
		t.Fatalf("events: got %v", kinds)
	}

	s.expect(fiber.StatusOK, "PUT", path+"/cancel", nil, &c)
	s.expect(fiber.StatusUnprocessableEntity, "PUT", path+"/confirm", nil, nil)
}

func TestContractRequestsAreValidated(t *testing.T) {
	s := newServer(t)
	s.expect(fiber.StatusUnauthorized, "GET", "/api/contracts", nil, nil)
	s.expect(fiber.StatusUnauthorized, "POST", "/api/contracts/tick", nil, nil)

	s.registerAndLogin()
	fx := s.seedCatalog()

	s.expect(fiber.StatusUnprocessableEntity, "POST", "/api/contracts", map[string]any{"recurring_period": "7"}, nil)
	s.expect(fiber.StatusUnprocessableEntity, "POST", "/api/contracts", map[string]any{"date_start": "01/02/2024"}, nil)
	s.expect(fiber.StatusNotFound, "GET", "/api/contracts/999", nil, nil)
	s.expect(fiber.StatusBadRequest, "GET", "/api/contracts/abc", nil, nil)

	c := s.createContract(fx)
	path := fmt.Sprintf("/api/contracts/%d", c.ID)
	s.expect(fiber.StatusUnprocessableEntity, "PUT", path+"/lines/"+fmt.Sprint(c.Lines[0].ID), map[string]any{"discount": "150"}, nil)
	s.expect(fiber.StatusNotFound, "DELETE", path+"/lines/999", nil, nil)
	s.expect(fiber.StatusOK, "DELETE", path+"/lines/"+fmt.Sprint(c.Lines[0].ID), nil, &c)
	if len(c.Lines) != 0 || !c.AmountTotal.IsZero() {
		t.Fatalf("remove line: want empty contract got %d lines total %s", len(c.Lines), c.AmountTotal)
	}

	var list struct {
		Contracts []controllers.ContractView `json:"contracts"`
	}
	s.expect(fiber.StatusOK, "GET", "/api/contracts?state=New", nil, &list)
	if len(list.Contracts) != 1 {
		t.Fatalf("list: want=1 got=%d", len(list.Contracts))
	}
	s.expect(fiber.StatusOK, "GET", "/api/contracts?state=Ongoing", nil, &list)
	if len(list.Contracts) != 0 {
		t.Fatalf("list Ongoing: want=0 got=%d", len(list.Contracts))
	}
}

func TestCompanyMarginsDriveLinePrices(t *testing.T) {
	s := newServer(t)
	s.registerAndLogin()
	fx := s.seedCatalog()

	open := s.createContract(fx)
	locked := s.createContract(fx)
	s.expect(fiber.StatusOK, "PUT", fmt.Sprintf("/api/contracts/%d/lock", locked.ID), nil, nil)
	if !open.Lines[0].UnitPrice.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("unit price before: want=110 got=%s", open.Lines[0].UnitPrice)
	}

	var margins map[string]any
	s.expect(fiber.StatusOK, "PUT", "/api/company/margins", map[string]any{"marge_12": "50"}, &margins)
	if margins["marge_12"] != "50" || margins["marge_18"] != "15" {
		t.Fatalf("margins: got %v", margins)
	}
	if margins["repriced"] != float64(1) {
		t.Fatalf("repriced: want=1 got=%v", margins["repriced"])
	}
	s.expect(fiber.StatusOK, "GET", "/api/company/margins", nil, &margins)
	if margins["marge_12"] != "50" {
		t.Fatalf("GET margins: want marge_12=50 got %v", margins)
	}
	s.expect(fiber.StatusBadRequest, "PUT", "/api/company/margins", map[string]any{"marge_24": "-1"}, nil)

	var got controllers.ContractView
	s.expect(fiber.StatusOK, "GET", fmt.Sprintf("/api/contracts/%d", open.ID), nil, &got)
	if !got.Lines[0].UnitPrice.Equal(decimal.NewFromInt(150)) || !got.AmountTotal.Equal(decimal.NewFromInt(285)) {
		t.Fatalf("repriced contract: want price 150 total 285 got %s %s", got.Lines[0].UnitPrice, got.AmountTotal)
	}
	s.expect(fiber.StatusOK, "GET", fmt.Sprintf("/api/contracts/%d", locked.ID), nil, &got)
	if !got.Lines[0].UnitPrice.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("locked contract: want price 110 got %s", got.Lines[0].UnitPrice)
	}

	c := s.createContract(fx)
	if !c.Lines[0].UnitPrice.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unit price: want=150 got=%s", c.Lines[0].UnitPrice)
	}
}
