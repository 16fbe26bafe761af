package controllers

import (
	"context"
	"time"

	"abonnement-backend/billing"
	"abonnement-backend/config"
	"abonnement-backend/database"
	"abonnement-backend/logger"
	"abonnement-backend/middlewares"
	"abonnement-backend/models"
	"abonnement-backend/repos"
	"abonnement-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ContractLineDTO struct {
	ProductID     *string          `json:"product_id"`
	Description   *string          `json:"description"`
	Quantity      *decimal.Decimal `json:"quantity"`
	BaseUnitPrice *decimal.Decimal `json:"base_unit_price"`
	Discount      *decimal.Decimal `json:"discount"`
	TaxRefs       []string         `json:"tax_refs" validate:"omitempty,dive,min=1,max=32"`
	Sequence      *int             `json:"sequence" validate:"omitempty,min=0"`
}

func (in ContractLineDTO) patch() billing.LinePatch {
	utils.NormalizePtrDTO(&in)
	return billing.LinePatch{
		ProductID:     in.ProductID,
		Description:   in.Description,
		Quantity:      in.Quantity,
		BaseUnitPrice: in.BaseUnitPrice,
		Discount:      in.Discount,
		TaxRefs:       in.TaxRefs,
		Sequence:      in.Sequence,
	}
}

type ContractCreateDTO struct {
	Name                    string            `json:"name" validate:"omitempty,max=64"`
	Type                    string            `json:"type" validate:"omitempty,oneof=convention facilite"`
	CustomerID              *uint             `json:"customer_id" validate:"omitempty,min=1"`
	RecurringPeriod         string            `json:"recurring_period" validate:"omitempty,oneof=12 18 24"`
	RecurringPeriodInterval string            `json:"recurring_period_interval" validate:"omitempty,oneof=Days Weeks Months Years"`
	RecurringInvoice        int               `json:"recurring_invoice" validate:"min=0"`
	ContractReminder        int               `json:"contract_reminder" validate:"min=0"`
	DateStart               *string           `json:"date_start" validate:"omitempty,datetime=2006-01-02"`
	Currency                string            `json:"currency" validate:"omitempty,len=3" normalize:"upper"`
	Note                    string            `json:"note"`
	Lines                   []ContractLineDTO `json:"lines" validate:"omitempty,dive"`
}

type ContractUpdateDTO struct {
	Name                    *string `json:"name" validate:"omitempty,min=1,max=64"`
	Type                    *string `json:"type" validate:"omitempty,oneof=convention facilite"`
	CustomerID              *uint   `json:"customer_id" validate:"omitempty,min=1"`
	RecurringPeriod         *string `json:"recurring_period" validate:"omitempty,oneof=12 18 24"`
	RecurringPeriodInterval *string `json:"recurring_period_interval" validate:"omitempty,oneof=Days Weeks Months Years"`
	RecurringInvoice        *int    `json:"recurring_invoice" validate:"omitempty,min=0"`
	ContractReminder        *int    `json:"contract_reminder" validate:"omitempty,min=0"`
	DateStart               *string `json:"date_start" validate:"omitempty,datetime=2006-01-02"`
	Currency                *string `json:"currency" validate:"omitempty,len=3"`
	Note                    *string `json:"note"`
}

// ContractView is the contract as served by the API.
type ContractView struct {
	*models.Contract
	InvoicesActive bool `json:"invoices_active"`
}

func viewOf(c *models.Contract) ContractView {
	return ContractView{Contract: c, InvoicesActive: c.InvoicesActive()}
}

// ContractController serves contracts of the caller's tenant.
type ContractController struct {
	// DB is the shared pool; the tick runs outside the request transaction.
	DB  *gorm.DB
	Cfg config.Config
	Log *logger.Logger
	Now func() time.Time
}

func NewContractController(db *gorm.DB, cfg config.Config, log *logger.Logger) *ContractController {
	if log == nil {
		log = logger.Nop()
	}
	return &ContractController{DB: db, Cfg: cfg, Log: log.With("component", "contracts")}
}

func (ctl *ContractController) clock() func() time.Time {
	if ctl.Now != nil {
		return ctl.Now
	}
	return time.Now
}

func (ctl *ContractController) tenant(c *fiber.Ctx) (context.Context, *repos.Tenant, *billing.Engine, error) {
	ctx, tx, schema, err := tenantScope(c)
	if err != nil {
		return nil, nil, nil, err
	}
	t := repos.NewTenant(tx, schema, ctl.Cfg.Billing, ctl.Log)
	e, err := t.Engine(ctl.Cfg.Billing, ctl.clock())
	if err != nil {
		return nil, nil, nil, err
	}
	return ctx, t, e, nil
}

// mutate runs fn on the locked contract and answers with the saved contract.
func (ctl *ContractController) mutate(c *fiber.Ctx, status int, fn func(ctx context.Context, e *billing.Engine, ct *models.Contract) error) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx, t, e, err := ctl.tenant(c)
	if err != nil {
		return err
	}
	if err := t.Contracts.Atomic(ctx, id, func(ctx context.Context, ct *models.Contract) error {
		return fn(ctx, e, ct)
	}); err != nil {
		return err
	}
	out, err := t.Contracts.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.Status(status).JSON(viewOf(out))
}

// POST /api/contracts
func (ctl *ContractController) CreateContract(c *fiber.Ctx) error {
	var in ContractCreateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	utils.NormalizeDTO(&in)
	start, err := parseDate(in.DateStart)
	if err != nil {
		return err
	}

	ctx, t, e, err := ctl.tenant(c)
	if err != nil {
		return err
	}
	draft := billing.ContractDraft{
		Name:                    in.Name,
		Type:                    models.ContractType(in.Type),
		CustomerID:              in.CustomerID,
		RecurringPeriod:         models.RecurringPeriod(in.RecurringPeriod),
		RecurringPeriodInterval: models.PeriodInterval(in.RecurringPeriodInterval),
		RecurringInvoice:        in.RecurringInvoice,
		ContractReminder:        in.ContractReminder,
		DateStart:               start,
		Currency:                in.Currency,
		Note:                    in.Note,
	}
	for _, l := range in.Lines {
		draft.Lines = append(draft.Lines, l.patch())
	}

	ct, err := e.NewContract(ctx, draft)
	if err != nil {
		return err
	}
	if err := t.Contracts.Create(ctx, ct); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not create contract")
	}
	out, err := t.Contracts.Get(ctx, ct.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(viewOf(out))
}

// GET /api/contracts?state=&customer_id=
func (ctl *ContractController) GetContracts(c *fiber.Ctx) error {
	ctx, t, _, err := ctl.tenant(c)
	if err != nil {
		return err
	}
	f := repos.ContractFilter{State: models.ContractState(c.Query("state"))}
	if v := c.Query("customer_id"); v != "" {
		id := uint(utils.ParseIntDefault(v, 0))
		if id == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid customer_id")
		}
		f.CustomerID = &id
	}
	contracts, err := t.Contracts.List(ctx, f)
	if err != nil {
		return err
	}
	out := make([]ContractView, 0, len(contracts))
	for i := range contracts {
		out = append(out, viewOf(&contracts[i]))
	}
	return c.JSON(fiber.Map{"contracts": out, "message": "success"})
}

// GET /api/contracts/:id
func (ctl *ContractController) GetContract(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx, t, _, err := ctl.tenant(c)
	if err != nil {
		return err
	}
	out, err := t.Contracts.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(viewOf(out))
}

// PUT /api/contracts/:id
func (ctl *ContractController) UpdateContract(c *fiber.Ctx) error {
	var in ContractUpdateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	utils.NormalizePtrDTO(&in)
	start, err := parseDate(in.DateStart)
	if err != nil {
		return err
	}
	p := billing.ContractPatch{
		Name:             in.Name,
		CustomerID:       in.CustomerID,
		RecurringInvoice: in.RecurringInvoice,
		ContractReminder: in.ContractReminder,
		DateStart:        start,
		Currency:         in.Currency,
		Note:             in.Note,
	}
	if in.Type != nil {
		v := models.ContractType(*in.Type)
		p.Type = &v
	}
	if in.RecurringPeriod != nil {
		v := models.RecurringPeriod(*in.RecurringPeriod)
		p.RecurringPeriod = &v
	}
	if in.RecurringPeriodInterval != nil {
		v := models.PeriodInterval(*in.RecurringPeriodInterval)
		p.RecurringPeriodInterval = &v
	}
	return ctl.mutate(c, fiber.StatusOK, func(ctx context.Context, e *billing.Engine, ct *models.Contract) error {
		return e.Update(ctx, ct, p)
	})
}

// POST /api/contracts/:id/lines
func (ctl *ContractController) AddLine(c *fiber.Ctx) error {
	var in ContractLineDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	return ctl.mutate(c, fiber.StatusCreated, func(ctx context.Context, e *billing.Engine, ct *models.Contract) error {
		_, err := e.AddLine(ctx, ct, in.patch())
		return err
	})
}

// PUT /api/contracts/:id/lines/:lineId
func (ctl *ContractController) UpdateLine(c *fiber.Ctx) error {
	lineID, err := paramID(c, "lineId")
	if err != nil {
		return err
	}
	var in ContractLineDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	return ctl.mutate(c, fiber.StatusOK, func(ctx context.Context, e *billing.Engine, ct *models.Contract) error {
		return e.UpdateLine(ctx, ct, lineID, in.patch())
	})
}

// DELETE /api/contracts/:id/lines/:lineId
func (ctl *ContractController) RemoveLine(c *fiber.Ctx) error {
	lineID, err := paramID(c, "lineId")
	if err != nil {
		return err
	}
	return ctl.mutate(c, fiber.StatusOK, func(ctx context.Context, e *billing.Engine, ct *models.Contract) error {
		return e.RemoveLine(ctx, ct, lineID)
	})
}

// PUT /api/contracts/:id/confirm
func (ctl *ContractController) Confirm(c *fiber.Ctx) error {
	return ctl.mutate(c, fiber.StatusOK, func(ctx context.Context, e *billing.Engine, ct *models.Contract) error {
		return e.Confirm(ctx, ct)
	})
}

// PUT /api/contracts/:id/cancel
func (ctl *ContractController) Cancel(c *fiber.Ctx) error {
	return ctl.mutate(c, fiber.StatusOK, func(ctx context.Context, e *billing.Engine, ct *models.Contract) error {
		return e.Cancel(ctx, ct)
	})
}

// PUT /api/contracts/:id/lock
func (ctl *ContractController) Lock(c *fiber.Ctx) error {
	return ctl.mutate(c, fiber.StatusOK, func(ctx context.Context, e *billing.Engine, ct *models.Contract) error {
		return e.Lock(ctx, ct)
	})
}

// PUT /api/contracts/:id/unlock
func (ctl *ContractController) Unlock(c *fiber.Ctx) error {
	return ctl.mutate(c, fiber.StatusOK, func(ctx context.Context, e *billing.Engine, ct *models.Contract) error {
		return e.Unlock(ctx, ct)
	})
}

// PUT /api/contracts/:id/apply-margin-discount
func (ctl *ContractController) ApplyMarginDiscount(c *fiber.Ctx) error {
	applied := false
	return ctl.mutate(c, fiber.StatusOK, func(ctx context.Context, e *billing.Engine, ct *models.Contract) error {
		var err error
		applied, err = e.ApplyDiscountFromMargin(ctx, ct)
		if err == nil && !applied {
			ctl.Log.Debug("no margin for contract period", "contract", ct.Name, "period", ct.RecurringPeriod)
		}
		return err
	})
}

// POST /api/contracts/:id/generate-invoice
func (ctl *ContractController) GenerateInvoice(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx, t, e, err := ctl.tenant(c)
	if err != nil {
		return err
	}
	var invoiceID uint
	if err := t.Contracts.Atomic(ctx, id, func(ctx context.Context, ct *models.Contract) error {
		invoiceID, err = e.GenerateInvoiceNow(ctx, ct)
		return err
	}); err != nil {
		return err
	}
	inv, err := t.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

// GET /api/contracts/:id/invoices
func (ctl *ContractController) GetContractInvoices(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx, t, _, err := ctl.tenant(c)
	if err != nil {
		return err
	}
	if _, err := t.Contracts.Get(ctx, id); err != nil {
		return err
	}
	invoices, err := t.Invoices.ListByContract(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"invoices": invoices, "message": "success"})
}

// GET /api/contracts/:id/events
func (ctl *ContractController) GetContractEvents(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx, t, _, err := ctl.tenant(c)
	if err != nil {
		return err
	}
	events, err := t.Events.ForContract(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"events": events, "message": "success"})
}

type TickResponse struct {
	Date       string   `json:"date"`
	Processed  int      `json:"processed"`
	Invoiced   int      `json:"invoiced"`
	ExpireSoon int      `json:"expire_soon"`
	Expired    int      `json:"expired"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors"`
}

// POST /api/contracts/tick
// Runs outside the request transaction so each contract commits on its own.
func (ctl *ContractController) Tick(c *fiber.Ctx) error {
	schema := database.TenantSchema(c)
	if schema == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "auth context missing")
	}
	t := repos.NewTenant(ctl.DB, schema, ctl.Cfg.Billing, ctl.Log)
	s, err := t.Scheduler(ctl.Cfg, ctl.Log, ctl.clock())
	if err != nil {
		return err
	}
	report, err := s.Tick(c.UserContext())
	if err != nil {
		return err
	}
	out := TickResponse{
		Date:       report.Date.Format(time.DateOnly),
		Processed:  report.Processed,
		Invoiced:   report.Invoiced,
		ExpireSoon: report.ExpireSoon,
		Expired:    report.Expired,
		Failed:     report.Failed,
		Skipped:    report.Skipped,
		Errors:     []string{},
	}
	for _, e := range report.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	return c.JSON(out)
}
