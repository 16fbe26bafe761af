package controllers

import (
	"context"
	"errors"
	"time"

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

type MarginsDTO struct {
	Marge12 *decimal.Decimal `json:"marge_12"`
	Marge18 *decimal.Decimal `json:"marge_18"`
	Marge24 *decimal.Decimal `json:"marge_24"`
}

func (in MarginsDTO) check() error {
	for _, m := range []*decimal.Decimal{in.Marge12, in.Marge18, in.Marge24} {
		if m != nil && !utils.ClampPercent(*m).Equal(*m) {
			return fiber.NewError(fiber.StatusBadRequest, "margins must be between 0 and 100")
		}
	}
	return nil
}

func marginsOf(company *models.Company) fiber.Map {
	return fiber.Map{
		"marge_12": company.Marge12,
		"marge_18": company.Marge18,
		"marge_24": company.Marge24,
		"currency": company.Currency,
	}
}

func tenantCompany(c *fiber.Ctx) (*gorm.DB, *models.Company, error) {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	var company models.Company
	err = db.Where("schema_name = ?", database.TenantSchema(c)).First(&company).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fiber.NewError(fiber.StatusNotFound, "company not found")
	}
	if err != nil {
		return nil, nil, err
	}
	return db, &company, nil
}

// marginColumns maps the JSON names of MarginsDTO to company columns.
var marginColumns = map[string]string{
	"marge_12": "marge12",
	"marge_18": "marge18",
	"marge_24": "marge24",
}

// CompanyController serves the settings of the caller's company.
type CompanyController struct {
	Cfg config.Config
	Log *logger.Logger
	Now func() time.Time
}

func NewCompanyController(cfg config.Config, log *logger.Logger) *CompanyController {
	if log == nil {
		log = logger.Nop()
	}
	return &CompanyController{Cfg: cfg, Log: log.With("component", "company")}
}

// GET /api/company/margins
func (ctl *CompanyController) GetMargins(c *fiber.Ctx) error {
	_, company, err := tenantCompany(c)
	if err != nil {
		return err
	}
	return c.JSON(marginsOf(company))
}

// PUT /api/company/margins
// Unlocked contracts are repriced with the new margins in the same transaction.
func (ctl *CompanyController) UpdateMargins(c *fiber.Ctx) error {
	var in MarginsDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	if err := in.check(); err != nil {
		return err
	}
	db, company, err := tenantCompany(c)
	if err != nil {
		return err
	}
	updates := utils.UpdatesFromPtrDTO(&in, marginColumns)
	if len(updates) == 0 {
		return c.JSON(marginsOf(company))
	}
	if err := db.Model(company).Updates(updates).Error; err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not update margins")
	}

	repriced, err := ctl.reprice(c)
	if err != nil {
		return err
	}
	_, company, err = tenantCompany(c)
	if err != nil {
		return err
	}
	out := marginsOf(company)
	out["repriced"] = repriced
	return c.JSON(out)
}

func (ctl *CompanyController) reprice(c *fiber.Ctx) (int, error) {
	ctx, tx, schema, err := tenantScope(c)
	if err != nil {
		return 0, err
	}
	clock := ctl.Now
	if clock == nil {
		clock = time.Now
	}
	t := repos.NewTenant(tx, schema, ctl.Cfg.Billing, ctl.Log)
	e, err := t.Engine(ctl.Cfg.Billing, clock)
	if err != nil {
		return 0, err
	}
	contracts, err := t.Contracts.List(ctx, repos.ContractFilter{Unlocked: true})
	if err != nil {
		return 0, err
	}
	for _, ct := range contracts {
		if err := t.Contracts.Atomic(ctx, ct.ID, func(ctx context.Context, row *models.Contract) error {
			return e.Reprice(ctx, row)
		}); err != nil {
			return 0, err
		}
	}
	if len(contracts) > 0 {
		ctl.Log.Info("contracts repriced", "schema", schema, "count", len(contracts))
	}
	return len(contracts), nil
}
