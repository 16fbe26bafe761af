package controllers

import (
	"abonnement-backend/database"
	"abonnement-backend/middlewares"
	"abonnement-backend/models"
	"abonnement-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type TaxCreateDTO struct {
	Code string          `json:"code" validate:"required,min=1,max=32" normalize:"upper"`
	Name string          `json:"name" validate:"required"`
	Rate decimal.Decimal `json:"rate"`
}

// POST /api/taxes
// Rate is a fraction (0.2 for 20%).
func CreateTax(c *fiber.Ctx) error {
	var in TaxCreateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	utils.NormalizeDTO(&in)
	if in.Rate.IsNegative() || in.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return fiber.NewError(fiber.StatusBadRequest, "rate must be between 0 and 1")
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	tax := models.Tax{Code: in.Code, Name: in.Name, Rate: in.Rate}
	if err := db.Create(&tax).Error; err != nil {
		return fiber.NewError(fiber.StatusConflict, "tax code already exists")
	}
	return c.Status(fiber.StatusCreated).JSON(tax)
}

// GET /api/taxes
func GetTaxes(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	var taxes []models.Tax
	if err := db.Order("code").Find(&taxes).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"taxes": taxes, "message": "success"})
}
