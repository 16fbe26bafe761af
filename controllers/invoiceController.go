package controllers

import (
	"abonnement-backend/database"
	"abonnement-backend/models"
	"abonnement-backend/repos"
	"abonnement-backend/utils"

	"github.com/gofiber/fiber/v2"
)

// Invoices are only created from contracts; this controller reads them.

// GET /api/invoices?limit=&offset=
func GetInvoices(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	limit := utils.ParseIntDefault(c.Query("limit"), 50)
	if limit == 0 || limit > 200 {
		limit = 50
	}
	offset := utils.ParseIntDefault(c.Query("offset"), 0)

	var invoices []models.Invoice
	err = db.Preload("Items").
		Order("invoice_date DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&invoices).Error
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"invoices": invoices, "message": "success"})
}

// GET /api/invoice/:id
func GetInvoice(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx, tx, schema, err := tenantScope(c)
	if err != nil {
		return err
	}
	inv, err := repos.NewInvoiceLedger(tx, schema).Get(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(inv)
}
