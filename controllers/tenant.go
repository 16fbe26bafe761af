package controllers

import (
	"context"
	"strings"
	"time"

	"abonnement-backend/database"
	"abonnement-backend/repos"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// tenantScope returns the request transaction, the tenant schema and a
// context whose repository calls join that transaction.
func tenantScope(c *fiber.Ctx) (context.Context, *gorm.DB, string, error) {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return nil, nil, "", fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	return repos.WithTx(c.UserContext(), db), db, database.TenantSchema(c), nil
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name+" in path")
	}
	return uint(id), nil
}

// parseDate reads an optional YYYY-MM-DD value.
func parseDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(*s))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid date: "+*s)
	}
	return &d, nil
}
