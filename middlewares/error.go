package middlewares

import (
	"errors"

	"abonnement-backend/billing"
	"abonnement-backend/logger"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var domainStatus = []struct {
	err    error
	status int
}{
	{billing.ErrNotFound, fiber.StatusNotFound},
	{billing.ErrConflict, fiber.StatusConflict},
	{billing.ErrLocked, fiber.StatusLocked},
	{billing.ErrMissingDates, fiber.StatusUnprocessableEntity},
	{billing.ErrInvalidPeriod, fiber.StatusUnprocessableEntity},
	{billing.ErrInvalidTransition, fiber.StatusUnprocessableEntity},
	{billing.ErrInvalid, fiber.StatusUnprocessableEntity},
}

// ErrorHandler centralizes error responses and keeps messages sanitized.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *fiber.Ctx, err error) error {
		// Fiber errors (use their status code + message)
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}

		// Validation errors (422 + per-field info)
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			out := make(map[string]string, len(ve))
			for _, fe := range ve {
				out[fe.Field()] = fe.Tag()
			}
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "validation failed",
				"errors":  out,
			})
		}

		// Billing errors carry a safe message
		for _, d := range domainStatus {
			if errors.Is(err, d.err) {
				return c.Status(d.status).JSON(fiber.Map{"message": err.Error()})
			}
		}

		log.Error("internal error", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "internal server error",
		})
	}
}
