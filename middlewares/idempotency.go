package middlewares

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"abonnement-backend/database"
	"abonnement-backend/logger"
	"abonnement-backend/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const maxIdempotencyKey = 128

func requestHash(method, path string, body []byte, schema, userID string) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(method), []byte(path), body, []byte(schema), []byte(userID)} {
		h.Write(part)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Idempotency processes Idempotency-Key for mutating HTTP methods. Records live
// in the tenant schema and are read and written in their own short
// transactions, so a replayed contract action or invoice generation returns the
// stored response instead of running twice.
func Idempotency(db *gorm.DB, log *logger.Logger) fiber.Handler {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch && method != fiber.MethodDelete {
			return c.Next()
		}

		key := strings.TrimSpace(c.Get("Idempotency-Key"))
		if key == "" {
			return c.Next()
		}
		if len(key) > maxIdempotencyKey {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key too long")
		}

		schema, _ := c.Locals("schema").(string)
		userID, _ := c.Locals("userID").(string)
		if schema == "" || userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "auth context missing")
		}

		path := c.OriginalURL()
		reqHash := requestHash(method, path, c.Body(), schema, userID)

		// Phase 1: read or create the pending record
		var existing models.IdempotencyKey
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := database.PinSchema(tx, schema); err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "idempotency schema pin failed")
			}
			err := tx.Where("key = ?", key).First(&existing).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusInternalServerError, "idempotency lookup failed")
			}
			if err == nil {
				return nil
			}
			rec := models.IdempotencyKey{
				Key:          key,
				RequestHash:  reqHash,
				Method:       method,
				Path:         path,
				TenantSchema: schema,
				UserID:       userID,
			}
			if err := tx.Create(&rec).Error; err != nil {
				// unique race: read the winner
				if err := tx.Where("key = ?", key).First(&existing).Error; err != nil {
					return fiber.NewError(fiber.StatusInternalServerError, "idempotency create failed")
				}
				return nil
			}
			existing = rec
			return nil
		})
		if err != nil {
			return err
		}

		if existing.RequestHash != reqHash {
			return fiber.NewError(fiber.StatusConflict, "Idempotency-Key reuse with different request")
		}
		if existing.Completed() {
			c.Set("Idempotent-Replay", "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(existing.ResponseStatus).Send(existing.ResponseBody)
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			return nil
		}

		// Phase 2: store the response
		resp := c.Response().Body()
		blob := make([]byte, len(resp))
		copy(blob, resp)
		now := time.Now().UTC()
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := database.PinSchema(tx, schema); err != nil {
				return err
			}
			return tx.Model(&models.IdempotencyKey{}).
				Where("key = ?", key).
				Updates(map[string]any{
					"response_status": status,
					"response_body":   blob,
					"completed_at":    &now,
				}).Error
		})
		if err != nil {
			log.Warn("idempotency response not stored", "key", key, "schema", schema, "error", err)
		}
		return nil
	}
}
