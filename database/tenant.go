package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var validSchema = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SchemaName turns a company name into a tenant schema name.
func SchemaName(company string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(company))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	if !validSchema.MatchString(name) {
		return "", fmt.Errorf("invalid schema name after sanitization: %s", name)
	}
	return name, nil
}

func isPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

// CreateSchema creates the tenant schema if it does not exist.
func CreateSchema(db *gorm.DB, schema string) error {
	if !validSchema.MatchString(schema) {
		return fmt.Errorf("invalid schema name: %q", schema)
	}
	if !isPostgres(db) {
		return nil
	}
	return db.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error
}

// PinSchema sets the search_path of the current transaction to the tenant
// schema. SET LOCAL reverts at transaction end, so pooled connections never
// leak a tenant. Other dialects have no schemas and are left alone.
func PinSchema(tx *gorm.DB, schema string) error {
	if schema == "" || !isPostgres(tx) {
		return nil
	}
	if !validSchema.MatchString(schema) {
		return fmt.Errorf("invalid schema name: %q", schema)
	}
	if err := tx.Exec(`SET LOCAL search_path = "` + schema + `", public`).Error; err != nil {
		return fmt.Errorf("set search_path failed: %w", err)
	}
	return nil
}

// TenantSchemas lists the schemas of all registered companies.
func TenantSchemas(db *gorm.DB) ([]string, error) {
	var schemas []string
	err := db.Table("companies").
		Where("schema_name <> ''").
		Distinct().
		Order("schema_name").
		Pluck("schema_name", &schemas).Error
	return schemas, err
}

// GetTenantDB returns the request transaction opened by middlewares.TenantTx.
func GetTenantDB(c *fiber.Ctx) (*gorm.DB, error) {
	if v := c.Locals("tx"); v != nil {
		if tx, ok := v.(*gorm.DB); ok && tx != nil {
			return tx, nil
		}
	}
	schema, _ := c.Locals("schema").(string)
	if strings.TrimSpace(schema) == "" {
		return nil, errors.New("tenant schema missing")
	}
	return nil, errors.New("no tenant transaction for request")
}

// TenantSchema returns the schema stored on the request by the auth middleware.
func TenantSchema(c *fiber.Ctx) string {
	schema, _ := c.Locals("schema").(string)
	return schema
}
