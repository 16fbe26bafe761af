package database

import (
	"fmt"

	"abonnement-backend/models"

	"gorm.io/gorm"
)

// TenantModels are the tables living in every tenant schema.
func TenantModels() []any {
	return []any{
		&models.Article{},
		&models.Customer{},
		&models.Tax{},
		&models.Contract{},
		&models.ContractLine{},
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.Sequence{},
		&models.ContractEvent{},
		&models.IdempotencyKey{},
	}
}

// MigrateTenant creates or updates the tenant tables on tx, which must
// already point at the tenant schema.
func MigrateTenant(tx *gorm.DB) error {
	if err := tx.AutoMigrate(TenantModels()...); err != nil {
		return fmt.Errorf("tenant automigrate failed: %w", err)
	}
	return nil
}

// MigrateTenantSchema applies (idempotent) migrations for a single tenant schema:
// - AutoMigrate (tables/columns)
// - composite indexes
// - CHECK constraints on quantities, discounts and prices
func MigrateTenantSchema(db *gorm.DB, schema string) error {
	if schema == "" {
		return fmt.Errorf("schema name is empty")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := PinSchema(tx, schema); err != nil {
			return err
		}
		if err := MigrateTenant(tx); err != nil {
			return err
		}
		if !isPostgres(tx) {
			return nil
		}

		indexes := []string{
			`CREATE INDEX IF NOT EXISTS idx_contract_lines_contract_seq ON contract_lines (contract_id, sequence)`,
			`CREATE INDEX IF NOT EXISTS idx_contracts_state_next_invoice ON contracts (state, next_invoice_date)`,
			`CREATE INDEX IF NOT EXISTS idx_invoices_contract ON invoices (contract_id, invoice_date)`,
			`CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items (invoice_id)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_idempotency_keys_key ON idempotency_keys (key)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		checks := []struct{ table, name, expr string }{
			{"articles", "chk_articles_unit_price_nonneg", "unit_price >= 0"},
			{"contract_lines", "chk_contract_lines_quantity_nonneg", "quantity >= 0"},
			{"contract_lines", "chk_contract_lines_discount_range", "discount >= 0 AND discount <= 100"},
			{"invoice_items", "chk_invoice_items_quantity_nonneg", "quantity >= 0"},
			{"taxes", "chk_taxes_rate_nonneg", "rate >= 0"},
		}
		for _, c := range checks {
			stmt := fmt.Sprintf(`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = '%[1]s'::regclass
					  AND conname  = '%[2]s'
				) THEN
					ALTER TABLE %[1]s
					ADD CONSTRAINT %[2]s
					CHECK (%[3]s);
				END IF;
			END $$;`, c.table, c.name, c.expr)
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint migration failed on %s: %w", c.name, err)
			}
		}
		return nil
	})
}
