package repos

import (
	"context"

	"abonnement-backend/billing"
	"abonnement-backend/models"

	"gorm.io/gorm"
)

// CompanyMargins reads the margins of the company owning the tenant schema.
type CompanyMargins struct {
	scope
}

func NewCompanyMargins(db *gorm.DB, schema string) *CompanyMargins {
	return &CompanyMargins{scope{db, schema}}
}

// Margins returns zero margins when the company is unknown.
func (r *CompanyMargins) Margins(ctx context.Context) (billing.Margins, error) {
	var companies []models.Company
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.Where("schema_name = ?", r.schema).Limit(1).Find(&companies).Error
	})
	if err != nil || len(companies) == 0 {
		return billing.Margins{}, err
	}
	c := companies[0]
	return billing.Margins{Marge12: c.Marge12, Marge18: c.Marge18, Marge24: c.Marge24}, nil
}
