package repos

import (
	"context"
	"errors"

	"abonnement-backend/billing"
	"abonnement-backend/models"

	"gorm.io/gorm"
)

// ArticleCatalog serves articles as the product catalog.
type ArticleCatalog struct {
	scope
}

func NewArticleCatalog(db *gorm.DB, schema string) *ArticleCatalog {
	return &ArticleCatalog{scope{db, schema}}
}

func (r *ArticleCatalog) Lookup(ctx context.Context, productID, lang string) (billing.Product, bool, error) {
	var a models.Article
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.First(&a, "id = ?", productID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Product{}, false, nil
	}
	if err != nil {
		return billing.Product{}, false, err
	}
	return billing.Product{
		ID:            a.Id,
		ListPrice:     a.UnitPrice,
		UnitOfMeasure: a.UnitOfMeasure,
		Description:   a.MultilineDescription(lang),
	}, true, nil
}

// CustomerDirectory resolves partner languages from customers.
type CustomerDirectory struct {
	scope
}

func NewCustomerDirectory(db *gorm.DB, schema string) *CustomerDirectory {
	return &CustomerDirectory{scope{db, schema}}
}

func (r *CustomerDirectory) Lang(ctx context.Context, partnerID uint) (string, error) {
	var langs []string
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.Customer{}).Where("id = ?", partnerID).Limit(1).Pluck("lang", &langs).Error
	})
	if err != nil || len(langs) == 0 {
		return "", err
	}
	return langs[0], nil
}
