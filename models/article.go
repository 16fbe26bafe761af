package models

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Article is a catalog product. UnitPrice is the list price.
// Translations maps a language code (e.g. "fr_FR") to a localized description.
type Article struct {
	Id            string            `json:"id" gorm:"primaryKey"`
	Name          string            `json:"name" gorm:"not null"`
	Description   string            `json:"description"`
	UnitPrice     decimal.Decimal   `json:"unit_price" gorm:"type:numeric(12,2);not null;default:0"`
	UnitOfMeasure string            `json:"unit_of_measure" gorm:"size:32;not null;default:'Units'"`
	Translations  datatypes.JSONMap `json:"translations,omitempty"`
	Active        bool              `json:"active"`
}

func (article *Article) BeforeCreate(tx *gorm.DB) (err error) {
	if article.Id == "" {
		article.Id = uuid.NewString()
	}
	return
}

// MultilineDescription renders the name followed by the description in lang,
// falling back to the untranslated description.
func (article *Article) MultilineDescription(lang string) string {
	desc := article.Description
	if lang != "" {
		if v, ok := article.Translations[lang].(string); ok && strings.TrimSpace(v) != "" {
			desc = v
		}
	}
	if strings.TrimSpace(desc) == "" {
		return article.Name
	}
	return article.Name + "\n" + desc
}
