package models

import "github.com/shopspring/decimal"

// Tax is referenced from contract lines and invoice items by Code.
// Rate is a fraction (0.20 for 20%).
type Tax struct {
	ID   uint            `json:"id" gorm:"primaryKey"`
	Code string          `json:"code" gorm:"size:32;uniqueIndex;not null"`
	Name string          `json:"name" gorm:"not null"`
	Rate decimal.Decimal `json:"rate" gorm:"type:numeric(6,4);not null;default:0"`
}
