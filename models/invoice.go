package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Invoice is a customer invoice emitted from a contract. ContractOrigin carries
// the contract name so invoices can be counted per contract.
type Invoice struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	InvoiceNumber  string    `json:"invoice_number" gorm:"size:96;unique"`
	CId            *uint     `json:"customer_id"`
	Customer       *Customer `json:"customer,omitempty" gorm:"foreignKey:CId;references:Id"`
	ContractID     uint      `json:"contract_id" gorm:"index"`
	ContractOrigin string    `json:"contract_origin" gorm:"size:64;index"`
	InvoiceDate    time.Time `json:"invoice_date" gorm:"type:date"`
	Currency       string    `json:"currency" gorm:"size:3"`

	Items    []InvoiceItem   `json:"items" gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
	Subtotal decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2)"`
	TaxTotal decimal.Decimal `json:"tax_total" gorm:"type:numeric(12,2)"`
	Total    decimal.Decimal `json:"total" gorm:"type:numeric(12,2)"`

	Draft     bool      `json:"draft"`
	CreatedAt time.Time `json:"created_at"`
}

type InvoiceItem struct {
	ID          uint                        `json:"id" gorm:"primaryKey"`
	InvoiceID   uint                        `json:"-" gorm:"index"`
	ArticleID   *string                     `json:"article_id" gorm:"index"`
	Description string                      `json:"description"`
	Quantity    decimal.Decimal             `json:"quantity" gorm:"type:numeric(14,4)"`
	UnitPrice   decimal.Decimal             `json:"unit_price" gorm:"type:numeric(20,6)"`
	Discount    decimal.Decimal             `json:"discount" gorm:"type:numeric(7,3)"`
	TaxRefs     datatypes.JSONSlice[string] `json:"tax_refs"`
	TaxRate     decimal.Decimal             `json:"tax_rate" gorm:"type:numeric(6,4)"`
	NetPrice    decimal.Decimal             `json:"net_price" gorm:"type:numeric(12,2)"`
	TaxAmount   decimal.Decimal             `json:"tax_amount" gorm:"type:numeric(12,2)"`
	GrossPrice  decimal.Decimal             `json:"gross_price" gorm:"type:numeric(12,2)"`
}
