package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type ContractState string

const (
	ContractStateNew        ContractState = "New"
	ContractStateOngoing    ContractState = "Ongoing"
	ContractStateExpireSoon ContractState = "Expire Soon"
	ContractStateExpired    ContractState = "Expired"
	ContractStateCancelled  ContractState = "Cancelled"
)

type ContractType string

const (
	ContractTypeConvention ContractType = "convention"
	ContractTypeFacilite   ContractType = "facilite"
)

// RecurringPeriod selects the margin tier and is the number of
// RecurringPeriodInterval units the contract runs for.
type RecurringPeriod string

const (
	RecurringPeriod12 RecurringPeriod = "12"
	RecurringPeriod18 RecurringPeriod = "18"
	RecurringPeriod24 RecurringPeriod = "24"
)

type PeriodInterval string

const (
	PeriodIntervalDays   PeriodInterval = "Days"
	PeriodIntervalWeeks  PeriodInterval = "Weeks"
	PeriodIntervalMonths PeriodInterval = "Months"
	PeriodIntervalYears  PeriodInterval = "Years"
)

// Contract is a recurring subscription contract. DateEnd, NextInvoiceDate,
// AmountTotal and InvoiceCount are derived; never write them directly.
type Contract struct {
	ID                      uint            `json:"id" gorm:"primaryKey"`
	Name                    string          `json:"name" gorm:"size:64;uniqueIndex;not null"`
	Type                    ContractType    `json:"type" gorm:"size:20"`
	CustomerID              *uint           `json:"customer_id" gorm:"index"`
	Customer                *Customer       `json:"customer,omitempty" gorm:"foreignKey:CustomerID;references:Id"`
	RecurringPeriod         RecurringPeriod `json:"recurring_period" gorm:"size:4"`
	RecurringPeriodInterval PeriodInterval  `json:"recurring_period_interval" gorm:"size:10;not null;default:'Months'"`
	RecurringInvoice        int             `json:"recurring_invoice"` // days between invoices
	ContractReminder        int             `json:"contract_reminder"` // days before DateEnd
	DateStart               *time.Time      `json:"date_start" gorm:"type:date"`
	DateEnd                 *time.Time      `json:"date_end" gorm:"type:date"`
	NextInvoiceDate         *time.Time      `json:"next_invoice_date" gorm:"type:date;index"`
	// BilledDueDate is the due date the scheduler last emitted an invoice for.
	BilledDueDate *time.Time      `json:"billed_due_date,omitempty" gorm:"type:date"`
	Lines         []ContractLine  `json:"lines" gorm:"foreignKey:ContractID;constraint:OnDelete:CASCADE"`
	AmountTotal   decimal.Decimal `json:"amount_total" gorm:"type:numeric(20,6);not null;default:0"`
	State         ContractState   `json:"state" gorm:"size:20;not null;default:'New';index"`
	Lock          bool            `json:"lock"`
	InvoiceCount  int64           `json:"invoice_count"`
	Currency      string          `json:"currency" gorm:"size:3;not null;default:'EUR'"`
	Note          string          `json:"note" gorm:"type:text"`
	Version       int             `json:"version" gorm:"not null;default:1"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// InvoicesActive reports whether at least one invoice references the contract.
func (c *Contract) InvoicesActive() bool {
	return c.InvoiceCount > 0
}

// Line returns the line with the given id, or nil.
func (c *Contract) Line(id uint) *ContractLine {
	for i := range c.Lines {
		if c.Lines[i].ID == id {
			return &c.Lines[i]
		}
	}
	return nil
}

// ContractLine is one priced product line. UnitOfMeasure, UnitPrice and
// SubTotal are derived.
type ContractLine struct {
	ID            uint                        `json:"id" gorm:"primaryKey"`
	ContractID    uint                        `json:"-" gorm:"index;not null"`
	Sequence      int                         `json:"sequence"`
	ProductID     *string                     `json:"product_id" gorm:"index"`
	Description   string                      `json:"description" gorm:"type:text"`
	Quantity      decimal.Decimal             `json:"quantity" gorm:"type:numeric(14,4);not null;default:1"`
	UnitOfMeasure string                      `json:"unit_of_measure" gorm:"size:32"`
	BaseUnitPrice decimal.Decimal             `json:"base_unit_price" gorm:"type:numeric(20,6);not null;default:0"`
	UnitPrice     decimal.Decimal             `json:"unit_price" gorm:"type:numeric(20,6);not null;default:0"`
	Discount      decimal.Decimal             `json:"discount" gorm:"type:numeric(7,3);not null;default:0"`
	TaxRefs       datatypes.JSONSlice[string] `json:"tax_refs"`
	SubTotal      decimal.Decimal             `json:"sub_total" gorm:"type:numeric(20,6);not null;default:0"`
}
