package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Company lives in the public schema; each company owns one tenant schema.
// Marge12/18/24 are the margin percentages applied to contract lines billed
// over 12, 18 and 24 periods.
type Company struct {
	Id            string          `json:"id" gorm:"primaryKey"`
	CompanyName   string          `json:"company_name" gorm:"not null;unique"`
	Address       string          `json:"address" gorm:"not null"`
	City          string          `json:"city" gorm:"not null"`
	Country       string          `json:"country" gorm:"not null"`
	Zip           string          `json:"zip" gorm:"not null"`
	Homepage      string          `json:"homepage" gorm:"null"`
	UID           string          `json:"uid" gorm:"null"`
	Currency      string          `json:"currency" gorm:"size:3;not null;default:'EUR'"`
	Marge12       decimal.Decimal `json:"marge_12" gorm:"type:numeric(7,3);not null;default:0"`
	Marge18       decimal.Decimal `json:"marge_18" gorm:"type:numeric(7,3);not null;default:0"`
	Marge24       decimal.Decimal `json:"marge_24" gorm:"type:numeric(7,3);not null;default:0"`
	UserId        string          `json:"-"`
	User          User            `json:"user" gorm:"foreignKey:UserId;references:Id"`
	PId           uint            `json:"-"`
	ContactPerson ContactPerson   `json:"contact_person" gorm:"foreignKey:PId;references:Id"`
	SchemaName    string          `json:"-" gorm:"index"`
}

func (company *Company) BeforeCreate(tx *gorm.DB) (err error) {
	if company.Id == "" {
		company.Id = uuid.NewString()
	}
	return
}
