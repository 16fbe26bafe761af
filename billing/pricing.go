package billing

import (
	"fmt"
	"strings"

	"abonnement-backend/models"

	"github.com/shopspring/decimal"
)

// PricingMode picks the authoritative unit price rule for contract lines.
type PricingMode string

const (
	// PricingMargin applies the company margin of the contract's tier to the
	// line's base unit price. The catalog list price only seeds the base price.
	PricingMargin PricingMode = "margin"
	// PricingListPrice takes the catalog list price as is.
	PricingListPrice PricingMode = "list_price"
)

func ParsePricingMode(s string) (PricingMode, error) {
	switch PricingMode(strings.ToLower(strings.TrimSpace(s))) {
	case PricingMargin, "":
		return PricingMargin, nil
	case PricingListPrice:
		return PricingListPrice, nil
	}
	return "", fmt.Errorf("%w: pricing mode %q", ErrInvalid, s)
}

// Margins are the company margin percentages per recurring period tier.
type Margins struct {
	Marge12 decimal.Decimal
	Marge18 decimal.Decimal
	Marge24 decimal.Decimal
}

// For returns the margin of the tier, zero for any other period.
func (m Margins) For(p models.RecurringPeriod) decimal.Decimal {
	switch p {
	case models.RecurringPeriod12:
		return m.Marge12
	case models.RecurringPeriod18:
		return m.Marge18
	case models.RecurringPeriod24:
		return m.Marge24
	}
	return decimal.Zero
}

// MarginUnitPrice is base * (1 + margin/100).
func MarginUnitPrice(base, margin decimal.Decimal) decimal.Decimal {
	return base.Add(base.Mul(margin).Shift(-2))
}

// SubTotal is quantity*price - quantity*price*discount/100.
func SubTotal(quantity, unitPrice, discount decimal.Decimal) decimal.Decimal {
	total := quantity.Mul(unitPrice)
	return total.Sub(total.Mul(discount).Shift(-2))
}

var hundred = decimal.NewFromInt(100)

func validDiscount(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}
