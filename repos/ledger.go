package repos

import (
	"context"
	"errors"
	"fmt"

	"abonnement-backend/billing"
	"abonnement-backend/models"
	"abonnement-backend/utils"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// InvoiceLedger writes invoices into the tenant's invoices tables.
type InvoiceLedger struct {
	scope
}

func NewInvoiceLedger(db *gorm.DB, schema string) *InvoiceLedger {
	return &InvoiceLedger{scope{db, schema}}
}

// CreateInvoice stores a draft invoice for the request. It runs in a
// savepoint so a failure leaves the surrounding contract update usable.
func (l *InvoiceLedger) CreateInvoice(ctx context.Context, req billing.InvoiceRequest) (uint, error) {
	var id uint
	err := l.run(ctx, func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			rates, err := taxRates(tx, req.Lines)
			if err != nil {
				return err
			}
			var n int64
			if err := tx.Model(&models.Invoice{}).Where("contract_id = ?", req.ContractID).Count(&n).Error; err != nil {
				return err
			}

			inv := models.Invoice{
				InvoiceNumber:  fmt.Sprintf("INV-%s-%04d", req.ContractName, n+1),
				CId:            req.PartnerID,
				ContractID:     req.ContractID,
				ContractOrigin: req.ContractName,
				InvoiceDate:    billing.Day(req.Date),
				Currency:       req.Currency,
				Draft:          true,
			}
			subtotal, taxTotal := decimal.Zero, decimal.Zero
			for _, line := range req.Lines {
				item := invoiceItem(line, rates)
				subtotal = subtotal.Add(item.NetPrice)
				taxTotal = taxTotal.Add(item.TaxAmount)
				inv.Items = append(inv.Items, item)
			}
			inv.Subtotal = subtotal
			inv.TaxTotal = taxTotal
			inv.Total = subtotal.Add(taxTotal)

			if err := tx.Omit("Customer").Create(&inv).Error; err != nil {
				return err
			}
			id = inv.ID
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (l *InvoiceLedger) CountInvoices(ctx context.Context, contractID uint) (int64, error) {
	var n int64
	err := l.run(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.Invoice{}).Where("contract_id = ?", contractID).Count(&n).Error
	})
	return n, err
}

// ListByContract returns the contract's invoices, newest first.
func (l *InvoiceLedger) ListByContract(ctx context.Context, contractID uint) ([]models.Invoice, error) {
	var out []models.Invoice
	err := l.run(ctx, func(tx *gorm.DB) error {
		return tx.Preload("Items").
			Where("contract_id = ?", contractID).
			Order("invoice_date DESC, id DESC").
			Find(&out).Error
	})
	return out, err
}

func (l *InvoiceLedger) Get(ctx context.Context, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := l.run(ctx, func(tx *gorm.DB) error {
		return tx.Preload("Items").Preload("Customer").First(&inv, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("invoice %d: %w", id, billing.ErrNotFound)
		}
		return nil, err
	}
	return &inv, nil
}

// taxRates resolves the tax codes used by lines. Unknown codes count as 0%.
func taxRates(tx *gorm.DB, lines []billing.InvoiceLine) (map[string]decimal.Decimal, error) {
	codes := map[string]bool{}
	for _, l := range lines {
		for _, code := range l.Taxes {
			codes[code] = true
		}
	}
	rates := make(map[string]decimal.Decimal, len(codes))
	if len(codes) == 0 {
		return rates, nil
	}
	list := make([]string, 0, len(codes))
	for code := range codes {
		list = append(list, code)
	}
	var taxes []models.Tax
	if err := tx.Where("code IN ?", list).Find(&taxes).Error; err != nil {
		return nil, err
	}
	for _, t := range taxes {
		rates[t.Code] = t.Rate
	}
	return rates, nil
}

func invoiceItem(line billing.InvoiceLine, rates map[string]decimal.Decimal) models.InvoiceItem {
	rate := decimal.Zero
	for _, code := range line.Taxes {
		rate = rate.Add(rates[code])
	}
	net := utils.RoundMoney(billing.SubTotal(line.Quantity, line.UnitPrice, line.Discount))
	tax := utils.RoundMoney(net.Mul(rate))
	return models.InvoiceItem{
		ArticleID:   line.ProductID,
		Description: line.Description,
		Quantity:    line.Quantity,
		UnitPrice:   line.UnitPrice,
		Discount:    line.Discount,
		TaxRefs:     datatypes.JSONSlice[string](append([]string{}, line.Taxes...)),
		TaxRate:     rate,
		NetPrice:    net,
		TaxAmount:   tax,
		GrossPrice:  net.Add(tax),
	}
}
