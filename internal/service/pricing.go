package service

import (
	"github.com/shopspring/decimal"

	"caixapos/backend/internal/domain"
)

const moneyPlaces = 2

var (
	hundred = decimal.NewFromInt(100)

	// DefaultTaxRate is the storewide IVA rate applied when a line carries none.
	DefaultTaxRate = decimal.RequireFromString("0.17")
)

// Totals is the aggregated money of one sale.
type Totals struct {
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	CashReceived   *decimal.Decimal
	ChangeGiven    *decimal.Decimal
}

// PriceLine prices one cart line. product is nil when the line has no product
// reference or the reference did not resolve.
func PriceLine(line domain.SaleLine, product *domain.Product, defaultTaxRate decimal.Decimal) domain.SaleItem {
	subtotal := decimal.Zero
	if !line.Quantity.IsZero() {
		subtotal = line.Quantity.Mul(line.UnitPrice)
	}

	discount := line.DiscountAmount
	if !discount.IsPositive() {
		discount = subtotal.Mul(line.DiscountPercent).Div(hundred)
	}
	discount = discount.Round(moneyPlaces)
	subtotal = subtotal.Round(moneyPlaces)

	rate := defaultTaxRate
	if line.TaxRate != nil {
		rate = *line.TaxRate
	}

	base := subtotal.Sub(discount)
	tax := base.Mul(rate).Round(moneyPlaces)

	item := domain.SaleItem{
		ProductID:       line.ProductID,
		ProductName:     domain.UnknownProductName,
		Quantity:        line.Quantity,
		UnitPrice:       line.UnitPrice,
		DiscountPercent: line.DiscountPercent,
		DiscountAmount:  discount,
		TaxRate:         rate,
		TaxAmount:       tax,
		Subtotal:        subtotal,
		Total:           base.Add(tax),
	}
	if product != nil {
		item.ProductName = product.Name
		item.Barcode = product.Barcode
		cost := product.CostPrice
		item.CostPrice = &cost
	}
	return item
}

// AggregateTotals sums priced lines. The sale subtotal is net of line
// discounts, so Total always equals the sum of line totals minus the order
// discount.
func AggregateTotals(items []domain.SaleItem, orderDiscount decimal.Decimal, method domain.PaymentMethod, cashReceived *decimal.Decimal) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Subtotal.Sub(item.DiscountAmount))
		tax = tax.Add(item.TaxAmount)
	}

	orderDiscount = orderDiscount.Round(moneyPlaces)
	totals := Totals{
		Subtotal:       subtotal,
		TaxAmount:      tax,
		DiscountAmount: orderDiscount,
		Total:          subtotal.Sub(orderDiscount).Add(tax),
	}

	if method == domain.PaymentCash && cashReceived != nil && cashReceived.IsPositive() {
		received := cashReceived.Round(moneyPlaces)
		change := decimal.Max(decimal.Zero, received.Sub(totals.Total))
		totals.CashReceived = &received
		totals.ChangeGiven = &change
	}
	return totals
}
