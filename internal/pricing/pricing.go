// Package pricing computes sale totals with decimal arithmetic.
//
// Line subtotals, subtotal, tax and total are rounded half away from zero to
// two places before they are persisted. Tax is taken on the discounted
// subtotal and the total is derived from the rounded tax, so
// total == subtotal - discount + tax always holds on stored values.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

const Places = 2

var TaxRate = decimal.RequireFromString("0.10")

var (
	ErrNegativeDiscount    = errors.New("discount must not be negative")
	ErrDiscountOverTotal   = errors.New("discount exceeds subtotal")
	ErrNegativeUnitPrice   = errors.New("unit price must not be negative")
	ErrNonPositiveQuantity = errors.New("quantity must be at least 1")
)

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Totals struct {
	Lines    []decimal.Decimal
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

func LineSubtotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// RawTax is the unrounded tax on the discounted subtotal.
func RawTax(subtotal decimal.Decimal, discount decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(discount).Mul(TaxRate)
}

func Compute(lines []Line, discount decimal.Decimal) (Totals, error) {
	if discount.IsNegative() {
		return Totals{}, ErrNegativeDiscount
	}

	totals := Totals{Lines: make([]decimal.Decimal, 0, len(lines))}
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity < 1 {
			return Totals{}, ErrNonPositiveQuantity
		}
		if line.UnitPrice.IsNegative() {
			return Totals{}, ErrNegativeUnitPrice
		}
		lineSubtotal := LineSubtotal(line.UnitPrice, line.Quantity)
		totals.Lines = append(totals.Lines, lineSubtotal)
		subtotal = subtotal.Add(lineSubtotal)
	}

	discount = Round(discount)
	if discount.GreaterThan(subtotal) {
		return Totals{}, ErrDiscountOverTotal
	}

	tax := Round(RawTax(subtotal, discount))
	totals.Subtotal = subtotal
	totals.Discount = discount
	totals.Tax = tax
	totals.Total = subtotal.Sub(discount).Add(tax)
	return totals, nil
}
