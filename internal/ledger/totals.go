package ledger

import (
	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
)

// RecomputeSaleTotals re-derives a sale header from the current state of its
// items: total is the flat, undiscounted sum of remaining qty times unit
// price; the existing absolute discount is clamped into [0, total]; net is
// the difference. Called from return creation and from the repair operation
// so the formula lives in exactly one place.
func RecomputeSaleTotals(items []domain.SaleItem, existingDiscount decimal.Decimal) domain.SaleTotals {
	total := decimal.Zero
	for _, item := range items {
		if item.Qty < 1 {
			continue
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	total = Round2(total)

	discount := existingDiscount
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(total) {
		discount = total
	}

	return domain.SaleTotals{
		Total:    total,
		Discount: discount,
		NetTotal: total.Sub(discount),
	}
}

// RefundUnitPrice computes the effective per-unit refund for a return line:
// the unit price less the effective discount percent. The caller-supplied
// override percent wins over the sale line's stamped percent when present.
func RefundUnitPrice(unitPrice decimal.Decimal, stampedPercent float64, overridePercent *float64) decimal.Decimal {
	percent := stampedPercent
	if overridePercent != nil {
		percent = *overridePercent
	}
	if percent <= 0 {
		return unitPrice
	}
	factor := decimal.NewFromFloat(1 - percent/100)
	return Round2(unitPrice.Mul(factor))
}
