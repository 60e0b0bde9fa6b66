package ledger

import "github.com/shopspring/decimal"

// costScale bounds the precision of the stored weighted-average unit cost.
const costScale = 4

// WeightedAverageCost blends an existing batch cost with an incoming
// purchase: (oldQty*oldCost + addedQty*unitCost) / (oldQty + addedQty).
// Falls back to the incoming unit cost when the combined quantity is zero.
func WeightedAverageCost(oldQty int, oldCost decimal.Decimal, addedQty int, unitCost decimal.Decimal) decimal.Decimal {
	total := oldQty + addedQty
	if total == 0 {
		return unitCost
	}
	oldValue := oldCost.Mul(decimal.NewFromInt(int64(oldQty)))
	addedValue := unitCost.Mul(decimal.NewFromInt(int64(addedQty)))
	return oldValue.Add(addedValue).DivRound(decimal.NewFromInt(int64(total)), costScale)
}

// Round2 rounds a currency amount half-up to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// DiscountCap returns the maximum allowed sale discount percent for the
// given actor role and whether any line of the sale carries GST.
func DiscountCap(role string, hasGST bool) float64 {
	if role == "admin" {
		if hasGST {
			return 7
		}
		return 12
	}
	if hasGST {
		return 5
	}
	return 10
}

// ClampDiscountPercent applies the cap silently: the caller's requested
// percent is reduced to the cap, never rejected. Negative requests clamp
// to zero.
func ClampDiscountPercent(requested float64, cap float64) float64 {
	if requested < 0 {
		return 0
	}
	if requested > cap {
		return cap
	}
	return requested
}
