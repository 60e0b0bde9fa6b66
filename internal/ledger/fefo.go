// Package ledger holds the pure arithmetic of the stock and sales ledger:
// first-expiry-first-out consumption planning, weighted-average costing,
// sale total recomputation, and profit report aggregation. Repositories
// apply these computations inside their own transactions so the formulas
// cannot drift between storage backends.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

// Allocation is one slice of a FEFO consumption plan: take Qty units from
// BatchID at the batch's unit cost as of planning time.
type Allocation struct {
	BatchID   string
	ProductID string
	Qty       int
	UnitCost  decimal.Decimal
}

// PlanConsumption selects batches for the requested quantity in FEFO order:
// soonest expiry first, nil expiry last, batch ID as the tie-break so the
// order is deterministic. Expired and empty batches are skipped. The plan is
// computed without mutating the input; callers apply the decrements inside
// their own transaction. Returns store.ErrInsufficientStock when the
// sellable quantity cannot cover the request.
func PlanConsumption(batches []domain.Batch, quantityNeeded int, today time.Time) ([]Allocation, error) {
	if quantityNeeded < 1 {
		return nil, store.ErrValidation
	}

	ordered := make([]domain.Batch, len(batches))
	copy(ordered, batches)
	sort.SliceStable(ordered, func(i, j int) bool {
		return fefoLess(ordered[i], ordered[j])
	})

	day := dateOnly(today)
	remaining := quantityNeeded
	plan := make([]Allocation, 0, 2)
	for _, batch := range ordered {
		if remaining == 0 {
			break
		}
		if batch.Qty < 1 {
			continue
		}
		if batch.Expiry != nil && dateOnly(*batch.Expiry).Before(day) {
			continue
		}
		take := remaining
		if take > batch.Qty {
			take = batch.Qty
		}
		plan = append(plan, Allocation{
			BatchID:   batch.ID,
			ProductID: batch.ProductID,
			Qty:       take,
			UnitCost:  batch.Cost,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, store.ErrInsufficientStock
	}
	return plan, nil
}

// fefoLess orders batches by expiry ascending with nil expiries last, then
// by batch ID ascending.
func fefoLess(a, b domain.Batch) bool {
	switch {
	case a.Expiry == nil && b.Expiry == nil:
		return a.ID < b.ID
	case a.Expiry == nil:
		return false
	case b.Expiry == nil:
		return true
	case a.Expiry.Equal(*b.Expiry):
		return a.ID < b.ID
	default:
		return a.Expiry.Before(*b.Expiry)
	}
}

func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
