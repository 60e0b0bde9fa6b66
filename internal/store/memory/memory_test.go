package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

func seedProductWithBatch(t *testing.T, s *Store, productID string, qty int, cost int64) *domain.Batch {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateProduct(ctx, domain.Product{
		ID:           productID,
		Name:         "Test " + productID,
		Category:     "tablet",
		SellingPrice: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	expiry := time.Now().UTC().AddDate(1, 0, 0)
	batch, err := s.IncreaseStock(ctx, productID, "B1", &expiry, qty, decimal.NewFromInt(cost))
	if err != nil {
		t.Fatalf("increase stock: %v", err)
	}
	return batch
}

func TestRepairSaleItemsClampsNegativeQuantities(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProductWithBatch(t, s, "prod-1", 10, 60)

	sale, err := s.CreateSale(ctx, store.SaleDraft{
		ID:       "sale-1",
		Total:    decimal.NewFromInt(500),
		Discount: decimal.Zero,
		NetTotal: decimal.NewFromInt(500),
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-1", Qty: 5, UnitPrice: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	// Simulate the historical over-return corruption directly.
	s.mu.Lock()
	s.salesByID[sale.ID].Items[0].Qty = -3
	s.mu.Unlock()

	result, err := s.RepairSaleItems(ctx)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if result.ItemsClamped != 1 {
		t.Fatalf("expected 1 clamped item, got %d", result.ItemsClamped)
	}
	if len(result.SalesRepaired) != 1 || result.SalesRepaired[0] != sale.ID {
		t.Fatalf("expected sale %s repaired, got %v", sale.ID, result.SalesRepaired)
	}

	repaired, err := s.GetSaleWithAllItems(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if repaired.Items[0].Qty != 0 {
		t.Fatalf("expected clamped qty 0, got %d", repaired.Items[0].Qty)
	}
	if !repaired.Total.IsZero() || !repaired.NetTotal.IsZero() {
		t.Fatalf("expected recomputed totals to be zero, got total=%s net=%s", repaired.Total, repaired.NetTotal)
	}

	again, err := s.RepairSaleItems(ctx)
	if err != nil {
		t.Fatalf("repair again: %v", err)
	}
	if again.ItemsClamped != 0 || len(again.SalesRepaired) != 0 {
		t.Fatalf("second repair must be a no-op, got %+v", again)
	}
}

func TestCreateSaleRejectsDuplicateID(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProductWithBatch(t, s, "prod-1", 10, 60)

	draft := store.SaleDraft{
		ID:       "sale-dup",
		Total:    decimal.NewFromInt(100),
		NetTotal: decimal.NewFromInt(100),
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-1", Qty: 1, UnitPrice: decimal.NewFromInt(100)},
		},
	}
	if _, err := s.CreateSale(ctx, draft); err != nil {
		t.Fatalf("first sale: %v", err)
	}
	if _, err := s.CreateSale(ctx, draft); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate sale id, got %v", err)
	}
}

func TestCreateReturnRestoresOriginatingBatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	batch := seedProductWithBatch(t, s, "prod-1", 10, 60)

	sale, err := s.CreateSale(ctx, store.SaleDraft{
		ID:       "sale-1",
		Total:    decimal.NewFromInt(600),
		NetTotal: decimal.NewFromInt(600),
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-1", Qty: 6, UnitPrice: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_, totals, err := s.CreateReturn(ctx, store.ReturnDraft{
		ID:     "ret-1",
		SaleID: sale.ID,
		Lines: []store.ReturnLineDraft{
			{SaleItemID: sale.Items[0].ID, Qty: 2, RefundUnitPrice: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if !totals.Total.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected recomputed total 400, got %s", totals.Total)
	}

	restocked, err := s.GetBatchByID(ctx, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if restocked.Qty != 6 {
		t.Fatalf("expected batch qty 6 after restock, got %d", restocked.Qty)
	}
}

func TestCreateReturnValidatesAcrossDraftLines(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProductWithBatch(t, s, "prod-1", 10, 60)

	sale, err := s.CreateSale(ctx, store.SaleDraft{
		ID:       "sale-1",
		Total:    decimal.NewFromInt(500),
		NetTotal: decimal.NewFromInt(500),
		Lines: []domain.SaleLineRequest{
			{ProductID: "prod-1", Qty: 5, UnitPrice: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	// Two lines of one draft that together exceed the remaining quantity.
	_, _, err = s.CreateReturn(ctx, store.ReturnDraft{
		ID:     "ret-1",
		SaleID: sale.ID,
		Lines: []store.ReturnLineDraft{
			{SaleItemID: sale.Items[0].ID, Qty: 3, RefundUnitPrice: decimal.NewFromInt(100)},
			{SaleItemID: sale.Items[0].ID, Qty: 3, RefundUnitPrice: decimal.NewFromInt(100)},
		},
	})
	if !errors.Is(err, store.ErrReturnExceedsRemaining) {
		t.Fatalf("expected ErrReturnExceedsRemaining, got %v", err)
	}

	// The failed return must not have touched the sale.
	unchanged, err := s.GetSaleWithAllItems(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if unchanged.Items[0].Qty != 5 {
		t.Fatalf("failed return must leave qty at 5, got %d", unchanged.Items[0].Qty)
	}
}
