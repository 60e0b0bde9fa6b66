package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

func TestCreateReturnRestocksBatchAndShrinksSale(t *testing.T) {
	databaseURL := os.Getenv("PHARMAPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PHARMAPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-ret-it-%d", stamp)
	batchNo := fmt.Sprintf("RET-IT-%d", stamp)
	saleID := fmt.Sprintf("sale-ret-it-%d", stamp)
	returnID := fmt.Sprintf("ret-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_items WHERE return_id = $1`, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM returns WHERE id = $1`, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM batches WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, formula, category, pack_size, mrp, selling_price, gst_percentage, created_at, updated_at)
		VALUES ($1, 'Return IT Tablet', 'Testamol', 'tablet', 10, 120, 100, 0, now(), now())
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	expiry := time.Now().UTC().AddDate(1, 0, 0)
	batch, err := s.IncreaseStock(ctx, productID, batchNo, &expiry, 10, decimal.NewFromInt(60))
	if err != nil {
		t.Fatalf("increase stock: %v", err)
	}

	sale, err := s.CreateSale(ctx, store.SaleDraft{
		ID:        saleID,
		Total:     decimal.NewFromInt(600),
		Discount:  decimal.Zero,
		NetTotal:  decimal.NewFromInt(600),
		CreatedBy: "admin",
		Lines: []domain.SaleLineRequest{
			{ProductID: productID, Qty: 6, UnitPrice: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if len(sale.Items) != 1 {
		t.Fatalf("expected one sale item, got %d", len(sale.Items))
	}

	after, err := s.GetBatchByID(ctx, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if after.Qty != 4 {
		t.Fatalf("expected batch qty 4 after sale, got %d", after.Qty)
	}

	ret, totals, err := s.CreateReturn(ctx, store.ReturnDraft{
		ID:     returnID,
		SaleID: saleID,
		Lines: []store.ReturnLineDraft{
			{SaleItemID: sale.Items[0].ID, Qty: 2, RefundUnitPrice: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if !ret.Total.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected refund 200, got %s", ret.Total)
	}
	if !totals.Total.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected sale total 400 after return, got %s", totals.Total)
	}

	restocked, err := s.GetBatchByID(ctx, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if restocked.Qty != 6 {
		t.Fatalf("expected batch qty 6 after restock, got %d", restocked.Qty)
	}

	// Over-returning the remaining quantity must fail.
	_, _, err = s.CreateReturn(ctx, store.ReturnDraft{
		ID:     returnID + "-over",
		SaleID: saleID,
		Lines: []store.ReturnLineDraft{
			{SaleItemID: sale.Items[0].ID, Qty: 5, RefundUnitPrice: decimal.NewFromInt(100)},
		},
	})
	if err != store.ErrReturnExceedsRemaining {
		t.Fatalf("expected ErrReturnExceedsRemaining, got %v", err)
	}
}
