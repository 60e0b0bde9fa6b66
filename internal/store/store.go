package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrReturnExceedsRemaining = errors.New("return exceeds remaining quantity")
	ErrValidation             = errors.New("invalid input")
)

// SaleDraft is the storage contract for sale creation. The service computes
// the header figures; the repository performs the FEFO consumption and all
// inserts as one atomic unit, or none of them.
type SaleDraft struct {
	ID              string
	Total           decimal.Decimal
	Discount        decimal.Decimal
	NetTotal        decimal.Decimal
	DiscountPercent float64
	CreatedBy       string
	CreatedAt       time.Time
	Lines           []domain.SaleLineRequest
}

// ReturnLineDraft carries a validated-by-shape return line; the repository
// re-checks the remaining quantity under lock before committing.
type ReturnLineDraft struct {
	SaleItemID      string
	Qty             int
	RefundUnitPrice decimal.Decimal
}

type ReturnDraft struct {
	ID        string
	SaleID    string
	Reason    string
	CreatedBy string
	CreatedAt time.Time
	Lines     []ReturnLineDraft
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)

	// IncreaseStock merges addedQty at unitCost into the (productID, batchNo)
	// batch using weighted-average costing, creating the batch if absent.
	IncreaseStock(ctx context.Context, productID string, batchNo string, expiry *time.Time, addedQty int, unitCost decimal.Decimal) (*domain.Batch, error)
	ListBatches(ctx context.Context, productID string) ([]domain.Batch, error)
	GetBatchByID(ctx context.Context, id string) (*domain.Batch, error)

	// CreateSale consumes stock first-expiry-first-out for every draft line
	// and persists the header plus one sale item per consumed batch slice,
	// all in one transaction. ErrInsufficientStock aborts the whole sale.
	CreateSale(ctx context.Context, draft SaleDraft) (*domain.Sale, error)
	// GetSaleByID returns the receipt view: lines with qty > 0 only. A sale
	// whose every line has been fully returned reads as ErrNotFound.
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	// GetSaleWithAllItems returns the sale including fully returned lines.
	GetSaleWithAllItems(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)

	// CreateReturn validates each line against its remaining un-returned
	// quantity, restores stock to the originating batch, shrinks the sale
	// line, and recomputes the sale header totals, all in one transaction.
	CreateReturn(ctx context.Context, draft ReturnDraft) (*domain.Return, *domain.SaleTotals, error)

	// RepairSaleItems clamps negative sale item quantities to zero and
	// recomputes the totals of every affected sale. Idempotent.
	RepairSaleItems(ctx context.Context) (domain.RepairResult, error)

	GetProfitReportRows(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLineFact, []domain.ReturnLineFact, []domain.Expense, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
