package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Formula       string          `json:"formula"`
	Category      string          `json:"category"`
	PackSize      int             `json:"pack_size"`
	MRP           decimal.Decimal `json:"mrp"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	GSTPercentage float64         `json:"gst_percentage"`
	SupplierID    string          `json:"supplier_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name          string          `json:"name"`
	Formula       string          `json:"formula"`
	Category      string          `json:"category"`
	PackSize      int             `json:"pack_size"`
	MRP           decimal.Decimal `json:"mrp"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	GSTPercentage float64         `json:"gst_percentage"`
	SupplierID    string          `json:"supplier_id,omitempty"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Formula       *string          `json:"formula,omitempty"`
	Category      *string          `json:"category,omitempty"`
	PackSize      *int             `json:"pack_size,omitempty"`
	MRP           *decimal.Decimal `json:"mrp,omitempty"`
	SellingPrice  *decimal.Decimal `json:"selling_price,omitempty"`
	GSTPercentage *float64         `json:"gst_percentage,omitempty"`
	SupplierID    *string          `json:"supplier_id,omitempty"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
}

// Batch is the authoritative per-(product, batch_no) stock row. Qty is the
// on-hand quantity; Cost is the weighted-average unit cost across every
// purchase merged into this batch. A nil Expiry means no expiry is printed
// on the pack and the batch is consumed last.
type Batch struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	BatchNo   string          `json:"batch_no"`
	Expiry    *time.Time      `json:"expiry,omitempty"`
	Qty       int             `json:"qty"`
	Cost      decimal.Decimal `json:"cost"`
	CreatedAt time.Time       `json:"created_at"`
}

type PurchaseLineRequest struct {
	ProductID string          `json:"product_id"`
	BatchNo   string          `json:"batch_no"`
	Expiry    string          `json:"expiry,omitempty"`
	Qty       int             `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type PurchaseCreateRequest struct {
	SupplierID string                `json:"supplier_id,omitempty"`
	InvoiceNo  string                `json:"invoice_no,omitempty"`
	Items      []PurchaseLineRequest `json:"items"`
}

type PurchaseCreateResponse struct {
	Batches []Batch `json:"batches"`
}

type Sale struct {
	ID        string          `json:"id"`
	Total     decimal.Decimal `json:"total"`
	Discount  decimal.Decimal `json:"discount"`
	NetTotal  decimal.Decimal `json:"net_total"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []SaleItem      `json:"items"`
}

// SaleItem is the per-batch-consumed line of a sale. Qty is the remaining
// un-returned quantity; the originally sold quantity is always
// Qty + the sum of linked ReturnItem quantities. UnitPrice, UnitCost and
// DiscountPercent are frozen at sale time and never mutated.
type SaleItem struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"sale_id"`
	ProductID       string          `json:"product_id"`
	BatchID         string          `json:"batch_id"`
	Qty             int             `json:"qty"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	DiscountPercent float64         `json:"discount_percent"`
}

type SaleLineRequest struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleCreateRequest struct {
	Items           []SaleLineRequest `json:"items"`
	DiscountPercent float64           `json:"discount_percent"`
}

type SaleCreateResponse struct {
	SaleID                 string          `json:"sale_id"`
	Total                  decimal.Decimal `json:"total"`
	Discount               decimal.Decimal `json:"discount"`
	NetTotal               decimal.Decimal `json:"net"`
	AppliedDiscountPercent float64         `json:"applied_discount_percent"`
}

// SaleTotals carries the header figures of a sale after a recomputation.
type SaleTotals struct {
	Total    decimal.Decimal `json:"total"`
	Discount decimal.Decimal `json:"discount"`
	NetTotal decimal.Decimal `json:"net_total"`
}

type Return struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	Total     decimal.Decimal `json:"total"`
	Reason    string          `json:"reason,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []ReturnItem    `json:"items"`
}

// ReturnItem references the originating sale line. UnitPrice is the
// effective, discount-adjusted price refunded per unit; UnitCost is copied
// from the sale line at return time for profit reconstruction.
type ReturnItem struct {
	ID         string          `json:"id"`
	ReturnID   string          `json:"return_id"`
	SaleItemID string          `json:"sale_item_id"`
	ProductID  string          `json:"product_id"`
	BatchID    string          `json:"batch_id"`
	Qty        int             `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

type ReturnLineRequest struct {
	SaleItemID      string           `json:"sale_item_id"`
	Qty             int              `json:"qty"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountPercent *float64         `json:"discount_percent,omitempty"`
}

type ReturnCreateRequest struct {
	SaleID string              `json:"sale_id"`
	Items  []ReturnLineRequest `json:"items"`
	Reason string              `json:"reason,omitempty"`
}

type ReturnCreateResponse struct {
	ReturnID   string          `json:"return_id"`
	Total      decimal.Decimal `json:"total"`
	SaleTotals SaleTotals      `json:"sale_totals"`
}

type Expense struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// SaleLineFact is a raw reporting row: one sale line of a sale whose
// created_at date falls inside the report range, joined with its cumulative
// returned quantity and the current cost of its batch (fallback when the
// line's own frozen cost is missing).
type SaleLineFact struct {
	SaleID          string
	SaleDate        time.Time
	ProductID       string
	ProductName     string
	Qty             int
	ReturnedQty     int
	UnitPrice       decimal.Decimal
	UnitCost        decimal.Decimal
	BatchCost       decimal.Decimal
	DiscountPercent float64
}

// ReturnLineFact is a raw reporting row: one return line whose parent sale
// falls inside the report range. Returns are attributed to the sale's date,
// not the return's own date.
type ReturnLineFact struct {
	SaleID    string
	SaleDate  time.Time
	ProductID string
	Qty       int
	UnitPrice decimal.Decimal
	UnitCost  decimal.Decimal
}

type ProfitReportRow struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	QtySold      int             `json:"qty_sold"`
	QtyReturned  int             `json:"qty_returned"`
	GrossRevenue decimal.Decimal `json:"gross_revenue"`
	COGS         decimal.Decimal `json:"cogs"`
}

type ProfitReportSummary struct {
	GrossSales       decimal.Decimal `json:"gross_sales"`
	Discounts        decimal.Decimal `json:"discounts"`
	NetSales         decimal.Decimal `json:"net_sales"`
	Returns          decimal.Decimal `json:"returns"`
	Expenses         decimal.Decimal `json:"expenses"`
	COGS             decimal.Decimal `json:"cogs"`
	NetCash          decimal.Decimal `json:"net_cash"`
	GrossProfit      decimal.Decimal `json:"gross_profit"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	MissingCostLines int             `json:"missing_cost_lines"`
}

type ProfitReport struct {
	From    string              `json:"from"`
	To      string              `json:"to"`
	Rows    []ProfitReportRow   `json:"rows"`
	Summary ProfitReportSummary `json:"summary"`
}

type RepairResult struct {
	ItemsClamped  int      `json:"items_clamped"`
	SalesRepaired []string `json:"sales_repaired"`
}

type AuditLog struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type SalesmanCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SalesmanUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin    = "admin"
	RoleSalesman = "salesman"
)

const (
	ActionSaleCreate     = "sale.create"
	ActionReturnCreate   = "return.create"
	ActionPurchaseCreate = "purchase.create"
)
