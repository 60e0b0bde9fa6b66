package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/cache"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/ledger"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/xid"
)

// ErrForbidden is returned when an operation requires the admin role.
var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	reportCache cache.ReportCache
	reportTTL   time.Duration
}

func New(repo store.Repository, reportCache cache.ReportCache, reportTTL time.Duration) *Service {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = 60 * time.Second
	}

	return &Service{
		repo:        repo,
		reportCache: reportCache,
		reportTTL:   reportTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, ErrForbidden
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Formula = strings.TrimSpace(req.Formula)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || !req.SellingPrice.IsPositive() {
		return domain.Product{}, store.ErrValidation
	}
	if req.GSTPercentage < 0 || req.GSTPercentage > 100 {
		return domain.Product{}, store.ErrValidation
	}
	if req.PackSize < 1 {
		req.PackSize = 1
	}

	product := domain.Product{
		ID:            xid.New("prod"),
		Name:          req.Name,
		Formula:       req.Formula,
		Category:      req.Category,
		PackSize:      req.PackSize,
		MRP:           req.MRP,
		SellingPrice:  req.SellingPrice,
		GSTPercentage: req.GSTPercentage,
		SupplierID:    req.SupplierID,
		CreatedAt:     time.Now().UTC(),
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product.create", fmt.Sprintf("id=%s,name=%s,price=%s", created.ID, created.Name, created.SellingPrice))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, ErrForbidden
	}

	if strings.TrimSpace(id) == "" {
		return domain.Product{}, store.ErrValidation
	}
	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Formula != nil {
		updated.Formula = strings.TrimSpace(*req.Formula)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PackSize != nil {
		if *req.PackSize < 1 {
			return domain.Product{}, store.ErrValidation
		}
		updated.PackSize = *req.PackSize
	}
	if req.MRP != nil {
		updated.MRP = *req.MRP
	}
	if req.SellingPrice != nil {
		if !req.SellingPrice.IsPositive() {
			return domain.Product{}, store.ErrValidation
		}
		updated.SellingPrice = *req.SellingPrice
	}
	if req.GSTPercentage != nil {
		if *req.GSTPercentage < 0 || *req.GSTPercentage > 100 {
			return domain.Product{}, store.ErrValidation
		}
		updated.GSTPercentage = *req.GSTPercentage
	}
	if req.SupplierID != nil {
		updated.SupplierID = strings.TrimSpace(*req.SupplierID)
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product.update", fmt.Sprintf("id=%s,price=%s,gst=%.2f", saved.ID, saved.SellingPrice, saved.GSTPercentage))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Supplier{}, ErrForbidden
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, store.ErrValidation
	}

	supplier := domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: time.Now().UTC(),
	}
	saved, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier.create", fmt.Sprintf("id=%s,name=%s", saved.ID, saved.Name))
	return *saved, nil
}

func (s *Service) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	return s.repo.ListBatches(ctx, productID)
}

// RecordPurchase receives purchase invoice lines into stock. Each line
// merges into its (product, batch_no) batch at the weighted-average cost.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.PurchaseCreateResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.PurchaseCreateResponse{}, ErrForbidden
	}
	if len(req.Items) == 0 {
		return domain.PurchaseCreateResponse{}, store.ErrValidation
	}

	type parsedLine struct {
		line   domain.PurchaseLineRequest
		expiry *time.Time
	}
	parsed := make([]parsedLine, 0, len(req.Items))
	for _, line := range req.Items {
		line.BatchNo = strings.ToUpper(strings.TrimSpace(line.BatchNo))
		if line.ProductID == "" || line.BatchNo == "" || line.Qty < 1 || !line.UnitCost.IsPositive() {
			return domain.PurchaseCreateResponse{}, store.ErrValidation
		}
		var expiry *time.Time
		if strings.TrimSpace(line.Expiry) != "" {
			day, err := time.Parse("2006-01-02", line.Expiry)
			if err != nil {
				return domain.PurchaseCreateResponse{}, store.ErrValidation
			}
			d := day.UTC()
			expiry = &d
		}
		parsed = append(parsed, parsedLine{line: line, expiry: expiry})
	}

	batches := make([]domain.Batch, 0, len(parsed))
	for _, entry := range parsed {
		batch, err := s.repo.IncreaseStock(ctx, entry.line.ProductID, entry.line.BatchNo, entry.expiry, entry.line.Qty, entry.line.UnitCost)
		if err != nil {
			return domain.PurchaseCreateResponse{}, err
		}
		batches = append(batches, *batch)
	}

	s.logAudit(ctx, domain.ActionPurchaseCreate, fmt.Sprintf("invoice=%s,lines=%d", req.InvoiceNo, len(batches)))
	s.invalidateReportCache(ctx)
	return domain.PurchaseCreateResponse{Batches: batches}, nil
}

// CreateSale validates the cart, applies the role- and GST-dependent
// discount cap, and hands the priced draft to the repository, which consumes
// stock first-expiry-first-out atomically with the sale insert.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleCreateResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleCreateResponse{}, ErrForbidden
	}
	if len(req.Items) == 0 {
		return domain.SaleCreateResponse{}, store.ErrValidation
	}

	ids := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		if line.ProductID == "" || line.Qty < 1 || line.UnitPrice.IsNegative() {
			return domain.SaleCreateResponse{}, store.ErrValidation
		}
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}

	hasGST := false
	total := decimal.Zero
	lines := make([]domain.SaleLineRequest, 0, len(req.Items))
	for _, line := range req.Items {
		product, exists := products[line.ProductID]
		if !exists {
			return domain.SaleCreateResponse{}, store.ErrNotFound
		}
		if product.GSTPercentage > 0 {
			hasGST = true
		}
		unitPrice := line.UnitPrice
		if !unitPrice.IsPositive() {
			unitPrice = product.SellingPrice
		}
		total = total.Add(unitPrice.Mul(decimal.NewFromInt(int64(line.Qty))))
		lines = append(lines, domain.SaleLineRequest{
			ProductID: line.ProductID,
			Qty:       line.Qty,
			UnitPrice: unitPrice,
		})
	}
	total = ledger.Round2(total)

	// The cap is applied silently: an over-cap request is reduced, never
	// rejected.
	maxPercent := ledger.DiscountCap(actor.Role, hasGST)
	applied := ledger.ClampDiscountPercent(req.DiscountPercent, maxPercent)
	discount := ledger.Round2(total.Mul(decimal.NewFromFloat(applied / 100)))
	net := total.Sub(discount)

	draft := store.SaleDraft{
		ID:              xid.New("sale"),
		Total:           total,
		Discount:        discount,
		NetTotal:        net,
		DiscountPercent: applied,
		CreatedBy:       actor.Username,
		CreatedAt:       time.Now().UTC(),
		Lines:           lines,
	}
	sale, err := s.repo.CreateSale(ctx, draft)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}

	s.logAudit(ctx, domain.ActionSaleCreate, fmt.Sprintf("id=%s,net=%s,discount_pct=%.2f", sale.ID, sale.NetTotal, applied))
	s.invalidateReportCache(ctx)

	return domain.SaleCreateResponse{
		SaleID:                 sale.ID,
		Total:                  sale.Total,
		Discount:               sale.Discount,
		NetTotal:               sale.NetTotal,
		AppliedDiscountPercent: applied,
	}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Sale{}, store.ErrValidation
	}
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, date string) ([]domain.Sale, error) {
	from, to, err := dayRange(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, from, to)
}

// CreateReturn refunds sale lines. Each refund unit price is the sale line's
// frozen price less the effective discount percent; callers may override the
// price or the percent per line. Stock flows back to the originating batch.
func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnCreateRequest) (domain.ReturnCreateResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ReturnCreateResponse{}, ErrForbidden
	}
	if strings.TrimSpace(req.SaleID) == "" || len(req.Items) == 0 {
		return domain.ReturnCreateResponse{}, store.ErrValidation
	}

	sale, err := s.repo.GetSaleWithAllItems(ctx, req.SaleID)
	if err != nil {
		return domain.ReturnCreateResponse{}, err
	}
	itemByID := make(map[string]domain.SaleItem, len(sale.Items))
	for _, item := range sale.Items {
		itemByID[item.ID] = item
	}

	drafts := make([]store.ReturnLineDraft, 0, len(req.Items))
	for _, line := range req.Items {
		if line.SaleItemID == "" || line.Qty < 1 {
			return domain.ReturnCreateResponse{}, store.ErrValidation
		}
		if line.DiscountPercent != nil && (*line.DiscountPercent < 0 || *line.DiscountPercent > 100) {
			return domain.ReturnCreateResponse{}, store.ErrValidation
		}
		item, exists := itemByID[line.SaleItemID]
		if !exists {
			return domain.ReturnCreateResponse{}, store.ErrNotFound
		}

		refund := ledger.RefundUnitPrice(item.UnitPrice, item.DiscountPercent, line.DiscountPercent)
		if line.UnitPrice != nil {
			if line.UnitPrice.IsNegative() {
				return domain.ReturnCreateResponse{}, store.ErrValidation
			}
			refund = ledger.Round2(*line.UnitPrice)
		}
		drafts = append(drafts, store.ReturnLineDraft{
			SaleItemID:      line.SaleItemID,
			Qty:             line.Qty,
			RefundUnitPrice: refund,
		})
	}

	ret, totals, err := s.repo.CreateReturn(ctx, store.ReturnDraft{
		ID:        xid.New("ret"),
		SaleID:    req.SaleID,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedBy: actor.Username,
		CreatedAt: time.Now().UTC(),
		Lines:     drafts,
	})
	if err != nil {
		return domain.ReturnCreateResponse{}, err
	}

	s.logAudit(ctx, domain.ActionReturnCreate, fmt.Sprintf("id=%s,sale=%s,refund=%s", ret.ID, ret.SaleID, ret.Total))
	s.invalidateReportCache(ctx)

	return domain.ReturnCreateResponse{
		ReturnID:   ret.ID,
		Total:      ret.Total,
		SaleTotals: *totals,
	}, nil
}

// ProfitReport aggregates sales, returns, and expenses over the inclusive
// [from, to] date range. Returns are attributed to their parent sale's date,
// so a sale and its later returns always land in the same period.
func (s *Service) ProfitReport(ctx context.Context, fromDate string, toDate string) (domain.ProfitReport, error) {
	from, _, err := dayRange(fromDate)
	if err != nil {
		return domain.ProfitReport{}, err
	}
	toStart, to, err := dayRange(toDate)
	if err != nil {
		return domain.ProfitReport{}, err
	}
	if toStart.Before(from) {
		return domain.ProfitReport{}, store.ErrValidation
	}

	key := from.Format("2006-01-02") + ":" + toStart.Format("2006-01-02")
	if cached, ok, err := s.reportCache.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}

	lines, returnLines, expenses, err := s.repo.GetProfitReportRows(ctx, from, to)
	if err != nil {
		return domain.ProfitReport{}, err
	}

	report := ledger.BuildProfitReport(lines, returnLines, expenses)
	report.From = from.Format("2006-01-02")
	report.To = toStart.Format("2006-01-02")

	if err := s.reportCache.Set(ctx, key, &report, s.reportTTL); err != nil {
		log.Printf("[service] WARN: failed to cache profit report %s: %v", key, err)
	}
	return report, nil
}

// RepairSales clamps any negative sale line quantities left by historical
// bugs and recomputes the affected sale headers. Safe to run repeatedly.
func (s *Service) RepairSales(ctx context.Context) (domain.RepairResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.RepairResult{}, ErrForbidden
	}

	result, err := s.repo.RepairSaleItems(ctx)
	if err != nil {
		return domain.RepairResult{}, err
	}
	if result.ItemsClamped > 0 {
		s.logAudit(ctx, "sale.repair", fmt.Sprintf("items_clamped=%d,sales=%d", result.ItemsClamped, len(result.SalesRepaired)))
		s.invalidateReportCache(ctx)
	}
	return result, nil
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Expense{}, ErrForbidden
	}
	if !req.Amount.IsPositive() {
		return domain.Expense{}, store.ErrValidation
	}

	expense := domain.Expense{
		ID:          xid.New("exp"),
		Amount:      ledger.Round2(req.Amount),
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   time.Now().UTC(),
	}
	saved, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, "expense.create", fmt.Sprintf("id=%s,amount=%s", saved.ID, saved.Amount))
	s.invalidateReportCache(ctx)
	return *saved, nil
}

func (s *Service) ListExpenses(ctx context.Context, date string) ([]domain.Expense, error) {
	from, to, err := dayRange(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, from, to)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrValidation
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// logAudit records the action without failing the caller: the write is
// best-effort and a failure only produces a warning log line.
func (s *Service) logAudit(ctx context.Context, action string, details string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:        xid.New("audit"),
		Username:  actor.Username,
		Role:      actor.Role,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s: %v", action, err)
	}
}

func (s *Service) invalidateReportCache(ctx context.Context) {
	if err := s.reportCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: failed to invalidate report cache: %v", err)
	}
}

// dayRange turns a "2006-01-02" date into its UTC [start, next-day) window.
// An empty date means today.
func dayRange(date string) (time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrValidation
		}
		day = parsed.UTC()
	}
	return day, day.Add(24 * time.Hour), nil
}
