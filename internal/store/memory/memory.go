package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/ledger"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	suppliersByID   map[string]domain.Supplier
	batchesByID     map[string]*domain.Batch
	batchIDByKey    map[string]string
	salesByID       map[string]*domain.Sale
	returnsByID     map[string]*domain.Return
	expenses        []domain.Expense
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_SALESMAN_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	salesmanPwd := envOr("SEED_SALESMAN_PASSWORD", "salesman123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SALESMAN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SALESMAN_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"salesman", salesmanPwd, domain.RoleSalesman},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with only the seed user accounts.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		suppliersByID:   make(map[string]domain.Supplier),
		batchesByID:     make(map[string]*domain.Batch),
		batchIDByKey:    make(map[string]string),
		salesByID:       make(map[string]*domain.Sale),
		returnsByID:     make(map[string]*domain.Return),
		expenses:        make([]domain.Expense, 0, 32),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a small demo catalog and stock.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prod-panadol", Name: "Panadol 500mg", Formula: "Paracetamol", Category: "tablet", PackSize: 200, MRP: decimal.NewFromFloat(350), SellingPrice: decimal.NewFromFloat(330), GSTPercentage: 0},
		{ID: "prod-augmentin", Name: "Augmentin 625mg", Formula: "Co-Amoxiclav", Category: "tablet", PackSize: 6, MRP: decimal.NewFromFloat(252), SellingPrice: decimal.NewFromFloat(245), GSTPercentage: 0},
		{ID: "prod-brufen", Name: "Brufen Syrup 120ml", Formula: "Ibuprofen", Category: "syrup", PackSize: 1, MRP: decimal.NewFromFloat(118), SellingPrice: decimal.NewFromFloat(110), GSTPercentage: 0},
		{ID: "prod-ensure", Name: "Ensure Vanilla 400g", Formula: "Nutritional Supplement", Category: "supplement", PackSize: 1, MRP: decimal.NewFromFloat(2350), SellingPrice: decimal.NewFromFloat(2290), GSTPercentage: 17},
		{ID: "prod-dettol", Name: "Dettol Antiseptic 250ml", Formula: "Chloroxylenol", Category: "otc", PackSize: 1, MRP: decimal.NewFromFloat(390), SellingPrice: decimal.NewFromFloat(375), GSTPercentage: 17},
		{ID: "prod-risek", Name: "Risek 20mg", Formula: "Omeprazole", Category: "capsule", PackSize: 14, MRP: decimal.NewFromFloat(215), SellingPrice: decimal.NewFromFloat(205), GSTPercentage: 0},
	}
	for _, p := range products {
		p.CreatedAt = now
		s.products[p.ID] = p
	}

	expiry := func(months int) *time.Time {
		d := now.AddDate(0, months, 0)
		return &d
	}
	batches := []domain.Batch{
		{ID: "batch-panadol-1", ProductID: "prod-panadol", BatchNo: "PND-2403", Expiry: expiry(9), Qty: 80, Cost: decimal.NewFromFloat(290)},
		{ID: "batch-panadol-2", ProductID: "prod-panadol", BatchNo: "PND-2411", Expiry: expiry(18), Qty: 120, Cost: decimal.NewFromFloat(296)},
		{ID: "batch-augmentin-1", ProductID: "prod-augmentin", BatchNo: "AUG-2405", Expiry: expiry(12), Qty: 60, Cost: decimal.NewFromFloat(198)},
		{ID: "batch-brufen-1", ProductID: "prod-brufen", BatchNo: "BRF-2402", Expiry: expiry(6), Qty: 45, Cost: decimal.NewFromFloat(82)},
		{ID: "batch-ensure-1", ProductID: "prod-ensure", BatchNo: "ENS-2406", Expiry: expiry(15), Qty: 30, Cost: decimal.NewFromFloat(1940)},
		{ID: "batch-dettol-1", ProductID: "prod-dettol", BatchNo: "DTL-2401", Expiry: nil, Qty: 50, Cost: decimal.NewFromFloat(310)},
		{ID: "batch-risek-1", ProductID: "prod-risek", BatchNo: "RSK-2404", Expiry: expiry(10), Qty: 70, Cost: decimal.NewFromFloat(162)},
	}
	for _, b := range batches {
		b.CreatedAt = now
		batch := b
		s.batchesByID[batch.ID] = &batch
		s.batchIDByKey[batchKey(batch.ProductID, batch.BatchNo)] = batch.ID
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || !product.SellingPrice.IsPositive() {
		return nil, store.ErrValidation
	}
	if product.GSTPercentage < 0 || product.GSTPercentage > 100 {
		return nil, store.ErrValidation
	}
	if product.PackSize < 1 {
		product.PackSize = 1
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || !product.SellingPrice.IsPositive() {
		return nil, store.ErrValidation
	}
	if product.GSTPercentage < 0 || product.GSTPercentage > 100 {
		return nil, store.ErrValidation
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return suppliers, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	s.suppliersByID[supplier.ID] = supplier
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) IncreaseStock(_ context.Context, productID string, batchNo string, expiry *time.Time, addedQty int, unitCost decimal.Decimal) (*domain.Batch, error) {
	batchNo = strings.ToUpper(strings.TrimSpace(batchNo))
	if productID == "" || batchNo == "" || addedQty < 1 || !unitCost.IsPositive() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[productID]; !exists {
		return nil, store.ErrNotFound
	}

	key := batchKey(productID, batchNo)
	if batchID, ok := s.batchIDByKey[key]; ok {
		batch := s.batchesByID[batchID]
		batch.Cost = ledger.WeightedAverageCost(batch.Qty, batch.Cost, addedQty, unitCost)
		batch.Qty += addedQty
		if batch.Expiry == nil && expiry != nil {
			e := expiry.UTC()
			batch.Expiry = &e
		}
		updated := cloneBatch(*batch)
		return &updated, nil
	}

	batch := domain.Batch{
		ID:        xid.New("batch"),
		ProductID: productID,
		BatchNo:   batchNo,
		Qty:       addedQty,
		Cost:      unitCost,
		CreatedAt: time.Now().UTC(),
	}
	if expiry != nil {
		e := expiry.UTC()
		batch.Expiry = &e
	}
	s.batchesByID[batch.ID] = &batch
	s.batchIDByKey[key] = batch.ID
	created := cloneBatch(batch)
	return &created, nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Batch, 0, len(s.batchesByID))
	for _, batch := range s.batchesByID {
		if productID != "" && batch.ProductID != productID {
			continue
		}
		result = append(result, cloneBatch(*batch))
	}
	slices.SortFunc(result, compareBatchFEFO)
	return result, nil
}

func (s *Store) GetBatchByID(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, exists := s.batchesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBatch := cloneBatch(*batch)
	return &copyBatch, nil
}

func (s *Store) CreateSale(_ context.Context, draft store.SaleDraft) (*domain.Sale, error) {
	if draft.ID == "" || len(draft.Lines) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[draft.ID]; exists {
		return nil, store.ErrValidation
	}

	now := draft.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Plan every line against a staged view of the batches first; nothing is
	// mutated until the whole sale is known to fit.
	consumed := make(map[string]int)
	items := make([]domain.SaleItem, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		if line.Qty < 1 || !line.UnitPrice.IsPositive() {
			return nil, store.ErrValidation
		}
		if _, exists := s.products[line.ProductID]; !exists {
			return nil, store.ErrNotFound
		}

		available := make([]domain.Batch, 0, 4)
		for _, batch := range s.batchesByID {
			if batch.ProductID != line.ProductID {
				continue
			}
			staged := cloneBatch(*batch)
			staged.Qty -= consumed[batch.ID]
			available = append(available, staged)
		}

		plan, err := ledger.PlanConsumption(available, line.Qty, now)
		if err != nil {
			return nil, err
		}
		for _, alloc := range plan {
			consumed[alloc.BatchID] += alloc.Qty
			items = append(items, domain.SaleItem{
				ID:              xid.New("sitem"),
				SaleID:          draft.ID,
				ProductID:       line.ProductID,
				BatchID:         alloc.BatchID,
				Qty:             alloc.Qty,
				UnitPrice:       line.UnitPrice,
				UnitCost:        alloc.UnitCost,
				DiscountPercent: draft.DiscountPercent,
			})
		}
	}

	for batchID, qty := range consumed {
		s.batchesByID[batchID].Qty -= qty
	}

	sale := &domain.Sale{
		ID:        draft.ID,
		Total:     draft.Total,
		Discount:  draft.Discount,
		NetTotal:  draft.NetTotal,
		CreatedBy: draft.CreatedBy,
		CreatedAt: now,
		Items:     items,
	}
	s.salesByID[sale.ID] = sale
	return cloneSale(sale, false), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	view := cloneSale(sale, true)
	if len(view.Items) == 0 {
		return nil, store.ErrNotFound
	}
	return view, nil
}

func (s *Store) GetSaleWithAllItems(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale, false), nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneSale(sale, false))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateReturn(_ context.Context, draft store.ReturnDraft) (*domain.Return, *domain.SaleTotals, error) {
	if draft.ID == "" || draft.SaleID == "" || len(draft.Lines) == 0 {
		return nil, nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[draft.SaleID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}

	itemByID := make(map[string]*domain.SaleItem, len(sale.Items))
	for i := range sale.Items {
		itemByID[sale.Items[i].ID] = &sale.Items[i]
	}

	// Validate every line against the remaining quantity, counting lines of
	// this same draft that target one sale item, before any mutation.
	pending := make(map[string]int)
	for _, line := range draft.Lines {
		if line.Qty < 1 {
			return nil, nil, store.ErrValidation
		}
		item, ok := itemByID[line.SaleItemID]
		if !ok {
			return nil, nil, store.ErrNotFound
		}
		if pending[line.SaleItemID]+line.Qty > item.Qty {
			return nil, nil, store.ErrReturnExceedsRemaining
		}
		pending[line.SaleItemID] += line.Qty
	}

	now := draft.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ret := &domain.Return{
		ID:        draft.ID,
		SaleID:    draft.SaleID,
		Reason:    draft.Reason,
		CreatedBy: draft.CreatedBy,
		CreatedAt: now,
		Items:     make([]domain.ReturnItem, 0, len(draft.Lines)),
	}
	total := decimal.Zero
	for _, line := range draft.Lines {
		item := itemByID[line.SaleItemID]

		if batch, ok := s.batchesByID[item.BatchID]; ok {
			batch.Qty += line.Qty
		}
		item.Qty -= line.Qty

		total = total.Add(line.RefundUnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))))
		ret.Items = append(ret.Items, domain.ReturnItem{
			ID:         xid.New("ritem"),
			ReturnID:   ret.ID,
			SaleItemID: item.ID,
			ProductID:  item.ProductID,
			BatchID:    item.BatchID,
			Qty:        line.Qty,
			UnitPrice:  line.RefundUnitPrice,
			UnitCost:   item.UnitCost,
		})
	}
	ret.Total = ledger.Round2(total)

	totals := ledger.RecomputeSaleTotals(sale.Items, sale.Discount)
	sale.Total = totals.Total
	sale.Discount = totals.Discount
	sale.NetTotal = totals.NetTotal

	s.returnsByID[ret.ID] = ret
	saved := *ret
	saved.Items = append([]domain.ReturnItem(nil), ret.Items...)
	return &saved, &totals, nil
}

func (s *Store) RepairSaleItems(_ context.Context) (domain.RepairResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := domain.RepairResult{SalesRepaired: []string{}}
	for _, sale := range s.salesByID {
		touched := false
		for i := range sale.Items {
			if sale.Items[i].Qty < 0 {
				sale.Items[i].Qty = 0
				result.ItemsClamped++
				touched = true
			}
		}
		if touched {
			totals := ledger.RecomputeSaleTotals(sale.Items, sale.Discount)
			sale.Total = totals.Total
			sale.Discount = totals.Discount
			sale.NetTotal = totals.NetTotal
			result.SalesRepaired = append(result.SalesRepaired, sale.ID)
		}
	}
	slices.Sort(result.SalesRepaired)
	return result, nil
}

func (s *Store) GetProfitReportRows(_ context.Context, from time.Time, to time.Time) ([]domain.SaleLineFact, []domain.ReturnLineFact, []domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	returnedByItem := make(map[string]int)
	for _, ret := range s.returnsByID {
		for _, item := range ret.Items {
			returnedByItem[item.SaleItemID] += item.Qty
		}
	}

	inRange := func(at time.Time) bool {
		return !at.Before(from) && at.Before(to)
	}

	lines := make([]domain.SaleLineFact, 0, 64)
	returnLines := make([]domain.ReturnLineFact, 0, 16)
	for _, sale := range s.salesByID {
		if !inRange(sale.CreatedAt) {
			continue
		}
		for _, item := range sale.Items {
			batchCost := decimal.Zero
			if batch, ok := s.batchesByID[item.BatchID]; ok {
				batchCost = batch.Cost
			}
			lines = append(lines, domain.SaleLineFact{
				SaleID:          sale.ID,
				SaleDate:        sale.CreatedAt,
				ProductID:       item.ProductID,
				ProductName:     s.products[item.ProductID].Name,
				Qty:             item.Qty,
				ReturnedQty:     returnedByItem[item.ID],
				UnitPrice:       item.UnitPrice,
				UnitCost:        item.UnitCost,
				BatchCost:       batchCost,
				DiscountPercent: item.DiscountPercent,
			})
		}
	}
	for _, ret := range s.returnsByID {
		sale, ok := s.salesByID[ret.SaleID]
		if !ok || !inRange(sale.CreatedAt) {
			continue
		}
		for _, item := range ret.Items {
			returnLines = append(returnLines, domain.ReturnLineFact{
				SaleID:    ret.SaleID,
				SaleDate:  sale.CreatedAt,
				ProductID: item.ProductID,
				Qty:       item.Qty,
				UnitPrice: item.UnitPrice,
				UnitCost:  item.UnitCost,
			})
		}
	}

	expenses := make([]domain.Expense, 0, 8)
	for _, exp := range s.expenses {
		if inRange(exp.CreatedAt) {
			expenses = append(expenses, exp)
		}
	}

	return lines, returnLines, expenses, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !expense.Amount.IsPositive() {
		return nil, store.ErrValidation
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expenses = append(s.expenses, expense)
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Expense, 0, 16)
	for _, exp := range s.expenses {
		if exp.CreatedAt.Before(from) || !exp.CreatedAt.Before(to) {
			continue
		}
		result = append(result, exp)
	}
	slices.SortFunc(result, func(a, b domain.Expense) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleSalesman
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func batchKey(productID string, batchNo string) string {
	return productID + "::" + batchNo
}

func compareBatchFEFO(a domain.Batch, b domain.Batch) int {
	if a.Expiry == nil && b.Expiry != nil {
		return 1
	}
	if a.Expiry != nil && b.Expiry == nil {
		return -1
	}
	if a.Expiry != nil && b.Expiry != nil {
		if a.Expiry.Before(*b.Expiry) {
			return -1
		}
		if a.Expiry.After(*b.Expiry) {
			return 1
		}
	}
	return cmpString(a.ID, b.ID)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneBatch(src domain.Batch) domain.Batch {
	dup := src
	if src.Expiry != nil {
		expiry := src.Expiry.UTC()
		dup.Expiry = &expiry
	}
	return dup
}

// cloneSale copies a sale. With receiptView set, fully returned lines
// (qty 0) are dropped from the copy.
func cloneSale(src *domain.Sale, receiptView bool) *domain.Sale {
	dup := *src
	items := make([]domain.SaleItem, 0, len(src.Items))
	for _, item := range src.Items {
		if receiptView && item.Qty < 1 {
			continue
		}
		items = append(items, item)
	}
	dup.Items = items
	return &dup
}
