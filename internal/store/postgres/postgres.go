package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/ledger"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, formula, category, pack_size, mrp, selling_price, gst_percentage, COALESCE(supplier_id, ''), created_at
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Formula, &p.Category, &p.PackSize, &p.MRP, &p.SellingPrice, &p.GSTPercentage, &p.SupplierID, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, formula, category, pack_size, mrp, selling_price, gst_percentage, supplier_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, product.ID, product.Name, product.Formula, product.Category, product.PackSize, product.MRP, product.SellingPrice, product.GSTPercentage, nullIfEmpty(product.SupplierID), product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, formula, category, pack_size, mrp, selling_price, gst_percentage, COALESCE(supplier_id, ''), created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Formula, &p.Category, &p.PackSize, &p.MRP, &p.SellingPrice, &p.GSTPercentage, &p.SupplierID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, formula, category, pack_size, mrp, selling_price, gst_percentage, COALESCE(supplier_id, ''), created_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Formula, &p.Category, &p.PackSize, &p.MRP, &p.SellingPrice, &p.GSTPercentage, &p.SupplierID, &p.CreatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || !product.SellingPrice.IsPositive() {
		return nil, store.ErrValidation
	}
	if product.GSTPercentage < 0 || product.GSTPercentage > 100 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, formula = $3, category = $4, pack_size = $5, mrp = $6,
			selling_price = $7, gst_percentage = $8, supplier_id = $9, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Formula, product.Category, product.PackSize, product.MRP, product.SellingPrice, product.GSTPercentage, nullIfEmpty(product.SupplierID))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, COALESCE(address, ''), created_at
		FROM suppliers
		ORDER BY created_at, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.Address, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, address, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Name, supplier.Phone, nullIfEmpty(supplier.Address), supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := supplier
	return &created, nil
}

// IncreaseStock merges the received quantity into the (product, batch_no)
// batch under a row lock: the stored cost becomes the weighted average of
// the existing stock and the incoming units.
func (s *Store) IncreaseStock(ctx context.Context, productID string, batchNo string, expiry *time.Time, addedQty int, unitCost decimal.Decimal) (*domain.Batch, error) {
	batchNo = strings.ToUpper(strings.TrimSpace(batchNo))
	if productID == "" || batchNo == "" || addedQty < 1 || !unitCost.IsPositive() {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	batch := domain.Batch{ProductID: productID, BatchNo: batchNo}
	var storedExpiry sql.NullTime
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, expiry, qty, cost, created_at
		FROM batches
		WHERE product_id = $1 AND batch_no = $2
		FOR UPDATE
	`, productID, batchNo).Scan(&batch.ID, &storedExpiry, &batch.Qty, &batch.Cost, &batch.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		batch.ID = xid.New("batch")
		batch.Qty = addedQty
		batch.Cost = unitCost
		batch.CreatedAt = time.Now().UTC()
		if expiry != nil {
			e := expiry.UTC()
			batch.Expiry = &e
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO batches (id, product_id, batch_no, expiry, qty, cost, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		`, batch.ID, productID, batchNo, nullDate(batch.Expiry), batch.Qty, batch.Cost, batch.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrValidation
			}
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		batch.Cost = ledger.WeightedAverageCost(batch.Qty, batch.Cost, addedQty, unitCost)
		batch.Qty += addedQty
		if storedExpiry.Valid {
			e := nowDateUTC(storedExpiry.Time)
			batch.Expiry = &e
		} else if expiry != nil {
			e := expiry.UTC()
			batch.Expiry = &e
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE batches
			SET qty = $2, cost = $3, expiry = $4, updated_at = now()
			WHERE id = $1
		`, batch.ID, batch.Qty, batch.Cost, nullDate(batch.Expiry))
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, batch_no, expiry, qty, cost, created_at
		FROM batches
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY expiry ASC NULLS LAST, id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 32)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) GetBatchByID(ctx context.Context, id string) (*domain.Batch, error) {
	var batch domain.Batch
	var expiry sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, batch_no, expiry, qty, cost, created_at
		FROM batches
		WHERE id = $1
	`, id).Scan(&batch.ID, &batch.ProductID, &batch.BatchNo, &expiry, &batch.Qty, &batch.Cost, &batch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if expiry.Valid {
		e := nowDateUTC(expiry.Time)
		batch.Expiry = &e
	}
	batch.CreatedAt = batch.CreatedAt.UTC()
	return &batch, nil
}

// CreateSale consumes stock batch by batch in first-expiry-first-out order
// under row locks and writes the sale header plus one item per consumed
// batch slice. Any shortage rolls the whole sale back.
func (s *Store) CreateSale(ctx context.Context, draft store.SaleDraft) (*domain.Sale, error) {
	if draft.ID == "" || len(draft.Lines) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := draft.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	items := make([]domain.SaleItem, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		if line.Qty < 1 || !line.UnitPrice.IsPositive() {
			return nil, store.ErrValidation
		}

		var exists bool
		if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, line.ProductID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}

		batchRows, err := pgTx.QueryContext(ctx, `
			SELECT id, product_id, batch_no, expiry, qty, cost, created_at
			FROM batches
			WHERE product_id = $1 AND qty > 0
			ORDER BY expiry ASC NULLS LAST, id ASC
			FOR UPDATE
		`, line.ProductID)
		if err != nil {
			return nil, err
		}
		batches := make([]domain.Batch, 0, 8)
		for batchRows.Next() {
			batch, err := scanBatch(batchRows)
			if err != nil {
				_ = batchRows.Close()
				return nil, err
			}
			batches = append(batches, batch)
		}
		if err := batchRows.Err(); err != nil {
			_ = batchRows.Close()
			return nil, err
		}
		_ = batchRows.Close()

		plan, err := ledger.PlanConsumption(batches, line.Qty, now)
		if err != nil {
			return nil, err
		}

		for _, alloc := range plan {
			_, err = pgTx.ExecContext(ctx, `
				UPDATE batches
				SET qty = qty - $1, updated_at = now()
				WHERE id = $2
			`, alloc.Qty, alloc.BatchID)
			if err != nil {
				return nil, err
			}
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, total, discount, net_total, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, draft.ID, draft.Total, draft.Discount, draft.NetTotal, draft.CreatedBy, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	for _, item := range items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, batch_id, qty, unit_price, unit_cost, discount_percent)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, item.SaleID, item.ProductID, item.BatchID, item.Qty, item.UnitPrice, item.UnitCost, item.DiscountPercent)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.Sale{
		ID:        draft.ID,
		Total:     draft.Total,
		Discount:  draft.Discount,
		NetTotal:  draft.NetTotal,
		CreatedBy: draft.CreatedBy,
		CreatedAt: now,
		Items:     items,
	}, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := s.getSale(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if len(sale.Items) == 0 {
		return nil, store.ErrNotFound
	}
	return sale, nil
}

func (s *Store) GetSaleWithAllItems(ctx context.Context, id string) (*domain.Sale, error) {
	return s.getSale(ctx, id, true)
}

func (s *Store) getSale(ctx context.Context, id string, includeReturned bool) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, total, discount, net_total, created_by, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.Total, &sale.Discount, &sale.NetTotal, &sale.CreatedBy, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	query := `
		SELECT id, sale_id, product_id, batch_id, qty, unit_price, unit_cost, discount_percent
		FROM sale_items
		WHERE sale_id = $1
	`
	if !includeReturned {
		query += ` AND qty > 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sale.Items = make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.BatchID, &item.Qty, &item.UnitPrice, &item.UnitCost, &item.DiscountPercent); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, total, discount, net_total, created_by, created_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	byID := make(map[string]int, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.Total, &sale.Discount, &sale.NetTotal, &sale.CreatedBy, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sale.Items = []domain.SaleItem{}
		byID[sale.ID] = len(sales)
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, batch_id, qty, unit_price, unit_cost, discount_percent
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.BatchID, &item.Qty, &item.UnitPrice, &item.UnitCost, &item.DiscountPercent); err != nil {
			return nil, err
		}
		if idx, ok := byID[item.SaleID]; ok {
			sales[idx].Items = append(sales[idx].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

// CreateReturn validates every line against its remaining quantity under a
// row lock, restocks the originating batches, shrinks the sale lines, and
// recomputes the sale header, all in one transaction.
func (s *Store) CreateReturn(ctx context.Context, draft store.ReturnDraft) (*domain.Return, *domain.SaleTotals, error) {
	if draft.ID == "" || draft.SaleID == "" || len(draft.Lines) == 0 {
		return nil, nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var saleDiscount decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT discount
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, draft.SaleID).Scan(&saleDiscount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT id, product_id, batch_id, qty, unit_price, unit_cost, discount_percent
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
		FOR UPDATE
	`, draft.SaleID)
	if err != nil {
		return nil, nil, err
	}
	items := make([]domain.SaleItem, 0, 8)
	itemIdx := make(map[string]int, 8)
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.ProductID, &item.BatchID, &item.Qty, &item.UnitPrice, &item.UnitCost, &item.DiscountPercent); err != nil {
			_ = itemRows.Close()
			return nil, nil, err
		}
		item.SaleID = draft.SaleID
		itemIdx[item.ID] = len(items)
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, nil, err
	}
	_ = itemRows.Close()

	pending := make(map[string]int)
	for _, line := range draft.Lines {
		if line.Qty < 1 {
			return nil, nil, store.ErrValidation
		}
		idx, ok := itemIdx[line.SaleItemID]
		if !ok {
			return nil, nil, store.ErrNotFound
		}
		if pending[line.SaleItemID]+line.Qty > items[idx].Qty {
			return nil, nil, store.ErrReturnExceedsRemaining
		}
		pending[line.SaleItemID] += line.Qty
	}

	now := draft.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ret := domain.Return{
		ID:        draft.ID,
		SaleID:    draft.SaleID,
		Reason:    draft.Reason,
		CreatedBy: draft.CreatedBy,
		CreatedAt: now,
		Items:     make([]domain.ReturnItem, 0, len(draft.Lines)),
	}
	total := decimal.Zero
	for _, line := range draft.Lines {
		item := &items[itemIdx[line.SaleItemID]]

		_, err = pgTx.ExecContext(ctx, `
			UPDATE batches
			SET qty = qty + $1, updated_at = now()
			WHERE id = $2
		`, line.Qty, item.BatchID)
		if err != nil {
			return nil, nil, err
		}

		item.Qty -= line.Qty
		_, err = pgTx.ExecContext(ctx, `
			UPDATE sale_items
			SET qty = qty - $1
			WHERE id = $2
		`, line.Qty, item.ID)
		if err != nil {
			return nil, nil, err
		}

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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO returns (id, sale_id, total, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, ret.ID, ret.SaleID, ret.Total, strings.TrimSpace(ret.Reason), ret.CreatedBy, ret.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrValidation
		}
		return nil, nil, err
	}
	for _, item := range ret.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO return_items (id, return_id, sale_item_id, product_id, batch_id, qty, unit_price, unit_cost)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, item.ReturnID, item.SaleItemID, item.ProductID, item.BatchID, item.Qty, item.UnitPrice, item.UnitCost)
		if err != nil {
			return nil, nil, err
		}
	}

	totals := ledger.RecomputeSaleTotals(items, saleDiscount)
	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET total = $2, discount = $3, net_total = $4
		WHERE id = $1
	`, draft.SaleID, totals.Total, totals.Discount, totals.NetTotal)
	if err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}
	return &ret, &totals, nil
}

// RepairSaleItems clamps negative line quantities to zero and recomputes the
// header totals of every affected sale. Running it twice changes nothing.
func (s *Store) RepairSaleItems(ctx context.Context) (domain.RepairResult, error) {
	result := domain.RepairResult{SalesRepaired: []string{}}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return result, err
	}
	defer func() { _ = pgTx.Rollback() }()

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, sale_id
		FROM sale_items
		WHERE qty < 0
		FOR UPDATE
	`)
	if err != nil {
		return result, err
	}
	affectedSales := make(map[string]struct{})
	clampIDs := make([]string, 0, 8)
	for rows.Next() {
		var itemID, saleID string
		if err := rows.Scan(&itemID, &saleID); err != nil {
			_ = rows.Close()
			return result, err
		}
		clampIDs = append(clampIDs, itemID)
		affectedSales[saleID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return result, err
	}
	_ = rows.Close()

	if len(clampIDs) == 0 {
		return result, pgTx.Commit()
	}

	res, err := pgTx.ExecContext(ctx, `
		UPDATE sale_items
		SET qty = 0
		WHERE id = ANY($1)
	`, clampIDs)
	if err != nil {
		return result, err
	}
	clamped, err := res.RowsAffected()
	if err != nil {
		return result, err
	}
	result.ItemsClamped = int(clamped)

	for saleID := range affectedSales {
		var discount decimal.Decimal
		err := pgTx.QueryRowContext(ctx, `SELECT discount FROM sales WHERE id = $1 FOR UPDATE`, saleID).Scan(&discount)
		if err != nil {
			return result, err
		}

		itemRows, err := pgTx.QueryContext(ctx, `
			SELECT qty, unit_price
			FROM sale_items
			WHERE sale_id = $1
		`, saleID)
		if err != nil {
			return result, err
		}
		items := make([]domain.SaleItem, 0, 8)
		for itemRows.Next() {
			var item domain.SaleItem
			if err := itemRows.Scan(&item.Qty, &item.UnitPrice); err != nil {
				_ = itemRows.Close()
				return result, err
			}
			items = append(items, item)
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return result, err
		}
		_ = itemRows.Close()

		totals := ledger.RecomputeSaleTotals(items, discount)
		_, err = pgTx.ExecContext(ctx, `
			UPDATE sales
			SET total = $2, discount = $3, net_total = $4
			WHERE id = $1
		`, saleID, totals.Total, totals.Discount, totals.NetTotal)
		if err != nil {
			return result, err
		}
		result.SalesRepaired = append(result.SalesRepaired, saleID)
	}
	sort.Strings(result.SalesRepaired)

	if err := pgTx.Commit(); err != nil {
		return domain.RepairResult{SalesRepaired: []string{}}, err
	}
	return result, nil
}

func (s *Store) GetProfitReportRows(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLineFact, []domain.ReturnLineFact, []domain.Expense, error) {
	lineRows, err := s.db.QueryContext(ctx, `
		SELECT si.sale_id, s.created_at, si.product_id, COALESCE(p.name, ''),
			si.qty, COALESCE(r.returned_qty, 0), si.unit_price, si.unit_cost,
			COALESCE(b.cost, 0), si.discount_percent
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		LEFT JOIN products p ON p.id = si.product_id
		LEFT JOIN batches b ON b.id = si.batch_id
		LEFT JOIN (
			SELECT sale_item_id, SUM(qty) AS returned_qty
			FROM return_items
			GROUP BY sale_item_id
		) r ON r.sale_item_id = si.id
		WHERE s.created_at >= $1 AND s.created_at < $2
	`, from, to)
	if err != nil {
		return nil, nil, nil, err
	}
	defer lineRows.Close()

	lines := make([]domain.SaleLineFact, 0, 128)
	for lineRows.Next() {
		var fact domain.SaleLineFact
		if err := lineRows.Scan(&fact.SaleID, &fact.SaleDate, &fact.ProductID, &fact.ProductName, &fact.Qty, &fact.ReturnedQty, &fact.UnitPrice, &fact.UnitCost, &fact.BatchCost, &fact.DiscountPercent); err != nil {
			return nil, nil, nil, err
		}
		fact.SaleDate = fact.SaleDate.UTC()
		lines = append(lines, fact)
	}
	if err := lineRows.Err(); err != nil {
		return nil, nil, nil, err
	}

	returnRows, err := s.db.QueryContext(ctx, `
		SELECT r.sale_id, s.created_at, ri.product_id, ri.qty, ri.unit_price, ri.unit_cost
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		JOIN sales s ON s.id = r.sale_id
		WHERE s.created_at >= $1 AND s.created_at < $2
	`, from, to)
	if err != nil {
		return nil, nil, nil, err
	}
	defer returnRows.Close()

	returnLines := make([]domain.ReturnLineFact, 0, 32)
	for returnRows.Next() {
		var fact domain.ReturnLineFact
		if err := returnRows.Scan(&fact.SaleID, &fact.SaleDate, &fact.ProductID, &fact.Qty, &fact.UnitPrice, &fact.UnitCost); err != nil {
			return nil, nil, nil, err
		}
		fact.SaleDate = fact.SaleDate.UTC()
		returnLines = append(returnLines, fact)
	}
	if err := returnRows.Err(); err != nil {
		return nil, nil, nil, err
	}

	expenses, err := s.ListExpenses(ctx, from, to)
	if err != nil {
		return nil, nil, nil, err
	}

	return lines, returnLines, expenses, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if !expense.Amount.IsPositive() {
		return nil, store.ErrValidation
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, amount, description, created_at)
		VALUES ($1,$2,$3,$4)
	`, expense.ID, expense.Amount, strings.TrimSpace(expense.Description), expense.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount, COALESCE(description, ''), created_at
		FROM expenses
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		var expense domain.Expense
		if err := rows.Scan(&expense.ID, &expense.Amount, &expense.Description, &expense.CreatedAt); err != nil {
			return nil, err
		}
		expense.CreatedAt = expense.CreatedAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, username, role, action, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.Username, entry.Role, entry.Action, entry.Details, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, role, action, details, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Username, &entry.Role, &entry.Action, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleSalesman
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanBatch(rows *sql.Rows) (domain.Batch, error) {
	var batch domain.Batch
	var expiry sql.NullTime
	if err := rows.Scan(&batch.ID, &batch.ProductID, &batch.BatchNo, &expiry, &batch.Qty, &batch.Cost, &batch.CreatedAt); err != nil {
		return domain.Batch{}, err
	}
	if expiry.Valid {
		e := nowDateUTC(expiry.Time)
		batch.Expiry = &e
	}
	batch.CreatedAt = batch.CreatedAt.UTC()
	return batch, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}
