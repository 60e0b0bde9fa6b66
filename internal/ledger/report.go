package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
)

// BuildProfitReport aggregates raw reporting rows into the profit summary.
// Original sold quantities are reconstructed as current qty plus cumulative
// returned qty, so the figures are stable no matter how the ledger has been
// mutated by returns since the sale. Returns are attributed to the parent
// sale's date (the repository only supplies return rows whose parent sale
// falls in range), keeping a sale and its later returns in one period.
func BuildProfitReport(lines []domain.SaleLineFact, returnLines []domain.ReturnLineFact, expenses []domain.Expense) domain.ProfitReport {
	grossSales := decimal.Zero
	discounts := decimal.Zero
	cogsSales := decimal.Zero
	missingCostLines := 0

	type productAgg struct {
		name        string
		qtySold     int
		qtyReturned int
		gross       decimal.Decimal
		cogs        decimal.Decimal
	}
	byProduct := make(map[string]*productAgg, len(lines))

	for _, line := range lines {
		originalQty := line.Qty + line.ReturnedQty
		if originalQty < 1 {
			continue
		}
		qty := decimal.NewFromInt(int64(originalQty))

		lineGross := line.UnitPrice.Mul(qty)
		grossSales = grossSales.Add(lineGross)

		if line.DiscountPercent > 0 {
			discounts = discounts.Add(lineGross.Mul(decimal.NewFromFloat(line.DiscountPercent / 100)))
		}

		unitCost := line.UnitCost
		if !unitCost.IsPositive() {
			unitCost = line.BatchCost
			if !unitCost.IsPositive() {
				missingCostLines++
			}
		}
		lineCogs := unitCost.Mul(qty)
		cogsSales = cogsSales.Add(lineCogs)

		agg := byProduct[line.ProductID]
		if agg == nil {
			agg = &productAgg{name: line.ProductName, gross: decimal.Zero, cogs: decimal.Zero}
			byProduct[line.ProductID] = agg
		}
		agg.qtySold += originalQty
		agg.qtyReturned += line.ReturnedQty
		agg.gross = agg.gross.Add(lineGross)
		agg.cogs = agg.cogs.Add(lineCogs)
	}

	returnsRevenue := decimal.Zero
	returnsCogs := decimal.Zero
	for _, ret := range returnLines {
		qty := decimal.NewFromInt(int64(ret.Qty))
		returnsRevenue = returnsRevenue.Add(ret.UnitPrice.Mul(qty))
		returnsCogs = returnsCogs.Add(ret.UnitCost.Mul(qty))
	}

	expenseTotal := decimal.Zero
	for _, exp := range expenses {
		expenseTotal = expenseTotal.Add(exp.Amount)
	}

	netSales := grossSales.Sub(discounts)
	actualRevenue := netSales.Sub(returnsRevenue)
	actualCogs := cogsSales.Sub(returnsCogs)
	grossProfit := actualRevenue.Sub(actualCogs)

	rows := make([]domain.ProfitReportRow, 0, len(byProduct))
	for productID, agg := range byProduct {
		rows = append(rows, domain.ProfitReportRow{
			ProductID:    productID,
			ProductName:  agg.name,
			QtySold:      agg.qtySold,
			QtyReturned:  agg.qtyReturned,
			GrossRevenue: Round2(agg.gross),
			COGS:         Round2(agg.cogs),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ProductName < rows[j].ProductName
	})

	return domain.ProfitReport{
		Rows: rows,
		Summary: domain.ProfitReportSummary{
			GrossSales:       Round2(grossSales),
			Discounts:        Round2(discounts),
			NetSales:         Round2(netSales),
			Returns:          Round2(returnsRevenue),
			Expenses:         Round2(expenseTotal),
			COGS:             Round2(actualCogs),
			NetCash:          Round2(actualRevenue.Sub(expenseTotal)),
			GrossProfit:      Round2(grossProfit),
			NetProfit:        Round2(grossProfit.Sub(expenseTotal)),
			MissingCostLines: missingCostLines,
		},
	}
}
