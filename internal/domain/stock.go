package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to two decimals.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// IsLowStock uses the SKU's own reorder level when set and falls back to
// defaultThreshold otherwise.
func IsLowStock(sku ProductSKU, defaultThreshold int) bool {
	return sku.CurrentStock <= LowStockThreshold(sku, defaultThreshold)
}

func LowStockThreshold(sku ProductSKU, defaultThreshold int) int {
	if sku.ReorderLevel > 0 {
		return sku.ReorderLevel
	}
	return defaultThreshold
}

// ProfitMargin is the markup over cost as a percentage. Zero cost yields zero.
func ProfitMargin(cost, price decimal.Decimal) decimal.Decimal {
	if !cost.IsPositive() {
		return decimal.Zero
	}
	return RoundMoney(price.Sub(cost).Div(cost).Mul(hundred))
}

func (s ProductSKU) ProfitMargin() decimal.Decimal {
	return ProfitMargin(s.CostPrice, s.SellingPrice)
}

// EffectiveUnitPrice spreads the line discount over the quantity.
func (i SaleItem) EffectiveUnitPrice() decimal.Decimal {
	if i.Quantity <= 0 {
		return i.UnitPrice
	}
	return i.UnitPrice.Sub(i.DiscountAmount.Div(decimal.NewFromInt(int64(i.Quantity))))
}

func (i SaleItem) Profit() decimal.Decimal {
	qty := decimal.NewFromInt(int64(i.Quantity))
	return RoundMoney(i.UnitPrice.Mul(qty).Sub(i.DiscountAmount).Sub(i.UnitCost.Mul(qty)))
}

func (i SaleItem) ProfitMargin() decimal.Decimal {
	return ProfitMargin(i.UnitCost, i.EffectiveUnitPrice())
}

// NextStock applies change to previous. A negative result is an error unless
// allowNegative is set.
func NextStock(skuID string, previous, change int, allowNegative bool) (int, error) {
	next := previous + change
	if next < 0 && !allowNegative {
		return previous, &NegativeStockError{SKUID: skuID, Previous: previous, Change: change}
	}
	return next, nil
}

// SortMovements orders a history by (created_at, id), the ledger's total order.
func SortMovements(movements []StockMovement) {
	sort.SliceStable(movements, func(i, j int) bool {
		a, b := movements[i], movements[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Replay walks the history of a single SKU and compares the result with the
// stored snapshot. The chain breaks where a movement's previous stock differs
// from the running total or its new stock is not previous plus change.
func Replay(skuID string, stored int, movements []StockMovement) Reconciliation {
	ordered := make([]StockMovement, len(movements))
	copy(ordered, movements)
	SortMovements(ordered)

	result := Reconciliation{SKUID: skuID, StoredStock: stored, Movements: len(ordered)}
	running := 0
	for _, m := range ordered {
		if result.FirstBreakID == nil && (m.PreviousStock != running || m.NewStock != m.PreviousStock+m.QuantityChange) {
			id := m.ID
			result.FirstBreakID = &id
		}
		running += m.QuantityChange
	}
	result.RecomputedStock = running
	result.Consistent = result.FirstBreakID == nil && running == stored
	return result
}
