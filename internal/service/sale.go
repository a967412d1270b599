package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

func checkSaleRequest(req domain.SaleRequest) error {
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return domain.Invalid(fmt.Sprintf("lines[%d].quantity", i), "must be greater than zero")
		}
		if line.Discount.IsNegative() {
			return domain.Invalid(fmt.Sprintf("lines[%d].discount", i), "must not be negative")
		}
		if line.UnitPrice != nil && line.UnitPrice.IsNegative() {
			return domain.Invalid(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
		}
	}
	for i, payment := range req.Payments {
		if !payment.Method.Valid() {
			return domain.Invalid(fmt.Sprintf("payments[%d].method", i), fmt.Sprintf("unknown payment method %q", payment.Method))
		}
		if !payment.Amount.IsPositive() {
			return domain.Invalid(fmt.Sprintf("payments[%d].amount", i), "must be greater than zero")
		}
	}
	if req.DiscountAmount.IsNegative() {
		return domain.Invalid("discount_amount", "must not be negative")
	}
	if req.DiscountPercent.IsNegative() || req.DiscountPercent.GreaterThan(hundred) {
		return domain.Invalid("discount_percent", "must be between 0 and 100")
	}
	if req.TaxRatePercent.IsNegative() || req.TaxRatePercent.GreaterThan(hundred) {
		return domain.Invalid("tax_rate_percent", "must be between 0 and 100")
	}
	if req.CashTendered != nil && req.CashTendered.IsNegative() {
		return domain.Invalid("cash_tendered", "must not be negative")
	}
	return nil
}

// FinalizeSale checks stock, prices and payments and books the sale with its
// SALE movements in one transaction.
func (s *Service) FinalizeSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	sale, err := s.finalizeSale(ctx, req)
	if err != nil {
		s.metrics.SaleFailed(failureReason(err))
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditSaleFailed,
			entityType:  "sale",
			description: "sale rejected: " + err.Error(),
		})
		return domain.Sale{}, err
	}
	s.metrics.SaleCompleted()
	for range sale.Items {
		s.metrics.MovementRecorded(string(domain.MovementSale))
	}
	s.log.Info().
		Str("receipt", sale.ReceiptNumber).
		Str("total", sale.TotalAmount.StringFixed(2)).
		Str("cashier", sale.CashierUsername).
		Msg("sale completed")
	return sale, nil
}

func (s *Service) finalizeSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, err
	}
	if err := checkSaleRequest(req); err != nil {
		return domain.Sale{}, err
	}

	var result domain.Sale
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cashier, err := s.requireCapability(ctx, tx, domain.CapProcessSales)
		if err != nil {
			return err
		}
		actor := actorOf(cashier)

		ids := make([]string, 0, len(req.Lines))
		for _, line := range req.Lines {
			ids = append(ids, line.SKUID)
		}
		skus, err := lockSKUs(ctx, tx, ids)
		if err != nil {
			return err
		}

		requested := make(map[string]int, len(skus))
		overridesPrice := false
		for i, line := range req.Lines {
			sku := skus[line.SKUID]
			if !sku.Active {
				return domain.Invalid(fmt.Sprintf("lines[%d].sku_id", i), "sku "+sku.SKUCode+" is inactive")
			}
			if line.UnitPrice != nil && !line.UnitPrice.Equal(sku.SellingPrice) {
				overridesPrice = true
			}
			requested[sku.ID] += line.Quantity
		}
		if overridesPrice {
			if _, err := s.requireCapability(ctx, tx, domain.CapEditPrices); err != nil {
				return err
			}
		}
		for _, id := range sortedKeys(requested) {
			if skus[id].CurrentStock < requested[id] {
				return &domain.InsufficientStockError{SKUID: id, Requested: requested[id], Available: skus[id].CurrentStock}
			}
		}

		now := s.now()
		sale := domain.Sale{
			ID:                 xid.New("sale"),
			DiscountPercentage: req.DiscountPercent,
			TaxRatePercent:     req.TaxRatePercent,
			Status:             domain.SaleStatusCompleted,
			SaleDate:           now,
			Notes:              req.Notes,
			CashierID:          cashier.ID,
			CashierUsername:    cashier.Username,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		subtotal := decimal.Zero
		for i, line := range req.Lines {
			sku := skus[line.SKUID]
			price := sku.SellingPrice
			if line.UnitPrice != nil {
				price = *line.UnitPrice
			}
			gross := price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			if line.Discount.GreaterThan(gross) {
				return domain.Invalid(fmt.Sprintf("lines[%d].discount", i), "exceeds the line amount")
			}
			item := domain.SaleItem{
				ID:             xid.New("sitem"),
				SaleID:         sale.ID,
				SKUID:          sku.ID,
				SKUCode:        sku.SKUCode,
				Quantity:       line.Quantity,
				UnitPrice:      domain.RoundMoney(price),
				UnitCost:       sku.CostPrice,
				DiscountAmount: domain.RoundMoney(line.Discount),
				LineTotal:      domain.RoundMoney(gross.Sub(line.Discount)),
				CreatedAt:      now,
			}
			subtotal = subtotal.Add(item.LineTotal)
			sale.Items = append(sale.Items, item)
		}

		discount := domain.RoundMoney(req.DiscountAmount.Add(subtotal.Mul(req.DiscountPercent).Div(hundred)))
		if discount.GreaterThan(subtotal) {
			return domain.Invalid("discount_amount", "discount exceeds the subtotal")
		}
		taxable := subtotal.Sub(discount)
		tax := domain.RoundMoney(taxable.Mul(req.TaxRatePercent).Div(hundred))
		sale.Subtotal = subtotal
		sale.DiscountAmount = discount
		sale.TaxAmount = tax
		sale.TotalAmount = domain.RoundMoney(taxable.Add(tax))

		paid := decimal.Zero
		cash := decimal.Zero
		for _, input := range req.Payments {
			amount := domain.RoundMoney(input.Amount)
			paid = paid.Add(amount)
			if input.Method == domain.PaymentCash {
				cash = cash.Add(amount)
			}
			sale.Payments = append(sale.Payments, domain.Payment{
				ID:              xid.New("pay"),
				SaleID:          sale.ID,
				Method:          input.Method,
				Amount:          amount,
				ReferenceNumber: input.Reference,
				CreatedAt:       now,
			})
		}
		if !paid.Equal(sale.TotalAmount) {
			return &domain.PaymentMismatchError{Expected: sale.TotalAmount, Paid: paid}
		}
		sale.AmountPaid = paid
		sale.ChangeAmount = decimal.Zero
		if req.CashTendered != nil {
			tendered := domain.RoundMoney(*req.CashTendered)
			if tendered.LessThan(cash) {
				return domain.Invalid("cash_tendered", "is less than the cash payment")
			}
			sale.ChangeAmount = tendered.Sub(cash)
		}

		seq, err := tx.NextSequence(ctx, "receipt", domain.DayKey(now, s.loc))
		if err != nil {
			return err
		}
		sale.ReceiptNumber = domain.DocumentNumber(domain.ReceiptPrefix, now.In(s.loc), seq)

		for _, item := range sale.Items {
			_, err := s.applyMovement(ctx, tx, actor, movementInput{
				skuID:     item.SKUID,
				kind:      domain.MovementSale,
				change:    -item.Quantity,
				reference: sale.ReceiptNumber,
			})
			if err != nil {
				return err
			}
		}
		if err := tx.CreateSale(ctx, sale); err != nil {
			return err
		}
		result = sale
		return s.logAudit(ctx, tx, actor, auditEntry{
			action:      domain.AuditSaleCreate,
			entityType:  "sale",
			entityID:    sale.ID,
			description: fmt.Sprintf("sale %s total %s (%d items)", sale.ReceiptNumber, sale.TotalAmount.StringFixed(2), sale.TotalItems()),
			newValues: map[string]any{
				"receipt_number": sale.ReceiptNumber,
				"total_amount":   sale.TotalAmount,
				"items":          sale.TotalItems(),
			},
		})
	})
	return result, err
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	var sale domain.Sale
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, domain.CapProcessSales, domain.CapProcessReturns, domain.CapViewReports); err != nil {
			return err
		}
		found, err := tx.GetSale(ctx, id)
		if err != nil {
			return err
		}
		sale = *found
		return nil
	})
	return sale, err
}

// VoidSale cancels a completed sale that has no returns and puts its items
// back on the shelf through ADJUSTMENT movements.
func (s *Service) VoidSale(ctx context.Context, id string, req domain.VoidSaleRequest) (domain.Sale, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, err
	}

	var result domain.Sale
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := s.requireCapability(ctx, tx, domain.CapVoidTransactions)
		if err != nil {
			return err
		}
		actor := actorOf(account)

		sale, err := tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusCompleted {
			return domain.Invalid("status", fmt.Sprintf("sale is %s, only completed sales can be voided", sale.Status))
		}
		returned, err := tx.ReturnedQtyBySaleItem(ctx, sale.ID)
		if err != nil {
			return err
		}
		if len(returned) > 0 {
			return domain.Invalid("status", "sale has returns and cannot be voided")
		}

		ids := make([]string, 0, len(sale.Items))
		for _, item := range sale.Items {
			ids = append(ids, item.SKUID)
		}
		if _, err := lockSKUs(ctx, tx, ids); err != nil {
			return err
		}
		now := s.now()
		for _, item := range sale.Items {
			_, err := s.applyMovement(ctx, tx, actor, movementInput{
				skuID:     item.SKUID,
				kind:      domain.MovementAdjustment,
				change:    item.Quantity,
				reference: sale.ReceiptNumber,
				reason:    "void: " + req.Reason,
			})
			if err != nil {
				return err
			}
		}
		if err := tx.UpdateSaleStatus(ctx, sale.ID, domain.SaleStatusVoided, now); err != nil {
			return err
		}
		sale.Status = domain.SaleStatusVoided
		sale.UpdatedAt = now
		result = *sale
		return s.logAudit(ctx, tx, actor, auditEntry{
			action:      domain.AuditSaleVoid,
			entityType:  "sale",
			entityID:    sale.ID,
			description: fmt.Sprintf("sale %s voided: %s", sale.ReceiptNumber, req.Reason),
			oldValues:   map[string]domain.SaleStatus{"status": domain.SaleStatusCompleted},
			newValues:   map[string]domain.SaleStatus{"status": domain.SaleStatusVoided},
		})
	})
	if err != nil {
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditSaleFailed,
			entityType:  "sale",
			entityID:    id,
			description: "void rejected: " + err.Error(),
		})
		return domain.Sale{}, err
	}
	return result, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
