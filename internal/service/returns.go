package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// ProcessReturn books a customer return against a completed sale. Only items
// that go back to sellable stock produce a RETURN movement.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.Return, error) {
	ret, err := s.processReturn(ctx, req)
	if err != nil {
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditReturnFailed,
			entityType:  "sale",
			entityID:    req.SaleID,
			description: "return rejected: " + err.Error(),
		})
		return domain.Return{}, err
	}
	s.metrics.ReturnProcessed()
	for _, item := range ret.Items {
		if item.MovementID != nil {
			s.metrics.MovementRecorded(string(domain.MovementReturn))
		}
	}
	s.log.Info().
		Str("return", ret.ReturnNumber).
		Str("sale_id", ret.OriginalSaleID).
		Str("refund", ret.RefundAmount.StringFixed(2)).
		Msg("return processed")
	return ret, nil
}

func checkReturnRequest(req domain.ReturnRequest) error {
	if !req.Reason.Valid() {
		return domain.Invalid("reason", fmt.Sprintf("unknown return reason %q", req.Reason))
	}
	for i, line := range req.Items {
		if line.Quantity <= 0 {
			return domain.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if line.RefundUnitPrice != nil && line.RefundUnitPrice.IsNegative() {
			return domain.Invalid(fmt.Sprintf("items[%d].refund_unit_price", i), "must not be negative")
		}
	}
	return nil
}

// returnsToStock defaults to true when the line does not say.
func returnsToStock(line domain.ReturnLine) bool {
	if line.ReturnToStock == nil {
		return true
	}
	return *line.ReturnToStock
}

func restocks(line domain.ReturnLine) bool {
	return returnsToStock(line) && !line.IsDamaged
}

// daysSince counts whole elapsed days.
func daysSince(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}

func (s *Service) processReturn(ctx context.Context, req domain.ReturnRequest) (domain.Return, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.Return{}, err
	}
	if err := checkReturnRequest(req); err != nil {
		return domain.Return{}, err
	}

	var result domain.Return
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		processor, err := s.requireCapability(ctx, tx, domain.CapProcessReturns)
		if err != nil {
			return err
		}
		actor := actorOf(processor)

		sale, err := tx.GetSaleForUpdate(ctx, req.SaleID)
		if err != nil {
			return err
		}
		if !sale.CanBeReturned() {
			return domain.Invalid("sale_id", fmt.Sprintf("sale is %s, only completed sales can be returned", sale.Status))
		}

		saleItems := make(map[string]domain.SaleItem, len(sale.Items))
		for _, item := range sale.Items {
			saleItems[item.ID] = item
		}
		var restockIDs []string
		for i, line := range req.Items {
			item, ok := saleItems[line.SaleItemID]
			if !ok {
				return domain.Invalid(fmt.Sprintf("items[%d].sale_item_id", i), "item does not belong to sale "+sale.ReceiptNumber)
			}
			if restocks(line) {
				restockIDs = append(restockIDs, item.SKUID)
			}
		}
		if _, err := lockSKUs(ctx, tx, restockIDs); err != nil {
			return err
		}

		rules, err := s.effectiveRules(ctx, tx)
		if err != nil {
			return err
		}
		now := s.now()
		if policy := rules.ReturnPolicyDays; policy != nil {
			if days := daysSince(sale.SaleDate, now); days > *policy {
				return &domain.ReturnWindowExpiredError{SaleID: sale.ID, DaysSince: days, PolicyDays: *policy}
			}
		}

		returned, err := tx.ReturnedQtyBySaleItem(ctx, sale.ID)
		if err != nil {
			return err
		}

		ret := domain.Return{
			ID:                  xid.New("ret"),
			OriginalSaleID:      sale.ID,
			Status:              domain.ReturnStatusCompleted,
			Reason:              req.Reason,
			CustomerNotes:       req.CustomerNotes,
			StaffNotes:          req.StaffNotes,
			ReturnDate:          now,
			ProcessedAt:         &now,
			ProcessedBy:         processor.ID,
			ProcessedByUsername: processor.Username,
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		requested := make(map[string]int, len(req.Items))
		for i, line := range req.Items {
			item := saleItems[line.SaleItemID]
			requested[item.ID] += line.Quantity
			if remaining := item.Quantity - returned[item.ID]; requested[item.ID] > remaining {
				return domain.Invalid(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("return quantity exceeds remaining (%d)", remaining))
			}

			original := domain.RoundMoney(item.EffectiveUnitPrice())
			refund := original
			if line.RefundUnitPrice != nil {
				refund = domain.RoundMoney(*line.RefundUnitPrice)
				if refund.GreaterThan(original) {
					return domain.Invalid(fmt.Sprintf("items[%d].refund_unit_price", i), "exceeds the price paid ("+original.StringFixed(2)+")")
				}
			}
			qty := decimal.NewFromInt(int64(line.Quantity))
			returnItem := domain.ReturnItem{
				ID:                xid.New("ritem"),
				ReturnID:          ret.ID,
				SaleItemID:        item.ID,
				SKUID:             item.SKUID,
				Quantity:          line.Quantity,
				OriginalUnitPrice: original,
				RefundUnitPrice:   refund,
				LineTotal:         domain.RoundMoney(refund.Mul(qty)),
				IsDamaged:         line.IsDamaged,
				ReturnToStock:     returnsToStock(line),
				ConditionNotes:    line.ConditionNotes,
				CreatedAt:         now,
			}
			ret.TotalAmount = ret.TotalAmount.Add(domain.RoundMoney(original.Mul(qty)))
			ret.RefundAmount = ret.RefundAmount.Add(returnItem.LineTotal)
			ret.Items = append(ret.Items, returnItem)
		}

		seq, err := tx.NextSequence(ctx, "return", domain.DayKey(now, s.loc))
		if err != nil {
			return err
		}
		ret.ReturnNumber = domain.DocumentNumber(domain.ReturnPrefix, now.In(s.loc), seq)

		var kept []string
		for i := range ret.Items {
			item := &ret.Items[i]
			if !item.Restocks() {
				kept = append(kept, fmt.Sprintf("%s x%d", item.SKUID, item.Quantity))
				continue
			}
			movement, err := s.applyMovement(ctx, tx, actor, movementInput{
				skuID:     item.SKUID,
				kind:      domain.MovementReturn,
				change:    item.Quantity,
				reference: ret.ReturnNumber,
				reason:    string(req.Reason),
				notes:     item.ConditionNotes,
			})
			if err != nil {
				return err
			}
			id := movement.ID
			item.MovementID = &id
		}
		if err := tx.CreateReturn(ctx, ret); err != nil {
			return err
		}

		fully := true
		for _, item := range sale.Items {
			if returned[item.ID]+requested[item.ID] < item.Quantity {
				fully = false
				break
			}
		}
		if fully {
			if err := tx.UpdateSaleStatus(ctx, sale.ID, domain.SaleStatusReturned, now); err != nil {
				return err
			}
		}

		description := fmt.Sprintf("return %s for sale %s, refund %s", ret.ReturnNumber, sale.ReceiptNumber, ret.RefundAmount.StringFixed(2))
		if len(kept) > 0 {
			description += fmt.Sprintf(", not restocked: %v", kept)
		}
		result = ret
		return s.logAudit(ctx, tx, actor, auditEntry{
			action:      domain.AuditSaleReturn,
			entityType:  "return",
			entityID:    ret.ID,
			description: description,
			newValues: map[string]any{
				"return_number":  ret.ReturnNumber,
				"sale_id":        sale.ID,
				"refund_amount":  ret.RefundAmount,
				"items":          ret.TotalItems(),
				"fully_returned": fully,
			},
		})
	})
	if err != nil && errors.Is(err, store.ErrNotFound) {
		return domain.Return{}, fmt.Errorf("sale %s: %w", req.SaleID, err)
	}
	return result, err
}
