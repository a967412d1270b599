package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type movementInput struct {
	skuID         string
	kind          domain.MovementKind
	change        int
	reference     string
	reason        string
	notes         string
	allowNegative bool
}

// allowsNegative applies the negative-stock policy: only explicit
// ADJUSTMENT or DAMAGE corrections may go below zero, and only when the
// store enables it. Sales never may.
func (s *Service) allowsNegative(in movementInput) bool {
	if !in.allowNegative || !s.rules.AllowNegativeStock {
		return false
	}
	return in.kind == domain.MovementAdjustment || in.kind == domain.MovementDamage
}

// applyMovement is the single write path for stock. It locks the SKU, appends
// the ledger row and moves the snapshot in the caller's transaction. The row
// is stamped only once the lock is held so created_at follows commit order.
func (s *Service) applyMovement(ctx context.Context, tx store.Tx, actor domain.Actor, in movementInput) (*domain.StockMovement, error) {
	if err := in.kind.CheckSign(in.change); err != nil {
		return nil, err
	}
	sku, err := tx.GetSKUForUpdate(ctx, in.skuID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Invalid("sku_id", "unknown sku "+in.skuID)
	}
	if err != nil {
		return nil, err
	}
	at := s.now()

	next, err := domain.NextStock(sku.ID, sku.CurrentStock, in.change, s.allowsNegative(in))
	if err != nil {
		return nil, err
	}

	quantity := in.change
	if quantity < 0 {
		quantity = -quantity
	}
	movement, err := tx.AppendMovement(ctx, domain.StockMovement{
		SKUID:           sku.ID,
		Kind:            in.kind,
		QuantityChange:  in.change,
		PreviousStock:   sku.CurrentStock,
		NewStock:        next,
		ReferenceNumber: in.reference,
		Reason:          in.reason,
		Notes:           in.notes,
		UnitCost:        sku.CostPrice,
		TotalValue:      domain.RoundMoney(sku.CostPrice.Mul(decimal.NewFromInt(int64(quantity)))),
		ActorID:         actor.AccountID,
		ActorUsername:   actor.Username,
		CreatedAt:       at,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.SetSKUStock(ctx, sku.ID, next, at); err != nil {
		return nil, err
	}
	return movement, nil
}

// lockSKUs takes row locks on every id in sorted order. Concurrent carts that
// share SKUs therefore always queue in the same order.
func lockSKUs(ctx context.Context, tx store.Tx, ids []string) (map[string]*domain.ProductSKU, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	skus := make(map[string]*domain.ProductSKU, len(sorted))
	for _, id := range sorted {
		sku, err := tx.GetSKUForUpdate(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Invalid("sku_id", "unknown sku "+id)
		}
		if err != nil {
			return nil, err
		}
		skus[id] = sku
	}
	return skus, nil
}

var manualAuditActions = map[domain.MovementKind]domain.AuditAction{
	domain.MovementStockIn:    domain.AuditStockAdd,
	domain.MovementStockOut:   domain.AuditStockRemove,
	domain.MovementAdjustment: domain.AuditStockAdjustment,
	domain.MovementDamage:     domain.AuditStockDamage,
	domain.MovementTransfer:   domain.AuditStockTransfer,
}

// RecordMovement books a manual stock movement. SALE and RETURN rows are only
// written by FinalizeSale, VoidSale and ProcessReturn.
func (s *Service) RecordMovement(ctx context.Context, req domain.MovementRequest) (domain.StockMovement, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.StockMovement{}, err
	}
	action, manual := manualAuditActions[req.Kind]
	if !manual {
		return domain.StockMovement{}, domain.Invalid("kind", fmt.Sprintf("%q cannot be recorded manually", req.Kind))
	}

	var result domain.StockMovement
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := s.requireCapability(ctx, tx, domain.CapManageProducts)
		if err != nil {
			return err
		}
		actor := actorOf(account)
		movement, err := s.applyMovement(ctx, tx, actor, movementInput{
			skuID:         req.SKUID,
			kind:          req.Kind,
			change:        req.QuantityChange,
			reference:     req.Reference,
			reason:        req.Reason,
			notes:         req.Notes,
			allowNegative: req.AllowNegative,
		})
		if err != nil {
			return err
		}
		result = *movement
		return s.logAudit(ctx, tx, actor, auditEntry{
			action:      action,
			entityType:  "product_sku",
			entityID:    movement.SKUID,
			description: fmt.Sprintf("%s %+d on %s (%d -> %d)", movement.Kind, movement.QuantityChange, movement.SKUID, movement.PreviousStock, movement.NewStock),
			oldValues:   map[string]int{"stock": movement.PreviousStock},
			newValues:   map[string]int{"stock": movement.NewStock},
		})
	})
	if err != nil {
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditStockFailed,
			entityType:  "product_sku",
			entityID:    req.SKUID,
			description: fmt.Sprintf("%s %+d rejected: %v", req.Kind, req.QuantityChange, err),
		})
		return domain.StockMovement{}, err
	}
	s.metrics.MovementRecorded(string(result.Kind))
	return result, nil
}

// AdjustStockBatch applies several signed ADJUSTMENT lines under one
// adjustment number. Either every line is booked or none is.
func (s *Service) AdjustStockBatch(ctx context.Context, req domain.AdjustmentRequest) (domain.StockAdjustment, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.StockAdjustment{}, err
	}

	var result domain.StockAdjustment
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := s.requireCapability(ctx, tx, domain.CapManageProducts)
		if err != nil {
			return err
		}
		actor := actorOf(account)

		ids := make([]string, 0, len(req.Lines))
		for _, line := range req.Lines {
			ids = append(ids, line.SKUID)
		}
		if _, err := lockSKUs(ctx, tx, ids); err != nil {
			return err
		}

		now := s.now()
		seq, err := tx.NextSequence(ctx, "adjustment", domain.DayKey(now, s.loc))
		if err != nil {
			return err
		}
		adjustment := domain.StockAdjustment{
			ID:               xid.New("adj"),
			AdjustmentNumber: domain.DocumentNumber(domain.AdjustmentPrefix, now.In(s.loc), seq),
			Description:      req.Description,
			Reason:           req.Reason,
			IsFinalized:      true,
			CreatedBy:        account.ID,
			FinalizedBy:      account.ID,
			CreatedAt:        now,
			FinalizedAt:      &now,
			Lines:            make([]domain.StockAdjustmentLine, 0, len(req.Lines)),
		}
		for _, line := range req.Lines {
			movement, err := s.applyMovement(ctx, tx, actor, movementInput{
				skuID:     line.SKUID,
				kind:      domain.MovementAdjustment,
				change:    line.QuantityChange,
				reference: adjustment.AdjustmentNumber,
				reason:    req.Reason,
				notes:     req.Description,
			})
			if err != nil {
				return err
			}
			adjustment.Lines = append(adjustment.Lines, domain.StockAdjustmentLine{
				SKUID:          line.SKUID,
				QuantityChange: line.QuantityChange,
				MovementID:     movement.ID,
			})
		}
		if err := tx.CreateStockAdjustment(ctx, adjustment); err != nil {
			return err
		}
		result = adjustment
		return s.logAudit(ctx, tx, actor, auditEntry{
			action:      domain.AuditStockAdjustment,
			entityType:  "stock_adjustment",
			entityID:    adjustment.ID,
			description: fmt.Sprintf("adjustment %s with %d lines", adjustment.AdjustmentNumber, len(adjustment.Lines)),
			newValues:   adjustment.Lines,
		})
	})
	if err != nil {
		s.auditFailure(ctx, contextActor(ctx), auditEntry{
			action:      domain.AuditStockFailed,
			entityType:  "stock_adjustment",
			description: fmt.Sprintf("adjustment %q rejected: %v", req.Description, err),
		})
		return domain.StockAdjustment{}, err
	}
	for range result.Lines {
		s.metrics.MovementRecorded(string(domain.MovementAdjustment))
	}
	return result, nil
}

func (s *Service) ListMovements(ctx context.Context, skuID string) ([]domain.StockMovement, error) {
	var movements []domain.StockMovement
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, domain.CapViewReports, domain.CapManageProducts); err != nil {
			return err
		}
		if _, err := tx.GetSKU(ctx, skuID); err != nil {
			return err
		}
		var err error
		movements, err = tx.ListMovements(ctx, skuID)
		return err
	})
	return movements, err
}

// Reconcile replays one SKU's ledger against its stored snapshot.
func (s *Service) Reconcile(ctx context.Context, skuID string) (domain.Reconciliation, error) {
	var result domain.Reconciliation
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, domain.CapViewReports, domain.CapManageProducts); err != nil {
			return err
		}
		var err error
		result, err = reconcileSKU(ctx, tx, skuID)
		return err
	})
	if err != nil {
		return domain.Reconciliation{}, err
	}
	s.warnIfInconsistent(result)
	return result, nil
}

func (s *Service) ReconcileAll(ctx context.Context) ([]domain.Reconciliation, error) {
	var results []domain.Reconciliation
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, domain.CapViewReports, domain.CapManageProducts); err != nil {
			return err
		}
		skus, err := tx.ListSKUs(ctx, store.SKUFilter{})
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(skus))
		for _, sku := range skus {
			ids = append(ids, sku.ID)
		}
		locked, err := lockSKUs(ctx, tx, ids)
		if err != nil {
			return err
		}
		results = make([]domain.Reconciliation, 0, len(ids))
		for _, id := range ids {
			movements, err := tx.ListMovements(ctx, id)
			if err != nil {
				return err
			}
			results = append(results, domain.Replay(id, locked[id].CurrentStock, movements))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		s.warnIfInconsistent(result)
	}
	return results, nil
}

// reconcileSKU holds the SKU row lock while replaying so no movement can land
// between the snapshot read and the ledger read.
func reconcileSKU(ctx context.Context, tx store.Tx, skuID string) (domain.Reconciliation, error) {
	sku, err := tx.GetSKUForUpdate(ctx, skuID)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	movements, err := tx.ListMovements(ctx, skuID)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	return domain.Replay(sku.ID, sku.CurrentStock, movements), nil
}

func (s *Service) warnIfInconsistent(result domain.Reconciliation) {
	if result.Consistent {
		return
	}
	event := s.log.Warn().
		Str("sku_id", result.SKUID).
		Int("stored", result.StoredStock).
		Int("recomputed", result.RecomputedStock)
	if result.FirstBreakID != nil {
		event = event.Int64("first_break_id", *result.FirstBreakID)
	}
	event.Msg("stock ledger does not reconcile")
}
