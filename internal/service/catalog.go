package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// auditCatalogFailure records a rejected catalog write once the operation has
// returned. It is deferred with a pointer to the named error result.
func (s *Service) auditCatalogFailure(ctx context.Context, errp *error, entityType, entityID, what string) {
	if *errp == nil {
		return
	}
	s.auditFailure(ctx, contextActor(ctx), auditEntry{
		action:      domain.AuditCatalogFailed,
		entityType:  entityType,
		entityID:    entityID,
		description: fmt.Sprintf("%s rejected: %v", what, *errp),
	})
}

func (s *Service) CreateBrand(ctx context.Context, req domain.BrandCreateRequest) (_ domain.Brand, err error) {
	req.Name = strings.TrimSpace(req.Name)
	defer s.auditCatalogFailure(ctx, &err, "brand", "", fmt.Sprintf("create brand %q", req.Name))
	if err := s.validateRequest(req); err != nil {
		return domain.Brand{}, err
	}
	var result domain.Brand
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := s.requireCapability(ctx, tx, domain.CapManageProducts)
		if err != nil {
			return err
		}
		brand := domain.Brand{
			ID:          xid.New("brand"),
			Name:        req.Name,
			Description: strings.TrimSpace(req.Description),
			CreatedAt:   s.now(),
		}
		if err := tx.CreateBrand(ctx, brand); err != nil {
			return err
		}
		result = brand
		return s.logAudit(ctx, tx, actorOf(account), auditEntry{
			action:      domain.AuditBrandCreate,
			entityType:  "brand",
			entityID:    brand.ID,
			description: "created brand " + brand.Name,
		})
	})
	return result, err
}

func (s *Service) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	var brands []domain.Brand
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, catalogReaders...); err != nil {
			return err
		}
		var err error
		brands, err = tx.ListBrands(ctx)
		return err
	})
	return brands, err
}

var catalogReaders = []domain.Capability{
	domain.CapProcessSales,
	domain.CapManageProducts,
	domain.CapViewReports,
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (_ domain.Category, err error) {
	req.Name = strings.TrimSpace(req.Name)
	req.ParentID = strings.TrimSpace(req.ParentID)
	defer s.auditCatalogFailure(ctx, &err, "category", "", fmt.Sprintf("create category %q", req.Name))
	if err := s.validateRequest(req); err != nil {
		return domain.Category{}, err
	}
	var result domain.Category
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := s.requireCapability(ctx, tx, domain.CapManageProducts)
		if err != nil {
			return err
		}
		if req.ParentID != "" {
			_, err := tx.GetCategory(ctx, req.ParentID)
			if errors.Is(err, store.ErrNotFound) {
				return domain.Invalid("parent_id", "unknown category "+req.ParentID)
			}
			if err != nil {
				return err
			}
		}
		category := domain.Category{
			ID:          xid.New("cat"),
			Name:        req.Name,
			Description: strings.TrimSpace(req.Description),
			ParentID:    req.ParentID,
			CreatedAt:   s.now(),
		}
		if err := tx.CreateCategory(ctx, category); err != nil {
			return err
		}
		result = category
		return s.logAudit(ctx, tx, actorOf(account), auditEntry{
			action:      domain.AuditCategoryCreate,
			entityType:  "category",
			entityID:    category.ID,
			description: "created category " + category.Name,
		})
	})
	return result, err
}

func (s *Service) CategoryTree(ctx context.Context) (*domain.CategoryTree, error) {
	var tree *domain.CategoryTree
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, catalogReaders...); err != nil {
			return err
		}
		categories, err := tx.ListCategories(ctx)
		if err != nil {
			return err
		}
		tree, err = domain.NewCategoryTree(categories)
		return err
	})
	return tree, err
}

func (s *Service) CreateStyle(ctx context.Context, req domain.StyleCreateRequest) (_ domain.ProductStyle, err error) {
	req.Name = strings.TrimSpace(req.Name)
	defer s.auditCatalogFailure(ctx, &err, "product_style", "", fmt.Sprintf("create style %q", req.Name))
	if err := s.validateRequest(req); err != nil {
		return domain.ProductStyle{}, err
	}
	var result domain.ProductStyle
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := s.requireCapability(ctx, tx, domain.CapManageProducts)
		if err != nil {
			return err
		}
		if _, err := tx.GetBrand(ctx, req.BrandID); errors.Is(err, store.ErrNotFound) {
			return domain.Invalid("brand_id", "unknown brand "+req.BrandID)
		} else if err != nil {
			return err
		}
		if _, err := tx.GetCategory(ctx, req.CategoryID); errors.Is(err, store.ErrNotFound) {
			return domain.Invalid("category_id", "unknown category "+req.CategoryID)
		} else if err != nil {
			return err
		}
		now := s.now()
		style := domain.ProductStyle{
			ID:          xid.New("style"),
			Name:        req.Name,
			Description: strings.TrimSpace(req.Description),
			ImagePath:   strings.TrimSpace(req.ImagePath),
			BrandID:     req.BrandID,
			CategoryID:  req.CategoryID,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateStyle(ctx, style); err != nil {
			return err
		}
		result = style
		return s.logAudit(ctx, tx, actorOf(account), auditEntry{
			action:      domain.AuditProductCreate,
			entityType:  "product_style",
			entityID:    style.ID,
			description: "created style " + style.Name,
		})
	})
	return result, err
}

// CreateSKU adds a sellable variant. Opening stock goes through the ledger as
// a STOCK_IN movement so the snapshot always reconciles.
func (s *Service) CreateSKU(ctx context.Context, req domain.SKUCreateRequest) (_ domain.ProductSKU, err error) {
	req.SKUCode = strings.ToUpper(strings.TrimSpace(req.SKUCode))
	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Color = strings.TrimSpace(req.Color)
	req.Size = strings.TrimSpace(req.Size)
	defer s.auditCatalogFailure(ctx, &err, "product_sku", "", fmt.Sprintf("create sku %s %s for style %s", req.Color, req.Size, req.StyleID))
	if err := s.validateRequest(req); err != nil {
		return domain.ProductSKU{}, err
	}
	if req.CostPrice.IsNegative() {
		return domain.ProductSKU{}, domain.Invalid("cost_price", "must not be negative")
	}
	if !req.SellingPrice.IsPositive() {
		return domain.ProductSKU{}, domain.Invalid("selling_price", "must be greater than zero")
	}

	var result domain.ProductSKU
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := s.requireCapability(ctx, tx, domain.CapManageProducts)
		if err != nil {
			return err
		}
		actor := actorOf(account)
		style, err := tx.GetStyle(ctx, req.StyleID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Invalid("style_id", "unknown style "+req.StyleID)
		}
		if err != nil {
			return err
		}

		code := req.SKUCode
		if code == "" {
			seq, err := tx.NextSequence(ctx, "sku", "all")
			if err != nil {
				return err
			}
			code = domain.GenerateSKUCode(style.Name, req.Color, req.Size, seq)
		}

		now := s.now()
		sku := domain.ProductSKU{
			ID:           xid.New("sku"),
			SKUCode:      code,
			Barcode:      req.Barcode,
			StyleID:      style.ID,
			Color:        req.Color,
			Size:         req.Size,
			CostPrice:    domain.RoundMoney(req.CostPrice),
			SellingPrice: domain.RoundMoney(req.SellingPrice),
			ReorderLevel: req.ReorderLevel,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateSKU(ctx, sku); err != nil {
			return err
		}
		if req.InitialStock > 0 {
			if _, err := s.applyMovement(ctx, tx, actor, movementInput{
				skuID:     sku.ID,
				kind:      domain.MovementStockIn,
				change:    req.InitialStock,
				reference: "opening stock",
			}); err != nil {
				return err
			}
			sku.CurrentStock = req.InitialStock
		}
		result = sku
		return s.logAudit(ctx, tx, actor, auditEntry{
			action:      domain.AuditProductCreate,
			entityType:  "product_sku",
			entityID:    sku.ID,
			description: fmt.Sprintf("created sku %s (%s %s) with %d in stock", sku.SKUCode, sku.Color, sku.Size, req.InitialStock),
			newValues: map[string]any{
				"sku_code":      sku.SKUCode,
				"cost_price":    sku.CostPrice,
				"selling_price": sku.SellingPrice,
			},
		})
	})
	return result, err
}

type pricing struct {
	CostPrice    string `json:"cost_price"`
	SellingPrice string `json:"selling_price"`
}

// UpdateSKUPricing changes list prices. Completed sales keep the prices they
// were sold at.
func (s *Service) UpdateSKUPricing(ctx context.Context, id string, req domain.SKUPricingRequest) (_ domain.ProductSKU, err error) {
	defer s.auditCatalogFailure(ctx, &err, "product_sku", id, "pricing update of "+id)
	if req.CostPrice == nil && req.SellingPrice == nil {
		return domain.ProductSKU{}, domain.Invalid("", "nothing to update")
	}
	if req.CostPrice != nil && req.CostPrice.IsNegative() {
		return domain.ProductSKU{}, domain.Invalid("cost_price", "must not be negative")
	}
	if req.SellingPrice != nil && !req.SellingPrice.IsPositive() {
		return domain.ProductSKU{}, domain.Invalid("selling_price", "must be greater than zero")
	}

	var result domain.ProductSKU
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := s.requireCapability(ctx, tx, domain.CapEditPrices)
		if err != nil {
			return err
		}
		sku, err := tx.GetSKUForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := pricing{CostPrice: sku.CostPrice.StringFixed(2), SellingPrice: sku.SellingPrice.StringFixed(2)}
		if req.CostPrice != nil {
			sku.CostPrice = domain.RoundMoney(*req.CostPrice)
		}
		if req.SellingPrice != nil {
			sku.SellingPrice = domain.RoundMoney(*req.SellingPrice)
		}
		now := s.now()
		if err := tx.UpdateSKUPricing(ctx, sku.ID, sku.CostPrice, sku.SellingPrice, now); err != nil {
			return err
		}
		sku.UpdatedAt = now
		result = *sku
		return s.logAudit(ctx, tx, actorOf(account), auditEntry{
			action:      domain.AuditProductUpdate,
			entityType:  "product_sku",
			entityID:    sku.ID,
			description: "updated pricing of " + sku.SKUCode,
			oldValues:   before,
			newValues:   pricing{CostPrice: sku.CostPrice.StringFixed(2), SellingPrice: sku.SellingPrice.StringFixed(2)},
		})
	})
	return result, err
}

func (s *Service) ListSKUs(ctx context.Context, filter store.SKUFilter) ([]domain.ProductSKU, error) {
	var skus []domain.ProductSKU
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, catalogReaders...); err != nil {
			return err
		}
		var err error
		skus, err = tx.ListSKUs(ctx, filter)
		return err
	})
	return skus, err
}

func (s *Service) GetSKU(ctx context.Context, id string) (domain.ProductSKU, error) {
	var sku domain.ProductSKU
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, catalogReaders...); err != nil {
			return err
		}
		found, err := tx.GetSKU(ctx, id)
		if err != nil {
			return err
		}
		sku = *found
		return nil
	})
	return sku, err
}

// LowStockReport lists active SKUs at or below their reorder threshold,
// largest shortfall first.
func (s *Service) LowStockReport(ctx context.Context) ([]domain.LowStockEntry, error) {
	var entries []domain.LowStockEntry
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.requireAnyCapability(ctx, tx, domain.CapViewReports, domain.CapManageProducts); err != nil {
			return err
		}
		rules, err := s.effectiveRules(ctx, tx)
		if err != nil {
			return err
		}
		skus, err := tx.ListSKUs(ctx, store.SKUFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
		entries = entries[:0]
		for _, sku := range skus {
			if !domain.IsLowStock(sku, rules.LowStockThreshold) {
				continue
			}
			threshold := domain.LowStockThreshold(sku, rules.LowStockThreshold)
			entries = append(entries, domain.LowStockEntry{
				SKU:       sku,
				Threshold: threshold,
				Shortfall: threshold - sku.CurrentStock,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(entries, func(a, b domain.LowStockEntry) int {
		if a.Shortfall != b.Shortfall {
			return b.Shortfall - a.Shortfall
		}
		return strings.Compare(a.SKU.SKUCode, b.SKU.SKUCode)
	})
	return entries, nil
}
