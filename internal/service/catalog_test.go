package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

var storeFilterAll = store.SKUFilter{}

func TestCreateSKUGeneratesCodeAndOpeningMovement(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Black", "25.00", "10.00", 12)

	assert.Equal(t, "SKUCLABLM0001", sku.SKUCode)
	assert.Equal(t, 12, sku.CurrentStock)
	assert.Equal(t, "150", sku.ProfitMargin().String())

	movements, err := f.svc.ListMovements(f.admin, sku.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementStockIn, movements[0].Kind)
	assert.Equal(t, 0, movements[0].PreviousStock)
	assert.Equal(t, 12, movements[0].NewStock)
	assert.Equal(t, "120", movements[0].TotalValue.String())

	next := f.createSKU(t, "White", "25.00", "10.00", 0)
	assert.Equal(t, "SKUCLAWHM0002", next.SKUCode)
	assert.Equal(t, 0, f.movementCount(t, next.ID))
}

func TestCatalogRejectsDanglingReferences(t *testing.T) {
	f := newTestService(t)

	_, err := f.svc.CreateCategory(f.admin, domain.CategoryCreateRequest{Name: "Orphan", ParentID: "missing"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CreateStyle(f.admin, domain.StyleCreateRequest{Name: "Ghost", BrandID: "missing", CategoryID: "missing"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CreateSKU(f.admin, domain.SKUCreateRequest{StyleID: "missing", Color: "Red", Size: "M", SellingPrice: *dec("1")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CreateBrand(f.admin, domain.BrandCreateRequest{Name: "  "})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCategoryTree(t *testing.T) {
	f := newTestService(t)
	men, err := f.svc.CreateCategory(f.admin, domain.CategoryCreateRequest{Name: "Men"})
	require.NoError(t, err)
	tops, err := f.svc.CreateCategory(f.admin, domain.CategoryCreateRequest{Name: "Tops", ParentID: men.ID})
	require.NoError(t, err)
	polos, err := f.svc.CreateCategory(f.admin, domain.CategoryCreateRequest{Name: "Polos", ParentID: tops.ID})
	require.NoError(t, err)

	tree, err := f.svc.CategoryTree(f.admin)
	require.NoError(t, err)
	path := tree.Path(polos.ID)
	require.Len(t, path, 3)
	assert.Equal(t, men.ID, path[0].ID)
	assert.Len(t, tree.Descendants(men.ID), 2)
	assert.True(t, tree.WouldCycle(men.ID, polos.ID))
}

func TestUpdateSKUPricingAuditsOldAndNewValues(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "25.00", "10.00", 1)
	_, cashier := f.createAccount(t, "carol", domain.RoleCashier)

	_, err := f.svc.UpdateSKUPricing(cashier, sku.ID, domain.SKUPricingRequest{SellingPrice: dec("30")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.UpdateSKUPricing(f.admin, sku.ID, domain.SKUPricingRequest{SellingPrice: dec("0")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	updated, err := f.svc.UpdateSKUPricing(f.admin, sku.ID, domain.SKUPricingRequest{SellingPrice: dec("30")})
	require.NoError(t, err)
	assert.Equal(t, "30", updated.SellingPrice.String())
	assert.Equal(t, "10", updated.CostPrice.String())

	logs, err := f.svc.ListAuditLogs(f.admin, domain.AuditFilter{Action: domain.AuditProductUpdate})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	var before, after map[string]string
	require.NoError(t, json.Unmarshal(logs[0].OldValues, &before))
	require.NoError(t, json.Unmarshal(logs[0].NewValues, &after))
	assert.Equal(t, "25.00", before["selling_price"])
	assert.Equal(t, "30.00", after["selling_price"])

	failures, err := f.svc.ListAuditLogs(f.admin, domain.AuditFilter{Action: domain.AuditCatalogFailed, EntityID: sku.ID})
	require.NoError(t, err)
	assert.Len(t, failures, 2, "forbidden and invalid pricing updates")
}

func TestRejectedCatalogWritesAreAudited(t *testing.T) {
	f := newTestService(t)
	_, cashier := f.createAccount(t, "carol", domain.RoleCashier)

	_, err := f.svc.CreateBrand(cashier, domain.BrandCreateRequest{Name: "Contoso"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.CreateSKU(f.admin, domain.SKUCreateRequest{StyleID: "missing", Color: "Red", Size: "M", SellingPrice: *dec("10")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	logs, err := f.svc.ListAuditLogs(f.admin, domain.AuditFilter{Action: domain.AuditCatalogFailed})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	entityTypes := []string{logs[0].EntityType, logs[1].EntityType}
	assert.ElementsMatch(t, []string{"brand", "product_sku"}, entityTypes)
}

func TestLowStockReportOrdersByShortfall(t *testing.T) {
	f := newTestService(t)
	f.createSKU(t, "Red", "10.00", "5.00", 50)
	low := f.createSKU(t, "Blue", "10.00", "5.00", 4)
	lower := f.createSKU(t, "Green", "10.00", "5.00", 1)

	entries, err := f.svc.LowStockReport(f.admin)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, lower.ID, entries[0].SKU.ID)
	assert.Equal(t, 9, entries[0].Shortfall)
	assert.Equal(t, low.ID, entries[1].SKU.ID)
	assert.Equal(t, 10, entries[1].Threshold)
}

func TestListSKUsAndAuditRequireCapabilities(t *testing.T) {
	f := newTestService(t)
	f.createSKU(t, "Red", "10.00", "5.00", 5)
	_, cashier := f.createAccount(t, "carol", domain.RoleCashier)

	skus, err := f.svc.ListSKUs(cashier, storeFilterAll)
	require.NoError(t, err)
	assert.Len(t, skus, 1)

	_, err = f.svc.ListAuditLogs(cashier, domain.AuditFilter{})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
