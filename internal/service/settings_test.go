package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}

func TestGetSettingsFallsBackToConfiguredRules(t *testing.T) {
	f := newTestService(t)

	settings, err := f.svc.GetSettings(f.admin)
	require.NoError(t, err)
	assert.Equal(t, 10, settings.LowStockThreshold)
	require.NotNil(t, settings.ReturnPolicyDays)
	assert.Equal(t, 7, *settings.ReturnPolicyDays)
	assert.True(t, settings.UpdatedAt.IsZero())
}

func TestUpdateSettingsAuditsOldAndNewValues(t *testing.T) {
	f := newTestService(t)

	settings, err := f.svc.UpdateSettings(f.admin, domain.SettingsUpdateRequest{
		StoreName:      strPtr("  Toko Maju  "),
		CurrencyCode:   strPtr("idr"),
		TaxRatePercent: func() *decimal.Decimal { d := decimal.NewFromInt(11); return &d }(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Toko Maju", settings.StoreName)
	assert.Equal(t, "IDR", settings.CurrencyCode)
	assert.Equal(t, "admin", settings.UpdatedBy)
	assert.Equal(t, 10, settings.LowStockThreshold, "untouched fields keep their value")

	again, err := f.svc.GetSettings(f.admin)
	require.NoError(t, err)
	assert.Equal(t, "Toko Maju", again.StoreName)

	logs, err := f.svc.ListAuditLogs(f.admin, domain.AuditFilter{Action: domain.AuditSettingsUpdate})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	var before, after domain.StoreSettings
	require.NoError(t, json.Unmarshal(logs[0].OldValues, &before))
	require.NoError(t, json.Unmarshal(logs[0].NewValues, &after))
	assert.Equal(t, "Retail POS", before.StoreName)
	assert.Equal(t, "Toko Maju", after.StoreName)
}

func TestUpdateSettingsRequiresManageSettings(t *testing.T) {
	f := newTestService(t)
	_, cashier := f.createAccount(t, "carol", domain.RoleCashier)
	_, manager := f.createAccount(t, "maya", domain.RoleManager)

	_, err := f.svc.UpdateSettings(cashier, domain.SettingsUpdateRequest{ReturnPolicyDays: intPtr(365)})
	var forbidden *domain.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, domain.CapManageSettings, forbidden.Capability)

	_, err = f.svc.GetSettings(cashier)
	require.NoError(t, err, "cashiers read receipt settings")

	_, err = f.svc.UpdateSettings(manager, domain.SettingsUpdateRequest{LowStockThreshold: intPtr(3)})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	failures, err := f.svc.ListAuditLogs(f.admin, domain.AuditFilter{Action: domain.AuditSettingsFailed})
	require.NoError(t, err)
	assert.Len(t, failures, 2)

	settings, err := f.svc.GetSettings(f.admin)
	require.NoError(t, err)
	assert.Equal(t, 7, *settings.ReturnPolicyDays)
}

func TestUpdateSettingsValidation(t *testing.T) {
	f := newTestService(t)

	cases := map[string]domain.SettingsUpdateRequest{
		"empty":           {},
		"blank name":      {StoreName: strPtr("   ")},
		"bad email":       {StoreEmail: strPtr("not-an-email")},
		"negative window": {ReturnPolicyDays: intPtr(-1)},
		"both windows":    {ReturnPolicyDays: intPtr(3), DisableReturnWindow: true},
		"tax above 100": {
			TaxRatePercent: func() *decimal.Decimal { d := decimal.NewFromInt(101); return &d }(),
		},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.UpdateSettings(f.admin, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestSavedReturnWindowOverridesConfig(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "20.00", "8.00", 5)
	sale, err := f.svc.FinalizeSale(f.admin, cashSale("40", line(sku.ID, 2)))
	require.NoError(t, err)

	_, err = f.svc.UpdateSettings(f.admin, domain.SettingsUpdateRequest{ReturnPolicyDays: intPtr(2)})
	require.NoError(t, err)

	f.clock.Advance(3 * 24 * time.Hour)
	_, err = f.svc.ProcessReturn(f.admin, returnOf(sale.ID, domain.ReturnLine{SaleItemID: sale.Items[0].ID, Quantity: 1}))
	var expired *domain.ReturnWindowExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, 2, expired.PolicyDays)

	_, err = f.svc.UpdateSettings(f.admin, domain.SettingsUpdateRequest{DisableReturnWindow: true})
	require.NoError(t, err)
	_, err = f.svc.ProcessReturn(f.admin, returnOf(sale.ID, domain.ReturnLine{SaleItemID: sale.Items[0].ID, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, 4, f.stockOf(t, sku.ID))
}

func TestSavedLowStockThresholdOverridesConfig(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "10.00", "5.00", 12)

	entries, err := f.svc.LowStockReport(f.admin)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = f.svc.UpdateSettings(f.admin, domain.SettingsUpdateRequest{LowStockThreshold: intPtr(15)})
	require.NoError(t, err)

	entries, err = f.svc.LowStockReport(f.admin)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sku.ID, entries[0].SKU.ID)
	assert.Equal(t, 15, entries[0].Threshold)
	assert.Equal(t, 3, entries[0].Shortfall)

	rules, err := f.svc.EffectiveRules(f.admin)
	require.NoError(t, err)
	assert.Equal(t, 15, rules.LowStockThreshold)
}
