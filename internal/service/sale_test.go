package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

func TestFinalizeSaleComputesTotalsAndChange(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "100.00", "60.00", 10)

	sale, err := f.svc.FinalizeSale(f.admin, domain.SaleRequest{
		Lines: []domain.SaleLine{
			{SKUID: sku.ID, Quantity: 2, Discount: decimal.RequireFromString("10")},
		},
		Payments: []domain.PaymentInput{
			{Method: domain.PaymentCash, Amount: decimal.RequireFromString("89.81")},
			{Method: domain.PaymentCard, Amount: decimal.RequireFromString("100.00"), Reference: "AUTH-1"},
		},
		DiscountPercent: decimal.RequireFromString("10"),
		TaxRatePercent:  decimal.RequireFromString("11"),
		CashTendered:    dec("100.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, "190", sale.Subtotal.String())
	assert.Equal(t, "19", sale.DiscountAmount.String())
	assert.Equal(t, "18.81", sale.TaxAmount.String())
	assert.Equal(t, "189.81", sale.TotalAmount.String())
	assert.Equal(t, "10.19", sale.ChangeAmount.String())
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.Equal(t, "REC-20260302-0001", sale.ReceiptNumber)
	assert.Equal(t, "admin", sale.CashierUsername)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "190", sale.Items[0].LineTotal.String())
	assert.Equal(t, "70", sale.Items[0].Profit().String())
	assert.Equal(t, 8, f.stockOf(t, sku.ID))

	second, err := f.svc.FinalizeSale(f.admin, cashSale("100", line(sku.ID, 1)))
	require.NoError(t, err)
	assert.Equal(t, "REC-20260302-0002", second.ReceiptNumber)

	movements, err := f.svc.ListMovements(f.admin, sku.ID)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, domain.MovementSale, movements[1].Kind)
	assert.Equal(t, -2, movements[1].QuantityChange)
	assert.Equal(t, sale.ReceiptNumber, movements[1].ReferenceNumber)
}

func TestReceiptSequenceRestartsEachDay(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "10.00", "5.00", 10)

	first, err := f.svc.FinalizeSale(f.admin, cashSale("10", line(sku.ID, 1)))
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	next, err := f.svc.FinalizeSale(f.admin, cashSale("10", line(sku.ID, 1)))
	require.NoError(t, err)

	assert.Equal(t, "REC-20260302-0001", first.ReceiptNumber)
	assert.Equal(t, "REC-20260303-0001", next.ReceiptNumber)
}

func TestFinalizeSaleIsAtomic(t *testing.T) {
	f := newTestService(t)
	plenty := f.createSKU(t, "Red", "10.00", "5.00", 5)
	scarce := f.createSKU(t, "Blue", "10.00", "5.00", 1)

	_, err := f.svc.FinalizeSale(f.admin, cashSale("50", line(plenty.ID, 2), line(scarce.ID, 3)))
	var insufficient *domain.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, scarce.ID, insufficient.SKUID)
	assert.Equal(t, 3, insufficient.Requested)
	assert.Equal(t, 1, insufficient.Available)

	assert.Equal(t, 5, f.stockOf(t, plenty.ID))
	assert.Equal(t, 1, f.stockOf(t, scarce.ID))
	assert.Equal(t, 1, f.movementCount(t, plenty.ID), "only the opening stock movement")
	assert.Equal(t, 1, f.movementCount(t, scarce.ID))
	assert.Contains(t, f.auditActions(t), domain.AuditSaleFailed)
	assert.NotContains(t, f.auditActions(t), domain.AuditSaleCreate)
}

func TestFinalizeSaleCountsRepeatedLinesTogether(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "10.00", "5.00", 3)

	_, err := f.svc.FinalizeSale(f.admin, cashSale("40", line(sku.ID, 2), line(sku.ID, 2)))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 3, f.stockOf(t, sku.ID))
}

func TestFinalizeSaleRejectsPaymentMismatch(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "10.00", "5.00", 3)

	_, err := f.svc.FinalizeSale(f.admin, cashSale("9.99", line(sku.ID, 1)))
	var mismatch *domain.PaymentMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "10", mismatch.Expected.String())
	assert.Equal(t, 3, f.stockOf(t, sku.ID))
}

func TestFinalizeSaleValidation(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "10.00", "5.00", 3)

	cases := map[string]domain.SaleRequest{
		"zero quantity": cashSale("0", line(sku.ID, 0)),
		"no lines":      cashSale("10"),
		"unknown sku":   cashSale("10", line("missing", 1)),
		"bad method": {
			Lines:    []domain.SaleLine{line(sku.ID, 1)},
			Payments: []domain.PaymentInput{{Method: "barter", Amount: decimal.NewFromInt(10)}},
		},
		"negative discount": {
			Lines:    []domain.SaleLine{{SKUID: sku.ID, Quantity: 1, Discount: decimal.NewFromInt(-1)}},
			Payments: []domain.PaymentInput{{Method: domain.PaymentCash, Amount: decimal.NewFromInt(11)}},
		},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.FinalizeSale(f.admin, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Equal(t, 3, f.stockOf(t, sku.ID))
}

func TestPriceOverrideRequiresEditPrices(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "10.00", "5.00", 3)
	_, cashier := f.createAccount(t, "carol", domain.RoleCashier)

	override := domain.SaleLine{SKUID: sku.ID, Quantity: 1, UnitPrice: dec("8.00")}
	_, err := f.svc.FinalizeSale(cashier, cashSale("8", override))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// quoting the list price is not an override
	_, err = f.svc.FinalizeSale(cashier, cashSale("10", domain.SaleLine{SKUID: sku.ID, Quantity: 1, UnitPrice: dec("10")}))
	require.NoError(t, err)

	sale, err := f.svc.FinalizeSale(f.admin, cashSale("8", override))
	require.NoError(t, err)
	assert.Equal(t, "8", sale.Items[0].UnitPrice.String())
}

func TestCompletedSaleKeepsFrozenPrices(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "100.00", "60.00", 5)

	sale, err := f.svc.FinalizeSale(f.admin, cashSale("200", line(sku.ID, 2)))
	require.NoError(t, err)

	_, err = f.svc.UpdateSKUPricing(f.admin, sku.ID, domain.SKUPricingRequest{
		CostPrice:    dec("70"),
		SellingPrice: dec("150"),
	})
	require.NoError(t, err)

	stored, err := f.svc.GetSale(f.admin, sale.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "100", stored.Items[0].UnitPrice.String())
	assert.Equal(t, "60", stored.Items[0].UnitCost.String())
	assert.Equal(t, "200", stored.TotalAmount.String())
	assert.Equal(t, "80", stored.TotalProfit().String())

	next, err := f.svc.FinalizeSale(f.admin, cashSale("150", line(sku.ID, 1)))
	require.NoError(t, err)
	assert.Equal(t, "150", next.Items[0].UnitPrice.String())
}

func TestConcurrentSalesOfLastUnit(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "10.00", "5.00", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.FinalizeSale(f.admin, cashSale("10", line(sku.ID, 1)))
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrConcurrencyConflict),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.stockOf(t, sku.ID))

	result, err := f.svc.Reconcile(f.admin, sku.ID)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
}

func TestVoidSaleRestocks(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "10.00", "5.00", 4)
	_, cashier := f.createAccount(t, "carol", domain.RoleCashier)

	sale, err := f.svc.FinalizeSale(cashier, cashSale("30", line(sku.ID, 3)))
	require.NoError(t, err)

	_, err = f.svc.VoidSale(cashier, sale.ID, domain.VoidSaleRequest{Reason: "wrong item"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	voided, err := f.svc.VoidSale(f.admin, sale.ID, domain.VoidSaleRequest{Reason: "wrong item"})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusVoided, voided.Status)
	assert.Equal(t, 4, f.stockOf(t, sku.ID))

	_, err = f.svc.VoidSale(f.admin, sale.ID, domain.VoidSaleRequest{Reason: "again"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, f.auditActions(t), domain.AuditSaleVoid)

	result, err := f.svc.Reconcile(f.admin, sku.ID)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
}

func TestZeroTotalSaleNeedsNoPayment(t *testing.T) {
	f := newTestService(t)
	sku := f.createSKU(t, "Red", "10.00", "5.00", 3)

	sale, err := f.svc.FinalizeSale(f.admin, domain.SaleRequest{
		Lines:           []domain.SaleLine{line(sku.ID, 1)},
		DiscountPercent: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.True(t, sale.TotalAmount.IsZero())
	assert.Empty(t, sale.Payments)
	assert.Equal(t, 2, f.stockOf(t, sku.ID))

	_, err = f.svc.FinalizeSale(f.admin, domain.SaleRequest{Lines: []domain.SaleLine{line(sku.ID, 1)}})
	var mismatch *domain.PaymentMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "10", mismatch.Expected.String())
	assert.Equal(t, 2, f.stockOf(t, sku.ID))
}
