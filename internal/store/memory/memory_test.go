package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func seedSKU(t *testing.T, s *Store, id string, stock int) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateSKU(ctx, domain.ProductSKU{
			ID:           id,
			SKUCode:      "CODE-" + id,
			SellingPrice: decimal.NewFromInt(10),
			CurrentStock: stock,
			Active:       true,
		})
	})
	require.NoError(t, err)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := New()
	seedSKU(t, s, "sku-1", 5)
	boom := errors.New("boom")

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.SetSKUStock(ctx, "sku-1", 1, time.Now()))
		_, err := tx.AppendMovement(ctx, domain.StockMovement{SKUID: "sku-1", QuantityChange: -4})
		require.NoError(t, err)

		sku, err := tx.GetSKU(ctx, "sku-1")
		require.NoError(t, err)
		assert.Equal(t, 1, sku.CurrentStock, "tx sees its own write")
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		sku, err := tx.GetSKU(ctx, "sku-1")
		require.NoError(t, err)
		assert.Equal(t, 5, sku.CurrentStock)
		movements, err := tx.ListMovements(ctx, "sku-1")
		require.NoError(t, err)
		assert.Empty(t, movements)
		return nil
	})
	require.NoError(t, err)
}

func TestRowLockSerializesWriters(t *testing.T) {
	s := New()
	seedSKU(t, s, "sku-1", 1)

	locked := make(chan struct{})
	finish := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.GetSKUForUpdate(ctx, "sku-1"); err != nil {
				return err
			}
			close(locked)
			<-finish
			return tx.SetSKUStock(ctx, "sku-1", 0, time.Now())
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.RunInTx(waitCtx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetSKUForUpdate(ctx, "sku-1")
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(finish)
	require.NoError(t, <-firstDone)

	err = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		sku, err := tx.GetSKUForUpdate(ctx, "sku-1")
		if err != nil {
			return err
		}
		assert.Equal(t, 0, sku.CurrentStock)
		return nil
	})
	require.NoError(t, err)
}

func TestNextSequenceIsPerDay(t *testing.T) {
	s := New()
	next := func(day string) int {
		var n int
		err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			var err error
			n, err = tx.NextSequence(ctx, "receipt", day)
			return err
		})
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, 1, next("20260301"))
	assert.Equal(t, 2, next("20260301"))
	assert.Equal(t, 1, next("20260302"))
	assert.Equal(t, 3, next("20260301"))
}

func TestUniqueConstraints(t *testing.T) {
	s := New()
	seedSKU(t, s, "sku-1", 0)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateSKU(ctx, domain.ProductSKU{ID: "sku-2", SKUCode: "CODE-sku-1"})
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	account := domain.Account{ID: "acct-1", Username: "alice", Active: true}
	err = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateAccount(ctx, account)
	})
	require.NoError(t, err)

	account.ID = "acct-2"
	err = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateAccount(ctx, account)
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestMovementsAndAuditOrdering(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i, at := range []time.Time{base.Add(time.Minute), base, base} {
			if _, err := tx.AppendMovement(ctx, domain.StockMovement{SKUID: "sku-1", QuantityChange: i + 1, CreatedAt: at}); err != nil {
				return err
			}
			if err := tx.AppendAuditLog(ctx, domain.AuditLog{ID: string(rune('a' + i)), Action: domain.AuditStockAdd, CreatedAt: at}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		movements, err := tx.ListMovements(ctx, "sku-1")
		require.NoError(t, err)
		require.Len(t, movements, 3)
		assert.Equal(t, []int{2, 3, 1}, []int{movements[0].QuantityChange, movements[1].QuantityChange, movements[2].QuantityChange})
		assert.Less(t, movements[0].ID, movements[1].ID)

		logs, err := tx.ListAuditLogs(ctx, domain.AuditFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "c", logs[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestReturnedQtyIgnoresRejected(t *testing.T) {
	s := New()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateReturn(ctx, domain.Return{
			ID: "ret-1", ReturnNumber: "RET-1", OriginalSaleID: "sale-1", Status: domain.ReturnStatusCompleted,
			Items: []domain.ReturnItem{{SaleItemID: "item-1", Quantity: 2}},
		}); err != nil {
			return err
		}
		return tx.CreateReturn(ctx, domain.Return{
			ID: "ret-2", ReturnNumber: "RET-2", OriginalSaleID: "sale-1", Status: domain.ReturnStatusRejected,
			Items: []domain.ReturnItem{{SaleItemID: "item-1", Quantity: 5}},
		})
	})
	require.NoError(t, err)

	err = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		qty, err := tx.ReturnedQtyBySaleItem(ctx, "sale-1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"item-1": 2}, qty)
		return nil
	})
	require.NoError(t, err)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetSettings(ctx)
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	days := 14
	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.SaveSettings(ctx, domain.StoreSettings{StoreName: "Corner Shop", ReturnPolicyDays: &days, LowStockThreshold: 4}))
		staged, err := tx.GetSettingsForUpdate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Corner Shop", staged.StoreName, "tx sees its own write")
		return nil
	})
	require.NoError(t, err)
	days = 99

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetSettings(ctx)
		require.NoError(t, err)
		require.NotNil(t, got.ReturnPolicyDays)
		assert.Equal(t, 14, *got.ReturnPolicyDays, "saved settings do not alias the caller's pointer")
		assert.Equal(t, 4, got.LowStockThreshold)
		return nil
	})
	require.NoError(t, err)
}
