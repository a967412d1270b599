package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/clock"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store/memory"
)

const testPassword = "password-123"

type fixture struct {
	svc     *Service
	clock   *clock.Manual
	metrics *metrics.Metrics
	admin   context.Context
	styleID string
}

func newTestService(t *testing.T, adjust ...func(*config.Rules)) *fixture {
	t.Helper()
	rules := config.DefaultRules()
	for _, fn := range adjust {
		fn(&rules)
	}
	manual := clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	return newFixture(t, rules, manual, manual)
}

// newFixture lets a test wrap the manual clock the service reads.
func newFixture(t *testing.T, rules config.Rules, clk clock.Clock, manual *clock.Manual) *fixture {
	t.Helper()
	m := metrics.New()
	svc := New(memory.New(), rules, WithClock(clk), WithMetrics(m), WithHashCost(bcrypt.MinCost))
	require.NoError(t, svc.Bootstrap(context.Background(), "admin", testPassword, "Admin"))

	account, err := svc.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: testPassword})
	require.NoError(t, err)

	return &fixture{
		svc:     svc,
		clock:   manual,
		metrics: m,
		admin:   asActor(account),
	}
}

func asActor(account domain.Account) context.Context {
	return WithActor(context.Background(), domain.Actor{
		AccountID: account.ID,
		Username:  account.Username,
		Role:      account.Role,
	})
}

func (f *fixture) createAccount(t *testing.T, username string, role domain.RoleName) (domain.Account, context.Context) {
	t.Helper()
	account, err := f.svc.CreateAccount(f.admin, domain.AccountCreateRequest{
		Username: username,
		FullName: username,
		Password: testPassword,
		Role:     role,
	})
	require.NoError(t, err)
	return account, asActor(account)
}

func (f *fixture) createSKU(t *testing.T, color string, price string, cost string, stock int) domain.ProductSKU {
	t.Helper()
	if f.styleID == "" {
		brand, err := f.svc.CreateBrand(f.admin, domain.BrandCreateRequest{Name: "Northwind"})
		require.NoError(t, err)
		category, err := f.svc.CreateCategory(f.admin, domain.CategoryCreateRequest{Name: "Shirts"})
		require.NoError(t, err)
		style, err := f.svc.CreateStyle(f.admin, domain.StyleCreateRequest{
			Name:       "Classic Polo",
			BrandID:    brand.ID,
			CategoryID: category.ID,
		})
		require.NoError(t, err)
		f.styleID = style.ID
	}
	sku, err := f.svc.CreateSKU(f.admin, domain.SKUCreateRequest{
		StyleID:      f.styleID,
		Color:        color,
		Size:         "M",
		CostPrice:    decimal.RequireFromString(cost),
		SellingPrice: decimal.RequireFromString(price),
		InitialStock: stock,
	})
	require.NoError(t, err)
	return sku
}

func (f *fixture) stockOf(t *testing.T, skuID string) int {
	t.Helper()
	sku, err := f.svc.GetSKU(f.admin, skuID)
	require.NoError(t, err)
	return sku.CurrentStock
}

func (f *fixture) movementCount(t *testing.T, skuID string) int {
	t.Helper()
	movements, err := f.svc.ListMovements(f.admin, skuID)
	require.NoError(t, err)
	return len(movements)
}

func (f *fixture) auditActions(t *testing.T) []domain.AuditAction {
	t.Helper()
	logs, err := f.svc.ListAuditLogs(f.admin, domain.AuditFilter{})
	require.NoError(t, err)
	actions := make([]domain.AuditAction, 0, len(logs))
	for _, log := range logs {
		actions = append(actions, log.Action)
	}
	return actions
}

func cashSale(total string, lines ...domain.SaleLine) domain.SaleRequest {
	return domain.SaleRequest{
		Lines: lines,
		Payments: []domain.PaymentInput{
			{Method: domain.PaymentCash, Amount: decimal.RequireFromString(total)},
		},
	}
}

func line(skuID string, qty int) domain.SaleLine {
	return domain.SaleLine{SKUID: skuID, Quantity: qty}
}

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func boolPtr(v bool) *bool {
	return &v
}
