package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Repository hands out transactions. Everything that must be atomic runs
// inside one RunInTx callback; returning an error rolls the whole unit back.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	CatalogTx
	LedgerTx
	SalesTx
	AccountTx
	AuditTx
	SettingsTx
}

type SKUFilter struct {
	StyleID    string
	ActiveOnly bool
}

type CatalogTx interface {
	CreateBrand(ctx context.Context, brand domain.Brand) error
	GetBrand(ctx context.Context, id string) (*domain.Brand, error)
	ListBrands(ctx context.Context) ([]domain.Brand, error)
	CreateCategory(ctx context.Context, category domain.Category) error
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateStyle(ctx context.Context, style domain.ProductStyle) error
	GetStyle(ctx context.Context, id string) (*domain.ProductStyle, error)
	CreateSKU(ctx context.Context, sku domain.ProductSKU) error
	GetSKU(ctx context.Context, id string) (*domain.ProductSKU, error)
	// GetSKUForUpdate row-locks the SKU until the transaction ends.
	GetSKUForUpdate(ctx context.Context, id string) (*domain.ProductSKU, error)
	ListSKUs(ctx context.Context, filter SKUFilter) ([]domain.ProductSKU, error)
	UpdateSKUPricing(ctx context.Context, id string, cost decimal.Decimal, price decimal.Decimal, at time.Time) error
	SetSKUStock(ctx context.Context, id string, stock int, at time.Time) error
}

type LedgerTx interface {
	// AppendMovement assigns the movement id.
	AppendMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
	// ListMovements returns one SKU's history ordered by (created_at, id).
	ListMovements(ctx context.Context, skuID string) ([]domain.StockMovement, error)
	CreateStockAdjustment(ctx context.Context, adjustment domain.StockAdjustment) error
}

type SalesTx interface {
	// NextSequence returns the next value of a per-day counter, starting at 1.
	NextSequence(ctx context.Context, name string, day string) (int, error)
	CreateSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSaleStatus(ctx context.Context, id string, status domain.SaleStatus, at time.Time) error
	// ReturnedQtyBySaleItem sums returned quantities per sale item id.
	ReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]int, error)
	CreateReturn(ctx context.Context, ret domain.Return) error
}

type AccountTx interface {
	UpsertRole(ctx context.Context, role domain.Role) error
	GetRole(ctx context.Context, name domain.RoleName) (*domain.Role, error)
	ListRoles(ctx context.Context) ([]domain.Role, error)
	CreateAccount(ctx context.Context, account domain.Account) error
	GetAccountByID(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetAccountForUpdate(ctx context.Context, username string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, account domain.Account) error
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

type AuditTx interface {
	AppendAuditLog(ctx context.Context, entry domain.AuditLog) error
	// ListAuditLogs returns newest first.
	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error)
}

// SettingsTx holds the single store settings row. Both getters return
// ErrNotFound until settings are saved for the first time.
type SettingsTx interface {
	GetSettings(ctx context.Context) (*domain.StoreSettings, error)
	// GetSettingsForUpdate locks the settings row until the transaction ends.
	GetSettingsForUpdate(ctx context.Context) (*domain.StoreSettings, error)
	SaveSettings(ctx context.Context, settings domain.StoreSettings) error
}
