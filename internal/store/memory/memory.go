package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// Store keeps committed state in maps guarded by mu. Transactions stage their
// writes in a private overlay and publish it on commit; row locks come from a
// per-key lock table and are held until the transaction ends.
type Store struct {
	mu          sync.RWMutex
	brands      map[string]domain.Brand
	categories  map[string]domain.Category
	styles      map[string]domain.ProductStyle
	skus        map[string]domain.ProductSKU
	movements   []domain.StockMovement
	adjustments map[string]domain.StockAdjustment
	sales       map[string]domain.Sale
	returns     map[string]domain.Return
	roles       map[domain.RoleName]domain.Role
	accounts    map[string]domain.Account
	auditLogs   []domain.AuditLog
	sequences   map[string]int
	settings    *domain.StoreSettings

	locks      *lockTable
	movementID atomic.Int64
}

func New() *Store {
	return &Store{
		brands:      make(map[string]domain.Brand),
		categories:  make(map[string]domain.Category),
		styles:      make(map[string]domain.ProductStyle),
		skus:        make(map[string]domain.ProductSKU),
		movements:   make([]domain.StockMovement, 0, 256),
		adjustments: make(map[string]domain.StockAdjustment),
		sales:       make(map[string]domain.Sale),
		returns:     make(map[string]domain.Return),
		roles:       make(map[domain.RoleName]domain.Role),
		accounts:    make(map[string]domain.Account),
		auditLogs:   make([]domain.AuditLog, 0, 128),
		sequences:   make(map[string]int),
		locks:       newLockTable(),
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	t := newTx(s)
	defer t.releaseAll()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

type tx struct {
	s    *Store
	held []string

	brands      map[string]domain.Brand
	categories  map[string]domain.Category
	styles      map[string]domain.ProductStyle
	skus        map[string]domain.ProductSKU
	movements   []domain.StockMovement
	adjustments map[string]domain.StockAdjustment
	sales       map[string]domain.Sale
	returns     map[string]domain.Return
	roles       map[domain.RoleName]domain.Role
	accounts    map[string]domain.Account
	auditLogs   []domain.AuditLog
	sequences   map[string]int
	settings    *domain.StoreSettings
}

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		brands:      make(map[string]domain.Brand),
		categories:  make(map[string]domain.Category),
		styles:      make(map[string]domain.ProductStyle),
		skus:        make(map[string]domain.ProductSKU),
		adjustments: make(map[string]domain.StockAdjustment),
		sales:       make(map[string]domain.Sale),
		returns:     make(map[string]domain.Return),
		roles:       make(map[domain.RoleName]domain.Role),
		accounts:    make(map[string]domain.Account),
		sequences:   make(map[string]int),
	}
}

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	publish(s.brands, t.brands)
	publish(s.categories, t.categories)
	publish(s.styles, t.styles)
	publish(s.skus, t.skus)
	publish(s.adjustments, t.adjustments)
	publish(s.sales, t.sales)
	publish(s.returns, t.returns)
	publish(s.roles, t.roles)
	publish(s.accounts, t.accounts)
	publish(s.sequences, t.sequences)
	s.movements = append(s.movements, t.movements...)
	s.auditLogs = append(s.auditLogs, t.auditLogs...)
	if t.settings != nil {
		saved := t.settings.Clone()
		s.settings = &saved
	}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if slices.Contains(t.held, key) {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held = append(t.held, key)
	return nil
}

func (t *tx) releaseAll() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.locks.release(t.held[i])
	}
	t.held = nil
}

// Catalog

func (t *tx) CreateBrand(ctx context.Context, brand domain.Brand) error {
	key := strings.ToLower(strings.TrimSpace(brand.Name))
	if err := t.lock(ctx, "brand-name:"+key); err != nil {
		return err
	}
	for _, existing := range merged(t.s, t.s.brands, t.brands) {
		if strings.EqualFold(existing.Name, brand.Name) {
			return store.ErrConflict
		}
	}
	t.brands[brand.ID] = brand
	return nil
}

func (t *tx) GetBrand(_ context.Context, id string) (*domain.Brand, error) {
	brand, ok := lookup(t.s, t.s.brands, t.brands, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &brand, nil
}

func (t *tx) ListBrands(_ context.Context) ([]domain.Brand, error) {
	out := merged(t.s, t.s.brands, t.brands)
	slices.SortFunc(out, func(a, b domain.Brand) int { return cmpString(a.Name, b.Name) })
	return out, nil
}

func (t *tx) CreateCategory(ctx context.Context, category domain.Category) error {
	if err := t.lock(ctx, "category-name:"+strings.ToLower(category.ParentID+"/"+category.Name)); err != nil {
		return err
	}
	for _, existing := range merged(t.s, t.s.categories, t.categories) {
		if existing.ParentID == category.ParentID && strings.EqualFold(existing.Name, category.Name) {
			return store.ErrConflict
		}
	}
	t.categories[category.ID] = category
	return nil
}

func (t *tx) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	category, ok := lookup(t.s, t.s.categories, t.categories, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &category, nil
}

func (t *tx) ListCategories(_ context.Context) ([]domain.Category, error) {
	out := merged(t.s, t.s.categories, t.categories)
	slices.SortFunc(out, func(a, b domain.Category) int { return cmpString(a.Name, b.Name) })
	return out, nil
}

func (t *tx) CreateStyle(_ context.Context, style domain.ProductStyle) error {
	t.styles[style.ID] = style
	return nil
}

func (t *tx) GetStyle(_ context.Context, id string) (*domain.ProductStyle, error) {
	style, ok := lookup(t.s, t.s.styles, t.styles, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &style, nil
}

func (t *tx) CreateSKU(ctx context.Context, sku domain.ProductSKU) error {
	if err := t.lock(ctx, "sku-code:"+sku.SKUCode); err != nil {
		return err
	}
	if sku.Barcode != "" {
		if err := t.lock(ctx, "barcode:"+sku.Barcode); err != nil {
			return err
		}
	}
	for _, existing := range merged(t.s, t.s.skus, t.skus) {
		if existing.SKUCode == sku.SKUCode || (sku.Barcode != "" && existing.Barcode == sku.Barcode) {
			return store.ErrConflict
		}
	}
	t.skus[sku.ID] = sku
	return nil
}

func (t *tx) GetSKU(_ context.Context, id string) (*domain.ProductSKU, error) {
	sku, ok := lookup(t.s, t.s.skus, t.skus, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sku, nil
}

func (t *tx) GetSKUForUpdate(ctx context.Context, id string) (*domain.ProductSKU, error) {
	if err := t.lock(ctx, "sku:"+id); err != nil {
		return nil, err
	}
	return t.GetSKU(ctx, id)
}

func (t *tx) ListSKUs(_ context.Context, filter store.SKUFilter) ([]domain.ProductSKU, error) {
	all := merged(t.s, t.s.skus, t.skus)
	out := make([]domain.ProductSKU, 0, len(all))
	for _, sku := range all {
		if filter.ActiveOnly && !sku.Active {
			continue
		}
		if filter.StyleID != "" && sku.StyleID != filter.StyleID {
			continue
		}
		out = append(out, sku)
	}
	slices.SortFunc(out, func(a, b domain.ProductSKU) int { return cmpString(a.SKUCode, b.SKUCode) })
	return out, nil
}

func (t *tx) UpdateSKUPricing(ctx context.Context, id string, cost decimal.Decimal, price decimal.Decimal, at time.Time) error {
	sku, err := t.GetSKUForUpdate(ctx, id)
	if err != nil {
		return err
	}
	sku.CostPrice = cost
	sku.SellingPrice = price
	sku.UpdatedAt = at
	t.skus[id] = *sku
	return nil
}

func (t *tx) SetSKUStock(ctx context.Context, id string, stock int, at time.Time) error {
	sku, err := t.GetSKUForUpdate(ctx, id)
	if err != nil {
		return err
	}
	sku.CurrentStock = stock
	sku.UpdatedAt = at
	t.skus[id] = *sku
	return nil
}

// Ledger

func (t *tx) AppendMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	movement.ID = t.s.movementID.Add(1)
	t.movements = append(t.movements, movement)
	out := movement
	return &out, nil
}

func (t *tx) ListMovements(_ context.Context, skuID string) ([]domain.StockMovement, error) {
	out := make([]domain.StockMovement, 0, 16)
	t.s.mu.RLock()
	for _, m := range t.s.movements {
		if m.SKUID == skuID {
			out = append(out, m)
		}
	}
	t.s.mu.RUnlock()
	for _, m := range t.movements {
		if m.SKUID == skuID {
			out = append(out, m)
		}
	}
	domain.SortMovements(out)
	return out, nil
}

func (t *tx) CreateStockAdjustment(_ context.Context, adjustment domain.StockAdjustment) error {
	adjustment.Lines = slices.Clone(adjustment.Lines)
	t.adjustments[adjustment.ID] = adjustment
	return nil
}

// Sales

func (t *tx) NextSequence(ctx context.Context, name string, day string) (int, error) {
	key := name + ":" + day
	if err := t.lock(ctx, "seq:"+key); err != nil {
		return 0, err
	}
	current, _ := lookup(t.s, t.s.sequences, t.sequences, key)
	current++
	t.sequences[key] = current
	return current, nil
}

func (t *tx) CreateSale(ctx context.Context, sale domain.Sale) error {
	if err := t.lock(ctx, "receipt:"+sale.ReceiptNumber); err != nil {
		return err
	}
	for _, existing := range merged(t.s, t.s.sales, t.sales) {
		if existing.ID == sale.ID || existing.ReceiptNumber == sale.ReceiptNumber {
			return store.ErrConflict
		}
	}
	t.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *tx) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := lookup(t.s, t.s.sales, t.sales, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (t *tx) GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	if err := t.lock(ctx, "sale:"+id); err != nil {
		return nil, err
	}
	return t.GetSale(ctx, id)
}

func (t *tx) UpdateSaleStatus(ctx context.Context, id string, status domain.SaleStatus, at time.Time) error {
	sale, err := t.GetSaleForUpdate(ctx, id)
	if err != nil {
		return err
	}
	sale.Status = status
	sale.UpdatedAt = at
	t.sales[id] = *sale
	return nil
}

func (t *tx) ReturnedQtyBySaleItem(_ context.Context, saleID string) (map[string]int, error) {
	out := map[string]int{}
	for _, ret := range merged(t.s, t.s.returns, t.returns) {
		if ret.OriginalSaleID != saleID || ret.Status == domain.ReturnStatusRejected {
			continue
		}
		for _, item := range ret.Items {
			out[item.SaleItemID] += item.Quantity
		}
	}
	return out, nil
}

func (t *tx) CreateReturn(_ context.Context, ret domain.Return) error {
	for _, existing := range merged(t.s, t.s.returns, t.returns) {
		if existing.ReturnNumber == ret.ReturnNumber {
			return store.ErrConflict
		}
	}
	t.returns[ret.ID] = cloneReturn(ret)
	return nil
}

// Accounts

func (t *tx) UpsertRole(ctx context.Context, role domain.Role) error {
	if err := t.lock(ctx, "role:"+string(role.Name)); err != nil {
		return err
	}
	t.roles[role.Name] = role
	return nil
}

func (t *tx) GetRole(_ context.Context, name domain.RoleName) (*domain.Role, error) {
	role, ok := lookup(t.s, t.s.roles, t.roles, name)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &role, nil
}

func (t *tx) ListRoles(_ context.Context) ([]domain.Role, error) {
	out := merged(t.s, t.s.roles, t.roles)
	slices.SortFunc(out, func(a, b domain.Role) int { return cmpString(string(a.Name), string(b.Name)) })
	return out, nil
}

func (t *tx) CreateAccount(ctx context.Context, account domain.Account) error {
	if err := t.lock(ctx, "acct:"+account.Username); err != nil {
		return err
	}
	for _, existing := range merged(t.s, t.s.accounts, t.accounts) {
		if existing.ID == account.ID || existing.Username == account.Username {
			return store.ErrConflict
		}
	}
	t.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (t *tx) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	account, ok := lookup(t.s, t.s.accounts, t.accounts, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneAccount(account)
	return &out, nil
}

func (t *tx) GetAccountByUsername(_ context.Context, username string) (*domain.Account, error) {
	for _, account := range merged(t.s, t.s.accounts, t.accounts) {
		if account.Username == username {
			out := cloneAccount(account)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) GetAccountForUpdate(ctx context.Context, username string) (*domain.Account, error) {
	if err := t.lock(ctx, "acct:"+username); err != nil {
		return nil, err
	}
	return t.GetAccountByUsername(ctx, username)
}

func (t *tx) UpdateAccount(ctx context.Context, account domain.Account) error {
	if err := t.lock(ctx, "acct:"+account.Username); err != nil {
		return err
	}
	if _, ok := lookup(t.s, t.s.accounts, t.accounts, account.ID); !ok {
		return store.ErrNotFound
	}
	t.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (t *tx) ListAccounts(_ context.Context) ([]domain.Account, error) {
	all := merged(t.s, t.s.accounts, t.accounts)
	out := make([]domain.Account, 0, len(all))
	for _, account := range all {
		out = append(out, cloneAccount(account))
	}
	slices.SortFunc(out, func(a, b domain.Account) int { return cmpString(a.Username, b.Username) })
	return out, nil
}

// Audit

func (t *tx) AppendAuditLog(_ context.Context, entry domain.AuditLog) error {
	t.auditLogs = append(t.auditLogs, cloneAuditLog(entry))
	return nil
}

func (t *tx) ListAuditLogs(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	t.s.mu.RLock()
	all := make([]domain.AuditLog, 0, len(t.s.auditLogs)+len(t.auditLogs))
	all = append(all, t.s.auditLogs...)
	t.s.mu.RUnlock()
	all = append(all, t.auditLogs...)

	out := make([]domain.AuditLog, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		entry := all[i]
		if !matchAudit(entry, filter) {
			continue
		}
		out = append(out, cloneAuditLog(entry))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	slices.SortStableFunc(out, func(a, b domain.AuditLog) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func matchAudit(entry domain.AuditLog, filter domain.AuditFilter) bool {
	if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
		return false
	}
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.EntityType != "" && entry.EntityType != filter.EntityType {
		return false
	}
	if filter.EntityID != "" && entry.EntityID != filter.EntityID {
		return false
	}
	return true
}

// lookup reads the transaction's own write first and falls back to committed
// state.
func lookup[K comparable, V any](s *Store, base map[K]V, dirty map[K]V, key K) (V, bool) {
	if v, ok := dirty[key]; ok {
		return v, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := base[key]
	return v, ok
}

func merged[K comparable, V any](s *Store, base map[K]V, dirty map[K]V) []V {
	s.mu.RLock()
	view := make(map[K]V, len(base)+len(dirty))
	for k, v := range base {
		view[k] = v
	}
	s.mu.RUnlock()
	for k, v := range dirty {
		view[k] = v
	}
	out := make([]V, 0, len(view))
	for _, v := range view {
		out = append(out, v)
	}
	return out
}

func publish[K comparable, V any](base map[K]V, dirty map[K]V) {
	for k, v := range dirty {
		base[k] = v
	}
}

// lockTable hands out one-slot semaphores per key so waiting honours ctx.
// Settings

func (t *tx) GetSettings(_ context.Context) (*domain.StoreSettings, error) {
	if t.settings != nil {
		out := t.settings.Clone()
		return &out, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.settings == nil {
		return nil, store.ErrNotFound
	}
	out := t.s.settings.Clone()
	return &out, nil
}

func (t *tx) GetSettingsForUpdate(ctx context.Context) (*domain.StoreSettings, error) {
	if err := t.lock(ctx, "settings"); err != nil {
		return nil, err
	}
	return t.GetSettings(ctx)
}

func (t *tx) SaveSettings(ctx context.Context, settings domain.StoreSettings) error {
	if err := t.lock(ctx, "settings"); err != nil {
		return err
	}
	saved := settings.Clone()
	t.settings = &saved
	return nil
}

type lockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]chan struct{})}
}

func (l *lockTable) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *lockTable) acquire(ctx context.Context, key string) error {
	select {
	case l.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
	}
}

func (l *lockTable) release(key string) {
	<-l.slot(key)
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = slices.Clone(src.Items)
	dst.Payments = slices.Clone(src.Payments)
	return dst
}

func cloneReturn(src domain.Return) domain.Return {
	dst := src
	dst.Items = make([]domain.ReturnItem, len(src.Items))
	for i, item := range src.Items {
		if item.MovementID != nil {
			id := *item.MovementID
			item.MovementID = &id
		}
		dst.Items[i] = item
	}
	if src.ProcessedAt != nil {
		at := *src.ProcessedAt
		dst.ProcessedAt = &at
	}
	return dst
}

func cloneAccount(src domain.Account) domain.Account {
	dst := src
	if src.LastLoginAt != nil {
		at := *src.LastLoginAt
		dst.LastLoginAt = &at
	}
	return dst
}

func cloneAuditLog(src domain.AuditLog) domain.AuditLog {
	dst := src
	dst.OldValues = json.RawMessage(slices.Clone([]byte(src.OldValues)))
	dst.NewValues = json.RawMessage(slices.Clone([]byte(src.NewValues)))
	return dst
}
