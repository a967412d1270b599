package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return mapError("migrate", err)
	}
	return nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError("begin", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError("commit", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

// Catalog

func (t *pgTx) CreateBrand(ctx context.Context, brand domain.Brand) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO brands (id, name, description, created_at)
		VALUES ($1,$2,$3,$4)
	`, brand.ID, brand.Name, brand.Description, brand.CreatedAt)
	return mapError("create brand", err)
}

func (t *pgTx) GetBrand(ctx context.Context, id string) (*domain.Brand, error) {
	var b domain.Brand
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM brands WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.Description, &b.CreatedAt)
	if err != nil {
		return nil, mapError("get brand", err)
	}
	return &b, nil
}

func (t *pgTx) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, description, created_at FROM brands ORDER BY name
	`)
	if err != nil {
		return nil, mapError("list brands", err)
	}
	defer rows.Close()

	brands := make([]domain.Brand, 0, 32)
	for rows.Next() {
		var b domain.Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.CreatedAt); err != nil {
			return nil, mapError("list brands", err)
		}
		brands = append(brands, b)
	}
	return brands, mapError("list brands", rows.Err())
}

func (t *pgTx) CreateCategory(ctx context.Context, category domain.Category) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, parent_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, category.ID, category.Name, category.Description, nullIfEmpty(category.ParentID), category.CreatedAt)
	return mapError("create category", err)
}

func (t *pgTx) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	var parent sql.NullString
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, description, parent_id, created_at FROM categories WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Description, &parent, &c.CreatedAt)
	if err != nil {
		return nil, mapError("get category", err)
	}
	c.ParentID = parent.String
	return &c, nil
}

func (t *pgTx) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, description, parent_id, created_at FROM categories ORDER BY name
	`)
	if err != nil {
		return nil, mapError("list categories", err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		var parent sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &parent, &c.CreatedAt); err != nil {
			return nil, mapError("list categories", err)
		}
		c.ParentID = parent.String
		categories = append(categories, c)
	}
	return categories, mapError("list categories", rows.Err())
}

func (t *pgTx) CreateStyle(ctx context.Context, style domain.ProductStyle) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO product_styles (id, name, description, image_path, brand_id, category_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, style.ID, style.Name, style.Description, style.ImagePath, style.BrandID, style.CategoryID,
		style.Active, style.CreatedAt, style.UpdatedAt)
	return mapError("create style", err)
}

func (t *pgTx) GetStyle(ctx context.Context, id string) (*domain.ProductStyle, error) {
	var st domain.ProductStyle
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, description, image_path, brand_id, category_id, active, created_at, updated_at
		FROM product_styles WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.Description, &st.ImagePath, &st.BrandID, &st.CategoryID,
		&st.Active, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, mapError("get style", err)
	}
	return &st, nil
}

const skuColumns = `id, sku_code, barcode, style_id, color, size, cost_price, selling_price,
	current_stock, reorder_level, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSKU(row rowScanner) (domain.ProductSKU, error) {
	var sku domain.ProductSKU
	var barcode sql.NullString
	err := row.Scan(&sku.ID, &sku.SKUCode, &barcode, &sku.StyleID, &sku.Color, &sku.Size,
		&sku.CostPrice, &sku.SellingPrice, &sku.CurrentStock, &sku.ReorderLevel, &sku.Active,
		&sku.CreatedAt, &sku.UpdatedAt)
	sku.Barcode = barcode.String
	return sku, err
}

func (t *pgTx) CreateSKU(ctx context.Context, sku domain.ProductSKU) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO product_skus (`+skuColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sku.ID, sku.SKUCode, nullIfEmpty(sku.Barcode), sku.StyleID, sku.Color, sku.Size,
		sku.CostPrice, sku.SellingPrice, sku.CurrentStock, sku.ReorderLevel, sku.Active,
		sku.CreatedAt, sku.UpdatedAt)
	return mapError("create sku", err)
}

func (t *pgTx) GetSKU(ctx context.Context, id string) (*domain.ProductSKU, error) {
	sku, err := scanSKU(t.tx.QueryRowContext(ctx, `SELECT `+skuColumns+` FROM product_skus WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get sku", err)
	}
	return &sku, nil
}

func (t *pgTx) GetSKUForUpdate(ctx context.Context, id string) (*domain.ProductSKU, error) {
	sku, err := scanSKU(t.tx.QueryRowContext(ctx, `SELECT `+skuColumns+` FROM product_skus WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError("lock sku", err)
	}
	return &sku, nil
}

func (t *pgTx) ListSKUs(ctx context.Context, filter store.SKUFilter) ([]domain.ProductSKU, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+skuColumns+`
		FROM product_skus
		WHERE ($1 = '' OR style_id = $1) AND (NOT $2 OR active)
		ORDER BY sku_code
	`, filter.StyleID, filter.ActiveOnly)
	if err != nil {
		return nil, mapError("list skus", err)
	}
	defer rows.Close()

	skus := make([]domain.ProductSKU, 0, 64)
	for rows.Next() {
		sku, err := scanSKU(rows)
		if err != nil {
			return nil, mapError("list skus", err)
		}
		skus = append(skus, sku)
	}
	return skus, mapError("list skus", rows.Err())
}

func (t *pgTx) UpdateSKUPricing(ctx context.Context, id string, cost decimal.Decimal, price decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE product_skus SET cost_price = $2, selling_price = $3, updated_at = $4 WHERE id = $1
	`, id, cost, price, at)
	return expectOneRow("update sku pricing", res, err)
}

func (t *pgTx) SetSKUStock(ctx context.Context, id string, stock int, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE product_skus SET current_stock = $2, updated_at = $3 WHERE id = $1
	`, id, stock, at)
	return expectOneRow("set sku stock", res, err)
}

// Ledger

func (t *pgTx) AppendMovement(ctx context.Context, m domain.StockMovement) (*domain.StockMovement, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO stock_movements (
			sku_id, kind, quantity_change, previous_stock, new_stock, reference_number,
			reason, notes, unit_cost, total_value, actor_id, actor_username, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`, m.SKUID, string(m.Kind), m.QuantityChange, m.PreviousStock, m.NewStock, m.ReferenceNumber,
		m.Reason, m.Notes, m.UnitCost, m.TotalValue, m.ActorID, m.ActorUsername, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return nil, mapError("append movement", err)
	}
	return &m, nil
}

func (t *pgTx) ListMovements(ctx context.Context, skuID string) ([]domain.StockMovement, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, sku_id, kind, quantity_change, previous_stock, new_stock, reference_number,
			reason, notes, unit_cost, total_value, actor_id, actor_username, created_at
		FROM stock_movements
		WHERE sku_id = $1
		ORDER BY created_at, id
	`, skuID)
	if err != nil {
		return nil, mapError("list movements", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 64)
	for rows.Next() {
		var m domain.StockMovement
		var kind string
		if err := rows.Scan(&m.ID, &m.SKUID, &kind, &m.QuantityChange, &m.PreviousStock, &m.NewStock,
			&m.ReferenceNumber, &m.Reason, &m.Notes, &m.UnitCost, &m.TotalValue, &m.ActorID,
			&m.ActorUsername, &m.CreatedAt); err != nil {
			return nil, mapError("list movements", err)
		}
		m.Kind = domain.MovementKind(kind)
		movements = append(movements, m)
	}
	return movements, mapError("list movements", rows.Err())
}

func (t *pgTx) CreateStockAdjustment(ctx context.Context, adj domain.StockAdjustment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_adjustments (
			id, adjustment_number, description, reason, is_finalized, created_by, finalized_by, created_at, finalized_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, adj.ID, adj.AdjustmentNumber, adj.Description, adj.Reason, adj.IsFinalized, adj.CreatedBy,
		nullIfEmpty(adj.FinalizedBy), adj.CreatedAt, nullTime(adj.FinalizedAt))
	if err != nil {
		return mapError("create adjustment", err)
	}
	for _, line := range adj.Lines {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO stock_adjustment_lines (adjustment_id, sku_id, quantity_change, movement_id)
			VALUES ($1,$2,$3,$4)
		`, adj.ID, line.SKUID, line.QuantityChange, line.MovementID); err != nil {
			return mapError("create adjustment line", err)
		}
	}
	return nil
}

// Sales

func (t *pgTx) NextSequence(ctx context.Context, name string, day string) (int, error) {
	var value int
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO doc_sequences (name, day, value)
		VALUES ($1,$2,1)
		ON CONFLICT (name, day) DO UPDATE SET value = doc_sequences.value + 1
		RETURNING value
	`, name, day).Scan(&value)
	if err != nil {
		return 0, mapError("next sequence", err)
	}
	return value, nil
}

func (t *pgTx) CreateSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, receipt_number, subtotal, discount_amount, discount_percentage, tax_rate_percent,
			tax_amount, total_amount, amount_paid, change_amount, status, sale_date, notes,
			cashier_id, cashier_username, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, sale.ID, sale.ReceiptNumber, sale.Subtotal, sale.DiscountAmount, sale.DiscountPercentage,
		sale.TaxRatePercent, sale.TaxAmount, sale.TotalAmount, sale.AmountPaid, sale.ChangeAmount,
		string(sale.Status), sale.SaleDate, sale.Notes, sale.CashierID, sale.CashierUsername,
		sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return mapError("create sale", err)
	}

	for _, item := range sale.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				id, sale_id, sku_id, sku_code, quantity, unit_price, unit_cost, discount_amount, line_total, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, sale.ID, item.SKUID, item.SKUCode, item.Quantity, item.UnitPrice, item.UnitCost,
			item.DiscountAmount, item.LineTotal, item.CreatedAt); err != nil {
			return mapError("create sale item", err)
		}
	}
	for _, p := range sale.Payments {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO payments (id, sale_id, method, amount, reference_number, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, p.ID, sale.ID, string(p.Method), p.Amount, p.ReferenceNumber, p.CreatedAt); err != nil {
			return mapError("create payment", err)
		}
	}
	return nil
}

func (t *pgTx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return t.loadSale(ctx, id, "")
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	return t.loadSale(ctx, id, "FOR UPDATE")
}

func (t *pgTx) loadSale(ctx context.Context, id string, lockClause string) (*domain.Sale, error) {
	var sale domain.Sale
	var status string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, receipt_number, subtotal, discount_amount, discount_percentage, tax_rate_percent,
			tax_amount, total_amount, amount_paid, change_amount, status, sale_date, notes,
			cashier_id, cashier_username, created_at, updated_at
		FROM sales
		WHERE id = $1
	`+lockClause, id).Scan(&sale.ID, &sale.ReceiptNumber, &sale.Subtotal, &sale.DiscountAmount,
		&sale.DiscountPercentage, &sale.TaxRatePercent, &sale.TaxAmount, &sale.TotalAmount,
		&sale.AmountPaid, &sale.ChangeAmount, &status, &sale.SaleDate, &sale.Notes, &sale.CashierID,
		&sale.CashierUsername, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return nil, mapError("get sale", err)
	}
	sale.Status = domain.SaleStatus(status)

	itemRows, err := t.tx.QueryContext(ctx, `
		SELECT id, sku_id, sku_code, quantity, unit_price, unit_cost, discount_amount, line_total, created_at
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, mapError("get sale items", err)
	}
	for itemRows.Next() {
		item := domain.SaleItem{SaleID: id}
		if err := itemRows.Scan(&item.ID, &item.SKUID, &item.SKUCode, &item.Quantity, &item.UnitPrice,
			&item.UnitCost, &item.DiscountAmount, &item.LineTotal, &item.CreatedAt); err != nil {
			_ = itemRows.Close()
			return nil, mapError("get sale items", err)
		}
		sale.Items = append(sale.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, mapError("get sale items", err)
	}
	_ = itemRows.Close()

	payRows, err := t.tx.QueryContext(ctx, `
		SELECT id, method, amount, reference_number, created_at
		FROM payments
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, mapError("get payments", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		p := domain.Payment{SaleID: id}
		var method string
		if err := payRows.Scan(&p.ID, &method, &p.Amount, &p.ReferenceNumber, &p.CreatedAt); err != nil {
			return nil, mapError("get payments", err)
		}
		p.Method = domain.PaymentMethod(method)
		sale.Payments = append(sale.Payments, p)
	}
	if err := payRows.Err(); err != nil {
		return nil, mapError("get payments", err)
	}
	return &sale, nil
}

func (t *pgTx) UpdateSaleStatus(ctx context.Context, id string, status domain.SaleStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), at)
	return expectOneRow("update sale status", res, err)
}

func (t *pgTx) ReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT ri.sale_item_id, COALESCE(SUM(ri.quantity), 0)
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		WHERE r.original_sale_id = $1 AND r.status <> $2
		GROUP BY ri.sale_item_id
	`, saleID, string(domain.ReturnStatusRejected))
	if err != nil {
		return nil, mapError("returned qty", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, mapError("returned qty", err)
		}
		out[itemID] = qty
	}
	return out, mapError("returned qty", rows.Err())
}

func (t *pgTx) CreateReturn(ctx context.Context, ret domain.Return) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO returns (
			id, return_number, original_sale_id, total_amount, refund_amount, status, reason,
			customer_notes, staff_notes, return_date, processed_at, processed_by, processed_by_username,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, ret.ID, ret.ReturnNumber, ret.OriginalSaleID, ret.TotalAmount, ret.RefundAmount, string(ret.Status),
		string(ret.Reason), ret.CustomerNotes, ret.StaffNotes, ret.ReturnDate, nullTime(ret.ProcessedAt),
		ret.ProcessedBy, ret.ProcessedByUsername, ret.CreatedAt, ret.UpdatedAt)
	if err != nil {
		return mapError("create return", err)
	}
	for _, item := range ret.Items {
		var movementID any
		if item.MovementID != nil {
			movementID = *item.MovementID
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO return_items (
				id, return_id, sale_item_id, sku_id, quantity, original_unit_price, refund_unit_price,
				line_total, is_damaged, return_to_stock, condition_notes, movement_id, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, item.ID, ret.ID, item.SaleItemID, item.SKUID, item.Quantity, item.OriginalUnitPrice,
			item.RefundUnitPrice, item.LineTotal, item.IsDamaged, item.ReturnToStock, item.ConditionNotes,
			movementID, item.CreatedAt); err != nil {
			return mapError("create return item", err)
		}
	}
	return nil
}

// Accounts

func (t *pgTx) UpsertRole(ctx context.Context, role domain.Role) error {
	c := role.Capabilities
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO roles (
			name, description, can_manage_users, can_manage_products, can_process_sales, can_process_returns,
			can_view_reports, can_manage_settings, can_edit_prices, can_void_transactions, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			can_manage_users = EXCLUDED.can_manage_users,
			can_manage_products = EXCLUDED.can_manage_products,
			can_process_sales = EXCLUDED.can_process_sales,
			can_process_returns = EXCLUDED.can_process_returns,
			can_view_reports = EXCLUDED.can_view_reports,
			can_manage_settings = EXCLUDED.can_manage_settings,
			can_edit_prices = EXCLUDED.can_edit_prices,
			can_void_transactions = EXCLUDED.can_void_transactions,
			updated_at = EXCLUDED.updated_at
	`, string(role.Name), role.Description, c.ManageUsers, c.ManageProducts, c.ProcessSales, c.ProcessReturns,
		c.ViewReports, c.ManageSettings, c.EditPrices, c.VoidTransactions, role.CreatedAt, role.UpdatedAt)
	return mapError("upsert role", err)
}

const roleColumns = `name, description, can_manage_users, can_manage_products, can_process_sales,
	can_process_returns, can_view_reports, can_manage_settings, can_edit_prices, can_void_transactions,
	created_at, updated_at`

func scanRole(row rowScanner) (domain.Role, error) {
	var r domain.Role
	var name string
	c := &r.Capabilities
	err := row.Scan(&name, &r.Description, &c.ManageUsers, &c.ManageProducts, &c.ProcessSales,
		&c.ProcessReturns, &c.ViewReports, &c.ManageSettings, &c.EditPrices, &c.VoidTransactions,
		&r.CreatedAt, &r.UpdatedAt)
	r.Name = domain.RoleName(name)
	return r, err
}

func (t *pgTx) GetRole(ctx context.Context, name domain.RoleName) (*domain.Role, error) {
	role, err := scanRole(t.tx.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, string(name)))
	if err != nil {
		return nil, mapError("get role", err)
	}
	return &role, nil
}

func (t *pgTx) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, mapError("list roles", err)
	}
	defer rows.Close()

	roles := make([]domain.Role, 0, 3)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, mapError("list roles", err)
		}
		roles = append(roles, role)
	}
	return roles, mapError("list roles", rows.Err())
}

const accountColumns = `id, username, full_name, email, password_hash, active, failed_login_attempts,
	last_login_at, password_changed_at, role, created_at, updated_at`

func scanAccount(row rowScanner) (domain.Account, error) {
	var a domain.Account
	var email sql.NullString
	var lastLogin sql.NullTime
	var role string
	err := row.Scan(&a.ID, &a.Username, &a.FullName, &email, &a.PasswordHash, &a.Active, &a.FailedAttempts,
		&lastLogin, &a.PasswordChangedAt, &role, &a.CreatedAt, &a.UpdatedAt)
	a.Email = email.String
	a.Role = domain.RoleName(role)
	if lastLogin.Valid {
		at := lastLogin.Time
		a.LastLoginAt = &at
	}
	return a, err
}

func (t *pgTx) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, a.ID, a.Username, a.FullName, nullIfEmpty(a.Email), a.PasswordHash, a.Active, a.FailedAttempts,
		nullTime(a.LastLoginAt), a.PasswordChangedAt, string(a.Role), a.CreatedAt, a.UpdatedAt)
	return mapError("create account", err)
}

func (t *pgTx) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get account", err)
	}
	return &a, nil
}

func (t *pgTx) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username))
	if err != nil {
		return nil, mapError("get account", err)
	}
	return &a, nil
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, username string) (*domain.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1 FOR UPDATE`, username))
	if err != nil {
		return nil, mapError("lock account", err)
	}
	return &a, nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a domain.Account) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts SET
			full_name = $2, email = $3, password_hash = $4, active = $5, failed_login_attempts = $6,
			last_login_at = $7, password_changed_at = $8, role = $9, updated_at = $10
		WHERE id = $1
	`, a.ID, a.FullName, nullIfEmpty(a.Email), a.PasswordHash, a.Active, a.FailedAttempts,
		nullTime(a.LastLoginAt), a.PasswordChangedAt, string(a.Role), a.UpdatedAt)
	return expectOneRow("update account", res, err)
}

func (t *pgTx) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY username`)
	if err != nil {
		return nil, mapError("list accounts", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0, 16)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, mapError("list accounts", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, mapError("list accounts", rows.Err())
}

// Audit

func (t *pgTx) AppendAuditLog(ctx context.Context, e domain.AuditLog) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, account_id, username, action, entity_type, entity_id, description,
			old_values, new_values, ip_address, user_agent, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, e.ID, nullIfEmpty(e.AccountID), e.Username, string(e.Action), e.EntityType, e.EntityID, e.Description,
		nullJSON(e.OldValues), nullJSON(e.NewValues), e.IPAddress, e.UserAgent, e.CreatedAt)
	return mapError("append audit log", err)
}

func (t *pgTx) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	conds := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}

	query := `
		SELECT id, account_id, username, action, entity_type, entity_id, description,
			old_values, new_values, ip_address, user_agent, created_at
		FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list audit logs", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var e domain.AuditLog
		var accountID sql.NullString
		var action string
		var oldValues, newValues []byte
		if err := rows.Scan(&e.ID, &accountID, &e.Username, &action, &e.EntityType, &e.EntityID,
			&e.Description, &oldValues, &newValues, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, mapError("list audit logs", err)
		}
		e.AccountID = accountID.String
		e.Action = domain.AuditAction(action)
		e.OldValues = json.RawMessage(oldValues)
		e.NewValues = json.RawMessage(newValues)
		logs = append(logs, e)
	}
	return logs, mapError("list audit logs", rows.Err())
}

// Settings

const settingsColumns = `store_name, store_address, store_phone, store_email, tax_number, receipt_header,
	receipt_footer, tax_rate_percent, tax_included, currency_code, return_policy_days, return_policy_text,
	low_stock_threshold, updated_by, updated_at`

func (t *pgTx) getSettings(ctx context.Context, op string, suffix string) (*domain.StoreSettings, error) {
	var st domain.StoreSettings
	var days sql.NullInt64
	err := t.tx.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM store_settings WHERE id = 1`+suffix).Scan(
		&st.StoreName, &st.StoreAddress, &st.StorePhone, &st.StoreEmail, &st.TaxNumber, &st.ReceiptHeader,
		&st.ReceiptFooter, &st.TaxRatePercent, &st.TaxIncluded, &st.CurrencyCode, &days, &st.ReturnPolicyText,
		&st.LowStockThreshold, &st.UpdatedBy, &st.UpdatedAt)
	if err != nil {
		return nil, mapError(op, err)
	}
	if days.Valid {
		value := int(days.Int64)
		st.ReturnPolicyDays = &value
	}
	return &st, nil
}

func (t *pgTx) GetSettings(ctx context.Context) (*domain.StoreSettings, error) {
	return t.getSettings(ctx, "get settings", "")
}

func (t *pgTx) GetSettingsForUpdate(ctx context.Context) (*domain.StoreSettings, error) {
	return t.getSettings(ctx, "get settings for update", " FOR UPDATE")
}

func (t *pgTx) SaveSettings(ctx context.Context, st domain.StoreSettings) error {
	var days any
	if st.ReturnPolicyDays != nil {
		days = *st.ReturnPolicyDays
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO store_settings (id, `+settingsColumns+`)
		VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			store_name = EXCLUDED.store_name,
			store_address = EXCLUDED.store_address,
			store_phone = EXCLUDED.store_phone,
			store_email = EXCLUDED.store_email,
			tax_number = EXCLUDED.tax_number,
			receipt_header = EXCLUDED.receipt_header,
			receipt_footer = EXCLUDED.receipt_footer,
			tax_rate_percent = EXCLUDED.tax_rate_percent,
			tax_included = EXCLUDED.tax_included,
			currency_code = EXCLUDED.currency_code,
			return_policy_days = EXCLUDED.return_policy_days,
			return_policy_text = EXCLUDED.return_policy_text,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, st.StoreName, st.StoreAddress, st.StorePhone, st.StoreEmail, st.TaxNumber, st.ReceiptHeader,
		st.ReceiptFooter, st.TaxRatePercent, st.TaxIncluded, st.CurrencyCode, days, st.ReturnPolicyText,
		st.LowStockThreshold, st.UpdatedBy, st.UpdatedAt)
	return mapError("save settings", err)
}

// mapError turns driver errors into the store and domain vocabulary.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case "40001", "40P01":
			return &domain.ConcurrencyConflictError{Entity: op, Err: err}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}

func expectOneRow(op string, res sql.Result, err error) error {
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
