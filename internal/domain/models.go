package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type RoleName string

const (
	RoleAdmin   RoleName = "admin"
	RoleManager RoleName = "manager"
	RoleCashier RoleName = "cashier"
)

func (r RoleName) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleCashier:
		return true
	default:
		return false
	}
}

type Capability string

const (
	CapManageUsers      Capability = "manage_users"
	CapManageProducts   Capability = "manage_products"
	CapProcessSales     Capability = "process_sales"
	CapProcessReturns   Capability = "process_returns"
	CapViewReports      Capability = "view_reports"
	CapManageSettings   Capability = "manage_settings"
	CapEditPrices       Capability = "edit_prices"
	CapVoidTransactions Capability = "void_transactions"
)

type Capabilities struct {
	ManageUsers      bool `json:"can_manage_users"`
	ManageProducts   bool `json:"can_manage_products"`
	ProcessSales     bool `json:"can_process_sales"`
	ProcessReturns   bool `json:"can_process_returns"`
	ViewReports      bool `json:"can_view_reports"`
	ManageSettings   bool `json:"can_manage_settings"`
	EditPrices       bool `json:"can_edit_prices"`
	VoidTransactions bool `json:"can_void_transactions"`
}

func (c Capabilities) Allows(capability Capability) bool {
	switch capability {
	case CapManageUsers:
		return c.ManageUsers
	case CapManageProducts:
		return c.ManageProducts
	case CapProcessSales:
		return c.ProcessSales
	case CapProcessReturns:
		return c.ProcessReturns
	case CapViewReports:
		return c.ViewReports
	case CapManageSettings:
		return c.ManageSettings
	case CapEditPrices:
		return c.EditPrices
	case CapVoidTransactions:
		return c.VoidTransactions
	default:
		return false
	}
}

type Role struct {
	Name         RoleName     `json:"name"`
	Description  string       `json:"description"`
	Capabilities Capabilities `json:"capabilities"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// DefaultRoles returns the bootstrap capability bundles.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:        RoleAdmin,
			Description: "System administrator - full access to all features",
			Capabilities: Capabilities{
				ManageUsers: true, ManageProducts: true, ProcessSales: true, ProcessReturns: true,
				ViewReports: true, ManageSettings: true, EditPrices: true, VoidTransactions: true,
			},
		},
		{
			Name:        RoleManager,
			Description: "Store manager - manages products and views reports",
			Capabilities: Capabilities{
				ManageProducts: true, ProcessSales: true, ProcessReturns: true,
				ViewReports: true, EditPrices: true, VoidTransactions: true,
			},
		},
		{
			Name:        RoleCashier,
			Description: "Cashier - processes sales and returns",
			Capabilities: Capabilities{
				ProcessSales: true, ProcessReturns: true,
			},
		},
	}
}

type Account struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	FullName          string     `json:"full_name"`
	Email             string     `json:"email,omitempty"`
	PasswordHash      string     `json:"-"`
	Active            bool       `json:"active"`
	FailedAttempts    int        `json:"failed_login_attempts"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	PasswordChangedAt time.Time  `json:"password_changed_at"`
	Role              RoleName   `json:"role"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Actor is the authenticated caller attached to a request context.
type Actor struct {
	AccountID string   `json:"account_id"`
	Username  string   `json:"username"`
	Role      RoleName `json:"role"`
}

type Brand struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProductStyle struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ImagePath   string    `json:"image_path,omitempty"`
	BrandID     string    `json:"brand_id"`
	CategoryID  string    `json:"category_id"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProductSKU struct {
	ID           string          `json:"id"`
	SKUCode      string          `json:"sku_code"`
	Barcode      string          `json:"barcode,omitempty"`
	StyleID      string          `json:"style_id"`
	Color        string          `json:"color"`
	Size         string          `json:"size"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	CurrentStock int             `json:"current_stock"`
	ReorderLevel int             `json:"reorder_level"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type MovementKind string

const (
	MovementStockIn    MovementKind = "stock_in"
	MovementStockOut   MovementKind = "stock_out"
	MovementSale       MovementKind = "sale"
	MovementReturn     MovementKind = "return"
	MovementAdjustment MovementKind = "adjustment"
	MovementDamage     MovementKind = "damage"
	MovementTransfer   MovementKind = "transfer"
)

func (k MovementKind) Valid() bool {
	switch k {
	case MovementStockIn, MovementStockOut, MovementSale, MovementReturn,
		MovementAdjustment, MovementDamage, MovementTransfer:
		return true
	default:
		return false
	}
}

// CheckSign reports whether change has the direction the kind requires.
func (k MovementKind) CheckSign(change int) error {
	if change == 0 {
		return Invalid("quantity_change", "must be non-zero")
	}
	switch k {
	case MovementSale, MovementStockOut, MovementDamage:
		if change > 0 {
			return Invalid("quantity_change", string(k)+" movements must decrease stock")
		}
	case MovementReturn, MovementStockIn:
		if change < 0 {
			return Invalid("quantity_change", string(k)+" movements must increase stock")
		}
	case MovementAdjustment, MovementTransfer:
	default:
		return Invalid("kind", "unknown movement kind "+string(k))
	}
	return nil
}

// StockMovement is an append-only ledger row. It is never updated or deleted.
type StockMovement struct {
	ID              int64           `json:"id"`
	SKUID           string          `json:"sku_id"`
	Kind            MovementKind    `json:"kind"`
	QuantityChange  int             `json:"quantity_change"`
	PreviousStock   int             `json:"previous_stock"`
	NewStock        int             `json:"new_stock"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TotalValue      decimal.Decimal `json:"total_value"`
	ActorID         string          `json:"actor_id"`
	ActorUsername   string          `json:"actor_username"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (m StockMovement) IsIncrease() bool {
	return m.QuantityChange > 0
}

func (m StockMovement) IsDecrease() bool {
	return m.QuantityChange < 0
}

type StockAdjustment struct {
	ID               string                `json:"id"`
	AdjustmentNumber string                `json:"adjustment_number"`
	Description      string                `json:"description"`
	Reason           string                `json:"reason,omitempty"`
	IsFinalized      bool                  `json:"is_finalized"`
	CreatedBy        string                `json:"created_by"`
	FinalizedBy      string                `json:"finalized_by,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	FinalizedAt      *time.Time            `json:"finalized_at,omitempty"`
	Lines            []StockAdjustmentLine `json:"lines"`
}

type StockAdjustmentLine struct {
	SKUID          string `json:"sku_id"`
	QuantityChange int    `json:"quantity_change"`
	MovementID     int64  `json:"movement_id"`
}

type Reconciliation struct {
	SKUID           string `json:"sku_id"`
	Consistent      bool   `json:"consistent"`
	StoredStock     int    `json:"stored_stock"`
	RecomputedStock int    `json:"recomputed_stock"`
	Movements       int    `json:"movements"`
	FirstBreakID    *int64 `json:"first_break_id,omitempty"`
}

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentMobileWallet PaymentMethod = "mobile_wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobileWallet:
		return true
	default:
		return false
	}
}

type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusVoided    SaleStatus = "voided"
	SaleStatusReturned  SaleStatus = "returned"
)

type Sale struct {
	ID                 string          `json:"id"`
	ReceiptNumber      string          `json:"receipt_number"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	TaxRatePercent     decimal.Decimal `json:"tax_rate_percent"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	ChangeAmount       decimal.Decimal `json:"change_amount"`
	Status             SaleStatus      `json:"status"`
	SaleDate           time.Time       `json:"sale_date"`
	Notes              string          `json:"notes,omitempty"`
	CashierID          string          `json:"cashier_id"`
	CashierUsername    string          `json:"cashier_username"`
	Items              []SaleItem      `json:"items"`
	Payments           []Payment       `json:"payments"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (s Sale) CanBeReturned() bool {
	return s.Status == SaleStatusCompleted
}

func (s Sale) TotalItems() int {
	total := 0
	for _, item := range s.Items {
		total += item.Quantity
	}
	return total
}

func (s Sale) TotalProfit() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Profit())
	}
	return total
}

// SaleItem carries the price and cost captured when the sale was finalized.
type SaleItem struct {
	ID             string          `json:"id"`
	SaleID         string          `json:"sale_id"`
	SKUID          string          `json:"sku_id"`
	SKUCode        string          `json:"sku_code"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Payment struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"sale_id"`
	Method          PaymentMethod   `json:"method"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type ReturnReason string

const (
	ReturnDefective        ReturnReason = "defective"
	ReturnWrongSize        ReturnReason = "wrong_size"
	ReturnWrongColor       ReturnReason = "wrong_color"
	ReturnChangedMind      ReturnReason = "customer_change_mind"
	ReturnDamagedInTransit ReturnReason = "damaged_in_transit"
	ReturnNotAsDescribed   ReturnReason = "not_as_described"
	ReturnOther            ReturnReason = "other"
)

func (r ReturnReason) Valid() bool {
	switch r {
	case ReturnDefective, ReturnWrongSize, ReturnWrongColor, ReturnChangedMind,
		ReturnDamagedInTransit, ReturnNotAsDescribed, ReturnOther:
		return true
	default:
		return false
	}
}

type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "pending"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusCompleted ReturnStatus = "completed"
)

type Return struct {
	ID                  string          `json:"id"`
	ReturnNumber        string          `json:"return_number"`
	OriginalSaleID      string          `json:"original_sale_id"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	RefundAmount        decimal.Decimal `json:"refund_amount"`
	Status              ReturnStatus    `json:"status"`
	Reason              ReturnReason    `json:"reason"`
	CustomerNotes       string          `json:"customer_notes,omitempty"`
	StaffNotes          string          `json:"staff_notes,omitempty"`
	ReturnDate          time.Time       `json:"return_date"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
	ProcessedBy         string          `json:"processed_by"`
	ProcessedByUsername string          `json:"processed_by_username"`
	Items               []ReturnItem    `json:"items"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (r Return) TotalItems() int {
	total := 0
	for _, item := range r.Items {
		total += item.Quantity
	}
	return total
}

type ReturnItem struct {
	ID                string          `json:"id"`
	ReturnID          string          `json:"return_id"`
	SaleItemID        string          `json:"sale_item_id"`
	SKUID             string          `json:"sku_id"`
	Quantity          int             `json:"quantity"`
	OriginalUnitPrice decimal.Decimal `json:"original_unit_price"`
	RefundUnitPrice   decimal.Decimal `json:"refund_unit_price"`
	LineTotal         decimal.Decimal `json:"line_total"`
	IsDamaged         bool            `json:"is_damaged"`
	ReturnToStock     bool            `json:"return_to_stock"`
	ConditionNotes    string          `json:"condition_notes,omitempty"`
	MovementID        *int64          `json:"movement_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Restocks reports whether the item goes back into sellable stock.
func (i ReturnItem) Restocks() bool {
	return i.ReturnToStock && !i.IsDamaged
}

func (i ReturnItem) RefundDifference() decimal.Decimal {
	return i.OriginalUnitPrice.Sub(i.RefundUnitPrice).Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type AuditAction string

const (
	AuditLogin                AuditAction = "login"
	AuditLoginFailed          AuditAction = "login_failed"
	AuditLogout               AuditAction = "logout"
	AuditPasswordChange       AuditAction = "password_change"
	AuditPasswordChangeFailed AuditAction = "password_change_failed"
	AuditAccountLocked        AuditAction = "account_locked"
	AuditAccountUnlock        AuditAction = "account_unlock"
	AuditAccountCreate        AuditAction = "account_create"
	AuditAccountUpdate        AuditAction = "account_update"
	AuditRoleUpdate           AuditAction = "role_update"
	AuditAccountFailed        AuditAction = "account_failed"
	AuditBrandCreate          AuditAction = "brand_create"
	AuditCategoryCreate       AuditAction = "category_create"
	AuditProductCreate        AuditAction = "product_create"
	AuditProductUpdate        AuditAction = "product_update"
	AuditCatalogFailed        AuditAction = "catalog_failed"
	AuditStockAdd             AuditAction = "stock_add"
	AuditStockRemove          AuditAction = "stock_remove"
	AuditStockAdjustment      AuditAction = "stock_adjustment"
	AuditStockDamage          AuditAction = "stock_damage"
	AuditStockTransfer        AuditAction = "stock_transfer"
	AuditStockFailed          AuditAction = "stock_failed"
	AuditSaleCreate           AuditAction = "sale_create"
	AuditSaleFailed           AuditAction = "sale_failed"
	AuditSaleVoid             AuditAction = "sale_void"
	AuditSaleReturn           AuditAction = "sale_return"
	AuditReturnFailed         AuditAction = "return_failed"
	AuditSettingsUpdate       AuditAction = "settings_update"
	AuditSettingsFailed       AuditAction = "settings_failed"
)

// AuditLog is append-only. AccountID is empty when the actor is unknown.
type AuditLog struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id,omitempty"`
	Username    string          `json:"username"`
	Action      AuditAction     `json:"action"`
	EntityType  string          `json:"entity_type,omitempty"`
	EntityID    string          `json:"entity_id,omitempty"`
	Description string          `json:"description"`
	OldValues   json.RawMessage `json:"old_values,omitempty"`
	NewValues   json.RawMessage `json:"new_values,omitempty"`
	IPAddress   string          `json:"ip_address,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AuditFilter struct {
	From       time.Time
	To         time.Time
	Action     AuditAction
	EntityType string
	EntityID   string
	Limit      int
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	ExpiresAt   string   `json:"expires_at"`
	Username    string   `json:"username"`
	FullName    string   `json:"full_name"`
	Role        RoleName `json:"role"`
}

type PasswordChangeRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type AccountCreateRequest struct {
	Username string   `json:"username" validate:"required,min=3,max=50"`
	FullName string   `json:"full_name" validate:"required,max=100"`
	Email    string   `json:"email" validate:"omitempty,email,max=100"`
	Password string   `json:"password" validate:"required"`
	Role     RoleName `json:"role" validate:"required"`
}

type AccountActiveRequest struct {
	Active bool `json:"active"`
}

type RoleUpdateRequest struct {
	Description  *string      `json:"description,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

type BrandCreateRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

type CategoryCreateRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id"`
}

type StyleCreateRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description"`
	ImagePath   string `json:"image_path" validate:"max=500"`
	BrandID     string `json:"brand_id" validate:"required"`
	CategoryID  string `json:"category_id" validate:"required"`
}

type SKUCreateRequest struct {
	StyleID      string          `json:"style_id" validate:"required"`
	SKUCode      string          `json:"sku_code" validate:"max=50"`
	Barcode      string          `json:"barcode" validate:"max=100"`
	Color        string          `json:"color" validate:"required,max=50"`
	Size         string          `json:"size" validate:"required,max=50"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	ReorderLevel int             `json:"reorder_level" validate:"gte=0"`
	InitialStock int             `json:"initial_stock" validate:"gte=0"`
}

type SKUPricingRequest struct {
	CostPrice    *decimal.Decimal `json:"cost_price,omitempty"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
}

type MovementRequest struct {
	SKUID          string       `json:"sku_id" validate:"required"`
	Kind           MovementKind `json:"kind" validate:"required"`
	QuantityChange int          `json:"quantity_change" validate:"ne=0"`
	Reference      string       `json:"reference" validate:"max=100"`
	Reason         string       `json:"reason" validate:"max=200"`
	Notes          string       `json:"notes"`
	AllowNegative  bool         `json:"allow_negative"`
}

type AdjustmentRequest struct {
	Description string                  `json:"description" validate:"required,max=200"`
	Reason      string                  `json:"reason"`
	Lines       []AdjustmentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type AdjustmentLineRequest struct {
	SKUID          string `json:"sku_id" validate:"required"`
	QuantityChange int    `json:"quantity_change" validate:"ne=0"`
}

type SaleRequest struct {
	Lines           []SaleLine       `json:"lines" validate:"required,min=1,dive"`
	Payments        []PaymentInput   `json:"payments" validate:"omitempty,dive"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	TaxRatePercent  decimal.Decimal  `json:"tax_rate_percent"`
	CashTendered    *decimal.Decimal `json:"cash_tendered,omitempty"`
	Notes           string           `json:"notes"`
}

type SaleLine struct {
	SKUID     string           `json:"sku_id" validate:"required"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Discount  decimal.Decimal  `json:"discount"`
}

type PaymentInput struct {
	Method    PaymentMethod   `json:"method" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"max=100"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

type ReturnRequest struct {
	SaleID        string       `json:"sale_id" validate:"required"`
	Reason        ReturnReason `json:"reason" validate:"required"`
	Items         []ReturnLine `json:"items" validate:"required,min=1,dive"`
	CustomerNotes string       `json:"customer_notes"`
	StaffNotes    string       `json:"staff_notes"`
}

type ReturnLine struct {
	SaleItemID      string           `json:"sale_item_id" validate:"required"`
	Quantity        int              `json:"quantity"`
	RefundUnitPrice *decimal.Decimal `json:"refund_unit_price,omitempty"`
	IsDamaged       bool             `json:"is_damaged"`
	ReturnToStock   *bool            `json:"return_to_stock,omitempty"`
	ConditionNotes  string           `json:"condition_notes"`
}

type LowStockEntry struct {
	SKU       ProductSKU `json:"sku"`
	Threshold int        `json:"threshold"`
	Shortfall int        `json:"shortfall"`
}
