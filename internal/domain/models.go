package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentMpesa PaymentMethod = "mpesa"
	PaymentEmola PaymentMethod = "emola"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMpesa, PaymentEmola:
		return true
	}
	return false
}

type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
	SaleStatusRefunded  SaleStatus = "refunded"
)

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
	MovementDamage     MovementType = "damage"
	MovementTransfer   MovementType = "transfer"
)

// ReferenceSale marks stock movements caused by a committed sale.
const ReferenceSale = "sale"

// UnknownProductName is captured on lines whose product could not be resolved.
const UnknownProductName = "Unknown Product"

type LineOutcomeKind string

const (
	LineAdjusted              LineOutcomeKind = "adjusted"
	LineSkippedUnknownProduct LineOutcomeKind = "skipped_unknown_product"
	LineSkippedUntracked      LineOutcomeKind = "skipped_untracked"
)

type Product struct {
	ID                 int64            `json:"id" db:"id"`
	Barcode            *string          `json:"barcode,omitempty" db:"barcode"`
	SKU                *string          `json:"sku,omitempty" db:"sku"`
	Name               string           `json:"name" db:"name"`
	CostPrice          decimal.Decimal  `json:"cost_price" db:"cost_price"`
	SalePrice          decimal.Decimal  `json:"sale_price" db:"sale_price"`
	StockQuantity      decimal.Decimal  `json:"stock_quantity" db:"stock_quantity"`
	MinStock           decimal.Decimal  `json:"min_stock" db:"min_stock"`
	Unit               string           `json:"unit" db:"unit"`
	TaxRate            *decimal.Decimal `json:"tax_rate,omitempty" db:"tax_rate"`
	IsActive           bool             `json:"is_active" db:"is_active"`
	TrackStock         bool             `json:"track_stock" db:"track_stock"`
	AllowNegativeStock bool             `json:"allow_negative_stock" db:"allow_negative_stock"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

type ProductCreateRequest struct {
	Barcode            *string          `json:"barcode,omitempty"`
	SKU                *string          `json:"sku,omitempty"`
	Name               string           `json:"name"`
	CostPrice          decimal.Decimal  `json:"cost_price"`
	SalePrice          decimal.Decimal  `json:"sale_price"`
	InitialStock       decimal.Decimal  `json:"initial_stock"`
	MinStock           decimal.Decimal  `json:"min_stock"`
	Unit               string           `json:"unit"`
	TaxRate            *decimal.Decimal `json:"tax_rate,omitempty"`
	TrackStock         *bool            `json:"track_stock,omitempty"`
	AllowNegativeStock bool             `json:"allow_negative_stock"`
}

type Sale struct {
	ID             int64            `json:"id" db:"id"`
	InvoiceNumber  string           `json:"invoice_number" db:"invoice_number"`
	CustomerID     *int64           `json:"customer_id,omitempty" db:"customer_id"`
	UserID         *int64           `json:"user_id,omitempty" db:"user_id"`
	Subtotal       decimal.Decimal  `json:"subtotal" db:"subtotal"`
	TaxAmount      decimal.Decimal  `json:"tax_amount" db:"tax_amount"`
	DiscountAmount decimal.Decimal  `json:"discount_amount" db:"discount_amount"`
	Total          decimal.Decimal  `json:"total" db:"total"`
	PaymentMethod  PaymentMethod    `json:"payment_method" db:"payment_method"`
	CashReceived   *decimal.Decimal `json:"cash_received" db:"cash_received"`
	ChangeGiven    *decimal.Decimal `json:"change_given" db:"change_given"`
	Status         SaleStatus       `json:"status" db:"status"`
	Notes          string           `json:"notes" db:"notes"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

type SaleItem struct {
	ID              int64            `json:"id" db:"id"`
	SaleID          int64            `json:"sale_id" db:"sale_id"`
	ProductID       *int64           `json:"product_id,omitempty" db:"product_id"`
	ProductName     string           `json:"product_name" db:"product_name"`
	Barcode         *string          `json:"barcode,omitempty" db:"barcode"`
	Quantity        decimal.Decimal  `json:"quantity" db:"quantity"`
	UnitPrice       decimal.Decimal  `json:"unit_price" db:"unit_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent" db:"discount_percent"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount" db:"discount_amount"`
	TaxRate         decimal.Decimal  `json:"tax_rate" db:"tax_rate"`
	TaxAmount       decimal.Decimal  `json:"tax_amount" db:"tax_amount"`
	Subtotal        decimal.Decimal  `json:"subtotal" db:"subtotal"`
	Total           decimal.Decimal  `json:"total" db:"total"`
	CostPrice       *decimal.Decimal `json:"cost_price,omitempty" db:"cost_price"`
}

type StockMovement struct {
	ID               int64            `json:"id" db:"id"`
	ProductID        int64            `json:"product_id" db:"product_id"`
	Type             MovementType     `json:"type" db:"type"`
	Quantity         decimal.Decimal  `json:"quantity" db:"quantity"`
	PreviousQuantity decimal.Decimal  `json:"previous_quantity" db:"previous_quantity"`
	NewQuantity      decimal.Decimal  `json:"new_quantity" db:"new_quantity"`
	ReferenceType    *string          `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID      *int64           `json:"reference_id,omitempty" db:"reference_id"`
	CostPrice        *decimal.Decimal `json:"cost_price,omitempty" db:"cost_price"`
	Notes            string           `json:"notes" db:"notes"`
	UserID           *int64           `json:"user_id,omitempty" db:"user_id"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// SaleLine is one cart line as submitted by the till.
type SaleLine struct {
	ProductID       *int64           `json:"product_id,omitempty"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       decimal.Decimal  `json:"unit_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount"`
	TaxRate         *decimal.Decimal `json:"tax_rate,omitempty"`
}

type CreateSaleRequest struct {
	CustomerID     *int64           `json:"customer_id,omitempty"`
	// UserID is overwritten with the authenticated user by the HTTP layer.
	UserID         *int64           `json:"user_id,omitempty"`
	Items          []SaleLine       `json:"items"`
	PaymentMethod  PaymentMethod    `json:"payment_method"`
	CashReceived   *decimal.Decimal `json:"cash_received,omitempty"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	Notes          string           `json:"notes"`
	InvoiceNumber  string           `json:"invoice_number,omitempty"`
}

type LineOutcome struct {
	Line      int             `json:"line"`
	ProductID *int64          `json:"product_id,omitempty"`
	Outcome   LineOutcomeKind `json:"outcome"`
}

type CommitResult struct {
	Sale         Sale          `json:"sale"`
	LineOutcomes []LineOutcome `json:"line_outcomes"`
}

type CancelSaleRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type SaleDetail struct {
	Sale  Sale       `json:"sale"`
	Items []SaleItem `json:"items"`
}

type SaleFilter struct {
	Status    SaleStatus
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

type StockMovementFilter struct {
	ProductID *int64
	Type      MovementType
	Page      int
	Limit     int
}

type StockMovementRequest struct {
	ProductID int64            `json:"product_id"`
	Type      MovementType     `json:"type"`
	Quantity  decimal.Decimal  `json:"quantity"`
	CostPrice *decimal.Decimal `json:"cost_price,omitempty"`
	Notes     string           `json:"notes"`
	// UserID is overwritten with the authenticated user by the HTTP layer.
	UserID    *int64           `json:"user_id,omitempty"`
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

type SaleListResponse struct {
	Data       []Sale     `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type StockMovementListResponse struct {
	Data       []StockMovement `json:"data"`
	Pagination Pagination      `json:"pagination"`
}

type PaymentSummary struct {
	PaymentMethod PaymentMethod   `json:"payment_method" db:"payment_method"`
	Transactions  int             `json:"transactions" db:"transactions"`
	Total         decimal.Decimal `json:"total" db:"total"`
}

type DailySummary struct {
	Date           string           `json:"date"`
	Transactions   int              `json:"transactions"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	TaxAmount      decimal.Decimal  `json:"tax_amount"`
	TotalRevenue   decimal.Decimal  `json:"total_revenue"`
	ByPayment      []PaymentSummary `json:"by_payment"`
}

type Receipt struct {
	StoreName string
	Sale      Sale
	Items     []SaleItem
}

// HeldSale is a parked cart. The payload is opaque to the backend.
type HeldSale struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller. ID is the app_users row id.
type Actor struct {
	ID       int64
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
