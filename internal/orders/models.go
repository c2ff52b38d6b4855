package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

type PaymentMethod string

const (
	PaymentManualTransfer PaymentMethod = "manual_transfer"
	PaymentMidtrans       PaymentMethod = "midtrans"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

const (
	GatewayManual   = "manual"
	GatewayMidtrans = "midtrans"
)

// ShippingInfo is the delivery snapshot taken at checkout.
type ShippingInfo struct {
	Name       string `json:"shipping_name"`
	Phone      string `json:"shipping_phone"`
	Address    string `json:"shipping_address"`
	City       string `json:"shipping_city"`
	PostalCode string `json:"shipping_postal_code"`
}

type Order struct {
	ID          int64  `json:"id"`
	OrderNumber string `json:"order_number"`
	OwnerID     int64  `json:"user_id"`
	ShippingInfo
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PaymentGateway  string          `json:"payment_gateway"`
	Status          Status          `json:"status"` // lihat status.go
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Notes           *string         `json:"notes"`
	AdminNotes      *string         `json:"admin_notes"`
	CancelledReason *string         `json:"cancelled_reason"`
	CancelledAt     *time.Time      `json:"cancelled_at"`
	CancelledBy     *int64          `json:"cancelled_by"`
	PaidAt          *time.Time      `json:"paid_at"`
	IdempotencyKey  *string         `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderItem     `json:"items,omitempty"`
}

// OrderItem is an immutable line snapshot. CurrentStock is filled only by the
// detail query and is informational.
type OrderItem struct {
	ID           int64            `json:"id"`
	OrderID      int64            `json:"order_id"`
	ProductID    int64            `json:"product_id"`
	PondID       *int64           `json:"pond_id"`
	ProductName  string           `json:"product_name"`
	ProductImage *string          `json:"product_image"`
	ProductPrice decimal.Decimal  `json:"product_price"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Subtotal     decimal.Decimal  `json:"subtotal"`
	CurrentStock *decimal.Decimal `json:"current_stock,omitempty"`
}

// ItemPreview is the short item view shown in order lists.
type ItemPreview struct {
	ID           int64           `json:"id"`
	ProductName  string          `json:"product_name"`
	ProductImage *string         `json:"product_image"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// OrderSummary is one row of an order list. Buyer fields and product
// aggregates are scoped to what the viewer may see.
type OrderSummary struct {
	ID               int64           `json:"id"`
	OrderNumber      string          `json:"order_number"`
	Status           Status          `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	AdminNotes       *string         `json:"admin_notes"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ItemCount        int             `json:"item_count"`
	Items            []ItemPreview   `json:"items"`
	BuyerName        *string         `json:"buyer_name,omitempty"`
	BuyerEmail       *string         `json:"buyer_email,omitempty"`
	FirstProductName *string         `json:"first_product_name,omitempty"`
	TotalQuantity    *decimal.Decimal `json:"total_quantity,omitempty"`
}

type Role string

const (
	RoleBuyer    Role = "buyer"
	RolePetambak Role = "petambak"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated caller. PondID is 0 when no pond is assigned.
type Actor struct {
	ID     int64
	Name   string
	Role   Role
	PondID int64
}
