package orders

import (
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"strconv"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
)

const EnvelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`                  // payload spesifik
}

// NewEnvelope wraps payload for the order with a fresh event id.
func NewEnvelope(eventType, producer, traceID string, orderID int64, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: strconv.FormatInt(orderID, 10),
		Payload:       b,
	}, nil
}

// ---- Payload tipe per event ----

type EventItem struct {
	ProductID   int64           `json:"product_id"`
	PondID      *int64          `json:"pond_id,omitempty"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type OrderCreatedPayload struct {
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        int64           `json:"user_id"`
	ShippingName  string          `json:"shipping_name"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Items         []EventItem     `json:"items"`
}

type OrderCancelledPayload struct {
	OrderID     int64       `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      int64       `json:"user_id"`
	Reason      string      `json:"reason"`
	CancelledBy int64       `json:"cancelled_by"`
	Restocked   []EventItem `json:"restocked"`
}

type OrderStatusChangedPayload struct {
	OrderID       int64         `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	UserID        int64         `json:"user_id"`
	From          Status        `json:"from"`
	To            Status        `json:"to"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	AdminNotes    *string       `json:"admin_notes,omitempty"`
	ChangedBy     int64         `json:"changed_by"`
	ChangedByRole Role          `json:"changed_by_role"`
}

func eventItems(items []OrderItem) []EventItem {
	out := make([]EventItem, 0, len(items))
	for _, it := range items {
		out = append(out, EventItem{
			ProductID:   it.ProductID,
			PondID:      it.PondID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Subtotal:    it.Subtotal,
		})
	}
	return out
}
