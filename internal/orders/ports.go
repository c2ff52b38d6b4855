package orders

import (
	"context"
	"github.com/nilasense/order-service/internal/cart"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"time"
)

// Store is the order table access available inside a unit of work.
type Store interface {
	// FindByIdempotencyKey returns ErrNotFound when the owner never used key.
	FindByIdempotencyKey(ctx context.Context, ownerID int64, key string) (*Order, error)
	// NextOrderSequence hands out the next number for the calendar day of t.
	NextOrderSequence(ctx context.Context, day time.Time) (int, error)
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, orderID int64, items []OrderItem) error
	// LockOrder loads a visible order and locks it until the unit ends.
	LockOrder(ctx context.Context, id int64, vis Visibility) (*Order, error)
	ListItems(ctx context.Context, orderID int64) ([]OrderItem, error)
	SaveStatus(ctx context.Context, o *Order) error
}

type InventoryLedger interface {
	GetStock(ctx context.Context, productID int64) (decimal.Decimal, error)
	DecrementStock(ctx context.Context, productID int64, qty decimal.Decimal) error
	IncrementStock(ctx context.Context, productID int64, qty decimal.Decimal) error
}

type CartReader interface {
	GetCartItems(ctx context.Context, ownerID int64) ([]cart.Line, error)
	ClearCart(ctx context.Context, ownerID int64) error
}

// Tx exposes the collaborators bound to one transaction.
type Tx interface {
	Orders() Store
	Inventory() InventoryLedger
	Cart() CartReader
}

// UnitOfWork commits when fn returns nil and discards every write otherwise.
// Transient database conflicts come back wrapped in ErrConflict.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Queries are the read paths outside of a unit of work.
type Queries interface {
	ListSummaries(ctx context.Context, vis Visibility) ([]OrderSummary, error)
	ListPreviews(ctx context.Context, orderIDs []int64, perOrder int) (map[int64][]ItemPreview, error)
	// GetOrder returns the order with items and each product's current stock.
	GetOrder(ctx context.Context, id int64, vis Visibility) (*Order, error)
}

type EventPublisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header)
}

// IdempotencyCache is the fast path in front of the idempotency_key index.
type IdempotencyCache interface {
	Lookup(ctx context.Context, ownerID int64, key string) (orderID int64, ok bool, err error)
	Remember(ctx context.Context, ownerID int64, key string, orderID int64) error
}
