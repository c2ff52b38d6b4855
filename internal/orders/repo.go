package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/nilasense/order-service/internal/postgres"
	"github.com/shopspring/decimal"
	"time"
)

const orderColumns = `o.id, o.order_number, o.user_id,
	o.shipping_name, o.shipping_phone, o.shipping_address, o.shipping_city, o.shipping_postal_code,
	o.subtotal, o.shipping_cost, o.total_amount, o.payment_method, o.payment_gateway,
	o.status, o.payment_status, o.notes, o.admin_notes,
	o.cancelled_reason, o.cancelled_at, o.cancelled_by, o.paid_at, o.idempotency_key,
	o.created_at, o.updated_at`

// Constraint names from migrations/000002_orders.up.sql.
const (
	constraintOrderNumber = "orders_order_number_key"
	constraintIdempotency = "uq_orders_user_idempotency"
)

// Repo is the pgx implementation of Store and Queries. DB may be the pool or
// the transaction of a unit of work.
type Repo struct{ DB postgres.DBTX }

var (
	_ Store   = (*Repo)(nil)
	_ Queries = (*Repo)(nil)
)

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                     Order
		method, st, payStatus string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.OwnerID,
		&o.ShippingInfo.Name, &o.ShippingInfo.Phone, &o.ShippingInfo.Address, &o.ShippingInfo.City, &o.ShippingInfo.PostalCode,
		&o.Subtotal, &o.ShippingCost, &o.TotalAmount, &method, &o.PaymentGateway,
		&st, &payStatus, &o.Notes, &o.AdminNotes,
		&o.CancelledReason, &o.CancelledAt, &o.CancelledBy, &o.PaidAt, &o.IdempotencyKey,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.PaymentMethod, o.Status, o.PaymentStatus = PaymentMethod(method), Status(st), PaymentStatus(payStatus)
	return &o, nil
}

func (r *Repo) FindByIdempotencyKey(ctx context.Context, ownerID int64, key string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o
		WHERE o.user_id=$1 AND o.idempotency_key=$2`, ownerID, key))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find order by idempotency key: %w", err)
	}
	return o, err
}

// NextOrderSequence bumps the per-day counter. The first call of a day seeds
// it from the orders already numbered for that day; the row lock it takes
// serializes numbering until the transaction ends.
func (r *Repo) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	err := r.DB.QueryRow(ctx, `
		INSERT INTO order_number_sequences(day, last_seq)
		SELECT $1::date, COUNT(*) + 1 FROM orders WHERE order_number LIKE $2
		ON CONFLICT (day) DO UPDATE SET last_seq = order_number_sequences.last_seq + 1
		RETURNING last_seq`,
		day.Format("2006-01-02"), OrderNumberPrefix(day)+"%",
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next order sequence: %w", err)
	}
	return seq, nil
}

func (r *Repo) InsertOrder(ctx context.Context, o *Order) error {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO orders(order_number, user_id,
			shipping_name, shipping_phone, shipping_address, shipping_city, shipping_postal_code,
			subtotal, shipping_cost, total_amount, payment_method, payment_gateway,
			status, payment_status, notes, paid_at, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id, created_at, updated_at`,
		o.OrderNumber, o.OwnerID,
		o.ShippingInfo.Name, o.ShippingInfo.Phone, o.ShippingInfo.Address, o.ShippingInfo.City, o.ShippingInfo.PostalCode,
		o.Subtotal, o.ShippingCost, o.TotalAmount, string(o.PaymentMethod), o.PaymentGateway,
		string(o.Status), string(o.PaymentStatus), o.Notes, o.PaidAt, o.IdempotencyKey,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	switch {
	case postgres.IsUniqueViolation(err, constraintIdempotency):
		// a concurrent request with the same key won; the retry replays it
		return fmt.Errorf("insert order: idempotency key already used: %w", err)
	case postgres.IsUniqueViolation(err, constraintOrderNumber):
		return fmt.Errorf("insert order: number %s taken: %w", o.OrderNumber, err)
	case err != nil:
		return fmt.Errorf("insert order %s: %w", o.OrderNumber, err)
	}
	return nil
}

func (r *Repo) InsertItems(ctx context.Context, orderID int64, items []OrderItem) error {
	for i := range items {
		it := &items[i]
		it.OrderID = orderID
		err := r.DB.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, pond_id, product_name, product_image,
				product_price, quantity, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id`,
			orderID, it.ProductID, it.PondID, it.ProductName, it.ProductImage,
			it.ProductPrice, it.Quantity, it.Subtotal,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert item product=%d: %w", it.ProductID, err)
		}
	}
	return nil
}

func (r *Repo) LockOrder(ctx context.Context, id int64, vis Visibility) (*Order, error) {
	pred, args := vis.Predicate(2)
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o
		WHERE o.id=$1 AND `+pred+` FOR UPDATE`, append([]any{id}, args...)...))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lock order %d: %w", id, err)
	}
	return o, err
}

func (r *Repo) ListItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, pond_id, product_name, product_image, product_price, quantity, subtotal
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list items of order %d: %w", orderID, err)
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.PondID, &it.ProductName, &it.ProductImage,
			&it.ProductPrice, &it.Quantity, &it.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) SaveStatus(ctx context.Context, o *Order) error {
	err := r.DB.QueryRow(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, admin_notes=$4,
			cancelled_reason=$5, cancelled_at=$6, cancelled_by=$7, paid_at=$8, updated_at=NOW()
		WHERE id=$1
		RETURNING updated_at`,
		o.ID, string(o.Status), string(o.PaymentStatus), o.AdminNotes,
		o.CancelledReason, o.CancelledAt, o.CancelledBy, o.PaidAt,
	).Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("save status of order %d: %w", o.ID, err)
	}
	return nil
}

// ListSummaries returns visible orders, newest first. For a pond-scoped
// filter the item aggregates only count that pond's items.
func (r *Repo) ListSummaries(ctx context.Context, vis Visibility) ([]OrderSummary, error) {
	pred, args := vis.Predicate(1)
	itemFilter := ""
	if _, ok := vis.PondScoped(); ok {
		// $1 is the pond id of the predicate
		itemFilter = " AND i.pond_id = $1"
	}
	rows, err := r.DB.Query(ctx, `
		SELECT o.id, o.order_number, o.status, o.payment_status, o.payment_method, o.total_amount,
			o.admin_notes, o.created_at, o.updated_at, u.name, u.email,
			(SELECT COUNT(*) FROM order_items i WHERE i.order_id = o.id`+itemFilter+`),
			(SELECT i.product_name FROM order_items i WHERE i.order_id = o.id`+itemFilter+` ORDER BY i.id LIMIT 1),
			(SELECT COALESCE(SUM(i.quantity), 0) FROM order_items i WHERE i.order_id = o.id`+itemFilter+`)
		FROM orders o
		LEFT JOIN users u ON u.id = o.user_id
		WHERE `+pred+`
		ORDER BY o.created_at DESC, o.id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := []OrderSummary{}
	for rows.Next() {
		var (
			s                     OrderSummary
			st, payStatus, method string
			totalQty              decimal.Decimal
		)
		if err := rows.Scan(&s.ID, &s.OrderNumber, &st, &payStatus, &method, &s.TotalAmount,
			&s.AdminNotes, &s.CreatedAt, &s.UpdatedAt, &s.BuyerName, &s.BuyerEmail,
			&s.ItemCount, &s.FirstProductName, &totalQty); err != nil {
			return nil, err
		}
		s.Status, s.PaymentStatus, s.PaymentMethod = Status(st), PaymentStatus(payStatus), PaymentMethod(method)
		s.TotalQuantity = &totalQty
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListPreviews returns up to perOrder items per order, in insertion order.
func (r *Repo) ListPreviews(ctx context.Context, orderIDs []int64, perOrder int) (map[int64][]ItemPreview, error) {
	out := make(map[int64][]ItemPreview, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_name, product_image, quantity FROM (
			SELECT i.*, ROW_NUMBER() OVER (PARTITION BY i.order_id ORDER BY i.id) AS rn
			FROM order_items i WHERE i.order_id = ANY($1)
		) x WHERE rn <= $2
		ORDER BY order_id, id`, orderIDs, perOrder)
	if err != nil {
		return nil, fmt.Errorf("list item previews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p       ItemPreview
			orderID int64
		)
		if err := rows.Scan(&p.ID, &orderID, &p.ProductName, &p.ProductImage, &p.Quantity); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], p)
	}
	return out, rows.Err()
}

func (r *Repo) GetOrder(ctx context.Context, id int64, vis Visibility) (*Order, error) {
	pred, args := vis.Predicate(2)
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o
		WHERE o.id=$1 AND `+pred, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT i.id, i.order_id, i.product_id, i.pond_id, i.product_name, i.product_image,
			i.product_price, i.quantity, i.subtotal, p.stock_kg
		FROM order_items i
		LEFT JOIN products p ON p.id = i.product_id
		WHERE i.order_id=$1 ORDER BY i.id`, id)
	if err != nil {
		return nil, fmt.Errorf("get items of order %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    OrderItem
			stock decimal.NullDecimal
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.PondID, &it.ProductName, &it.ProductImage,
			&it.ProductPrice, &it.Quantity, &it.Subtotal, &stock); err != nil {
			return nil, err
		}
		if stock.Valid {
			it.CurrentStock = &stock.Decimal
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}
