package cart

import (
	"context"
	"fmt"
	"github.com/nilasense/order-service/internal/postgres"
	"github.com/shopspring/decimal"
)

// Line is one cart row joined with the product it points at.
type Line struct {
	CartID       int64
	ProductID    int64
	PondID       *int64
	ProductName  string
	ProductImage *string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Stock        decimal.Decimal // snapshot, not locked
}

// Reader is the checkout view of the cart table.
type Reader struct{ DB postgres.DBTX }

// GetCartItems locks the owner's cart rows until the transaction ends. A
// concurrent checkout of the same cart waits here and then finds the rows
// deleted, so one cart yields at most one order.
func (r *Reader) GetCartItems(ctx context.Context, ownerID int64) ([]Line, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT c.id, c.product_id, p.pond_id, p.name, p.image_url, p.price, c.quantity, p.stock_kg
		FROM cart c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.product_id, c.id
		FOR UPDATE OF c`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.CartID, &l.ProductID, &l.PondID, &l.ProductName, &l.ProductImage,
			&l.Price, &l.Quantity, &l.Stock); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Reader) ClearCart(ctx context.Context, ownerID int64) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM cart WHERE user_id = $1`, ownerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Subtotal is price * quantity for the line.
func (l Line) Subtotal() decimal.Decimal { return l.Price.Mul(l.Quantity) }
