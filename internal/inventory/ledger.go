package inventory

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/nilasense/order-service/internal/postgres"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Ledger reads and mutates products.stock_kg. Run it on the transaction of the
// order that motivates the mutation, never on its own.
type Ledger struct{ DB postgres.DBTX }

// GetStock returns the current stock and keeps the product row locked until
// the surrounding transaction ends.
func (l *Ledger) GetStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var stock decimal.Decimal
	err := l.DB.QueryRow(ctx, `SELECT stock_kg FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: id=%d", ErrProductNotFound, productID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get stock %d: %w", productID, err)
	}
	return stock, nil
}

// DecrementStock kurangi stok; the guard keeps stock_kg from going negative
// even if the caller skipped GetStock.
func (l *Ledger) DecrementStock(ctx context.Context, productID int64, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("decrement stock %d: non-positive quantity %s", productID, qty)
	}
	ct, err := l.DB.Exec(ctx, `
		UPDATE products SET stock_kg = stock_kg - $2, updated_at = NOW()
		WHERE id=$1 AND stock_kg >= $2`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock %d: %w", productID, err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: product %d", ErrInsufficientStock, productID)
	}
	return nil
}

// IncrementStock returns quantity to the product, e.g. when an order is cancelled.
// It reports ErrProductNotFound when the product has left the catalog.
func (l *Ledger) IncrementStock(ctx context.Context, productID int64, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("increment stock %d: non-positive quantity %s", productID, qty)
	}
	ct, err := l.DB.Exec(ctx, `UPDATE products SET stock_kg = stock_kg + $2, updated_at = NOW() WHERE id=$1`, productID, qty)
	if err != nil {
		return fmt.Errorf("increment stock %d: %w", productID, err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: id=%d", ErrProductNotFound, productID)
	}
	return nil
}
