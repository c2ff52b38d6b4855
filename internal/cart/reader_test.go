package cart

import (
	"context"
	"errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"testing"
)

type execOnlyDB struct {
	sql  string
	args []any
	err  error
}

func (d *execOnlyDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.sql, d.args = sql, args
	return pgconn.NewCommandTag("DELETE 2"), d.err
}

func (d *execOnlyDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.sql, d.args = sql, args
	return nil, errors.New("connection refused")
}

func (d *execOnlyDB) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func TestClearCart(t *testing.T) {
	db := &execOnlyDB{}
	r := &Reader{DB: db}

	assert.NoError(t, r.ClearCart(context.Background(), 42))
	assert.Contains(t, db.sql, "DELETE FROM cart")
	assert.Equal(t, []any{int64(42)}, db.args)

	db.err = errors.New("tx aborted")
	assert.ErrorContains(t, r.ClearCart(context.Background(), 42), "clear cart")
}

func TestGetCartItemsQueryError(t *testing.T) {
	r := &Reader{DB: &execOnlyDB{}}
	_, err := r.GetCartItems(context.Background(), 1)
	assert.ErrorContains(t, err, "read cart")
}

func TestGetCartItemsLocksCartRows(t *testing.T) {
	db := &execOnlyDB{}
	_, _ = (&Reader{DB: db}).GetCartItems(context.Background(), 42)

	assert.Contains(t, db.sql, "FOR UPDATE OF c")
	assert.NotContains(t, db.sql, "FOR UPDATE OF p", "product rows are locked by the ledger in id order")
	assert.Equal(t, []any{int64(42)}, db.args)
}

func TestLineSubtotal(t *testing.T) {
	l := Line{Price: decimal.NewFromInt(50000), Quantity: decimal.RequireFromString("1.5")}
	assert.True(t, l.Subtotal().Equal(decimal.NewFromInt(75000)))
}
