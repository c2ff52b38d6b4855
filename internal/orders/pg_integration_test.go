//go:build integration

package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nilasense/order-service/internal/postgres"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"sync"
	"testing"
	"time"
)

// Run with: ORDERS_TEST_DSN=postgres://... go test -tags integration ./internal/orders
func pgTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("ORDERS_TEST_DSN")
	if dsn == "" {
		t.Skip("ORDERS_TEST_DSN not set")
	}
	m, err := migrate.New("file://../../migrations", dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}
	_, _ = m.Close()

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn, 20)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, `TRUNCATE order_items, orders, order_number_sequences, cart, products, ponds, users
		RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, name string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `INSERT INTO users(name, email, password_hash)
		VALUES ($1, $2, 'x') RETURNING id`, name, name+"@nilasense.test").Scan(&id)
	require.NoError(t, err)
	return id
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, name, price, stock string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `INSERT INTO products(name, price, stock_kg)
		VALUES ($1, $2, $3) RETURNING id`, name, price, stock).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedCart(t *testing.T, pool *pgxpool.Pool, ownerID, productID int64, qty string) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `INSERT INTO cart(user_id, product_id, quantity) VALUES ($1, $2, $3)`,
		ownerID, productID, qty)
	require.NoError(t, err)
}

func pgStock(t *testing.T, pool *pgxpool.Pool, productID int64) decimal.Decimal {
	t.Helper()
	var kg decimal.Decimal
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT stock_kg FROM products WHERE id=$1`, productID).Scan(&kg))
	return kg
}

func pgOrderCount(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM orders`).Scan(&n))
	return n
}

func TestPgSameCartCheckedOutTwice(t *testing.T) {
	pool := pgTestPool(t)
	ctx := context.Background()
	buyer := seedUser(t, pool, "budi")
	product := seedProduct(t, pool, "Nila Merah", "50000", "10")
	seedCart(t, pool, buyer, product, "3")
	svc := NewService(NewUnitOfWork(pool), &Repo{DB: pool}, WithClock(func() time.Time { return testNow }))

	// hold the product row so both checkouts are in flight at once
	hold, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = hold.Exec(ctx, `SELECT 1 FROM products WHERE id=$1 FOR UPDATE`, product)
	require.NoError(t, err)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.CreateOrder(ctx, createInput(buyer, ""))
			errs <- err
		}()
	}
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, hold.Rollback(ctx))
	wg.Wait()
	close(errs)

	var ok, empty int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrEmptyCart):
			empty++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, empty)
	assert.Equal(t, 1, pgOrderCount(t, pool))
	assert.Equal(t, "7", pgStock(t, pool, product).String())
}

func TestPgConcurrentCheckoutsNumberAndStock(t *testing.T) {
	pool := pgTestPool(t)
	ctx := context.Background()
	product := seedProduct(t, pool, "Nila Merah", "50000", "10")
	const buyers = 8
	owners := make([]int64, buyers)
	for i := range owners {
		owners[i] = seedUser(t, pool, fmt.Sprintf("buyer%d", i))
		seedCart(t, pool, owners[i], product, "3")
	}
	svc := NewService(NewUnitOfWork(pool), &Repo{DB: pool}, WithClock(func() time.Time { return testNow }))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
		short   int
	)
	for _, owner := range owners {
		wg.Add(1)
		go func(owner int64) {
			defer wg.Done()
			o, _, err := svc.CreateOrder(ctx, createInput(owner, ""))
			mu.Lock()
			defer mu.Unlock()
			var stockErr *StockError
			switch {
			case err == nil:
				numbers[o.OrderNumber] = true
			case errors.As(err, &stockErr):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(owner)
	}
	wg.Wait()

	assert.Len(t, numbers, 3)
	assert.Equal(t, buyers-3, short)
	for n := 1; n <= 3; n++ {
		assert.True(t, numbers[fmt.Sprintf("ORD-20250314-%04d", n)])
	}
	assert.Equal(t, "1", pgStock(t, pool, product).String())

	var last int
	require.NoError(t, pool.QueryRow(ctx, `SELECT last_seq FROM order_number_sequences WHERE day = '2025-03-14'`).Scan(&last))
	assert.Equal(t, 3, last)
}
