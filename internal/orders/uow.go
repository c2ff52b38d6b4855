package orders

import (
	"context"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/nilasense/order-service/internal/cart"
	"github.com/nilasense/order-service/internal/inventory"
	"github.com/nilasense/order-service/internal/postgres"
)

type pgTx struct {
	orders *Repo
	ledger *inventory.Ledger
	cart   *cart.Reader
}

func (t pgTx) Orders() Store              { return t.orders }
func (t pgTx) Inventory() InventoryLedger { return t.ledger }
func (t pgTx) Cart() CartReader           { return t.cart }

// PgUnitOfWork runs each unit in one READ COMMITTED transaction. Row locks
// (FOR UPDATE) provide the isolation the engine needs.
type PgUnitOfWork struct{ DB postgres.TxBeginner }

func NewUnitOfWork(db postgres.TxBeginner) *PgUnitOfWork { return &PgUnitOfWork{DB: db} }

func (u *PgUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := postgres.WithTx(ctx, u.DB, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{
			orders: &Repo{DB: tx},
			ledger: &inventory.Ledger{DB: tx},
			cart:   &cart.Reader{DB: tx},
		})
	})
	if err != nil && postgres.IsRetryable(err, constraintOrderNumber, constraintIdempotency) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}
