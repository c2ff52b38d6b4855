package orders

import (
	"errors"
	"fmt"
	"github.com/shopspring/decimal"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrBusinessRule = errors.New("business rule violated")
	ErrNotFound     = errors.New("order not found")
	ErrForbidden    = errors.New("access denied")
	ErrConflict     = errors.New("conflicting concurrent update")
)

var (
	ErrEmptyCart         = fmt.Errorf("%w: cart is empty", ErrBusinessRule)
	ErrCannotCancel      = fmt.Errorf("%w: only pending orders can be cancelled", ErrBusinessRule)
	ErrInvalidStatus     = fmt.Errorf("%w: invalid status", ErrBusinessRule)
	ErrInvalidTransition = fmt.Errorf("%w: status transition not allowed", ErrBusinessRule)
	ErrInvalidQuantity   = fmt.Errorf("%w: cart quantity must be positive", ErrBusinessRule)
)

// StockError names the product that cannot cover the requested quantity.
type StockError struct {
	ProductID   int64
	ProductName string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %s kg", e.ProductName, e.Available.String())
}

func (e *StockError) Unwrap() error { return ErrBusinessRule }
