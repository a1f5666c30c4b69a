package grid

import (
	"errors"
	"fmt"
	"grid_trader/internal/core"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRange is matched by every *InvalidRangeError
	ErrInvalidRange = errors.New("invalid grid range")
	// ErrBalanceUnavailable is matched by every *BalanceUnavailableError
	ErrBalanceUnavailable = errors.New("balance unavailable")
	// ErrPlacement is matched by every *PlacementError
	ErrPlacement = errors.New("order placement failed")
	// ErrReconciliation is matched by every *ReconciliationError
	ErrReconciliation = errors.New("order reconciliation failed")
	// ErrLevelOccupied is returned when placing on a level that is not empty
	ErrLevelOccupied = errors.New("grid level already holds an order")
	// ErrUnknownLevel is returned for a price that is not one of the grid's levels
	ErrUnknownLevel = errors.New("price is not a grid level")
)

// InvalidRangeError reports a grid that cannot be built
type InvalidRangeError struct {
	Lower  decimal.Decimal
	Upper  decimal.Decimal
	Levels int
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid grid range [%s, %s] with %d levels: %s", e.Lower, e.Upper, e.Levels, e.Reason)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// BalanceUnavailableError reports a failed balance query for one currency
type BalanceUnavailableError struct {
	Currency string
	Err      error
}

func (e *BalanceUnavailableError) Error() string {
	return fmt.Sprintf("balance unavailable for %s: %v", e.Currency, e.Err)
}

func (e *BalanceUnavailableError) Unwrap() []error { return []error{ErrBalanceUnavailable, e.Err} }

// PlacementError reports a failed order placement at a level
type PlacementError struct {
	Level Level
	Side  core.OrderSide
	Err   error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("place %s at %s: %v", e.Side, e.Level.Price, e.Err)
}

func (e *PlacementError) Unwrap() []error { return []error{ErrPlacement, e.Err} }

// ReconciliationError reports a failed status query for a resting order
type ReconciliationError struct {
	Level   Level
	OrderID string
	Err     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile order %s at %s: %v", e.OrderID, e.Level.Price, e.Err)
}

func (e *ReconciliationError) Unwrap() []error { return []error{ErrReconciliation, e.Err} }
