package grid

import (
	"context"
	"errors"
	"fmt"
	"grid_trader/internal/core"
	apperrors "grid_trader/pkg/errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LevelState is the ledger state of one grid level
type LevelState string

const (
	LevelEmpty   LevelState = "EMPTY"
	LevelPending LevelState = "PENDING"
	LevelResting LevelState = "RESTING"
)

// Outcome is the terminal state an order left the ledger in
type Outcome string

const (
	OutcomeFilled    Outcome = "FILLED"
	OutcomeCancelled Outcome = "CANCELLED"
	OutcomeRejected  Outcome = "REJECTED"
)

// maxNotFoundChecks is how many consecutive "order not found" answers free a level
const maxNotFoundChecks = 3

// RestingOrder is an order believed to be live on the exchange at a level
type RestingOrder struct {
	OrderID       string
	ClientOrderID string
	Level         Level
	Side          core.OrderSide
	Quantity      decimal.Decimal
	Role          core.Role
	PlacedAt      time.Time
}

// Price is the limit price, always the level price
func (o RestingOrder) Price() decimal.Decimal {
	return o.Level.Price
}

// Notional is price times quantity in quote currency
func (o RestingOrder) Notional() decimal.Decimal {
	return o.Level.Price.Mul(o.Quantity)
}

// Transition records a resting order leaving the ledger
type Transition struct {
	Order       RestingOrder
	Outcome     Outcome
	Status      core.OrderStatus
	ExecutedQty decimal.Decimal
	At          time.Time
}

// Executed is the executed quantity clamped to [0, order quantity]
func (t Transition) Executed() decimal.Decimal {
	if !t.ExecutedQty.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(t.ExecutedQty, t.Order.Quantity)
}

// UnexecutedNotional is the quote value of the part of the order that never traded
func (t Transition) UnexecutedNotional() decimal.Decimal {
	return t.Order.Quantity.Sub(t.Executed()).Mul(t.Order.Price())
}

// EntrySnapshot is an immutable view of one non-empty level
type EntrySnapshot struct {
	Level Level
	State LevelState
	Order *RestingOrder
}

type ledgerEntry struct {
	level    Level
	state    LevelState
	order    *RestingOrder
	notFound int
}

// OrderLedger maps every grid level to at most one resting order.
// The engine loop is its only writer; the mutex only guards concurrent readers.
type OrderLedger struct {
	pair     string
	exchange core.IExchange
	logger   core.ILogger

	entries map[string]*ledgerEntry
	order   []string
	mu      sync.RWMutex

	now        func() time.Time
	newOrderID func() string
}

// NewOrderLedger creates a ledger with every level Empty
func NewOrderLedger(pair string, levels []Level, exchange core.IExchange, logger core.ILogger) *OrderLedger {
	l := &OrderLedger{
		pair:       pair,
		exchange:   exchange,
		logger:     logger.WithField("component", "order_ledger"),
		entries:    make(map[string]*ledgerEntry, len(levels)),
		order:      make([]string, 0, len(levels)),
		now:        time.Now,
		newOrderID: func() string { return uuid.NewString() },
	}
	for _, lv := range levels {
		key := lv.Key()
		l.entries[key] = &ledgerEntry{level: lv, state: LevelEmpty}
		l.order = append(l.order, key)
	}
	return l
}

// State returns the state of level, Empty for unknown levels
func (l *OrderLedger) State(level Level) LevelState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[level.Key()]; ok {
		return e.state
	}
	return LevelEmpty
}

// IsEmpty reports whether level can accept a new order
func (l *OrderLedger) IsEmpty(level Level) bool {
	return l.State(level) == LevelEmpty
}

// Order returns the resting order at level
func (l *OrderLedger) Order(level Level) (RestingOrder, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[level.Key()]
	if !ok || e.order == nil {
		return RestingOrder{}, false
	}
	return *e.order, true
}

// RestingCount returns the number of levels holding a resting order
func (l *OrderLedger) RestingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.entries {
		if e.state == LevelResting {
			n++
		}
	}
	return n
}

// Place submits a limit order at level. The level is Pending for the duration of the call,
// Resting on success and Empty again on failure.
func (l *OrderLedger) Place(ctx context.Context, level Level, side core.OrderSide, qty decimal.Decimal, role core.Role) (*RestingOrder, error) {
	l.mu.Lock()
	e, ok := l.entries[level.Key()]
	if !ok {
		l.mu.Unlock()
		return nil, &PlacementError{Level: level, Side: side, Err: ErrUnknownLevel}
	}
	if e.state != LevelEmpty {
		l.mu.Unlock()
		return nil, &PlacementError{Level: level, Side: side, Err: ErrLevelOccupied}
	}
	e.state = LevelPending
	l.mu.Unlock()

	clientID := l.newOrderID()
	placed, err := l.exchange.CreateLimitOrder(ctx, &core.PlaceOrderRequest{
		Pair:          l.pair,
		Side:          side,
		Quantity:      qty,
		Price:         level.Price,
		ClientOrderID: clientID,
	})
	if err == nil && placed == nil {
		err = fmt.Errorf("exchange returned no order: %w", apperrors.ErrOrderRejected)
	}
	if err == nil && placed.Status == core.OrderStatusRejected {
		err = fmt.Errorf("order %s: %w", placed.ID, apperrors.ErrOrderRejected)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		e.state = LevelEmpty
		return nil, &PlacementError{Level: level, Side: side, Err: err}
	}

	order := &RestingOrder{
		OrderID:       placed.ID,
		ClientOrderID: clientID,
		Level:         level,
		Side:          side,
		Quantity:      qty,
		Role:          role,
		PlacedAt:      l.now(),
	}
	e.state = LevelResting
	e.order = order
	e.notFound = 0

	l.logger.Info("Order resting", "side", side, "price", level.Price, "qty", qty, "order_id", placed.ID, "role", role)
	return order, nil
}

// Reconcile queries the exchange for every resting order and empties the levels whose orders
// reached a terminal state. Query failures are returned per level and leave that level untouched.
func (l *OrderLedger) Reconcile(ctx context.Context) ([]Transition, []error) {
	var (
		transitions []Transition
		errs        []error
	)

	for _, e := range l.restingEntries() {
		order := *e.order
		status, err := l.exchange.FetchOrder(ctx, order.OrderID, l.pair)
		if err != nil {
			if t, dropped := l.handleMissing(e, err); dropped {
				transitions = append(transitions, t)
				continue
			}
			errs = append(errs, &ReconciliationError{Level: order.Level, OrderID: order.OrderID, Err: err})
			continue
		}

		outcome, terminal := outcomeFor(status.Status)
		if !terminal {
			l.mu.Lock()
			e.notFound = 0
			l.mu.Unlock()
			continue
		}

		t := l.release(e, outcome, status.Status, status.ExecutedQty)
		transitions = append(transitions, t)
	}

	return transitions, errs
}

// CancelAll cancels every resting order on the exchange and empties the cancelled levels
func (l *OrderLedger) CancelAll(ctx context.Context) ([]Transition, []error) {
	var (
		transitions []Transition
		errs        []error
	)

	for _, e := range l.restingEntries() {
		order := *e.order
		if err := l.exchange.CancelOrder(ctx, order.OrderID, l.pair); err != nil {
			errs = append(errs, fmt.Errorf("cancel order %s at %s: %w", order.OrderID, order.Level.Price, err))
			continue
		}
		transitions = append(transitions, l.release(e, OutcomeCancelled, core.OrderStatusCancelled, decimal.Zero))
	}

	return transitions, errs
}

// Snapshot returns a copy of every non-empty level in price order
func (l *OrderLedger) Snapshot() []EntrySnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []EntrySnapshot
	for _, key := range l.order {
		e := l.entries[key]
		if e.state == LevelEmpty {
			continue
		}
		snap := EntrySnapshot{Level: e.level, State: e.state}
		if e.order != nil {
			o := *e.order
			snap.Order = &o
		}
		out = append(out, snap)
	}
	return out
}

func (l *OrderLedger) restingEntries() []*ledgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*ledgerEntry
	for _, key := range l.order {
		if e := l.entries[key]; e.state == LevelResting {
			out = append(out, e)
		}
	}
	return out
}

// handleMissing frees a level whose order the exchange keeps reporting as unknown
func (l *OrderLedger) handleMissing(e *ledgerEntry, err error) (Transition, bool) {
	if !errors.Is(err, apperrors.ErrOrderNotFound) {
		return Transition{}, false
	}

	l.mu.Lock()
	e.notFound++
	count := e.notFound
	l.mu.Unlock()

	if count < maxNotFoundChecks {
		return Transition{}, false
	}

	l.logger.Warn("Clearing zombie level", "price", e.level.Price, "order_id", e.order.OrderID, "checks", count)
	return l.release(e, OutcomeCancelled, core.OrderStatusCancelled, decimal.Zero), true
}

func (l *OrderLedger) release(e *ledgerEntry, outcome Outcome, status core.OrderStatus, executed decimal.Decimal) Transition {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := Transition{
		Order:       *e.order,
		Outcome:     outcome,
		Status:      status,
		ExecutedQty: executed,
		At:          l.now(),
	}
	e.state = LevelEmpty
	e.order = nil
	e.notFound = 0

	l.logger.Info("Order left ledger", "side", t.Order.Side, "price", t.Order.Level.Price, "order_id", t.Order.OrderID, "outcome", outcome)
	return t
}

func outcomeFor(status core.OrderStatus) (Outcome, bool) {
	switch status {
	case core.OrderStatusClosed:
		return OutcomeFilled, true
	case core.OrderStatusCancelled, core.OrderStatusExpired:
		return OutcomeCancelled, true
	case core.OrderStatusRejected:
		return OutcomeRejected, true
	}
	return "", false
}
