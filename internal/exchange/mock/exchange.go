// Package mock provides an in-memory spot exchange used by tests and paper trading
package mock

import (
	"context"
	"fmt"
	"grid_trader/internal/core"
	apperrors "grid_trader/pkg/errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Operation names accepted by SetError
const (
	OpFetchTicker  = "fetch_ticker"
	OpFetchBalance = "fetch_balance"
	OpCreateOrder  = "create_order"
	OpFetchOrder   = "fetch_order"
	OpCancelOrder  = "cancel_order"
	OpFetchFee     = "fetch_fee"
)

type mockOrder struct {
	order core.Order
	base  string
	quote string
}

// MockExchange implements core.IExchange in memory.
// Placing an order moves funds into a hold, filling settles the hold, cancelling returns it.
type MockExchange struct {
	name string

	mu             sync.Mutex
	prices         map[string]decimal.Decimal
	free           map[string]decimal.Decimal
	orders         map[string]*mockOrder
	clientOrderMap map[string]string
	orderIDCounter int64
	fees           *core.FeeSchedule
	autoMatch      bool

	// errors returned by an operation until cleared; oneShot errors are consumed on first use
	errs    map[string]error
	oneShot map[string]error

	calls map[string]int
}

// NewMockExchange creates an empty exchange
func NewMockExchange(name string) *MockExchange {
	return &MockExchange{
		name:           name,
		prices:         make(map[string]decimal.Decimal),
		free:           make(map[string]decimal.Decimal),
		orders:         make(map[string]*mockOrder),
		clientOrderMap: make(map[string]string),
		orderIDCounter: 1000,
		errs:           make(map[string]error),
		oneShot:        make(map[string]error),
		calls:          make(map[string]int),
	}
}

// SetPrice sets the last traded price of pair
func (m *MockExchange) SetPrice(pair string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[strings.ToUpper(pair)] = price
}

// SetBalance sets the free amount of a currency
func (m *MockExchange) SetBalance(currency string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free[strings.ToUpper(currency)] = amount
}

// SetFeeSchedule sets the rates returned by FetchTradingFee
func (m *MockExchange) SetFeeSchedule(fees *core.FeeSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees = fees
}

// SetAutoMatch makes FetchTicker fill every open order the price has crossed
func (m *MockExchange) SetAutoMatch(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoMatch = enabled
}

// SetError makes op fail with err until cleared with a nil err
func (m *MockExchange) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// FailNext makes the next call of op fail with err
func (m *MockExchange) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneShot[op] = err
}

// Calls returns how many times op was invoked
func (m *MockExchange) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockExchange) GetName() string {
	return m.name
}

// enter records a call and returns the injected error, if any. Caller holds m.mu.
func (m *MockExchange) enter(op string) error {
	m.calls[op]++
	if err, ok := m.oneShot[op]; ok {
		delete(m.oneShot, op)
		return err
	}
	return m.errs[op]
}

func (m *MockExchange) FetchTicker(ctx context.Context, pair string) (*core.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpFetchTicker); err != nil {
		return nil, err
	}
	price, ok := m.prices[strings.ToUpper(pair)]
	if !ok {
		return nil, fmt.Errorf("no price for %s: %w", pair, apperrors.ErrInvalidSymbol)
	}
	if m.autoMatch {
		m.matchLocked(strings.ToUpper(pair), price)
	}
	return &core.Ticker{Pair: pair, Last: price, Time: time.Now()}, nil
}

func (m *MockExchange) FetchBalance(ctx context.Context) (*core.Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpFetchBalance); err != nil {
		return nil, err
	}
	free := make(map[string]decimal.Decimal, len(m.free))
	for k, v := range m.free {
		free[k] = v
	}
	return &core.Balances{Free: free}, nil
}

func (m *MockExchange) FetchTradingFee(ctx context.Context, pair string) (*core.FeeSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpFetchFee); err != nil {
		return nil, err
	}
	if m.fees == nil {
		return nil, apperrors.ErrUnsupported
	}
	fees := *m.fees
	return &fees, nil
}

// CreateLimitOrder places an order. A repeated client order id returns the existing order.
func (m *MockExchange) CreateLimitOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpCreateOrder); err != nil {
		return nil, err
	}

	if req.ClientOrderID != "" {
		if existingID, exists := m.clientOrderMap[req.ClientOrderID]; exists {
			o := m.orders[existingID].order
			return &o, nil
		}
	}

	base, quote, err := core.SplitPair(req.Pair)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidSymbol)
	}
	if !req.Quantity.IsPositive() || !req.Price.IsPositive() {
		return nil, apperrors.ErrInvalidOrderParam
	}

	// Lock the funds the order needs
	switch req.Side {
	case core.SideBuy:
		cost := req.Quantity.Mul(req.Price)
		if m.free[quote].LessThan(cost) {
			return nil, fmt.Errorf("need %s %s: %w", cost, quote, apperrors.ErrInsufficientFunds)
		}
		m.free[quote] = m.free[quote].Sub(cost)
	case core.SideSell:
		if m.free[base].LessThan(req.Quantity) {
			return nil, fmt.Errorf("need %s %s: %w", req.Quantity, base, apperrors.ErrInsufficientFunds)
		}
		m.free[base] = m.free[base].Sub(req.Quantity)
	default:
		return nil, apperrors.ErrInvalidOrderParam
	}

	m.orderIDCounter++
	id := strconv.FormatInt(m.orderIDCounter, 10)
	order := core.Order{
		ID:            id,
		ClientOrderID: req.ClientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		ExecutedQty:   decimal.Zero,
		Status:        core.OrderStatusOpen,
		UpdateTime:    time.Now(),
	}
	m.orders[id] = &mockOrder{order: order, base: base, quote: quote}
	if req.ClientOrderID != "" {
		m.clientOrderMap[req.ClientOrderID] = id
	}

	return &order, nil
}

func (m *MockExchange) FetchOrder(ctx context.Context, orderID string, pair string) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpFetchOrder); err != nil {
		return nil, err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	order := o.order
	return &order, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, orderID string, pair string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpCancelOrder); err != nil {
		return err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	if o.order.Status.IsTerminal() {
		return fmt.Errorf("cannot cancel order in status %s: %w", o.order.Status, apperrors.ErrOrderRejected)
	}
	m.finishLocked(o, core.OrderStatusCancelled)
	return nil
}

// FillOrder fully executes an open order and settles its funds
func (m *MockExchange) FillOrder(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	if o.order.Status.IsTerminal() {
		return fmt.Errorf("order %s already %s", orderID, o.order.Status)
	}
	m.fillLocked(o)
	return nil
}

// PartialFill executes qty of an open order and settles that part of its hold. The order stays open.
func (m *MockExchange) PartialFill(orderID string, qty decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	if o.order.Status.IsTerminal() {
		return fmt.Errorf("order %s already %s", orderID, o.order.Status)
	}
	if !qty.IsPositive() || o.order.ExecutedQty.Add(qty).GreaterThanOrEqual(o.order.Quantity) {
		return fmt.Errorf("partial fill of %s must be positive and below the remaining quantity", qty)
	}

	if o.order.Side == core.SideBuy {
		m.free[o.base] = m.free[o.base].Add(qty)
	} else {
		m.free[o.quote] = m.free[o.quote].Add(qty.Mul(o.order.Price))
	}
	o.order.ExecutedQty = o.order.ExecutedQty.Add(qty)
	o.order.UpdateTime = time.Now()
	return nil
}

// SetOrderStatus forces a terminal non-fill status, returning held funds
func (m *MockExchange) SetOrderStatus(orderID string, status core.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	if status == core.OrderStatusClosed {
		m.fillLocked(o)
		return nil
	}
	m.finishLocked(o, status)
	return nil
}

// ForgetOrder drops an order as if the exchange had lost it
func (m *MockExchange) ForgetOrder(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, orderID)
}

// OpenOrders returns open orders sorted by price
func (m *MockExchange) OpenOrders() []core.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.Order
	for _, o := range m.orders {
		if o.order.Status == core.OrderStatusOpen {
			out = append(out, o.order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// Balance returns the free amount of a currency
func (m *MockExchange) Balance(currency string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.free[strings.ToUpper(currency)]
}

// matchLocked fills open orders the price has crossed: buys at or above it, sells at or below it
func (m *MockExchange) matchLocked(pair string, price decimal.Decimal) {
	for _, o := range m.orders {
		if o.order.Status != core.OrderStatusOpen || strings.ToUpper(o.order.Pair) != pair {
			continue
		}
		crossed := (o.order.Side == core.SideBuy && o.order.Price.GreaterThanOrEqual(price)) ||
			(o.order.Side == core.SideSell && o.order.Price.LessThanOrEqual(price))
		if crossed {
			m.fillLocked(o)
		}
	}
}

func (m *MockExchange) fillLocked(o *mockOrder) {
	remaining := o.order.Quantity.Sub(o.order.ExecutedQty)
	if o.order.Side == core.SideBuy {
		m.free[o.base] = m.free[o.base].Add(remaining)
	} else {
		m.free[o.quote] = m.free[o.quote].Add(remaining.Mul(o.order.Price))
	}
	o.order.ExecutedQty = o.order.Quantity
	o.order.Status = core.OrderStatusClosed
	o.order.UpdateTime = time.Now()
}

func (m *MockExchange) finishLocked(o *mockOrder, status core.OrderStatus) {
	if o.order.Status == core.OrderStatusOpen {
		remaining := o.order.Quantity.Sub(o.order.ExecutedQty)
		if o.order.Side == core.SideBuy {
			m.free[o.quote] = m.free[o.quote].Add(remaining.Mul(o.order.Price))
		} else {
			m.free[o.base] = m.free[o.base].Add(remaining)
		}
	}
	o.order.Status = status
	o.order.UpdateTime = time.Now()
}
