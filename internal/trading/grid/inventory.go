package grid

import (
	"context"
	"fmt"
	"grid_trader/internal/core"
	"grid_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// InvestmentState tracks quote capital committed to open buy orders.
// It is owned by the engine loop and is not safe for concurrent use.
type InvestmentState struct {
	committed decimal.Decimal
	cap       decimal.Decimal
}

// NewInvestmentState creates a state with nothing committed
func NewInvestmentState(investmentCap decimal.Decimal) *InvestmentState {
	return &InvestmentState{committed: decimal.Zero, cap: investmentCap}
}

// Committed returns the capital currently committed
func (s *InvestmentState) Committed() decimal.Decimal {
	return s.committed
}

// Cap returns the investment cap
func (s *InvestmentState) Cap() decimal.Decimal {
	return s.cap
}

// Commit adds amount to the committed capital
func (s *InvestmentState) Commit(amount decimal.Decimal) {
	s.committed = s.committed.Add(amount)
}

// Release subtracts amount, never going below zero
func (s *InvestmentState) Release(amount decimal.Decimal) {
	s.committed = decimal.Max(decimal.Zero, s.committed.Sub(amount))
}

// SizingConfig bounds the order size beyond the balance slices
type SizingConfig struct {
	QtyDecimals   int
	MinOrderValue decimal.Decimal
	// MaxOrderSize caps every order in base units. Zero disables the cap.
	MaxOrderSize decimal.Decimal
}

// InventoryTracker reads balances from the exchange and sizes orders against them
type InventoryTracker struct {
	exchange   core.IExchange
	base       string
	quote      string
	investment *InvestmentState
	sizing     SizingConfig
}

// NewInventoryTracker creates a tracker for pair ("BASE/QUOTE")
func NewInventoryTracker(exchange core.IExchange, pair string, investment *InvestmentState, sizing SizingConfig) (*InventoryTracker, error) {
	base, quote, err := core.SplitPair(pair)
	if err != nil {
		return nil, err
	}
	return &InventoryTracker{
		exchange:   exchange,
		base:       base,
		quote:      quote,
		investment: investment,
		sizing:     sizing,
	}, nil
}

// Investment returns the shared investment state
func (t *InventoryTracker) Investment() *InvestmentState {
	return t.investment
}

// Funds is the base and quote amount available during one tick
type Funds struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// Refresh fetches both legs with a single balance query.
// On failure the returned funds are zero and the error is a *BalanceUnavailableError.
func (t *InventoryTracker) Refresh(ctx context.Context) (Funds, error) {
	balances, err := t.exchange.FetchBalance(ctx)
	if err != nil {
		return Funds{Base: decimal.Zero, Quote: decimal.Zero},
			&BalanceUnavailableError{Currency: fmt.Sprintf("%s/%s", t.base, t.quote), Err: err}
	}
	return Funds{Base: balances.FreeOf(t.base), Quote: balances.FreeOf(t.quote)}, nil
}

// AvailableBaseBalance returns the free base currency balance
func (t *InventoryTracker) AvailableBaseBalance(ctx context.Context) (decimal.Decimal, error) {
	return t.available(ctx, t.base)
}

// AvailableQuoteBalance returns the free quote currency balance
func (t *InventoryTracker) AvailableQuoteBalance(ctx context.Context) (decimal.Decimal, error) {
	return t.available(ctx, t.quote)
}

func (t *InventoryTracker) available(ctx context.Context, currency string) (decimal.Decimal, error) {
	balances, err := t.exchange.FetchBalance(ctx)
	if err != nil {
		return decimal.Zero, &BalanceUnavailableError{Currency: currency, Err: err}
	}
	return balances.FreeOf(currency), nil
}

// ComputeOrderSize returns the safer of the base slice and the quote slice converted at currentPrice.
// The result never exceeds either slice; it is zero when nothing can be funded.
func (t *InventoryTracker) ComputeOrderSize(funds Funds, currentPrice decimal.Decimal, levelCount int) decimal.Decimal {
	if levelCount < 1 || !currentPrice.IsPositive() || !funds.Base.IsPositive() || !funds.Quote.IsPositive() {
		return decimal.Zero
	}

	n := decimal.NewFromInt(int64(levelCount))
	baseSlice := funds.Base.Div(n)
	quoteSlice := funds.Quote.Div(n).Div(currentPrice)

	size := tradingutils.MinDecimal(baseSlice, quoteSlice)
	if t.sizing.MaxOrderSize.IsPositive() {
		size = tradingutils.MinDecimal(size, t.sizing.MaxOrderSize)
	}
	size = tradingutils.FloorQuantity(size, t.sizing.QtyDecimals)

	if !size.IsPositive() || size.Mul(currentPrice).LessThan(t.sizing.MinOrderValue) {
		return decimal.Zero
	}
	return size
}

// WouldExceedCap reports whether committing amount more would break the investment cap
func (t *InventoryTracker) WouldExceedCap(amount decimal.Decimal) bool {
	return t.investment.Committed().Add(amount).GreaterThan(t.investment.Cap())
}
