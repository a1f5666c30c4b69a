package gridengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grid_trader/internal/core"
	"grid_trader/internal/exchange/mock"
	"grid_trader/internal/trading/grid"
	apperrors "grid_trader/pkg/errors"
	"grid_trader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pair = "ETH/USD"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingJournal struct {
	mu     sync.Mutex
	trades []core.TradeRecord
}

func (j *recordingJournal) RecordTrade(ctx context.Context, trade core.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, trade)
	return nil
}

func (j *recordingJournal) RecentTrades(ctx context.Context, limit int) ([]core.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]core.TradeRecord(nil), j.trades...), nil
}

func (j *recordingJournal) Close() error { return nil }

type recordingAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *recordingAlerter) Notify(ctx context.Context, title, message string, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
}

type fixture struct {
	engine *GridEngine
	ex     *mock.MockExchange
	spec   *grid.Spec
}

type fixtureOpts struct {
	lower, upper string
	levels       int
	band         int
	cap          string
	price        string
	fees         grid.FeeModel
	cfg          Config
	opts         []Option
}

func newFixture(t *testing.T, o fixtureOpts) fixture {
	t.Helper()
	if o.lower == "" {
		o.lower, o.upper, o.levels = "1850", "2000", 2
	}
	if o.cap == "" {
		o.cap = "100000"
	}
	if o.price == "" {
		o.price = "1900"
	}
	if o.fees == (grid.FeeModel{}) {
		o.fees = grid.DefaultFeeModel()
	}
	o.cfg.Pair = pair
	if o.cfg.TickInterval == 0 {
		o.cfg.TickInterval = 10 * time.Millisecond
	}

	ex := mock.NewMockExchange("paper")
	ex.SetPrice(pair, d(o.price))
	ex.SetBalance("ETH", d("10"))
	ex.SetBalance("USD", d("100000"))

	spec, err := grid.NewSpec(grid.SpecConfig{
		Lower: d(o.lower), Upper: d(o.upper), LevelCount: o.levels, BandSize: o.band, PriceDecimals: 2,
	})
	require.NoError(t, err)

	inventory, err := grid.NewInventoryTracker(ex, pair, grid.NewInvestmentState(d(o.cap)), grid.SizingConfig{QtyDecimals: 4})
	require.NoError(t, err)

	e := New(o.cfg, spec, ex, inventory, o.fees, logging.NewNopLogger(), o.opts...)
	return fixture{engine: e, ex: ex, spec: spec}
}

func sides(orders []grid.RestingOrder) map[string]core.OrderSide {
	out := make(map[string]core.OrderSide, len(orders))
	for _, o := range orders {
		out[o.Level.Price.String()] = o.Side
	}
	return out
}

func TestTick_PlacesAroundCurrentPrice(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	report, err := f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Transitions, "no orders existed, nothing to reconcile")
	assert.Empty(t, report.Errors)
	assert.Equal(t, "5", report.OrderSize.String())

	require.Len(t, report.Placed, 3)
	assert.Equal(t, map[string]core.OrderSide{
		"1850": core.SideSell,
		"1925": core.SideBuy,
		"2000": core.SideBuy,
	}, sides(report.Placed))

	for _, o := range report.Placed {
		if o.Side == core.SideSell {
			assert.Equal(t, core.RoleTaker, o.Role)
		} else {
			assert.Equal(t, core.RoleMaker, o.Role)
		}
	}

	// Buys commit 5*1925 + 5*2000; the sell placed first released against an empty balance
	assert.True(t, f.engine.inventory.Investment().Committed().Equal(d("19625")))
	assert.Len(t, f.ex.OpenOrders(), 3)
}

func TestTick_LevelAtCurrentPriceIsSkipped(t *testing.T) {
	f := newFixture(t, fixtureOpts{price: "1925"})

	report, err := f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]core.OrderSide{
		"1850": core.SideSell,
		"2000": core.SideBuy,
	}, sides(report.Placed))
}

func TestTick_NeverDoubleBooksALevel(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.engine.Tick(ctx)
		require.NoError(t, err)
	}

	open := f.ex.OpenOrders()
	assert.Len(t, open, 3)
	seen := map[string]bool{}
	for _, o := range open {
		key := o.Price.String()
		assert.False(t, seen[key], "level %s holds two orders", key)
		seen[key] = true
	}
	assert.Equal(t, 3, f.ex.Calls(mock.OpCreateOrder))
}

func TestTick_InvestmentCapHolds(t *testing.T) {
	f := newFixture(t, fixtureOpts{cap: "15000"})

	report, err := f.engine.Tick(context.Background())
	require.NoError(t, err)

	// 1925 commits 9625; 2000 would add 10000 and break the cap
	assert.Equal(t, map[string]core.OrderSide{
		"1850": core.SideSell,
		"1925": core.SideBuy,
	}, sides(report.Placed))
	assert.True(t, f.engine.inventory.Investment().Committed().Equal(d("9625")))
}

func TestTick_CapHoldsAcrossPriceMoves(t *testing.T) {
	f := newFixture(t, fixtureOpts{lower: "1800", upper: "2200", levels: 8, cap: "6000"})
	f.ex.SetAutoMatch(true)
	ctx := context.Background()

	prices := []string{"1900", "2010", "1870", "2150", "1820", "1990", "2190", "1805", "2000", "1950"}
	for _, p := range prices {
		f.ex.SetPrice(pair, d(p))
		_, err := f.engine.Tick(ctx)
		require.NoError(t, err)

		investment := f.engine.inventory.Investment()
		assert.True(t, investment.Committed().LessThanOrEqual(investment.Cap()), "committed %s above cap at price %s", investment.Committed(), p)
		assert.False(t, investment.Committed().IsNegative())

		seen := map[string]bool{}
		for _, o := range f.ex.OpenOrders() {
			assert.False(t, seen[o.Price.String()])
			seen[o.Price.String()] = true
		}
	}
}

func TestTick_QuoteUnavailableSkipsTick(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.ex.FailNext(mock.OpFetchTicker, apperrors.ErrNetwork)

	report, err := f.engine.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.False(t, apperrors.IsFatal(err))
	assert.Empty(t, report.Placed)
	assert.Equal(t, 0, f.ex.Calls(mock.OpCreateOrder))
	assert.Equal(t, 0, f.ex.Calls(mock.OpFetchBalance))

	snap := f.engine.Snapshot()
	assert.Equal(t, int64(1), snap.Iteration)
	assert.Contains(t, snap.LastError, "quote unavailable")
}

func TestTick_NonPositivePriceIsUnavailable(t *testing.T) {
	f := newFixture(t, fixtureOpts{price: "0"})
	_, err := f.engine.Tick(context.Background())
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
}

func TestTick_BalanceUnavailablePlacesNothing(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.ex.SetError(mock.OpFetchBalance, apperrors.ErrNetwork)

	report, err := f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Placed)
	assert.True(t, report.OrderSize.IsZero())
	require.Len(t, report.Errors, 1)
	assert.ErrorIs(t, report.Errors[0], grid.ErrBalanceUnavailable)
}

func TestTick_PlacementFailureIsIsolated(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.ex.FailNext(mock.OpCreateOrder, apperrors.ErrInsufficientFunds)

	report, err := f.engine.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.ErrorIs(t, report.Errors[0], grid.ErrPlacement)
	assert.Equal(t, map[string]core.OrderSide{
		"1925": core.SideBuy,
		"2000": core.SideBuy,
	}, sides(report.Placed))

	// The failed level is retried on the next tick
	report, err = f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]core.OrderSide{"1850": core.SideSell}, sides(report.Placed))
}

func TestTick_FeeGateRejectsTakerSells(t *testing.T) {
	f := newFixture(t, fixtureOpts{fees: grid.NewFeeModel(d("0.0016"), d("1"))})

	report, err := f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]core.OrderSide{
		"1925": core.SideBuy,
		"2000": core.SideBuy,
	}, sides(report.Placed))
}

func TestTick_Bands(t *testing.T) {
	// Sells live in the top two levels and buys in the bottom two
	f := newFixture(t, fixtureOpts{lower: "100", upper: "200", levels: 10, band: 2, price: "150"})
	report, err := f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Placed)

	f.ex.SetPrice(pair, d("205"))
	report, err = f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]core.OrderSide{
		"190": core.SideSell,
		"200": core.SideSell,
	}, sides(report.Placed))
}

func TestTick_FillAccountingAndJournal(t *testing.T) {
	journal := &recordingJournal{}
	alerter := &recordingAlerter{}
	f := newFixture(t, fixtureOpts{
		cfg:  Config{SellAccounting: SellAccountingFill},
		opts: []Option{WithJournal(journal), WithAlerter(alerter)},
	})
	ctx := context.Background()

	report, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Placed, 3)
	assert.True(t, f.engine.inventory.Investment().Committed().Equal(d("19625")))

	var sellID string
	for _, o := range report.Placed {
		if o.Side == core.SideSell {
			sellID = o.OrderID
		}
	}
	require.NoError(t, f.ex.FillOrder(sellID))

	report, err = f.engine.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transitions, 1)
	assert.Equal(t, grid.OutcomeFilled, report.Transitions[0].Outcome)

	// The fill released 5*1850; the replacement sell releases nothing until it fills
	assert.True(t, f.engine.inventory.Investment().Committed().Equal(d("10375")))
	assert.Equal(t, map[string]core.OrderSide{"1850": core.SideSell}, sides(report.Placed))

	trades, _ := journal.RecentTrades(ctx, 10)
	require.Len(t, trades, 1)
	assert.Equal(t, sellID, trades[0].OrderID)
	assert.Equal(t, core.RoleTaker, trades[0].Role)
	assert.True(t, trades[0].Fee.Equal(d("24.05")))
	assert.Contains(t, alerter.titles, "Grid order filled")
	assert.Equal(t, int64(1), f.engine.Snapshot().CompletedTrades)
}

func TestTick_CancelledBuyReleasesCapital(t *testing.T) {
	f := newFixture(t, fixtureOpts{cap: "15000"})
	ctx := context.Background()

	report, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	var buyID string
	for _, o := range report.Placed {
		if o.Side == core.SideBuy {
			buyID = o.OrderID
		}
	}
	require.NotEmpty(t, buyID)
	require.NoError(t, f.ex.SetOrderStatus(buyID, core.OrderStatusCancelled))

	report, err = f.engine.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transitions, 1)
	assert.Equal(t, grid.OutcomeCancelled, report.Transitions[0].Outcome)
	// Capital came back, so both buy levels fit under the cap at the new size of 2.5
	assert.Equal(t, map[string]core.OrderSide{
		"1925": core.SideBuy,
		"2000": core.SideBuy,
	}, sides(report.Placed))
	assert.True(t, f.engine.inventory.Investment().Committed().Equal(d("9812.5")))
	assert.True(t, f.engine.inventory.Investment().Committed().LessThanOrEqual(d("15000")))
}

func TestApplyTransition_PartiallyFilledCancellations(t *testing.T) {
	journal := &recordingJournal{}
	f := newFixture(t, fixtureOpts{
		cfg:  Config{SellAccounting: SellAccountingFill},
		opts: []Option{WithJournal(journal)},
	})
	ctx := context.Background()
	investment := f.engine.inventory.Investment()

	report, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	require.True(t, investment.Committed().Equal(d("19625")))

	ids := make(map[string]string)
	for _, o := range report.Placed {
		ids[o.Level.Price.String()] = o.OrderID
	}

	// Buy 5 @ 2000 trades 2 before it is cancelled
	require.NoError(t, f.ex.PartialFill(ids["2000"], d("2")))
	require.NoError(t, f.ex.SetOrderStatus(ids["2000"], core.OrderStatusCancelled))
	// Sell 5 @ 1850 trades 2 before it expires
	require.NoError(t, f.ex.PartialFill(ids["1850"], d("2")))
	require.NoError(t, f.ex.SetOrderStatus(ids["1850"], core.OrderStatusExpired))

	transitions, errs := f.engine.Ledger().Reconcile(ctx)
	require.Empty(t, errs)
	require.Len(t, transitions, 2)
	for _, tr := range transitions {
		assert.Equal(t, grid.OutcomeCancelled, tr.Outcome)
		assert.True(t, tr.Executed().Equal(d("2")))
		require.NoError(t, f.engine.applyTransition(ctx, tr))
	}

	// 19625 - 3*2000 for the untraded buy part - 2*1850 for the traded sell part
	assert.True(t, investment.Committed().Equal(d("9925")), "committed %s", investment.Committed())

	trades, _ := journal.RecentTrades(ctx, 10)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.True(t, tr.Quantity.Equal(d("2")))
	}
}

func TestCancelAll_ReleasesBuys(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, err := f.engine.Tick(ctx)
	require.NoError(t, err)

	errs := f.engine.CancelAll(ctx)
	assert.Empty(t, errs)
	assert.True(t, f.engine.inventory.Investment().Committed().IsZero())
	assert.Equal(t, 0, f.engine.Ledger().RestingCount())
	assert.Empty(t, f.ex.OpenOrders())
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	initial := f.engine.Snapshot()
	require.NotNil(t, initial)
	assert.Equal(t, int64(0), initial.Iteration)
	assert.Len(t, initial.Levels, 3)

	_, err := f.engine.Tick(context.Background())
	require.NoError(t, err)

	snap := f.engine.Snapshot()
	assert.Equal(t, "paper", snap.Exchange)
	assert.Equal(t, int64(1), snap.Iteration)
	assert.Equal(t, 3, snap.RestingOrders)
	assert.True(t, snap.LastPrice.Equal(d("1900")))
	assert.Empty(t, snap.LastError)
	for _, lv := range snap.Levels {
		assert.Equal(t, grid.LevelResting, lv.State)
		assert.NotEmpty(t, lv.OrderID)
	}
	// The earlier snapshot is untouched
	assert.Equal(t, grid.LevelEmpty, initial.Levels[0].State)
}

func TestRun_StopsOnFatalError(t *testing.T) {
	alerter := &recordingAlerter{}
	f := newFixture(t, fixtureOpts{opts: []Option{WithAlerter(alerter)}})
	f.ex.SetError(mock.OpFetchTicker, apperrors.ErrAuthenticationFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := f.engine.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAuthenticationFailed))
	assert.Contains(t, alerter.titles, "Grid engine stopped")
}

func TestRun_ContinuesAfterRecoverableErrors(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.ex.FailNext(mock.OpFetchTicker, apperrors.ErrNetwork)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.engine.Snapshot().RestingOrders == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	// Orders stay on the book without cancel_on_exit
	assert.Len(t, f.ex.OpenOrders(), 3)
}

func TestRun_CancelsOnExit(t *testing.T) {
	f := newFixture(t, fixtureOpts{cfg: Config{CancelOnExit: true}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.engine.Snapshot().RestingOrders == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, f.ex.OpenOrders())
	assert.Equal(t, 0, f.engine.Snapshot().RestingOrders)
}

func TestRun_LoadsFeesFromExchange(t *testing.T) {
	f := newFixture(t, fixtureOpts{cfg: Config{FetchFees: true}})
	f.ex.SetFeeSchedule(&core.FeeSchedule{Maker: d("0.001"), Taker: d("0.002")})
	f.ex.SetError(mock.OpFetchTicker, apperrors.ErrPermissionDenied)

	err := f.engine.Run(context.Background())
	require.Error(t, err)
	assert.True(t, f.engine.Fees().TakerRate.Equal(d("0.002")))
}

func TestParseSellAccounting(t *testing.T) {
	p, err := ParseSellAccounting("")
	require.NoError(t, err)
	assert.Equal(t, SellAccountingPlacement, p)

	p, err = ParseSellAccounting("fill")
	require.NoError(t, err)
	assert.Equal(t, SellAccountingFill, p)

	_, err = ParseSellAccounting("sometimes")
	assert.Error(t, err)
}
