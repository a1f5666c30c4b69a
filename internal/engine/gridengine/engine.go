// Package gridengine runs the grid strategy control loop against a single exchange pair
package gridengine

import (
	"context"
	"errors"
	"fmt"
	"grid_trader/internal/core"
	"grid_trader/internal/trading/grid"
	apperrors "grid_trader/pkg/errors"
	"grid_trader/pkg/telemetry"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures optional collaborators
type Option func(*GridEngine)

// WithJournal records every observed fill
func WithJournal(j core.IJournal) Option {
	return func(e *GridEngine) { e.journal = j }
}

// WithAlerter sends operator notifications for fills and fatal stops
func WithAlerter(a core.IAlerter) Option {
	return func(e *GridEngine) { e.alerter = a }
}

// TickReport summarises one iteration
type TickReport struct {
	Iteration   int64
	Price       decimal.Decimal
	OrderSize   decimal.Decimal
	Transitions []grid.Transition
	Placed      []grid.RestingOrder
	Errors      []error
}

// GridEngine owns the order ledger and the investment state. Run is the only writer of both;
// other goroutines observe the engine through Snapshot.
type GridEngine struct {
	cfg       Config
	exchange  core.IExchange
	spec      *grid.Spec
	ledger    *grid.OrderLedger
	inventory *grid.InventoryTracker
	gate      grid.ProfitabilityGate
	fees      grid.FeeModel
	journal   core.IJournal
	alerter   core.IAlerter
	logger    core.ILogger

	iteration int64
	completed int64
	snapshot  atomic.Pointer[Snapshot]

	// OTel
	tracer            trace.Tracer
	tickCounter       metric.Int64Counter
	tickErrorCounter  metric.Int64Counter
	placedCounter     metric.Int64Counter
	filledCounter     metric.Int64Counter
	placeFailCounter  metric.Int64Counter
	tickLatency       metric.Float64Histogram
	metrics           *telemetry.MetricsHolder
	metricsAttributes metric.MeasurementOption
}

// New creates an engine over the given grid. The ledger starts with every level Empty.
func New(
	cfg Config,
	spec *grid.Spec,
	exchange core.IExchange,
	inventory *grid.InventoryTracker,
	fees grid.FeeModel,
	logger core.ILogger,
	opts ...Option,
) *GridEngine {
	cfg = cfg.withDefaults()
	log := logger.WithField("component", "grid_engine")

	tracer := telemetry.GetTracer("grid-engine")
	meter := telemetry.GetMeter("grid-engine")

	tickCounter, _ := meter.Int64Counter("grid_ticks_total",
		metric.WithDescription("Total number of engine ticks"))
	tickErrorCounter, _ := meter.Int64Counter("grid_tick_errors_total",
		metric.WithDescription("Total number of recoverable errors seen during ticks"))
	placedCounter, _ := meter.Int64Counter("grid_orders_placed_total",
		metric.WithDescription("Total number of grid orders accepted by the exchange"))
	filledCounter, _ := meter.Int64Counter("grid_orders_filled_total",
		metric.WithDescription("Total number of grid orders observed filled"))
	placeFailCounter, _ := meter.Int64Counter("grid_placement_failures_total",
		metric.WithDescription("Total number of failed order placements"))
	tickLatency, _ := meter.Float64Histogram("grid_tick_latency_seconds",
		metric.WithDescription("Duration of one engine tick in seconds"))

	e := &GridEngine{
		cfg:               cfg,
		exchange:          exchange,
		spec:              spec,
		ledger:            grid.NewOrderLedger(cfg.Pair, spec.Levels(), exchange, logger),
		inventory:         inventory,
		fees:              fees,
		logger:            log,
		tracer:            tracer,
		tickCounter:       tickCounter,
		tickErrorCounter:  tickErrorCounter,
		placedCounter:     placedCounter,
		filledCounter:     filledCounter,
		placeFailCounter:  placeFailCounter,
		tickLatency:       tickLatency,
		metrics:           telemetry.GetGlobalMetrics(),
		metricsAttributes: metric.WithAttributes(attribute.String("pair", cfg.Pair)),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.publish(decimal.Zero, decimal.Zero, grid.Funds{Base: decimal.Zero, Quote: decimal.Zero}, nil)
	return e
}

// Ledger exposes the order ledger for inspection
func (e *GridEngine) Ledger() *grid.OrderLedger {
	return e.ledger
}

// Fees returns the fee model in use
func (e *GridEngine) Fees() grid.FeeModel {
	return e.fees
}

// Snapshot returns the last published state. It is safe to call from any goroutine.
func (e *GridEngine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Run ticks until ctx is cancelled or a fatal error occurs.
// Recoverable errors are logged and the loop continues after one interval.
func (e *GridEngine) Run(ctx context.Context) error {
	e.logger.Info("Starting grid engine",
		"exchange", e.exchange.GetName(),
		"pair", e.cfg.Pair,
		"levels", len(e.spec.Levels()),
		"band_size", e.spec.BandSize(),
		"interval", e.cfg.TickInterval,
		"sell_accounting", e.cfg.SellAccounting)

	if e.cfg.FetchFees {
		e.refreshFees(ctx)
	}
	defer e.shutdown(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Grid engine stopping", "iterations", e.iteration)
			return nil
		case <-timer.C:
		}

		_, err := e.Tick(ctx)
		if err != nil {
			if apperrors.IsFatal(err) {
				e.logger.Error("Fatal exchange error, stopping grid engine", "error", err)
				e.notify(ctx, "Grid engine stopped", err.Error(), map[string]string{"pair": e.cfg.Pair})
				return fmt.Errorf("grid engine stopped: %w", err)
			}
			if ctx.Err() == nil {
				e.logger.Warn("Tick skipped", "iteration", e.iteration, "error", err)
			}
		}

		timer.Reset(e.cfg.TickInterval)
	}
}

// Tick runs one iteration. It returns an error when the tick was skipped or a fatal
// error was seen; per-level failures are collected in the report and do not stop the tick.
func (e *GridEngine) Tick(ctx context.Context) (*TickReport, error) {
	start := time.Now()
	e.iteration++
	report := &TickReport{Iteration: e.iteration}

	ctx, span := e.tracer.Start(ctx, "GridEngine.Tick",
		trace.WithAttributes(
			attribute.String("pair", e.cfg.Pair),
			attribute.Int64("iteration", e.iteration),
		),
	)
	defer span.End()
	defer func() {
		e.tickCounter.Add(ctx, 1, e.metricsAttributes)
		e.tickLatency.Record(ctx, time.Since(start).Seconds(), e.metricsAttributes)
	}()

	e.logger.Info(fmt.Sprintf("Iteration %d started", e.iteration))

	// 1. Price
	price, err := e.fetchPrice(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote unavailable")
		e.tickErrorCounter.Add(ctx, 1, e.metricsAttributes)
		e.publishError(err)
		return report, err
	}
	report.Price = price
	span.SetAttributes(attribute.String("price", price.String()))

	// 2. Reconcile before any placement
	transitions, recErrs := e.ledger.Reconcile(ctx)
	report.Transitions = transitions
	report.Errors = append(report.Errors, recErrs...)
	for _, err := range recErrs {
		e.logger.Warn("Reconciliation failed", "error", err)
	}
	for _, t := range transitions {
		if err := e.applyTransition(ctx, t); err != nil {
			report.Errors = append(report.Errors, err)
		}
	}

	// 3. Balances and size
	funds, err := e.inventory.Refresh(ctx)
	if err != nil {
		e.logger.Warn("Balances unavailable, treating as zero for this tick", "error", err)
		report.Errors = append(report.Errors, err)
	}
	qty := e.inventory.ComputeOrderSize(funds, price, e.spec.LevelCount())
	report.OrderSize = qty
	e.logger.Debug("Order size computed", "qty", qty, "base", funds.Base, "quote", funds.Quote, "price", price)

	// 4. Placements
	working := funds
	for _, level := range e.spec.Levels() {
		if !e.ledger.IsEmpty(level) {
			continue
		}
		placed, err := e.evaluateLevel(ctx, level, price, qty, &working)
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		if placed != nil {
			report.Placed = append(report.Placed, *placed)
		}
	}

	// 5. Publish
	var tickErr error
	for _, err := range report.Errors {
		if apperrors.IsFatal(err) {
			tickErr = err
			break
		}
	}
	if len(report.Errors) > 0 {
		e.tickErrorCounter.Add(ctx, int64(len(report.Errors)), e.metricsAttributes)
		span.SetStatus(codes.Error, fmt.Sprintf("%d errors", len(report.Errors)))
	}

	e.publish(price, qty, funds, errors.Join(report.Errors...))
	e.logger.Info(fmt.Sprintf("Iteration %d completed", e.iteration),
		"price", price,
		"placed", len(report.Placed),
		"transitions", len(report.Transitions),
		"errors", len(report.Errors),
		"committed", e.inventory.Investment().Committed(),
		"duration", time.Since(start))

	return report, tickErr
}

// CancelAll cancels every resting order and applies the capital effects
func (e *GridEngine) CancelAll(ctx context.Context) []error {
	transitions, errs := e.ledger.CancelAll(ctx)
	for _, t := range transitions {
		if err := e.applyTransition(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	e.logger.Info("Cancelled resting orders", "cancelled", len(transitions), "errors", len(errs))
	return errs
}

func (e *GridEngine) fetchPrice(ctx context.Context) (decimal.Decimal, error) {
	ticker, err := e.exchange.FetchTicker(ctx, e.cfg.Pair)
	if err != nil {
		return decimal.Zero, &QuoteUnavailableError{Pair: e.cfg.Pair, Err: err}
	}
	if ticker == nil || !ticker.Last.IsPositive() {
		return decimal.Zero, &QuoteUnavailableError{Pair: e.cfg.Pair, Err: errors.New("no positive last price")}
	}
	return ticker.Last, nil
}

// evaluateLevel decides the candidate order for an empty level and places it when every check passes.
// A nil order with a nil error means the level was skipped.
func (e *GridEngine) evaluateLevel(ctx context.Context, level grid.Level, price, qty decimal.Decimal, working *grid.Funds) (*grid.RestingOrder, error) {
	var (
		side core.OrderSide
		role core.Role
	)
	switch level.Price.Cmp(price) {
	case -1:
		if !e.spec.InSellBand(level) {
			return nil, nil
		}
		side, role = core.SideSell, core.RoleTaker
	case 1:
		if !e.spec.InBuyBand(level) {
			return nil, nil
		}
		side, role = core.SideBuy, core.RoleMaker
	default:
		return nil, nil
	}

	edge, ok := e.gate.Evaluate(level.Price, price, qty, role, e.fees)
	if !ok {
		e.logger.Debug("Level rejected by profitability gate", "price", level.Price, "side", side, "net", edge.Net)
		return nil, nil
	}

	notional := qty.Mul(level.Price)
	switch side {
	case core.SideSell:
		if working.Base.LessThan(qty) {
			e.logger.Debug("Insufficient base balance for sell", "price", level.Price, "qty", qty, "base", working.Base)
			return nil, nil
		}
	case core.SideBuy:
		if e.inventory.WouldExceedCap(notional) {
			e.logger.Debug("Buy would exceed investment cap", "price", level.Price, "notional", notional,
				"committed", e.inventory.Investment().Committed(), "cap", e.inventory.Investment().Cap())
			return nil, nil
		}
		if working.Quote.LessThan(notional) {
			e.logger.Debug("Insufficient quote balance for buy", "price", level.Price, "notional", notional, "quote", working.Quote)
			return nil, nil
		}
	}

	order, err := e.ledger.Place(ctx, level, side, qty, role)
	if err != nil {
		e.placeFailCounter.Add(ctx, 1, e.metricsAttributes)
		e.logger.Warn("Order placement failed", "price", level.Price, "side", side, "error", err)
		return nil, err
	}
	e.placedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pair", e.cfg.Pair),
		attribute.String("side", string(side)),
	))

	investment := e.inventory.Investment()
	switch side {
	case core.SideBuy:
		working.Quote = working.Quote.Sub(notional)
		investment.Commit(notional)
	case core.SideSell:
		working.Base = working.Base.Sub(qty)
		if e.cfg.SellAccounting == SellAccountingPlacement {
			investment.Release(notional)
		}
	}

	e.logger.Info("Grid order placed",
		"side", side, "price", level.Price, "qty", qty, "role", role,
		"net_edge", edge.Net, "committed", investment.Committed())
	return order, nil
}

// applyTransition updates capital for an order that left the ledger and records fills
func (e *GridEngine) applyTransition(ctx context.Context, t grid.Transition) error {
	investment := e.inventory.Investment()
	notional := t.Order.Notional()

	switch t.Outcome {
	case grid.OutcomeFilled:
		if t.Order.Side == core.SideSell && e.cfg.SellAccounting == SellAccountingFill {
			investment.Release(notional)
		}
		e.completed++
		e.filledCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pair", e.cfg.Pair),
			attribute.String("side", string(t.Order.Side)),
		))
		return e.recordFill(ctx, t)
	case grid.OutcomeCancelled, grid.OutcomeRejected:
		// Only the untraded part of a buy frees capital. A sell placed under placement
		// accounting keeps its release; under fill accounting its traded part is released now.
		executed := t.Executed()
		switch {
		case t.Order.Side == core.SideBuy:
			investment.Release(t.UnexecutedNotional())
		case e.cfg.SellAccounting == SellAccountingFill && executed.IsPositive():
			investment.Release(executed.Mul(t.Order.Price()))
		}
		e.logger.Info("Grid order removed", "side", t.Order.Side, "price", t.Order.Price(), "outcome", t.Outcome, "status", t.Status, "executed", executed)
		if executed.IsPositive() {
			return e.recordFill(ctx, t)
		}
	}
	return nil
}

func (e *GridEngine) recordFill(ctx context.Context, t grid.Transition) error {
	qty := t.Executed()
	if !qty.IsPositive() {
		qty = t.Order.Quantity
	}
	fee := qty.Mul(t.Order.Price()).Mul(e.fees.Rate(t.Order.Role))

	e.logger.Info("Grid order filled", "side", t.Order.Side, "price", t.Order.Price(), "qty", qty, "fee", fee, "order_id", t.Order.OrderID)
	e.notify(ctx, "Grid order filled", fmt.Sprintf("%s %s %s @ %s", t.Order.Side, qty, e.cfg.Pair, t.Order.Price()), map[string]string{
		"order_id": t.Order.OrderID,
		"role":     string(t.Order.Role),
	})

	if e.journal == nil {
		return nil
	}
	err := e.journal.RecordTrade(ctx, core.TradeRecord{
		OrderID:  t.Order.OrderID,
		Pair:     e.cfg.Pair,
		Side:     t.Order.Side,
		Price:    t.Order.Price(),
		Quantity: qty,
		Role:     t.Order.Role,
		Fee:      fee,
		PlacedAt: t.Order.PlacedAt,
		FilledAt: t.At,
	})
	if err != nil {
		e.logger.Warn("Failed to journal trade", "order_id", t.Order.OrderID, "error", err)
		return fmt.Errorf("journal trade %s: %w", t.Order.OrderID, err)
	}
	return nil
}

func (e *GridEngine) refreshFees(ctx context.Context) {
	schedule, err := e.exchange.FetchTradingFee(ctx, e.cfg.Pair)
	if err != nil || schedule == nil {
		e.logger.Warn("Using configured fee rates", "maker", e.fees.MakerRate, "taker", e.fees.TakerRate, "error", err)
		return
	}
	e.fees = grid.FromSchedule(schedule)
	e.logger.Info("Fee rates loaded from exchange", "maker", e.fees.MakerRate, "taker", e.fees.TakerRate)
}

func (e *GridEngine) shutdown(ctx context.Context) {
	if !e.cfg.CancelOnExit || e.ledger.RestingCount() == 0 {
		return
	}
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
	defer cancel()

	for _, err := range e.CancelAll(cancelCtx) {
		e.logger.Error("Failed to cancel order on exit", "error", err)
	}
	prev := e.Snapshot()
	e.publish(prev.LastPrice, prev.OrderSize, grid.Funds{Base: prev.BaseBalance, Quote: prev.QuoteBalance}, nil)
}

func (e *GridEngine) notify(ctx context.Context, title, message string, fields map[string]string) {
	if e.alerter == nil {
		return
	}
	e.alerter.Notify(ctx, title, message, fields)
}

func (e *GridEngine) publish(price, qty decimal.Decimal, funds grid.Funds, tickErr error) {
	investment := e.inventory.Investment()
	resting := e.ledger.RestingCount()

	snap := &Snapshot{
		Exchange:        e.exchange.GetName(),
		Pair:            e.cfg.Pair,
		Iteration:       e.iteration,
		LastPrice:       price,
		OrderSize:       qty,
		BaseBalance:     funds.Base,
		QuoteBalance:    funds.Quote,
		Committed:       investment.Committed(),
		InvestmentCap:   investment.Cap(),
		RestingOrders:   resting,
		CompletedTrades: e.completed,
		Levels:          buildLevelViews(e.spec.Levels(), e.ledger.Snapshot()),
		UpdatedAt:       time.Now(),
	}
	if tickErr != nil {
		snap.LastError = tickErr.Error()
	}
	e.snapshot.Store(snap)

	committed, _ := snap.Committed.Float64()
	last, _ := price.Float64()
	e.metrics.SetCommittedCapital(e.cfg.Pair, committed)
	e.metrics.SetRestingOrders(e.cfg.Pair, int64(resting))
	e.metrics.SetLastPrice(e.cfg.Pair, last)
	e.metrics.SetCompletedTrades(e.cfg.Pair, e.completed)
}

// publishError keeps the previous snapshot and only refreshes its error and iteration
func (e *GridEngine) publishError(err error) {
	prev := e.snapshot.Load()
	next := *prev
	next.Iteration = e.iteration
	next.LastError = err.Error()
	next.UpdatedAt = time.Now()
	e.snapshot.Store(&next)
}
