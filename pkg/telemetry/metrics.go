package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricCommittedCapital = "grid_committed_capital"
	MetricRestingOrders    = "grid_resting_orders"
	MetricLastPrice        = "grid_last_price"
	MetricCompletedTrades  = "grid_completed_trades"
)

// MetricsHolder keeps the state behind the observable gauges.
// The engine publishes values after every tick; the exporter reads them on scrape.
type MetricsHolder struct {
	CommittedCapital metric.Float64ObservableGauge
	RestingOrders    metric.Int64ObservableGauge
	LastPrice        metric.Float64ObservableGauge
	CompletedTrades  metric.Int64ObservableGauge

	mu           sync.RWMutex
	committedMap map[string]float64
	restingMap   map[string]int64
	priceMap     map[string]float64
	completedMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			committedMap: make(map[string]float64),
			restingMap:   make(map[string]int64),
			priceMap:     make(map[string]float64),
			completedMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics registers the observable instruments on meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.CommittedCapital, err = meter.Float64ObservableGauge(MetricCommittedCapital,
		metric.WithDescription("Quote capital committed to open buy orders"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pair, val := range m.committedMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("pair", pair)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.RestingOrders, err = meter.Int64ObservableGauge(MetricRestingOrders,
		metric.WithDescription("Number of grid levels holding a resting order"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pair, val := range m.restingMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("pair", pair)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.LastPrice, err = meter.Float64ObservableGauge(MetricLastPrice,
		metric.WithDescription("Last traded price seen by the engine"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pair, val := range m.priceMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("pair", pair)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CompletedTrades, err = meter.Int64ObservableGauge(MetricCompletedTrades,
		metric.WithDescription("Grid trades completed since start"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pair, val := range m.completedMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("pair", pair)))
			}
			return nil
		}))
	return err
}

// Helpers to update observable state

func (m *MetricsHolder) SetCommittedCapital(pair string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committedMap[pair] = value
}

func (m *MetricsHolder) SetRestingOrders(pair string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restingMap[pair] = count
}

func (m *MetricsHolder) SetLastPrice(pair string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceMap[pair] = price
}

func (m *MetricsHolder) SetCompletedTrades(pair string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completedMap[pair] = count
}
