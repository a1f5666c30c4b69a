// Package core defines the core interfaces for the grid trader
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange is the capability the grid engine needs from a spot exchange.
// Implementations own authentication, nonces, transport and rate limiting.
type IExchange interface {
	// Identity
	GetName() string

	// Market data
	FetchTicker(ctx context.Context, pair string) (*Ticker, error)

	// Account operations
	FetchBalance(ctx context.Context) (*Balances, error)
	FetchTradingFee(ctx context.Context, pair string) (*FeeSchedule, error)

	// Order operations
	CreateLimitOrder(ctx context.Context, req *PlaceOrderRequest) (*Order, error)
	FetchOrder(ctx context.Context, orderID string, pair string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string, pair string) error
}

// IJournal records completed grid trades
type IJournal interface {
	RecordTrade(ctx context.Context, trade TradeRecord) error
	RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error)
	Close() error
}

// IAlerter delivers operator notifications
type IAlerter interface {
	Notify(ctx context.Context, title, message string, fields map[string]string)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// FeeSchedule is the maker/taker fee pair reported by an exchange, as fractions
type FeeSchedule struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}
