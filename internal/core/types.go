package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of an order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Role determines which fee rate applies to an order
type Role string

const (
	RoleMaker Role = "MAKER"
	RoleTaker Role = "TAKER"
)

// OrderStatus is the normalized exchange-reported status of an order
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusClosed    OrderStatus = "CLOSED" // fully executed
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further fills can happen
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusClosed, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Ticker is the latest trade price of a pair
type Ticker struct {
	Pair string
	Last decimal.Decimal
	Time time.Time
}

// Balances holds free amounts per currency
type Balances struct {
	Free map[string]decimal.Decimal
}

// FreeOf returns the free amount of a currency, zero if absent
func (b *Balances) FreeOf(currency string) decimal.Decimal {
	if b == nil || b.Free == nil {
		return decimal.Zero
	}
	if v, ok := b.Free[strings.ToUpper(currency)]; ok {
		return v
	}
	return decimal.Zero
}

// PlaceOrderRequest describes a limit order to submit
type PlaceOrderRequest struct {
	Pair          string
	Side          OrderSide
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string
}

// Order is the normalized view of an exchange order
type Order struct {
	ID            string
	ClientOrderID string
	Pair          string
	Side          OrderSide
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ExecutedQty   decimal.Decimal
	Status        OrderStatus
	UpdateTime    time.Time
}

// TradeRecord is a completed grid trade as written to the journal
type TradeRecord struct {
	OrderID  string
	Pair     string
	Side     OrderSide
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Role     Role
	Fee      decimal.Decimal
	PlacedAt time.Time
	FilledAt time.Time
}

// SplitPair splits "BASE/QUOTE" into its two currencies
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid pair %q: expected BASE/QUOTE", pair)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}
