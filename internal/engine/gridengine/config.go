package gridengine

import (
	"fmt"
	"time"
)

// SellAccounting selects when a sell releases committed capital
type SellAccounting string

const (
	// SellAccountingPlacement releases q·p as soon as the sell is accepted by the exchange
	SellAccountingPlacement SellAccounting = "placement"
	// SellAccountingFill releases q·p only once reconciliation observes the sell filled
	SellAccountingFill SellAccounting = "fill"
)

const (
	defaultTickInterval    = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds the engine loop settings
type Config struct {
	Pair            string
	TickInterval    time.Duration
	SellAccounting  SellAccounting
	CancelOnExit    bool
	FetchFees       bool
	ShutdownTimeout time.Duration
}

// ParseSellAccounting maps a config value to a policy. Empty means placement.
func ParseSellAccounting(s string) (SellAccounting, error) {
	switch SellAccounting(s) {
	case "", SellAccountingPlacement:
		return SellAccountingPlacement, nil
	case SellAccountingFill:
		return SellAccountingFill, nil
	}
	return "", fmt.Errorf("unknown sell accounting %q", s)
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.SellAccounting == "" {
		c.SellAccounting = SellAccountingPlacement
	}
	return c
}
