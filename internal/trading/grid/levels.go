// Package grid holds the pure building blocks of the grid strategy:
// level construction, fees, the profitability gate, inventory sizing and the order ledger.
package grid

import (
	"grid_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Level is one immutable price point of the grid
type Level struct {
	Index int
	Price decimal.Decimal
}

// Key identifies a level independently of decimal representation
func (l Level) Key() string {
	return l.Price.String()
}

// SpecConfig holds the parameters for building a grid
type SpecConfig struct {
	Lower      decimal.Decimal
	Upper      decimal.Decimal
	LevelCount int
	// BandSize restricts sells to the top-k and buys to the bottom-k levels. Zero disables bands.
	BandSize int
	// PriceDecimals rounds every level to the exchange tick. Negative disables rounding.
	PriceDecimals int
}

// Spec is the static set of levels used for the lifetime of a run
type Spec struct {
	levels     []Level
	levelCount int
	bandSize   int
}

// BuildLevels returns levelCount+1 strictly increasing levels from lower to upper inclusive
func BuildLevels(lower, upper decimal.Decimal, levelCount int) ([]Level, error) {
	if levelCount < 1 {
		return nil, &InvalidRangeError{Lower: lower, Upper: upper, Levels: levelCount, Reason: "level count must be at least 1"}
	}
	if !upper.GreaterThan(lower) {
		return nil, &InvalidRangeError{Lower: lower, Upper: upper, Levels: levelCount, Reason: "upper bound must exceed lower bound"}
	}

	prices := tradingutils.CalculatePriceLevels(lower, upper, levelCount)
	levels := make([]Level, len(prices))
	for i, p := range prices {
		if i > 0 && !p.GreaterThan(prices[i-1]) {
			return nil, &InvalidRangeError{Lower: lower, Upper: upper, Levels: levelCount, Reason: "step below decimal precision"}
		}
		levels[i] = Level{Index: i, Price: p}
	}
	return levels, nil
}

// NewSpec builds the grid and applies price rounding and band configuration
func NewSpec(cfg SpecConfig) (*Spec, error) {
	levels, err := BuildLevels(cfg.Lower, cfg.Upper, cfg.LevelCount)
	if err != nil {
		return nil, err
	}

	if cfg.PriceDecimals >= 0 {
		for i := range levels {
			levels[i].Price = tradingutils.RoundPrice(levels[i].Price, cfg.PriceDecimals)
			if i > 0 && !levels[i].Price.GreaterThan(levels[i-1].Price) {
				return nil, &InvalidRangeError{
					Lower:  cfg.Lower,
					Upper:  cfg.Upper,
					Levels: cfg.LevelCount,
					Reason: "levels collapse at the configured price precision",
				}
			}
		}
	}

	if cfg.BandSize < 0 {
		return nil, &InvalidRangeError{Lower: cfg.Lower, Upper: cfg.Upper, Levels: cfg.LevelCount, Reason: "band size cannot be negative"}
	}

	bandSize := cfg.BandSize
	if bandSize > len(levels) {
		bandSize = len(levels)
	}

	return &Spec{
		levels:     levels,
		levelCount: cfg.LevelCount,
		bandSize:   bandSize,
	}, nil
}

// Levels returns a copy of all levels in increasing price order
func (s *Spec) Levels() []Level {
	out := make([]Level, len(s.levels))
	copy(out, s.levels)
	return out
}

// LevelCount is the number of steps the range was divided into (len(Levels())-1)
func (s *Spec) LevelCount() int {
	return s.levelCount
}

// BandSize returns the effective band size, zero when bands are disabled
func (s *Spec) BandSize() int {
	return s.bandSize
}

// InSellBand reports whether l may carry a sell order
func (s *Spec) InSellBand(l Level) bool {
	if s.bandSize == 0 {
		return true
	}
	return l.Index >= len(s.levels)-s.bandSize
}

// InBuyBand reports whether l may carry a buy order
func (s *Spec) InBuyBand(l Level) bool {
	if s.bandSize == 0 {
		return true
	}
	return l.Index < s.bandSize
}

// SellBand returns the levels eligible for sells
func (s *Spec) SellBand() []Level {
	var out []Level
	for _, l := range s.levels {
		if s.InSellBand(l) {
			out = append(out, l)
		}
	}
	return out
}

// BuyBand returns the levels eligible for buys
func (s *Spec) BuyBand() []Level {
	var out []Level
	for _, l := range s.levels {
		if s.InBuyBand(l) {
			out = append(out, l)
		}
	}
	return out
}

// Find returns the level at price
func (s *Spec) Find(price decimal.Decimal) (Level, bool) {
	for _, l := range s.levels {
		if l.Price.Equal(price) {
			return l, true
		}
	}
	return Level{}, false
}
