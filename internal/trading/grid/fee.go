package grid

import (
	"grid_trader/internal/core"

	"github.com/shopspring/decimal"
)

// Kraken's published starting tier
var (
	DefaultMakerRate = decimal.RequireFromString("0.0016")
	DefaultTakerRate = decimal.RequireFromString("0.0026")
)

// FeeModel maps an order role to its fee rate
type FeeModel struct {
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
}

// NewFeeModel returns a fee model with the given rates
func NewFeeModel(maker, taker decimal.Decimal) FeeModel {
	return FeeModel{MakerRate: maker, TakerRate: taker}
}

// DefaultFeeModel returns the venue-published default rates
func DefaultFeeModel() FeeModel {
	return NewFeeModel(DefaultMakerRate, DefaultTakerRate)
}

// FromSchedule builds a fee model from rates reported by the exchange
func FromSchedule(s *core.FeeSchedule) FeeModel {
	return NewFeeModel(s.Maker, s.Taker)
}

// Rate returns the fee fraction charged for role
func (f FeeModel) Rate(role core.Role) decimal.Decimal {
	if role == core.RoleMaker {
		return f.MakerRate
	}
	return f.TakerRate
}
