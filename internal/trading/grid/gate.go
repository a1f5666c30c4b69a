package grid

import (
	"grid_trader/internal/core"
	"grid_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Edge is the expected result of trading at a level
type Edge struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// ProfitabilityGate accepts a candidate order only when its edge survives fees
type ProfitabilityGate struct{}

// Evaluate computes the edge of a candidate. A non-positive quantity is never accepted.
func (ProfitabilityGate) Evaluate(levelPrice, currentPrice, quantity decimal.Decimal, role core.Role, fees FeeModel) (Edge, bool) {
	if !quantity.IsPositive() {
		return Edge{}, false
	}
	gross, fee, net := tradingutils.CalculateNetEdge(levelPrice, currentPrice, quantity, fees.Rate(role))
	edge := Edge{Gross: gross, Fee: fee, Net: net}
	return edge, net.IsPositive()
}

// Accepts reports whether the candidate nets a positive edge after fees
func (g ProfitabilityGate) Accepts(levelPrice, currentPrice, quantity decimal.Decimal, role core.Role, fees FeeModel) bool {
	_, ok := g.Evaluate(levelPrice, currentPrice, quantity, role, fees)
	return ok
}
