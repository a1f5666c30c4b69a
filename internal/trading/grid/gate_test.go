package grid

import (
	"testing"

	"grid_trader/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestProfitabilityGate_SellBelowPrice(t *testing.T) {
	var gate ProfitabilityGate
	fees := DefaultFeeModel()

	edge, ok := gate.Evaluate(d("1900"), d("2000"), d("1"), core.RoleTaker, fees)
	assert.True(t, ok)
	assert.Equal(t, "100", edge.Gross.String())
	assert.Equal(t, "0.26", edge.Fee.String())
	assert.Equal(t, "99.74", edge.Net.String())
}

func TestProfitabilityGate_FeeConsumesEdge(t *testing.T) {
	var gate ProfitabilityGate
	fees := NewFeeModel(d("0.0016"), d("1.0"))

	assert.False(t, gate.Accepts(d("1900"), d("2000"), d("1"), core.RoleTaker, fees))
	// The maker rate still leaves an edge
	assert.True(t, gate.Accepts(d("1900"), d("2000"), d("1"), core.RoleMaker, fees))
}

func TestProfitabilityGate_RejectsNonPositiveQuantity(t *testing.T) {
	var gate ProfitabilityGate
	fees := DefaultFeeModel()

	assert.False(t, gate.Accepts(d("1900"), d("2000"), d("0"), core.RoleTaker, fees))
	assert.False(t, gate.Accepts(d("1900"), d("2000"), d("-1"), core.RoleTaker, fees))
}

func TestProfitabilityGate_NoEdgeAtCurrentPrice(t *testing.T) {
	var gate ProfitabilityGate
	assert.False(t, gate.Accepts(d("2000"), d("2000"), d("1"), core.RoleMaker, DefaultFeeModel()))
}

func TestFeeModel(t *testing.T) {
	fees := DefaultFeeModel()
	assert.True(t, fees.Rate(core.RoleMaker).Equal(d("0.0016")))
	assert.True(t, fees.Rate(core.RoleTaker).Equal(d("0.0026")))

	fees = FromSchedule(&core.FeeSchedule{Maker: d("0.001"), Taker: d("0.002")})
	assert.True(t, fees.Rate(core.RoleMaker).Equal(d("0.001")))
	assert.True(t, fees.Rate(core.RoleTaker).Equal(d("0.002")))
}
