package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPair(t *testing.T) {
	base, quote, err := SplitPair("eth/eur")
	require.NoError(t, err)
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "EUR", quote)

	_, _, err = SplitPair("ETHEUR")
	assert.Error(t, err)
	_, _, err = SplitPair("ETH/")
	assert.Error(t, err)
}

func TestBalances_FreeOf(t *testing.T) {
	b := &Balances{Free: map[string]decimal.Decimal{"EUR": decimal.NewFromInt(100)}}
	assert.True(t, b.FreeOf("eur").Equal(decimal.NewFromInt(100)))
	assert.True(t, b.FreeOf("ETH").IsZero())

	var nilBalances *Balances
	assert.True(t, nilBalances.FreeOf("EUR").IsZero())
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.False(t, OrderStatusOpen.IsTerminal())
	assert.True(t, OrderStatusClosed.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRejected.IsTerminal())
	assert.True(t, OrderStatusExpired.IsTerminal())
}
