package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"grid_trader/internal/config"
	"grid_trader/internal/exchange/mock"
	apperrors "grid_trader/pkg/errors"
	"grid_trader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Enabled = false
	cfg.Grid.TickIntervalSeconds = 1
	return cfg
}

func TestNewApp_Paper(t *testing.T) {
	cfg := paperConfig()
	cfg.Server.Enabled = true
	cfg.Server.Port = 0

	app, err := NewApp(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "paper", app.Exchange.GetName())
	assert.NotNil(t, app.Server)
	assert.True(t, app.Health.IsHealthy())
	assert.Equal(t, "ETH/EUR", app.Engine.Snapshot().Pair)
}

func TestNewApp_InvalidSellAccounting(t *testing.T) {
	cfg := paperConfig()
	cfg.Grid.SellAccounting = "sometimes"

	_, err := NewApp(cfg, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestNewApp_InvalidGrid(t *testing.T) {
	cfg := paperConfig()
	cfg.Grid.UpperBound = cfg.Grid.LowerBound

	_, err := NewApp(cfg, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestApp_RunPlacesOrdersUntilCancelled(t *testing.T) {
	app, err := NewApp(paperConfig(), logging.NewNopLogger())
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, app.Run(ctx))

	// price 2500, band 5: only the 2710 buy sits in the buy band above the price
	snap := app.Engine.Snapshot()
	assert.Equal(t, int64(1), snap.Iteration)
	assert.Equal(t, 1, snap.RestingOrders)
	assert.True(t, decimal.RequireFromString("271").Equal(snap.Committed), snap.Committed.String())
}

func TestApp_RunStopsOnFatalError(t *testing.T) {
	ex := mock.NewMockExchange("paper")
	ex.SetPrice("ETH/EUR", decimal.NewFromInt(2500))
	ex.SetError(mock.OpFetchTicker, apperrors.ErrAuthenticationFailed)

	app, err := NewApp(paperConfig(), logging.NewNopLogger(), WithExchange(ex))
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = app.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAuthenticationFailed))
	assert.NoError(t, ctx.Err(), "stopped before the deadline")
}
