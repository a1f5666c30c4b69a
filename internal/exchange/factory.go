// Package exchange selects the exchange implementation named by configuration
package exchange

import (
	"fmt"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
	"grid_trader/internal/exchange/binancespot"
	"grid_trader/internal/exchange/kraken"
	"grid_trader/internal/exchange/mock"
)

// NewExchange creates the exchange selected by app.exchange
func NewExchange(cfg *config.Config, logger core.ILogger) (core.IExchange, error) {
	switch cfg.App.Exchange {
	case config.ExchangePaper:
		return NewPaperExchange(cfg)
	case config.ExchangeKraken:
		exchangeConfig, err := cfg.CurrentExchangeConfig()
		if err != nil {
			return nil, err
		}
		return kraken.NewKrakenExchange(exchangeConfig, kraken.NewMillisNonce(), logger)
	case config.ExchangeBinanceSpot:
		exchangeConfig, err := cfg.CurrentExchangeConfig()
		if err != nil {
			return nil, err
		}
		return binancespot.NewBinanceSpotExchange(exchangeConfig, logger), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.App.Exchange)
	}
}

// NewPaperExchange creates an in-memory exchange seeded from the paper section
func NewPaperExchange(cfg *config.Config) (*mock.MockExchange, error) {
	base, quote, err := core.SplitPair(cfg.Grid.Pair)
	if err != nil {
		return nil, err
	}

	ex := mock.NewMockExchange(config.ExchangePaper)
	ex.SetPrice(cfg.Grid.Pair, config.Decimal(cfg.Paper.Price))
	ex.SetBalance(base, config.Decimal(cfg.Paper.BaseBalance))
	ex.SetBalance(quote, config.Decimal(cfg.Paper.QuoteBalance))
	ex.SetFeeSchedule(&core.FeeSchedule{
		Maker: config.Decimal(cfg.Fees.MakerRate),
		Taker: config.Decimal(cfg.Fees.TakerRate),
	})
	ex.SetAutoMatch(cfg.Paper.AutoMatch)
	return ex, nil
}
