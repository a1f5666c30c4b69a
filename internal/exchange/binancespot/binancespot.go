// Package binancespot implements core.IExchange on the Binance spot API via go-binance
package binancespot

import (
	"context"
	"errors"
	"fmt"
	"grid_trader/internal/config"
	"grid_trader/internal/core"
	apperrors "grid_trader/pkg/errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// BinanceSpotExchange implements core.IExchange for Binance spot
type BinanceSpotExchange struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  core.ILogger
}

// NewBinanceSpotExchange creates a Binance spot adapter
func NewBinanceSpotExchange(cfg *config.ExchangeConfig, logger core.ILogger) *BinanceSpotExchange {
	client := binance.NewClient(cfg.APIKey.Reveal(), cfg.SecretKey.Reveal())
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout()}

	limit, burst := cfg.RateLimit, cfg.Burst
	if limit <= 0 {
		limit = 10
	}
	if burst <= 0 {
		burst = 20
	}

	return &BinanceSpotExchange{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		logger:  logger.WithField("exchange", "binance_spot"),
	}
}

func (b *BinanceSpotExchange) GetName() string {
	return "binance_spot"
}

func (b *BinanceSpotExchange) FetchTicker(ctx context.Context, pair string) (*core.Ticker, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	symbol := Symbol(pair)
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		last, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", p.Price, err)
		}
		return &core.Ticker{Pair: pair, Last: last, Time: time.Now()}, nil
	}
	return nil, fmt.Errorf("no price for %s: %w", symbol, apperrors.ErrInvalidSymbol)
}

func (b *BinanceSpotExchange) FetchBalance(ctx context.Context) (*core.Balances, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	free := make(map[string]decimal.Decimal, len(account.Balances))
	for _, bal := range account.Balances {
		amount, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return nil, fmt.Errorf("parse balance of %s: %w", bal.Asset, err)
		}
		free[strings.ToUpper(bal.Asset)] = amount
	}
	return &core.Balances{Free: free}, nil
}

func (b *BinanceSpotExchange) FetchTradingFee(ctx context.Context, pair string) (*core.FeeSchedule, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	symbol := Symbol(pair)
	details, err := b.client.NewTradeFeeService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	for _, d := range details {
		if d.Symbol != symbol {
			continue
		}
		maker, err := decimal.NewFromString(d.MakerCommission)
		if err != nil {
			return nil, fmt.Errorf("parse maker commission: %w", err)
		}
		taker, err := decimal.NewFromString(d.TakerCommission)
		if err != nil {
			return nil, fmt.Errorf("parse taker commission: %w", err)
		}
		return &core.FeeSchedule{Maker: maker, Taker: taker}, nil
	}
	return nil, fmt.Errorf("no fee schedule for %s: %w", symbol, apperrors.ErrInvalidSymbol)
}

func (b *BinanceSpotExchange) CreateLimitOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	side := binance.SideTypeBuy
	if req.Side == core.SideSell {
		side = binance.SideTypeSell
	}

	svc := b.client.NewCreateOrderService().
		Symbol(Symbol(req.Pair)).
		Side(side).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(req.Quantity.String()).
		Price(req.Price.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	status := mapOrderStatus(res.Status)
	order := &core.Order{
		ID:            strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		ExecutedQty:   parseOr(res.ExecutedQuantity, decimal.Zero),
		Status:        status,
		UpdateTime:    time.Now(),
	}
	b.logger.Debug("Order accepted", "order_id", order.ID, "side", req.Side, "price", req.Price, "qty", req.Quantity)
	return order, nil
}

func (b *BinanceSpotExchange) FetchOrder(ctx context.Context, orderID string, pair string) (*core.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("order id %q: %w", orderID, apperrors.ErrOrderNotFound)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	o, err := b.client.NewGetOrderService().Symbol(Symbol(pair)).OrderID(id).Do(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	side := core.SideBuy
	if o.Side == binance.SideTypeSell {
		side = core.SideSell
	}
	return &core.Order{
		ID:            orderID,
		ClientOrderID: o.ClientOrderID,
		Pair:          pair,
		Side:          side,
		Price:         parseOr(o.Price, decimal.Zero),
		Quantity:      parseOr(o.OrigQuantity, decimal.Zero),
		ExecutedQty:   parseOr(o.ExecutedQuantity, decimal.Zero),
		Status:        mapOrderStatus(o.Status),
		UpdateTime:    time.UnixMilli(o.UpdateTime),
	}, nil
}

func (b *BinanceSpotExchange) CancelOrder(ctx context.Context, orderID string, pair string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("order id %q: %w", orderID, apperrors.ErrOrderNotFound)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := b.client.NewCancelOrderService().Symbol(Symbol(pair)).OrderID(id).Do(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// Symbol converts "ETH/USDT" to "ETHUSDT"
func Symbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
}

func mapOrderStatus(s binance.OrderStatusType) core.OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return core.OrderStatusClosed
	case binance.OrderStatusTypeCanceled:
		return core.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return core.OrderStatusRejected
	case binance.OrderStatusTypeExpired:
		return core.OrderStatusExpired
	default:
		// NEW and PARTIALLY_FILLED can still fill
		return core.OrderStatusOpen
	}
}

// mapError maps Binance error codes onto the shared sentinels
func mapError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("binance request failed: %w: %w", apperrors.ErrNetwork, err)
	}

	var sentinel error
	switch apiErr.Code {
	case -2014, -2015, -1022:
		sentinel = apperrors.ErrAuthenticationFailed
	case -2010:
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
			sentinel = apperrors.ErrInsufficientFunds
		} else {
			sentinel = apperrors.ErrOrderRejected
		}
	case -2011, -2013:
		sentinel = apperrors.ErrOrderNotFound
	case -1003, -1015:
		sentinel = apperrors.ErrRateLimitExceeded
	case -1021:
		sentinel = apperrors.ErrInvalidNonce
	case -1121:
		sentinel = apperrors.ErrInvalidSymbol
	case -1013, -1111, -1100, -1102:
		sentinel = apperrors.ErrInvalidOrderParam
	default:
		return fmt.Errorf("binance: %w", err)
	}
	return fmt.Errorf("binance: code=%d msg=%s: %w", apiErr.Code, apiErr.Message, sentinel)
}

func parseOr(s string, fallback decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}
