// Package kraken implements core.IExchange on the Kraken spot REST API
package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"grid_trader/internal/config"
	"grid_trader/internal/core"
	apperrors "grid_trader/pkg/errors"
	pkghttp "grid_trader/pkg/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.kraken.com"

	// Kraken's private endpoint counter decays at roughly one call per second on the starter tier
	defaultRateLimit = 1.0
	defaultBurst     = 5
)

var hundred = decimal.NewFromInt(100)

// KrakenExchange implements core.IExchange for Kraken spot
type KrakenExchange struct {
	client  *pkghttp.Client
	limiter *rate.Limiter
	logger  core.ILogger
}

// NewKrakenExchange creates a Kraken adapter. The nonce source is injected so callers control
// how nonces are generated and tests can make them deterministic.
func NewKrakenExchange(cfg *config.ExchangeConfig, nonce NonceSource, logger core.ILogger) (*KrakenExchange, error) {
	signer, err := NewSigner(cfg.APIKey.Reveal(), cfg.SecretKey.Reveal(), nonce)
	if err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	limit, burst := cfg.RateLimit, cfg.Burst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}

	return &KrakenExchange{
		client:  pkghttp.NewClient(baseURL, cfg.Timeout(), signer),
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		logger:  logger.WithField("exchange", "kraken"),
	}, nil
}

func (k *KrakenExchange) GetName() string {
	return "kraken"
}

// envelope is the common Kraken response wrapper
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (k *KrakenExchange) FetchTicker(ctx context.Context, pair string) (*core.Ticker, error) {
	var result map[string]struct {
		Close []string `json:"c"`
	}
	if err := k.public(ctx, "/0/public/Ticker", map[string]string{"pair": PairName(pair)}, &result); err != nil {
		return nil, err
	}

	for _, t := range result {
		if len(t.Close) == 0 {
			break
		}
		last, err := decimal.NewFromString(t.Close[0])
		if err != nil {
			return nil, fmt.Errorf("parse last price %q: %w", t.Close[0], err)
		}
		return &core.Ticker{Pair: pair, Last: last, Time: time.Now()}, nil
	}
	return nil, fmt.Errorf("no ticker for %s: %w", pair, apperrors.ErrInvalidSymbol)
}

// FetchBalance returns balance minus hold_trade for every asset
func (k *KrakenExchange) FetchBalance(ctx context.Context) (*core.Balances, error) {
	var result map[string]struct {
		Balance   string `json:"balance"`
		HoldTrade string `json:"hold_trade"`
	}
	if err := k.private(ctx, "/0/private/BalanceEx", url.Values{}, &result, true); err != nil {
		return nil, err
	}

	free := make(map[string]decimal.Decimal, len(result))
	for asset, b := range result {
		if strings.Contains(asset, ".") {
			// staked and earn variants are not tradable
			continue
		}
		total, err := decimal.NewFromString(b.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse balance of %s: %w", asset, err)
		}
		hold := decimal.Zero
		if b.HoldTrade != "" {
			if hold, err = decimal.NewFromString(b.HoldTrade); err != nil {
				return nil, fmt.Errorf("parse hold of %s: %w", asset, err)
			}
		}
		free[NormalizeAsset(asset)] = total.Sub(hold)
	}
	return &core.Balances{Free: free}, nil
}

// FetchTradingFee reads the account's fee tier. Kraken reports percentages.
func (k *KrakenExchange) FetchTradingFee(ctx context.Context, pair string) (*core.FeeSchedule, error) {
	var result struct {
		Fees      map[string]feeInfo `json:"fees"`
		FeesMaker map[string]feeInfo `json:"fees_maker"`
	}
	if err := k.private(ctx, "/0/private/TradeVolume", url.Values{"pair": {PairName(pair)}}, &result, true); err != nil {
		return nil, err
	}

	taker, err := firstFee(result.Fees)
	if err != nil {
		return nil, fmt.Errorf("taker fee: %w", err)
	}
	maker, err := firstFee(result.FeesMaker)
	if err != nil {
		// Pairs without a maker schedule charge the taker rate
		maker = taker
	}
	return &core.FeeSchedule{Maker: maker.Div(hundred), Taker: taker.Div(hundred)}, nil
}

// CreateLimitOrder places a good-till-cancelled limit order. It is sent once; a lost response is
// resolved by the next reconciliation rather than by resubmitting.
func (k *KrakenExchange) CreateLimitOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error) {
	form := url.Values{
		"ordertype": {"limit"},
		"type":      {strings.ToLower(string(req.Side))},
		"volume":    {req.Quantity.String()},
		"price":     {req.Price.String()},
		"pair":      {PairName(req.Pair)},
	}
	if req.ClientOrderID != "" {
		form.Set("cl_ord_id", req.ClientOrderID)
	}

	var result struct {
		TxID []string `json:"txid"`
	}
	if err := k.private(ctx, "/0/private/AddOrder", form, &result, false); err != nil {
		return nil, err
	}
	if len(result.TxID) == 0 {
		return nil, fmt.Errorf("AddOrder returned no txid: %w", apperrors.ErrOrderRejected)
	}

	k.logger.Debug("Order accepted", "txid", result.TxID[0], "side", req.Side, "price", req.Price, "qty", req.Quantity)
	return &core.Order{
		ID:            result.TxID[0],
		ClientOrderID: req.ClientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		ExecutedQty:   decimal.Zero,
		Status:        core.OrderStatusOpen,
		UpdateTime:    time.Now(),
	}, nil
}

func (k *KrakenExchange) FetchOrder(ctx context.Context, orderID string, pair string) (*core.Order, error) {
	var result map[string]struct {
		Status  string `json:"status"`
		Vol     string `json:"vol"`
		VolExec string `json:"vol_exec"`
		Descr   struct {
			Type  string `json:"type"`
			Price string `json:"price"`
		} `json:"descr"`
	}
	if err := k.private(ctx, "/0/private/QueryOrders", url.Values{"txid": {orderID}}, &result, true); err != nil {
		return nil, err
	}

	info, ok := result[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}

	status, err := mapOrderStatus(info.Status)
	if err != nil {
		return nil, err
	}
	qty, err := decimal.NewFromString(info.Vol)
	if err != nil {
		return nil, fmt.Errorf("parse vol of order %s: %w", orderID, err)
	}
	executed, err := decimal.NewFromString(info.VolExec)
	if err != nil {
		return nil, fmt.Errorf("parse vol_exec of order %s: %w", orderID, err)
	}
	price, err := decimal.NewFromString(info.Descr.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price of order %s: %w", orderID, err)
	}

	return &core.Order{
		ID:          orderID,
		Pair:        pair,
		Side:        core.OrderSide(strings.ToUpper(info.Descr.Type)),
		Price:       price,
		Quantity:    qty,
		ExecutedQty: executed,
		Status:      status,
		UpdateTime:  time.Now(),
	}, nil
}

func (k *KrakenExchange) CancelOrder(ctx context.Context, orderID string, pair string) error {
	var result struct {
		Count int `json:"count"`
	}
	if err := k.private(ctx, "/0/private/CancelOrder", url.Values{"txid": {orderID}}, &result, true); err != nil {
		return err
	}
	if result.Count == 0 {
		return fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	return nil
}

func (k *KrakenExchange) public(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if err := k.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := k.client.Get(ctx, path, params)
	if err != nil {
		return err
	}
	return decode(body, out)
}

func (k *KrakenExchange) private(ctx context.Context, path string, form url.Values, out interface{}, retry bool) error {
	if err := k.limiter.Wait(ctx); err != nil {
		return err
	}
	var opts []pkghttp.RequestOption
	if !retry {
		opts = append(opts, pkghttp.NoRetry())
	}
	body, err := k.client.PostForm(ctx, path, form, opts...)
	if err != nil {
		return err
	}
	return decode(body, out)
}

func decode(body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode kraken response: %w", err)
	}
	if len(env.Error) > 0 {
		return parseError(env.Error)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode kraken result: %w", err)
	}
	return nil
}

// parseError maps Kraken error strings onto the shared sentinels
func parseError(messages []string) error {
	msg := strings.Join(messages, "; ")
	var sentinel error
	switch {
	case containsAny(msg, "EAPI:Invalid key", "EAPI:Invalid signature", "EGeneral:Invalid arguments:key"):
		sentinel = apperrors.ErrAuthenticationFailed
	case containsAny(msg, "EGeneral:Permission denied"):
		sentinel = apperrors.ErrPermissionDenied
	case containsAny(msg, "EAPI:Invalid nonce"):
		sentinel = apperrors.ErrInvalidNonce
	case containsAny(msg, "EOrder:Insufficient funds"):
		sentinel = apperrors.ErrInsufficientFunds
	case containsAny(msg, "EAPI:Rate limit exceeded", "EOrder:Rate limit exceeded", "EGeneral:Too many requests"):
		sentinel = apperrors.ErrRateLimitExceeded
	case containsAny(msg, "EOrder:Unknown order", "EOrder:Invalid order"):
		sentinel = apperrors.ErrOrderNotFound
	case containsAny(msg, "EQuery:Unknown asset pair"):
		sentinel = apperrors.ErrInvalidSymbol
	case containsAny(msg, "EOrder:Order minimum not met", "EGeneral:Invalid arguments"):
		sentinel = apperrors.ErrInvalidOrderParam
	case containsAny(msg, "EService:Unavailable", "EService:Busy", "EService:Market in cancel_only mode"):
		sentinel = apperrors.ErrExchangeMaintenance
	default:
		return errors.New("kraken: " + msg)
	}
	return fmt.Errorf("kraken: %s: %w", msg, sentinel)
}

func mapOrderStatus(s string) (core.OrderStatus, error) {
	switch s {
	case "pending", "open":
		return core.OrderStatusOpen, nil
	case "closed":
		return core.OrderStatusClosed, nil
	case "canceled":
		return core.OrderStatusCancelled, nil
	case "expired":
		return core.OrderStatusExpired, nil
	}
	return "", fmt.Errorf("unknown kraken order status %q", s)
}

type feeInfo struct {
	Fee string `json:"fee"`
}

func firstFee(fees map[string]feeInfo) (decimal.Decimal, error) {
	for _, f := range fees {
		return decimal.NewFromString(f.Fee)
	}
	return decimal.Zero, errors.New("no fee schedule returned")
}

// PairName converts "ETH/EUR" to Kraken's altname "ETHEUR", using XBT for bitcoin
func PairName(pair string) string {
	base, quote, err := core.SplitPair(pair)
	if err != nil {
		return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
	}
	return krakenAsset(base) + krakenAsset(quote)
}

// NormalizeAsset maps Kraken asset codes ("XXBT", "ZEUR", "XETH") to common tickers
func NormalizeAsset(asset string) string {
	a := strings.ToUpper(asset)
	if len(a) == 4 && (a[0] == 'X' || a[0] == 'Z') {
		a = a[1:]
	}
	switch a {
	case "XBT":
		return "BTC"
	case "XDG":
		return "DOGE"
	}
	return a
}

func krakenAsset(a string) string {
	switch a {
	case "BTC":
		return "XBT"
	case "DOGE":
		return "XDG"
	}
	return a
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
