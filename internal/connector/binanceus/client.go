// Package binanceus implements the ExchangeClient contract for Binance.US
// using HMAC-SHA256 request signing, structured after the same REST client
// shape used for the other venue connectors in this module (a
// public-stream-only scope for this venue).
package binanceus

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/connector"
	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/pkg/observability"
)

const (
	defaultBaseURL   = "https://api.binance.us"
	defaultWSBaseURL = "wss://stream.binance.us:9443"
	venueID          = "binanceus"
)

// Config configures one Binance.US connection.
type Config struct {
	APIKey     string
	APISecret  string
	BaseURL    string
	WSBaseURL  string
	RatePerSec float64
	Timeout    time.Duration
}

// Client implements connector.ExchangeClient for Binance.US.
type Client struct {
	logger      *observability.Logger
	cfg         Config
	httpClient  *http.Client
	rateLimiter *connector.RateLimiter

	mu          sync.RWMutex
	connected   bool
	droppedMsgs int64
}

var _ connector.ExchangeClient = (*Client)(nil)

// New creates a Binance.US client.
func New(cfg Config, logger *observability.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = defaultWSBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 20
	}
	return &Client{
		logger:      logger,
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: connector.NewRateLimiter(cfg.RatePerSec),
	}
}

func (c *Client) VenueID() string { return venueID }

func (c *Client) Connect(ctx context.Context) error {
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		return coreerrors.Wrap(coreerrors.KindVenueNetwork, "rate limiter", err)
	}
	if _, err := c.get(ctx, "/api/v3/ping", nil, false); err != nil {
		return coreerrors.Wrap(coreerrors.KindVenueNetwork, "connect", err)
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) DroppedMessages() int64 { return atomic.LoadInt64(&c.droppedMsgs) }

func (c *Client) TradingPairs(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/api/v3/exchangeInfo", nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode exchangeInfo", err)
	}
	pairs := make([]string, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		pairs = append(pairs, s.Symbol)
	}
	return pairs, nil
}

func (c *Client) Balances(ctx context.Context) ([]connector.Balance, error) {
	body, err := c.get(ctx, "/api/v3/account", nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode account", err)
	}
	out := make([]connector.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		out = append(out, connector.Balance{Currency: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

func (c *Client) MarketTick(ctx context.Context, symbol string) (*domain.MarketTick, error) {
	body, err := c.get(ctx, "/api/v3/ticker/bookTicker", url.Values{"symbol": {symbol}}, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode bookTicker", err)
	}
	bid, _ := decimal.NewFromString(resp.BidPrice)
	ask, _ := decimal.NewFromString(resp.AskPrice)
	return &domain.MarketTick{
		Symbol: symbol, Venue: venueID, Bid: bid, Ask: ask, Last: ask,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]connector.Candle, error) {
	params := url.Values{"symbol": {symbol}, "interval": {timeframe}}
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	body, err := c.get(ctx, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode klines", err)
	}
	candles := make([]connector.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 7 {
			continue
		}
		open, _ := decimal.NewFromString(fmt.Sprint(k[1]))
		high, _ := decimal.NewFromString(fmt.Sprint(k[2]))
		low, _ := decimal.NewFromString(fmt.Sprint(k[3]))
		closeP, _ := decimal.NewFromString(fmt.Sprint(k[4]))
		vol, _ := decimal.NewFromString(fmt.Sprint(k[5]))
		candles = append(candles, connector.Candle{
			Open: open, High: high, Low: low, Close: closeP, Volume: vol,
		})
	}
	return candles, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req connector.OrderRequest) (*domain.Order, error) {
	params := url.Values{
		"symbol":           {req.Symbol},
		"side":             {string(req.Side)},
		"type":             {binanceOrderType(req.Type)},
		"quantity":         {req.Quantity.String()},
		"newClientOrderId": {clientOrderID(req.ClientOrderID)},
	}
	if req.Type.RequiresPrice() {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", string(orDefault(req.TimeInForce, domain.TimeInForceGTC)))
	}

	body, err := c.post(ctx, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode order response", err)
	}
	return &domain.Order{
		ID:            uuid.New(),
		Symbol:        req.Symbol,
		Venue:         venueID,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: resp.ClientOrderID,
		Status:        mapStatus(resp.Status),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.delete(ctx, "/api/v3/order", url.Values{"orderId": {orderID}}, true)
	return err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	body, err := c.get(ctx, "/api/v3/order", url.Values{"orderId": {orderID}}, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Symbol        string `json:"symbol"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode order", err)
	}
	qty, _ := decimal.NewFromString(resp.OrigQty)
	filled, _ := decimal.NewFromString(resp.ExecutedQty)
	price, _ := decimal.NewFromString(resp.Price)
	return &domain.Order{
		Symbol: resp.Symbol, Venue: venueID, ClientOrderID: resp.ClientOrderID,
		Quantity: qty, FilledQty: filled, Price: price, Status: mapStatus(resp.Status),
	}, nil
}

func (c *Client) TransferFunds(ctx context.Context, req connector.TransferRequest) (uuid.UUID, error) {
	// Binance.US's deposit/withdraw API is not wrapped by this connector;
	// every transfer fails with a VenueAPI "not supported" error.
	return uuid.Nil, coreerrors.New(coreerrors.KindVenueAPI, "binanceus: fund transfer not supported in-scope")
}

func (c *Client) GetTransferStatus(ctx context.Context, transferID uuid.UUID) (connector.TransferStatus, error) {
	return "", coreerrors.New(coreerrors.KindVenueAPI, "binanceus: fund transfer not supported in-scope")
}

func binanceOrderType(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeMarket:
		return "MARKET"
	case domain.OrderTypeLimit:
		return "LIMIT"
	case domain.OrderTypeStop:
		return "STOP_LOSS"
	case domain.OrderTypeStopLimit:
		return "STOP_LOSS_LIMIT"
	default:
		return "LIMIT"
	}
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW":
		return domain.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED":
		return domain.OrderStatusCancelled
	case "REJECTED", "EXPIRED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

func clientOrderID(requested string) string {
	if requested != "" {
		return requested
	}
	return uuid.New().String()
}

func orDefault(tif domain.TimeInForce, def domain.TimeInForce) domain.TimeInForce {
	if tif == "" {
		return def
	}
	return tif
}

// --- signed HTTP plumbing: makeRequest/signRequest pipeline ---

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindRateLimited, "rate limiter", err)
	}
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		query := params.Encode()
		params.Set("signature", c.sign(query))
	}

	full := c.cfg.BaseURL + endpoint
	var req *http.Request
	var err error
	switch method {
	case http.MethodGet, http.MethodDelete:
		full += "?" + params.Encode()
		req, err = http.NewRequestWithContext(ctx, method, full, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, full, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, "build request", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueNetwork, "http", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueNetwork, "read body", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, coreerrors.New(coreerrors.KindRateLimited, "binanceus rate limited")
	}
	if resp.StatusCode >= 400 {
		return nil, coreerrors.New(coreerrors.KindVenueAPI, fmt.Sprintf("binanceus http %d: %s", resp.StatusCode, string(body)))
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, signed bool) ([]byte, error) {
	return c.doSigned(ctx, http.MethodGet, endpoint, params, signed)
}
func (c *Client) post(ctx context.Context, endpoint string, params url.Values, signed bool) ([]byte, error) {
	return c.doSigned(ctx, http.MethodPost, endpoint, params, signed)
}
func (c *Client) delete(ctx context.Context, endpoint string, params url.Values, signed bool) ([]byte, error) {
	return c.doSigned(ctx, http.MethodDelete, endpoint, params, signed)
}
