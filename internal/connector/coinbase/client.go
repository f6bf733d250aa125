// Package coinbase implements the ExchangeClient contract for Coinbase
// Advanced Trade. Authentication follows the CDP JWT scheme pinned from
// the prior Rust connector: an ES256-signed JWT per request, header
// {alg, kid, nonce, typ}, claims {iss:"cdp", nbf, exp, sub, uri}, where uri
// is "METHOD host+path". A legacy HMAC+passphrase mode is kept for Pro-style
// deployments that never migrated to CDP keys.
package coinbase

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/connector"
	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/pkg/observability"
)

const (
	defaultBaseURL = "https://api.coinbase.com/api/v3/brokerage"
	defaultWSURL   = "wss://advanced-trade-ws.coinbase.com"
	venueID        = "coinbase"
	jwtClockSkewSeconds = 5
	jwtLifetime         = 120 * time.Second
)

// AuthMode selects which Coinbase auth scheme to sign requests with.
type AuthMode string

const (
	AuthModeCDPJWT        AuthMode = "cdp_jwt"
	AuthModeLegacyHMAC    AuthMode = "legacy_hmac"
)

// Config configures one Coinbase connection.
type Config struct {
	AuthMode AuthMode

	// CDP JWT mode.
	APIKeyName string
	PrivateKeyPEM string

	// Legacy HMAC+passphrase mode.
	APIKey     string
	APISecret  string // base64-encoded
	Passphrase string

	BaseURL    string
	WSURL      string
	RatePerSec float64
	Timeout    time.Duration
}

// Client implements connector.ExchangeClient for Coinbase Advanced Trade.
type Client struct {
	logger      *observability.Logger
	cfg         Config
	httpClient  *http.Client
	rateLimiter *connector.RateLimiter
	signingKey  *ecdsa.PrivateKey // parsed lazily, cached for CDP JWT mode

	mu          sync.RWMutex
	connected   bool
	droppedMsgs int64
}

var _ connector.ExchangeClient = (*Client)(nil)

// New creates a Coinbase client.
func New(cfg Config, logger *observability.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 10
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeCDPJWT
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
	if _, err := c.get(ctx, http.MethodGet, "/accounts", nil); err != nil {
		return coreerrors.Wrap(coreerrors.KindVenueAuth, "connect", err)
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
	body, err := c.get(ctx, http.MethodGet, "/products", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Products []struct {
			ProductID      string `json:"product_id"`
			Status         string `json:"status"`
			TradingDisabled bool  `json:"trading_disabled"`
		} `json:"products"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode products", err)
	}
	pairs := make([]string, 0, len(resp.Products))
	for _, p := range resp.Products {
		if p.TradingDisabled {
			continue
		}
		pairs = append(pairs, p.ProductID)
	}
	return pairs, nil
}

func (c *Client) Balances(ctx context.Context) ([]connector.Balance, error) {
	body, err := c.get(ctx, http.MethodGet, "/accounts", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Accounts []struct {
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value string `json:"value"`
			} `json:"available_balance"`
			Hold struct {
				Value string `json:"value"`
			} `json:"hold"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode accounts", err)
	}
	out := make([]connector.Balance, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		free, _ := decimal.NewFromString(a.AvailableBalance.Value)
		hold, _ := decimal.NewFromString(a.Hold.Value)
		out = append(out, connector.Balance{Currency: a.Currency, Free: free, Locked: hold})
	}
	return out, nil
}

func (c *Client) MarketTick(ctx context.Context, symbol string) (*domain.MarketTick, error) {
	body, err := c.get(ctx, http.MethodGet, "/products/"+symbol+"/ticker", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Price    string `json:"price"`
		Bid      string `json:"best_bid"`
		Ask      string `json:"best_ask"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode ticker", err)
	}
	bid, _ := decimal.NewFromString(resp.Bid)
	ask, _ := decimal.NewFromString(resp.Ask)
	last, _ := decimal.NewFromString(resp.Price)
	return &domain.MarketTick{
		Symbol: symbol, Venue: venueID, Bid: bid, Ask: ask, Last: last,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]connector.Candle, error) {
	params := url.Values{"granularity": {coinbaseGranularity(timeframe)}}
	if !start.IsZero() {
		params.Set("start", strconv.FormatInt(start.Unix(), 10))
	}
	if !end.IsZero() {
		params.Set("end", strconv.FormatInt(end.Unix(), 10))
	}
	body, err := c.get(ctx, http.MethodGet, "/products/"+symbol+"/candles?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Candles []struct {
			Start string `json:"start"`
			Low   string `json:"low"`
			High  string `json:"high"`
			Open  string `json:"open"`
			Close string `json:"close"`
			Volume string `json:"volume"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode candles", err)
	}
	candles := make([]connector.Candle, 0, len(resp.Candles))
	for _, k := range resp.Candles {
		open, _ := decimal.NewFromString(k.Open)
		high, _ := decimal.NewFromString(k.High)
		low, _ := decimal.NewFromString(k.Low)
		closeP, _ := decimal.NewFromString(k.Close)
		vol, _ := decimal.NewFromString(k.Volume)
		candles = append(candles, connector.Candle{Open: open, High: high, Low: low, Close: closeP, Volume: vol})
	}
	return candles, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req connector.OrderRequest) (*domain.Order, error) {
	orderConfig := map[string]interface{}{}
	switch req.Type {
	case domain.OrderTypeMarket:
		orderConfig["market_market_ioc"] = map[string]string{"base_size": req.Quantity.String()}
	default:
		orderConfig["limit_limit_gtc"] = map[string]string{
			"base_size": req.Quantity.String(), "limit_price": req.Price.String(),
		}
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.New().String()
	}
	payload := map[string]interface{}{
		"client_order_id": clientID,
		"product_id":      req.Symbol,
		"side":            strings.ToUpper(string(req.Side)),
		"order_configuration": orderConfig,
	}
	body, err := c.post(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Success bool `json:"success"`
		OrderID string `json:"order_id"`
		SuccessResponse struct {
			OrderID string `json:"order_id"`
		} `json:"success_response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode order response", err)
	}
	if !resp.Success {
		return nil, coreerrors.New(coreerrors.KindOrderValidation, "coinbase rejected order")
	}
	orderID := resp.OrderID
	if orderID == "" {
		orderID = resp.SuccessResponse.OrderID
	}
	return &domain.Order{
		ID: uuid.New(), Symbol: req.Symbol, Venue: venueID, Side: req.Side, Type: req.Type,
		Quantity: req.Quantity, Price: req.Price, TimeInForce: req.TimeInForce,
		ClientOrderID: clientID, Status: domain.OrderStatusOpen,
		AccountID: orderID, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.post(ctx, http.MethodPost, "/orders/batch_cancel", map[string]interface{}{
		"order_ids": []string{orderID},
	})
	return err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	body, err := c.get(ctx, http.MethodGet, "/orders/historical/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Order struct {
			ProductID     string `json:"product_id"`
			ClientOrderID string `json:"client_order_id"`
			Status        string `json:"status"`
			FilledSize    string `json:"filled_size"`
			AveragePrice  string `json:"average_filled_price"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAPI, "decode order", err)
	}
	filled, _ := decimal.NewFromString(resp.Order.FilledSize)
	price, _ := decimal.NewFromString(resp.Order.AveragePrice)
	return &domain.Order{
		Symbol: resp.Order.ProductID, Venue: venueID, ClientOrderID: resp.Order.ClientOrderID,
		FilledQty: filled, AvgFillPrice: price, Status: mapCoinbaseStatus(resp.Order.Status),
	}, nil
}

func (c *Client) TransferFunds(ctx context.Context, req connector.TransferRequest) (uuid.UUID, error) {
	// Coinbase's withdrawal surface requires a verified crypto address book
	// entry per currency; the allocator's generic ToAddress field cannot
	// express that verification state, so this connector submits no
	// transfer and always fails with a VenueAPI "not supported" error.
	return uuid.Nil, coreerrors.New(coreerrors.KindVenueAPI, "coinbase: fund transfer not supported in-scope")
}

func (c *Client) GetTransferStatus(ctx context.Context, transferID uuid.UUID) (connector.TransferStatus, error) {
	return "", coreerrors.New(coreerrors.KindVenueAPI, "coinbase: fund transfer not supported in-scope")
}

func coinbaseGranularity(timeframe string) string {
	switch timeframe {
	case "1m":
		return "ONE_MINUTE"
	case "5m":
		return "FIVE_MINUTE"
	case "15m":
		return "FIFTEEN_MINUTE"
	case "1h":
		return "ONE_HOUR"
	case "1d":
		return "ONE_DAY"
	default:
		return "ONE_MINUTE"
	}
}

func mapCoinbaseStatus(s string) domain.OrderStatus {
	switch s {
	case "OPEN", "PENDING":
		return domain.OrderStatusOpen
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELLED", "EXPIRED":
		return domain.OrderStatusCancelled
	case "FAILED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

// --- signed HTTP plumbing ---

func (c *Client) get(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	return c.do(ctx, method, path, body)
}

func (c *Client) post(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	return c.do(ctx, method, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindRateLimited, "rate limiter", err)
	}

	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, coreerrors.Wrap(coreerrors.KindInternal, "marshal body", err)
		}
	}

	urlPath := strings.SplitN(path, "?", 2)[0]
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, newBodyReader(bodyBytes))
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.authenticate(req, method, urlPath, bodyBytes); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueAuth, "sign request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueNetwork, "http", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindVenueNetwork, "read body", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, coreerrors.New(coreerrors.KindRateLimited, "coinbase rate limited")
	}
	if resp.StatusCode >= 400 {
		return nil, coreerrors.New(coreerrors.KindVenueAPI, fmt.Sprintf("coinbase http %d: %s", resp.StatusCode, string(respBody)))
	}
	return respBody, nil
}

func newBodyReader(b []byte) *strings.Reader {
	if b == nil {
		return strings.NewReader("")
	}
	return strings.NewReader(string(b))
}

func (c *Client) authenticate(req *http.Request, method, path string, body []byte) error {
	switch c.cfg.AuthMode {
	case AuthModeLegacyHMAC:
		return c.signLegacyHMAC(req, method, path, body)
	default:
		token, err := c.generateJWT(method, path)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// cdpClaims mirrors the CDP JWT claim set pinned from the Rust connector:
// iss "cdp", a 5s nbf clock-skew buffer, a 2-minute expiry, sub = key name,
// and a uri claim of "METHOD host+path".
type cdpClaims struct {
	jwt.RegisteredClaims
	URI string `json:"uri"`
}

func (c *Client) generateJWT(method, path string) (string, error) {
	key, err := c.ecdsaKey()
	if err != nil {
		return "", err
	}

	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	fullPath := strings.TrimRight(base.Path, "/") + path
	uri := fmt.Sprintf("%s %s%s", method, base.Host, fullPath)

	now := time.Now()
	claims := cdpClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.cfg.APIKeyName,
			Issuer:    "cdp",
			NotBefore: jwt.NewNumericDate(now.Add(-jwtClockSkewSeconds * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		},
		URI: uri,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.cfg.APIKeyName
	token.Header["nonce"] = randomNonce()

	return token.SignedString(key)
}

func (c *Client) ecdsaKey() (*ecdsa.PrivateKey, error) {
	c.mu.RLock()
	if c.signingKey != nil {
		defer c.mu.RUnlock()
		return c.signingKey, nil
	}
	c.mu.RUnlock()

	pem := strings.ReplaceAll(c.cfg.PrivateKeyPEM, `\n`, "\n")
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("parse ec private key: %w", err)
	}

	c.mu.Lock()
	c.signingKey = key
	c.mu.Unlock()
	return key, nil
}

func randomNonce() string {
	n, err := randUint64()
	if err != nil {
		return "0000000000000000"
	}
	return fmt.Sprintf("%016x", n)
}

func randUint64() (uint64, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 64)
	n, err := cryptorand.Int(cryptorand.Reader, max)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// signLegacyHMAC implements the Coinbase Pro CB-ACCESS-* header scheme for
// deployments still using passphrase-based API keys instead of CDP.
func (c *Client) signLegacyHMAC(req *http.Request, method, path string, body []byte) error {
	secret, err := base64.StdEncoding.DecodeString(c.cfg.APISecret)
	if err != nil {
		return fmt.Errorf("decode api secret: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	prehash := timestamp + method + path + string(body)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(prehash))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("CB-ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("CB-ACCESS-SIGN", signature)
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("CB-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	return nil
}
