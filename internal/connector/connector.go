// Package connector defines the polymorphic venue contract:
// connect/disconnect, market data (REST + stream), order operations, and
// fund transfers, uniform across Coinbase, Binance.US and Kraken.
package connector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/domain"
)

// StreamMessage is one item of a market stream: either a tick or an order
// update, never both.
type StreamMessage struct {
	Tick         *domain.MarketTick
	OrderUpdate  *OrderUpdate
	SourceSeq    uint64 // monotonic per-(venue,symbol) ingress sequence, for ordering tests
}

// OrderUpdate is an authenticated user-data event about one of the
// account's own orders.
type OrderUpdate struct {
	OrderID       string
	ClientOrderID string
	Status        domain.OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Timestamp     time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Balance is one currency's free/locked funds on a venue.
type Balance struct {
	Currency string
	Free     decimal.Decimal
	Locked   decimal.Decimal
}

// OrderRequest is what callers hand to PlaceOrder.
type OrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Type          domain.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   domain.TimeInForce
	ClientOrderID string
}

// TransferUrgency maps an AllocationPriority onto a venue-agnostic urgency
// hint passed to TransferFunds.
type TransferUrgency string

const (
	TransferUrgencyLow      TransferUrgency = "low"
	TransferUrgencyNormal   TransferUrgency = "normal"
	TransferUrgencyHigh     TransferUrgency = "high"
	TransferUrgencyCritical TransferUrgency = "critical"
	TransferUrgencyEmergency TransferUrgency = "emergency"
)

// UrgencyFromPriority converts an allocation priority into the
// connector-facing urgency hint.
func UrgencyFromPriority(p domain.AllocationPriority) TransferUrgency {
	switch p {
	case domain.PriorityEmergency:
		return TransferUrgencyEmergency
	case domain.PriorityCritical:
		return TransferUrgencyCritical
	case domain.PriorityHigh:
		return TransferUrgencyHigh
	case domain.PriorityLow:
		return TransferUrgencyLow
	default:
		return TransferUrgencyNormal
	}
}

// TransferRequest asks a connector to move currency off the venue.
type TransferRequest struct {
	Currency    string
	Amount      decimal.Decimal
	ToVenue     string
	ToAddress   string // venue-specific destination (e.g. another venue's deposit address)
	Urgency     TransferUrgency
}

// TransferStatus is the lifecycle of a submitted transfer.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusConfirmed TransferStatus = "confirmed"
	TransferStatusFailed    TransferStatus = "failed"
)

// ExchangeClient is the capability set every venue connector provides.
type ExchangeClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	VenueID() string

	TradingPairs(ctx context.Context) ([]string, error)
	Balances(ctx context.Context) ([]Balance, error)
	MarketTick(ctx context.Context, symbol string) (*domain.MarketTick, error)
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// StartMarketStream returns a read-only channel of StreamMessage for the
	// given symbols. The channel is unbounded-effort: the producer never
	// blocks on send, preferring to drop and increment a counter. Closing ctx terminates the producer deterministically.
	StartMarketStream(ctx context.Context, symbols []string) (<-chan StreamMessage, error)
	StartOrderStream(ctx context.Context) (<-chan OrderUpdate, error)

	TransferFunds(ctx context.Context, req TransferRequest) (uuid.UUID, error)
	GetTransferStatus(ctx context.Context, transferID uuid.UUID) (TransferStatus, error)

	// DroppedMessages reports the cumulative count of stream messages
	// dropped due to a full/slow consumer, for observability.
	DroppedMessages() int64
}
