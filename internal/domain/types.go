// Package domain holds the data model shared by every trading-core
// component: orders, fills, positions, market ticks, arbitrage
// opportunities, allocation requests and venues. Money is always
// decimal.Decimal; no component may introduce float64 for quantity,
// price, fee or PnL.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide is the side of an order or fill.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
	OrderTypeIceberg   OrderType = "ICEBERG"
	OrderTypeTWAP      OrderType = "TWAP"
	OrderTypeVWAP      OrderType = "VWAP"
)

// RequiresPrice reports whether a price is mandatory for this order type.
func (t OrderType) RequiresPrice() bool {
	return t != OrderTypeMarket
}

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status can never change again.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// IsMutable reports whether an order in this status may still be filled or
// cancelled.
func (s OrderStatus) IsMutable() bool {
	return s == OrderStatusPending || s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// TimeInForce controls order resting/expiry semantics.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// Order is the canonical order record owned by the Order Manager.
type Order struct {
	ID          uuid.UUID
	Symbol      string
	Venue       string
	Side        OrderSide
	Type        OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal // zero value means "not set"; required iff Type.RequiresPrice()
	TimeInForce TimeInForce
	Status      OrderStatus
	FilledQty   decimal.Decimal
	AvgFillPrice decimal.Decimal
	AccountID   string
	ClientOrderID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Metadata    map[string]string
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// Execution (a.k.a. Fill) records one match against an order.
type Execution struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Symbol    string
	Side      OrderSide
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Venue     string
	Fee       decimal.Decimal
	Timestamp time.Time
}

// Position is one account's net exposure in one symbol.
type Position struct {
	AccountID    string
	Symbol       string
	Quantity     decimal.Decimal // signed: positive long, negative short
	AvgPrice     decimal.Decimal
	RealizedPnL  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	LastUpdate   time.Time
}

// ApplyFill updates the position for one execution against it, following
// the weighted-average-price rule on increasing exposure and realizing PnL
// on reducing exposure. signedQty is positive for buys, negative for sells.
func (p *Position) ApplyFill(signedQty, price decimal.Decimal) {
	oldQty := p.Quantity
	newQty := oldQty.Add(signedQty)

	sameSignOrFlat := oldQty.Sign() == 0 || oldQty.Sign() == signedQty.Sign()
	increasing := sameSignOrFlat

	if increasing {
		if newQty.IsZero() {
			p.AvgPrice = decimal.Zero
		} else {
			num := oldQty.Abs().Mul(p.AvgPrice).Add(signedQty.Abs().Mul(price))
			p.AvgPrice = num.Div(newQty.Abs())
		}
	} else {
		// Reducing (or flipping) exposure: realize PnL on the portion closed.
		closedQty := decimal.Min(oldQty.Abs(), signedQty.Abs())
		if oldQty.Sign() > 0 {
			p.RealizedPnL = p.RealizedPnL.Add(closedQty.Mul(price.Sub(p.AvgPrice)))
		} else {
			p.RealizedPnL = p.RealizedPnL.Add(closedQty.Mul(p.AvgPrice.Sub(price)))
		}
		if signedQty.Abs().GreaterThan(oldQty.Abs()) {
			// Flipped through zero: the remainder opens a new position at price.
			p.AvgPrice = price
		} else if newQty.IsZero() {
			p.AvgPrice = decimal.Zero
		}
	}

	p.Quantity = newQty
	p.LastUpdate = time.Now()
}

// Portfolio is a cache of positions per account; never the source of truth.
type Portfolio struct {
	AccountID string
	Positions map[string]*Position // symbol -> Position
}

// MarketTick is an atomic quote snapshot.
type MarketTick struct {
	Symbol    string
	Venue     string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Volume24h decimal.Decimal
	Timestamp time.Time
}

// Spread returns ask-bid.
func (t MarketTick) Spread() decimal.Decimal { return t.Ask.Sub(t.Bid) }

// VolatilityScore is the scanner's rolling-window output.
type VolatilityScore struct {
	Symbol          string
	Venue           string
	Score           float64
	Change1m        float64
	Change5m        float64
	Change15m       float64
	VolumeSurge     float64
	SpreadTightness float64
	Momentum        float64
	Timestamp       time.Time
}

// TimeSensitivity buckets an ArbitrageOpportunity's expected spread
// half-life into a discrete expiry table.
type TimeSensitivity string

const (
	TimeSensitivityLow      TimeSensitivity = "LOW"
	TimeSensitivityMedium   TimeSensitivity = "MEDIUM"
	TimeSensitivityHigh     TimeSensitivity = "HIGH"
	TimeSensitivityCritical TimeSensitivity = "CRITICAL"
)

// ExpiryWindow returns the TTL for a given time-sensitivity bucket.
func (t TimeSensitivity) ExpiryWindow() time.Duration {
	switch t {
	case TimeSensitivityLow:
		return 30 * time.Second
	case TimeSensitivityMedium:
		return 10 * time.Second
	case TimeSensitivityHigh:
		return 3 * time.Second
	case TimeSensitivityCritical:
		return time.Second
	default:
		return 10 * time.Second
	}
}

// ArbitrageOpportunity is a detected cross-venue price dislocation.
type ArbitrageOpportunity struct {
	ID              uuid.UUID
	Symbol          string
	BuyVenue        string
	SellVenue       string
	BuyPrice        decimal.Decimal
	SellPrice       decimal.Decimal
	PriceDiff       decimal.Decimal
	ProfitPct       float64
	EstProfit       decimal.Decimal
	Confidence      float64
	MaxQty          decimal.Decimal
	TimeSensitivity TimeSensitivity
	Risk            float64
	Complexity      int
	DetectedAt      time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the opportunity is dead at instant now.
func (o *ArbitrageOpportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// AllocationPriority drives the allocator's deadline table.
type AllocationPriority string

const (
	PriorityEmergency AllocationPriority = "EMERGENCY"
	PriorityCritical  AllocationPriority = "CRITICAL"
	PriorityHigh      AllocationPriority = "HIGH"
	PriorityNormal    AllocationPriority = "NORMAL"
	PriorityLow       AllocationPriority = "LOW"
)

// Deadline returns how long after RequestedAt the allocation is due, per
// the allocator's priority/deadline table.
func (p AllocationPriority) Deadline() time.Duration {
	switch p {
	case PriorityEmergency:
		return time.Minute
	case PriorityCritical:
		return 5 * time.Minute
	case PriorityHigh:
		return 15 * time.Minute
	case PriorityNormal:
		return 60 * time.Minute
	case PriorityLow:
		return 240 * time.Minute
	default:
		return 60 * time.Minute
	}
}

// rank orders priorities for the allocator's (priority asc, deadline asc)
// processing order: lower rank is processed first.
func (p AllocationPriority) rank() int {
	switch p {
	case PriorityEmergency:
		return 0
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 3
	case PriorityLow:
		return 4
	default:
		return 5
	}
}

// Rank exposes rank() for package allocator's heap ordering.
func (p AllocationPriority) Rank() int { return p.rank() }

// AllocationRequest asks the Capital Allocator to move currency between
// venues.
type AllocationRequest struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	FromVenue     string
	ToVenue       string
	Currency      string
	Amount        decimal.Decimal
	Priority      AllocationPriority
	Reason        string
	RequestedAt   time.Time
	Deadline      time.Time
}

// FeeStructure holds a venue's maker/taker/withdrawal fee rates. Rates may
// be negative (rebate).
type FeeStructure struct {
	Maker      decimal.Decimal
	Taker      decimal.Decimal
	Withdrawal decimal.Decimal
}

// Venue describes a trading platform's static profile.
type Venue struct {
	ID                string
	Name              string
	SupportedSymbols  map[string]bool
	Fees              FeeStructure
	RateLimitPerSec   float64
	Connected         bool
	Metadata          map[string]string
}
