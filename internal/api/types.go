// Package api holds the request/response DTOs for the trading core's
// consumer-facing operations (orders, portfolio, market data, the
// strategies wrapper, and the arbitrage control surface). It deliberately
// stops at the DTOs: no router or HTTP handler lives here, since the
// façade that marshals these with something like gin-gonic/gin is an
// external collaborator, not a component of this module.
package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/domain"
)

// --- orders ---

// PlaceOrderRequest asks the core to submit a new order.
type PlaceOrderRequest struct {
	AccountID   string              `json:"account_id"`
	Symbol      string              `json:"symbol"`
	Venue       string              `json:"venue"`
	Side        domain.OrderSide    `json:"side"`
	Type        domain.OrderType    `json:"type"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Price       decimal.Decimal     `json:"price,omitempty"`
	TimeInForce domain.TimeInForce  `json:"time_in_force,omitempty"`
}

// OrderResponse is the consumer-facing view of one order.
type OrderResponse struct {
	ID           uuid.UUID          `json:"id"`
	Symbol       string             `json:"symbol"`
	Venue        string             `json:"venue"`
	Side         domain.OrderSide   `json:"side"`
	Type         domain.OrderType   `json:"type"`
	Status       domain.OrderStatus `json:"status"`
	Quantity     decimal.Decimal    `json:"quantity"`
	FilledQty    decimal.Decimal    `json:"filled_qty"`
	AvgFillPrice decimal.Decimal    `json:"avg_fill_price"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// CancelOrderRequest asks the core to cancel one resting order.
type CancelOrderRequest struct {
	OrderID uuid.UUID `json:"order_id"`
}

func OrderResponseFrom(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID: o.ID, Symbol: o.Symbol, Venue: o.Venue, Side: o.Side, Type: o.Type,
		Status: o.Status, Quantity: o.Quantity, FilledQty: o.FilledQty,
		AvgFillPrice: o.AvgFillPrice, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

// --- portfolio ---

// PositionResponse is the consumer-facing view of one symbol's net
// exposure within an account.
type PositionResponse struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioResponse is one account's full position set.
type PortfolioResponse struct {
	AccountID string             `json:"account_id"`
	Positions []PositionResponse `json:"positions"`
}

func PortfolioResponseFrom(p *domain.Portfolio) PortfolioResponse {
	out := PortfolioResponse{AccountID: p.AccountID}
	for _, pos := range p.Positions {
		out.Positions = append(out.Positions, PositionResponse{
			Symbol: pos.Symbol, Quantity: pos.Quantity, AvgPrice: pos.AvgPrice,
			RealizedPnL: pos.RealizedPnL, UnrealizedPnL: pos.UnrealizedPnL,
		})
	}
	return out
}

// RiskSummaryResponse surfaces the Risk Monitor's running totals.
type RiskSummaryResponse struct {
	DailyPnL          decimal.Decimal    `json:"daily_pnl"`
	ConsecutiveLosses int                `json:"consecutive_losses"`
	DrawdownPct       float64            `json:"drawdown_pct"`
	VenueErrorRate    map[string]float64 `json:"venue_error_rate"`
}

// --- market_data ---

// TickResponse is the consumer-facing view of one market tick.
type TickResponse struct {
	Symbol    string          `json:"symbol"`
	Venue     string          `json:"venue"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"timestamp"`
}

func TickResponseFrom(t *domain.MarketTick) TickResponse {
	return TickResponse{
		Symbol: t.Symbol, Venue: t.Venue, Bid: t.Bid, Ask: t.Ask, Last: t.Last, Timestamp: t.Timestamp,
	}
}

// VolatilityScoreResponse is the consumer-facing view of the Scanner's
// rolling-window output for one (symbol, venue).
type VolatilityScoreResponse struct {
	Symbol    string    `json:"symbol"`
	Venue     string    `json:"venue"`
	Score     float64   `json:"score"`
	Momentum  float64   `json:"momentum"`
	Timestamp time.Time `json:"timestamp"`
}

func VolatilityScoreResponseFrom(v domain.VolatilityScore) VolatilityScoreResponse {
	return VolatilityScoreResponse{
		Symbol: v.Symbol, Venue: v.Venue, Score: v.Score, Momentum: v.Momentum, Timestamp: v.Timestamp,
	}
}

// --- strategies (out-of-core wrapper) ---

// StrategyStatusResponse reports whether the orchestrator is currently
// running and its circuit-breaker admission state, for a host-level
// strategy-management surface that wraps this core.
type StrategyStatusResponse struct {
	Running             bool   `json:"running"`
	AdmissionOpen        bool   `json:"admission_open"`
	AdmissionBlockReason string `json:"admission_block_reason,omitempty"`
}

// --- arbitrage control surface ---

// OpportunityResponse is the consumer-facing view of one detected
// arbitrage opportunity.
type OpportunityResponse struct {
	ID              uuid.UUID              `json:"id"`
	Symbol          string                 `json:"symbol"`
	BuyVenue        string                 `json:"buy_venue"`
	SellVenue       string                 `json:"sell_venue"`
	ProfitPct       float64                `json:"profit_pct"`
	Confidence      float64                `json:"confidence"`
	Risk            float64                `json:"risk"`
	MaxQty          decimal.Decimal        `json:"max_qty"`
	TimeSensitivity domain.TimeSensitivity `json:"time_sensitivity"`
	DetectedAt      time.Time              `json:"detected_at"`
	ExpiresAt       time.Time              `json:"expires_at"`
}

func OpportunityResponseFrom(o *domain.ArbitrageOpportunity) OpportunityResponse {
	return OpportunityResponse{
		ID: o.ID, Symbol: o.Symbol, BuyVenue: o.BuyVenue, SellVenue: o.SellVenue,
		ProfitPct: o.ProfitPct, Confidence: o.Confidence, Risk: o.Risk, MaxQty: o.MaxQty,
		TimeSensitivity: o.TimeSensitivity, DetectedAt: o.DetectedAt, ExpiresAt: o.ExpiresAt,
	}
}

// EmergencyStopRequest triggers the orchestrator's emergency lifecycle:
// cancel every open order and clear active opportunities.
type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}

// ResetCircuitBreakerRequest explicitly clears the admission gate.
type ResetCircuitBreakerRequest struct {
	Reason string `json:"reason"`
}
