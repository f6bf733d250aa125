// Package execution implements the two-leg arbitrage execution engine
//: bounded-concurrency leg submission, per-opportunity
// deadlines, idempotent client-order-ids, and compensating unwind on
// partial fill.
package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/orders"
	"github.com/nova-trade/trading-core/pkg/observability"
)

// FailureReason enumerates the execution engine's failure taxonomy.
type FailureReason string

const (
	FailureTimeout           FailureReason = "TIMEOUT"
	FailureLegRejected       FailureReason = "LEG_REJECTED"
	FailurePartialUnwind     FailureReason = "PARTIAL_UNWIND"
	FailureVenueDisconnected FailureReason = "VENUE_DISCONNECTED"
	FailureRiskBlocked       FailureReason = "RISK_BLOCKED"
)

// slowExecutionThreshold is the wall-clock Execute is allowed to take
// before LogSlowOperation flags it; two-leg execution should complete in
// well under a second given the opportunity's own expiry window.
const slowExecutionThreshold = 500 * time.Millisecond

// Outcome is the result of one Execute call.
type Outcome struct {
	Success        bool
	BuyFill        *domain.Execution
	SellFill       *domain.Execution
	RealizedProfit decimal.Decimal
	Reason         FailureReason
}

// Config tunes the engine.
type Config struct {
	MaxConcurrentLegs int
	DeadlineSlack     time.Duration
}

// LegSubmitter is the narrow surface execution needs from the Order
// Manager: submit one leg and learn its terminal status. ctx carries the
// per-opportunity deadline.
type LegSubmitter interface {
	SubmitLimit(ctx context.Context, req orders.SubmitRequest) (*domain.Order, error)
	Await(ctx context.Context, orderID string) (*domain.Order, []*domain.Execution, error)
}

// Engine coordinates the two legs of one arbitrage opportunity, built on
// a bounded worker-pool dispatch pattern generalized to a two-sided
// buy/sell-with-unwind scope.
type Engine struct {
	submitter LegSubmitter
	logger    *observability.Logger
	perf      *observability.PerformanceLogger
	cfg       Config
	sem       chan struct{}
}

// New builds an Engine with bounded leg concurrency.
func New(submitter LegSubmitter, cfg Config, logger *observability.Logger) *Engine {
	if cfg.MaxConcurrentLegs <= 0 {
		cfg.MaxConcurrentLegs = 2
	}
	return &Engine{
		submitter: submitter, logger: logger, cfg: cfg,
		perf: observability.NewPerformanceLogger(logger),
		sem:  make(chan struct{}, cfg.MaxConcurrentLegs),
	}
}

// Execute submits the buy and sell legs of opp with bounded concurrency,
// honouring a deadline of expires_at−ε, and unwinds the filled leg if the
// other leg fails to fill.
func (e *Engine) Execute(ctx context.Context, opp *domain.ArbitrageOpportunity) Outcome {
	start := time.Now()
	defer func() {
		e.perf.LogSlowOperation(ctx, "execute_opportunity", time.Since(start), slowExecutionThreshold,
			map[string]interface{}{"opportunity_id": opp.ID.String(), "symbol": opp.Symbol})
	}()

	deadline := opp.ExpiresAt.Add(-e.cfg.DeadlineSlack)
	legCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	buyReq := orders.SubmitRequest{
		Symbol: opp.Symbol, Venue: opp.BuyVenue, Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Quantity: opp.MaxQty, Price: opp.BuyPrice, TimeInForce: domain.TimeInForceIOC,
		Metadata: map[string]string{"client_order_id": clientOrderID(opp.ID, "buy")},
	}
	sellReq := orders.SubmitRequest{
		Symbol: opp.Symbol, Venue: opp.SellVenue, Side: domain.OrderSideSell, Type: domain.OrderTypeLimit,
		Quantity: opp.MaxQty, Price: opp.SellPrice, TimeInForce: domain.TimeInForceIOC,
		Metadata: map[string]string{"client_order_id": clientOrderID(opp.ID, "sell")},
	}

	var buyResult, sellResult legResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); buyResult = e.submitLeg(legCtx, buyReq) }()
	go func() { defer wg.Done(); sellResult = e.submitLeg(legCtx, sellReq) }()
	wg.Wait()

	if buyResult.err != nil && sellResult.err != nil {
		return Outcome{Reason: classify(buyResult.err)}
	}
	if buyResult.err != nil {
		e.unwind(ctx, sellResult)
		return Outcome{Reason: classify(buyResult.err)}
	}
	if sellResult.err != nil {
		e.unwind(ctx, buyResult)
		return Outcome{Reason: classify(sellResult.err)}
	}

	if buyResult.fill == nil || sellResult.fill == nil {
		// One or both legs rested without filling before the deadline:
		// unwind whichever side did fill, report the honest partial state.
		if buyResult.fill != nil {
			e.unwind(ctx, buyResult)
		}
		if sellResult.fill != nil {
			e.unwind(ctx, sellResult)
		}
		return Outcome{Reason: FailurePartialUnwind}
	}

	profit := sellResult.fill.Price.Sub(buyResult.fill.Price).
		Mul(decimal.Min(buyResult.fill.Quantity, sellResult.fill.Quantity)).
		Sub(buyResult.fill.Fee).Sub(sellResult.fill.Fee)

	return Outcome{
		Success: true, BuyFill: buyResult.fill, SellFill: sellResult.fill, RealizedProfit: profit,
	}
}

type legResult struct {
	order *domain.Order
	fill  *domain.Execution
	err   error
}

func (e *Engine) submitLeg(ctx context.Context, req orders.SubmitRequest) legResult {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return legResult{err: coreerrors.Wrap(coreerrors.KindInternal, "deadline exceeded before leg dispatch", ctx.Err())}
	}

	order, err := e.submitter.SubmitLimit(ctx, req)
	if err != nil {
		return legResult{err: err}
	}

	finalOrder, fills, err := e.submitter.Await(ctx, order.ID.String())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return legResult{order: order, err: coreerrors.Wrap(coreerrors.KindInternal, "leg timed out", ctx.Err())}
		}
		return legResult{order: order, err: err}
	}
	var fill *domain.Execution
	if len(fills) > 0 {
		fill = fills[len(fills)-1]
	}
	return legResult{order: finalOrder, fill: fill}
}

// unwind issues a compensating close on the same venue for a leg that
// filled while its counterpart did not.
func (e *Engine) unwind(ctx context.Context, filled legResult) {
	if filled.fill == nil {
		return
	}
	opposite := domain.OrderSideSell
	if filled.fill.Side == domain.OrderSideSell {
		opposite = domain.OrderSideBuy
	}
	req := orders.SubmitRequest{
		Symbol: filled.fill.Symbol, Venue: filled.fill.Venue, Side: opposite,
		Type: domain.OrderTypeMarket, Quantity: filled.fill.Quantity,
		Metadata: map[string]string{"client_order_id": clientOrderID(filled.order.ID, "unwind")},
	}
	if _, err := e.submitter.SubmitLimit(ctx, req); err != nil {
		e.logger.Error(ctx, "unwind submission failed", err, map[string]interface{}{
			"symbol": filled.fill.Symbol, "venue": filled.fill.Venue,
		})
	}
}

func classify(err error) FailureReason {
	switch {
	case coreerrors.Is(err, coreerrors.KindVenueNetwork):
		return FailureVenueDisconnected
	case coreerrors.Is(err, coreerrors.KindRiskBlocked), coreerrors.Is(err, coreerrors.KindOrderValidation):
		return FailureRiskBlocked
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	default:
		return FailureLegRejected
	}
}

// clientOrderID derives a deterministic, idempotent client-order-id from
// the opportunity id so retries never duplicate a leg.
func clientOrderID(opportunityID interface{ String() string }, leg string) string {
	return opportunityID.String() + ":" + leg
}
