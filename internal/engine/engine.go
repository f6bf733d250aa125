// Package engine implements the Arbitrage Engine orchestrator: the four
// cooperating Scan/Detect/Allocate/Monitor tasks, the admission filter
// gating opportunity execution, the circuit breaker, and the Risk Monitor.
// It also owns the venue-stream ingestion that feeds the Scanner, Detector
// and Order Manager their ticks, since wiring that dataflow together is
// the orchestrator's job.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/allocator"
	"github.com/nova-trade/trading-core/internal/arbitrage"
	"github.com/nova-trade/trading-core/internal/config"
	"github.com/nova-trade/trading-core/internal/connector"
	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/execution"
	"github.com/nova-trade/trading-core/internal/orders"
	"github.com/nova-trade/trading-core/internal/router"
	"github.com/nova-trade/trading-core/internal/scanner"
	"github.com/nova-trade/trading-core/pkg/observability"
)

// Deps bundles the already-constructed collaborators the Engine
// orchestrates; every field except Metrics is required.
type Deps struct {
	Connectors map[string]connector.ExchangeClient
	Symbols    []string
	Scanner    *scanner.Scanner
	Detector   *arbitrage.Detector
	Router     *router.Router
	Allocator  *allocator.Allocator
	Orders     *orders.Manager
	Logger     *observability.Logger
	// Metrics is optional; a nil value disables metric recording so tests
	// can build an Engine without standing up a registry.
	Metrics *observability.Metrics
}

// Engine is the orchestrator described by the component design: it owns
// the Scan/Detect/Allocate/Monitor tasks, the admission filter, the
// circuit breaker, and the per-venue ingestion loops, built with the same
// stopChan/WaitGroup-per-Start/Stop-cycle idiom its long-running managers
// use elsewhere, generalized here to four cooperating tickers instead of
// one.
type Engine struct {
	deps        Deps
	cfg         config.EngineConfig
	detectorCfg config.DetectorConfig

	execEngine *execution.Engine
	risk       *RiskMonitor
	breaker    *circuitBreaker

	maxPositionSize    decimal.Decimal
	maxDailyAllocation decimal.Decimal

	mu                sync.Mutex
	dailyAllocated    decimal.Decimal
	dailyResetAt      time.Time
	activeOpportunity map[uuid.UUID]struct{}

	volMu       sync.RWMutex
	volBySymbol map[string]float64

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an Engine from its dependencies and the engine/detector/risk
// configuration sections.
func New(deps Deps, cfg config.EngineConfig, detectorCfg config.DetectorConfig, execCfg config.ExecutionConfig, riskCfg config.RiskConfig) *Engine {
	submitter := newOrderManagerSubmitter(deps.Orders, 5*time.Millisecond)
	execEngine := execution.New(submitter, execution.Config{
		MaxConcurrentLegs: execCfg.MaxConcurrentLegs,
		DeadlineSlack:     execCfg.DeadlineSlack,
	}, deps.Logger)

	maxPositionSize, _ := decimal.NewFromString(riskCfg.MaxPositionSize)
	maxDailyAllocation, _ := decimal.NewFromString(cfg.MaxDailyAllocation)

	return &Engine{
		deps: deps, cfg: cfg, detectorCfg: detectorCfg,
		execEngine:         execEngine,
		risk:               NewRiskMonitor(riskCfg, deps.Logger),
		breaker:            newCircuitBreaker(riskCfg.ConsecutiveLossLimit),
		maxPositionSize:    maxPositionSize,
		maxDailyAllocation: maxDailyAllocation,
		activeOpportunity:  make(map[uuid.UUID]struct{}),
		volBySymbol:        make(map[string]float64),
	}
}

// Start launches the four cooperating tasks and the per-venue ingestion
// loops, and blocks until ctx is cancelled or Stop is called, at which
// point every task has exited.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for venueID, client := range e.deps.Connectors {
		e.wg.Add(1)
		go e.ingestLoop(runCtx, venueID, client)
	}

	e.wg.Add(4)
	go e.scanLoop(runCtx)
	go e.detectLoop(runCtx)
	go e.allocateLoop(runCtx)
	go e.monitorLoop(runCtx)

	e.wg.Wait()
	return nil
}

// Stop cancels every task cooperatively and waits for them to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
	})
	e.wg.Wait()
}

// EmergencyStop stops the orchestrator, cancels every open order across
// every connected venue, and clears active opportunities, per the
// orchestrator's emergency lifecycle.
func (e *Engine) EmergencyStop(ctx context.Context) error {
	e.Stop()

	var firstErr error
	for _, o := range e.deps.Orders.OpenOrders() {
		if err := e.deps.Orders.Cancel(ctx, o.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		if client, ok := e.deps.Connectors[o.Venue]; ok {
			_ = client.CancelOrder(ctx, o.ClientOrderID)
		}
	}
	e.deps.Detector.Clear()

	e.mu.Lock()
	e.activeOpportunity = make(map[uuid.UUID]struct{})
	e.mu.Unlock()
	return firstErr
}

// ResetCircuitBreaker clears the admission gate, an explicit operator
// action per the orchestrator's "reset is explicit" rule.
func (e *Engine) ResetCircuitBreaker() {
	e.breaker.Reset()
}

// RiskSnapshot exposes the current PnL/drawdown/venue-error totals.
func (e *Engine) RiskSnapshot() riskSnapshot {
	return e.risk.Snapshot()
}

// ingestLoop subscribes to one venue's market stream and fans each tick
// into the Scanner, Detector and Order Manager, and keeps the Router's
// venue metrics current.
func (e *Engine) ingestLoop(ctx context.Context, venueID string, client connector.ExchangeClient) {
	defer e.wg.Done()
	log := e.deps.Logger.WithFields(map[string]interface{}{"venue": venueID})
	stream, err := client.StartMarketStream(ctx, e.deps.Symbols)
	if err != nil {
		log.Error(ctx, "market stream start failed", err)
		e.risk.RecordVenueCall(venueID, true)
		if e.deps.Metrics != nil {
			e.deps.Metrics.StreamReconnects.WithLabelValues(venueID).Inc()
		}
		return
	}
	defer func() {
		if e.deps.Metrics != nil && client.DroppedMessages() > 0 {
			e.deps.Metrics.StreamDrops.WithLabelValues(venueID, "all").Add(float64(client.DroppedMessages()))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if msg.Tick == nil {
				continue
			}
			e.deps.Scanner.OnTick(msg.Tick)
			e.deps.Detector.OnTick(msg.Tick, msg.Tick.Volume24h)
			e.deps.Router.UpdateFromTick(venueID, msg.Tick.Symbol, msg.Tick.Volume24h, msg.Tick.Spread())
			if _, err := e.deps.Orders.ApplyMarketTick(ctx, msg.Tick.Symbol, msg.Tick.Last); err != nil {
				log.Warn(ctx, "tick application failed")
				e.risk.RecordVenueCall(venueID, true)
				continue
			}
			e.risk.RecordVenueCall(venueID, false)
		}
	}
}

// scanLoop periodically refreshes the engine's per-symbol volatility cache
// from the Scanner's latest scores (max score across venues per symbol),
// consulted by reject's max_volatility admission check.
func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(scanPeriodOrDefault(e.cfg.ScanPeriod))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshVolatility()
		}
	}
}

// refreshVolatility recomputes the max volatility score per symbol across
// all venues the Scanner currently tracks.
func (e *Engine) refreshVolatility() {
	byScore := make(map[string]float64)
	for _, s := range e.deps.Scanner.AllScores() {
		if s.Score > byScore[s.Symbol] {
			byScore[s.Symbol] = s.Score
		}
	}
	e.volMu.Lock()
	e.volBySymbol = byScore
	e.volMu.Unlock()
}

func (e *Engine) volatility(symbol string) float64 {
	e.volMu.RLock()
	defer e.volMu.RUnlock()
	return e.volBySymbol[symbol]
}

func (e *Engine) detectLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(scanPeriodOrDefault(e.cfg.DetectPeriod))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, opp := range e.deps.Detector.Detect(ctx) {
				if e.deps.Metrics != nil {
					e.deps.Metrics.OpportunitiesFound.WithLabelValues(opp.Symbol).Inc()
				}
				ok, reason := e.admit(opp)
				if !ok {
					if rerr := RejectionError(reason); rerr != nil {
						e.deps.Logger.Error(ctx, "opportunity rejected by admission filter", rerr, map[string]interface{}{
							"opportunity_id": opp.ID.String(),
						})
					} else {
						e.deps.Logger.Warn(ctx, "opportunity rejected by admission filter", map[string]interface{}{
							"opportunity_id": opp.ID.String(), "reason": reason,
						})
					}
					e.deps.Detector.Complete(opp.ID)
					continue
				}
				e.trackActive(opp.ID)
				go e.executeOpportunity(ctx, opp)
			}
			for _, id := range e.deps.Detector.SweepExpired(time.Now().UTC()) {
				e.untrackActive(id)
			}
		}
	}
}

func (e *Engine) allocateLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(scanPeriodOrDefault(e.cfg.AllocatePeriod))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := e.deps.Allocator.RebalanceCycle(ctx, time.Now())
			for _, outcome := range result.Outcomes {
				if outcome.Err != nil {
					e.deps.Logger.Warn(ctx, "allocation transfer failed", map[string]interface{}{
						"request_id": outcome.Request.ID.String(), "error": outcome.Err.Error(),
					})
					continue
				}
				if e.deps.Metrics != nil {
					e.deps.Metrics.AllocatorTransfers.WithLabelValues(
						outcome.Request.FromVenue, outcome.Request.ToVenue, string(outcome.Request.Priority),
					).Inc()
				}
			}
			if e.deps.Metrics != nil {
				for _, req := range result.Expired {
					e.deps.Metrics.AllocatorExpired.WithLabelValues(string(req.Priority)).Inc()
				}
			}
		}
	}
}

func (e *Engine) monitorLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(scanPeriodOrDefault(e.cfg.MonitorPeriod))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, reason := range e.risk.Evaluate() {
				e.breaker.Trip(string(reason))
				if e.deps.Metrics != nil {
					e.deps.Metrics.CircuitBreakerTrips.Inc()
				}
				e.deps.Logger.Warn(ctx, "circuit breaker tripped", map[string]interface{}{"reason": string(reason)})
			}
		}
	}
}

// admit applies the admission filter: circuit-breaker state, then the
// profit/confidence/risk/position-size thresholds, then the day-cumulative
// allocation cap.
func (e *Engine) admit(opp *domain.ArbitrageOpportunity) (bool, string) {
	if ok, reject := e.reject(opp); !ok {
		if e.deps.Metrics != nil {
			e.deps.Metrics.OrdersRejected.WithLabelValues(reject).Inc()
		}
		return false, reject
	}
	return true, ""
}

func (e *Engine) reject(opp *domain.ArbitrageOpportunity) (bool, string) {
	if ok, reason := e.breaker.Allow(); !ok {
		return false, reason
	}
	if opp.ProfitPct < e.detectorCfg.MinProfitPct {
		return false, "profit_pct"
	}
	if opp.Confidence < e.detectorCfg.MinConfidence {
		return false, "confidence"
	}
	if opp.Risk > e.detectorCfg.MaxRisk {
		return false, "risk"
	}
	if e.maxPositionSize.Sign() > 0 && opp.MaxQty.GreaterThan(e.maxPositionSize) {
		return false, "max_position_size"
	}
	if e.detectorCfg.MaxVolatility > 0 && e.volatility(opp.Symbol) > e.detectorCfg.MaxVolatility {
		return false, "volatility"
	}
	if e.maxDailyAllocation.Sign() <= 0 {
		return true, ""
	}

	notional := opp.MaxQty.Mul(opp.BuyPrice)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeResetDailyAllocationLocked(time.Now())
	projected := e.dailyAllocated.Add(notional)
	if projected.GreaterThan(e.maxDailyAllocation) {
		return false, "max_daily_allocation"
	}
	e.dailyAllocated = projected
	return true, ""
}

// RejectionError maps an admission-filter rejection reason to its typed
// error, for reasons that mean the circuit breaker is open; other
// rejection reasons (threshold filters) have no typed equivalent and
// return nil.
func RejectionError(reason string) error {
	switch reason {
	case "consecutive_loss_limit", "daily_loss_threshold", "drawdown_threshold", "venue_error_rate_spike":
		return coreerrors.ErrCircuitBreakerOpen
	default:
		return nil
	}
}

func (e *Engine) maybeResetDailyAllocationLocked(now time.Time) {
	boundary := now.UTC().Truncate(24 * time.Hour)
	if e.dailyResetAt.Before(boundary) {
		e.dailyAllocated = decimal.Zero
		e.dailyResetAt = boundary
	}
}

func (e *Engine) trackActive(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeOpportunity[id] = struct{}{}
}

func (e *Engine) untrackActive(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.activeOpportunity, id)
}

// executeOpportunity runs the two-leg execution for one admitted
// opportunity and folds its outcome into the Risk Monitor and circuit
// breaker.
func (e *Engine) executeOpportunity(ctx context.Context, opp *domain.ArbitrageOpportunity) {
	defer e.deps.Detector.Complete(opp.ID)
	defer e.untrackActive(opp.ID)

	if e.deps.Metrics != nil {
		e.deps.Metrics.OrdersSubmitted.WithLabelValues(opp.Symbol, opp.BuyVenue).Inc()
		e.deps.Metrics.OrdersSubmitted.WithLabelValues(opp.Symbol, opp.SellVenue).Inc()
	}

	start := time.Now()
	outcome := e.execEngine.Execute(ctx, opp)
	elapsed := float64(time.Since(start).Milliseconds())

	e.risk.RecordExecution(outcome)
	e.breaker.RecordOutcome(outcome.Success)
	e.deps.Router.RecordExecution(opp.BuyVenue, elapsed, outcome.Success)
	e.deps.Router.RecordExecution(opp.SellVenue, elapsed, outcome.Success)

	if e.deps.Metrics != nil {
		for _, venue := range []string{opp.BuyVenue, opp.SellVenue} {
			if vs, ok := e.deps.Router.ScoreVenue(venue); ok {
				e.deps.Metrics.VenueScore.WithLabelValues(venue, opp.Symbol).Set(vs.Total)
			}
		}
	}

	if e.deps.Metrics != nil && outcome.Success {
		e.deps.Metrics.OrdersFilled.WithLabelValues(opp.Symbol, opp.BuyVenue).Inc()
		e.deps.Metrics.OrdersFilled.WithLabelValues(opp.Symbol, opp.SellVenue).Inc()
	}

	if !outcome.Success {
		e.deps.Logger.Warn(ctx, "arbitrage execution failed", map[string]interface{}{
			"opportunity_id": opp.ID.String(), "reason": string(outcome.Reason),
		})
		return
	}
	e.deps.Logger.Info(ctx, "arbitrage execution completed", map[string]interface{}{
		"opportunity_id": opp.ID.String(), "realized_profit": outcome.RealizedProfit.String(),
	})
}

func scanPeriodOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}
