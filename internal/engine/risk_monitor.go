package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/config"
	"github.com/nova-trade/trading-core/internal/execution"
	"github.com/nova-trade/trading-core/pkg/observability"
)

// riskSnapshot is the Monitor task's point-in-time read of the book the
// RiskMonitor keeps: daily PnL, drawdown, and per-venue error rates.
type riskSnapshot struct {
	DailyPnL          decimal.Decimal
	ConsecutiveLosses int
	PeakValue         decimal.Decimal
	CurrentValue      decimal.Decimal
	DrawdownPct       float64
	VenueErrorRate    map[string]float64
}

// RiskMonitor keeps the mutex-guarded running totals the Monitor task
// evaluates every cycle: cumulative PnL since the last daily reset,
// consecutive-loss streaks, peak-to-trough drawdown, and per-venue error
// rates, plus an on-demand VaR estimate over the value history. Shaped
// as a single-struct-plus-mutex running-totals tracker, narrowed to the
// fields the arbitrage Risk Monitor actually needs.
type RiskMonitor struct {
	logger *observability.Logger
	cfg    config.RiskConfig

	dailyLossThreshold decimal.Decimal
	varCalc            *varCalculator

	mu                sync.Mutex
	dailyPnL          decimal.Decimal
	dailyResetAt      time.Time
	consecutiveLosses int
	peakValue         decimal.Decimal
	currentValue      decimal.Decimal
	valueHistory      []decimal.Decimal
	venueCalls        map[string]int
	venueErrors       map[string]int
}

// NewRiskMonitor builds a RiskMonitor; an unparseable DailyLossThreshold
// disables that one trip condition rather than failing construction, since
// the other three conditions remain meaningful on their own.
func NewRiskMonitor(cfg config.RiskConfig, logger *observability.Logger) *RiskMonitor {
	threshold, _ := decimal.NewFromString(cfg.DailyLossThreshold)
	return &RiskMonitor{
		logger: logger, cfg: cfg, dailyLossThreshold: threshold,
		varCalc:     newVaRCalculator(decimal.NewFromFloat(0.95)),
		venueCalls:  make(map[string]int),
		venueErrors: make(map[string]int),
	}
}

// RecordExecution folds one Execute outcome's realized PnL into the daily
// total and the consecutive-loss streak.
func (m *RiskMonitor) RecordExecution(outcome execution.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeResetDailyLocked(time.Now())

	m.dailyPnL = m.dailyPnL.Add(outcome.RealizedProfit)
	if outcome.Success && outcome.RealizedProfit.Sign() > 0 {
		m.consecutiveLosses = 0
	} else {
		m.consecutiveLosses++
	}
	m.updateValueLocked(m.currentValue.Add(outcome.RealizedProfit))
}

// RecordVenueCall tallies one call to venue, and errs whether it failed,
// feeding the circuit breaker's venue-error-rate-spike condition.
func (m *RiskMonitor) RecordVenueCall(venue string, errored bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.venueCalls[venue]++
	if errored {
		m.venueErrors[venue]++
	}
}

// SetPortfolioValue seeds/overrides the current tracked portfolio value,
// used at startup before any execution has produced a PnL delta.
func (m *RiskMonitor) SetPortfolioValue(v decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateValueLocked(v)
}

func (m *RiskMonitor) updateValueLocked(v decimal.Decimal) {
	m.currentValue = v
	if v.GreaterThan(m.peakValue) {
		m.peakValue = v
	}
	m.valueHistory = append(m.valueHistory, v)
	if len(m.valueHistory) > 500 {
		m.valueHistory = m.valueHistory[len(m.valueHistory)-500:]
	}
}

func (m *RiskMonitor) maybeResetDailyLocked(now time.Time) {
	boundary := now.UTC().Truncate(24*time.Hour).Add(m.cfg.DailyResetBoundary)
	if now.UTC().Before(boundary) {
		boundary = boundary.Add(-24 * time.Hour)
	}
	if m.dailyResetAt.Before(boundary) {
		m.dailyPnL = decimal.Zero
		m.dailyResetAt = boundary
	}
}

// Snapshot reports the current totals for observability/testing.
func (m *RiskMonitor) Snapshot() riskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	rates := make(map[string]float64, len(m.venueCalls))
	for v, calls := range m.venueCalls {
		if calls == 0 {
			continue
		}
		rates[v] = float64(m.venueErrors[v]) / float64(calls)
	}
	drawdown := 0.0
	if m.peakValue.Sign() > 0 {
		drawdown, _ = m.peakValue.Sub(m.currentValue).Div(m.peakValue).Float64()
	}
	return riskSnapshot{
		DailyPnL: m.dailyPnL, ConsecutiveLosses: m.consecutiveLosses,
		PeakValue: m.peakValue, CurrentValue: m.currentValue,
		DrawdownPct: drawdown, VenueErrorRate: rates,
	}
}

// VaR returns a historical-method Value-at-Risk estimate over the tracked
// portfolio-value history, or an error if too little history has
// accumulated yet.
func (m *RiskMonitor) VaR(ctx context.Context) (*varResult, error) {
	m.mu.Lock()
	values := append([]decimal.Decimal(nil), m.valueHistory...)
	m.mu.Unlock()
	return m.varCalc.Calculate(values, varMethodHistorical)
}

// tripReason names one circuit-breaker trip condition evaluated by the
// Monitor task.
type tripReason string

const (
	tripDailyLoss       tripReason = "daily_loss_threshold"
	tripConsecutiveLoss tripReason = "consecutive_loss_limit"
	tripDrawdown        tripReason = "drawdown_threshold"
	tripVenueErrorRate  tripReason = "venue_error_rate_spike"
)

// venueErrorMinCalls and venueErrorRateTarget are the minimum call count and error fraction before a
// venue's error rate counts as a "spike" worth tripping on, distinct from
// the noise of a handful of calls with a transient failure.
const (
	venueErrorMinCalls   = 20
	venueErrorRateTarget = 0.5
)

// Evaluate checks all four circuit-breaker trip conditions and returns
// every one currently satisfied.
func (m *RiskMonitor) Evaluate() []tripReason {
	snap := m.Snapshot()
	var reasons []tripReason

	if m.dailyLossThreshold.Sign() > 0 && snap.DailyPnL.Neg().GreaterThanOrEqual(m.dailyLossThreshold) {
		reasons = append(reasons, tripDailyLoss)
	}
	if m.cfg.ConsecutiveLossLimit > 0 && snap.ConsecutiveLosses >= m.cfg.ConsecutiveLossLimit {
		reasons = append(reasons, tripConsecutiveLoss)
	}
	if m.cfg.DrawdownThresholdPct > 0 && snap.DrawdownPct >= m.cfg.DrawdownThresholdPct {
		reasons = append(reasons, tripDrawdown)
	}
	m.mu.Lock()
	for venue, calls := range m.venueCalls {
		if calls < venueErrorMinCalls {
			continue
		}
		if float64(m.venueErrors[venue])/float64(calls) >= venueErrorRateTarget {
			reasons = append(reasons, tripVenueErrorRate)
			break
		}
	}
	m.mu.Unlock()
	return reasons
}
