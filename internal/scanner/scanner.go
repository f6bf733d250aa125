// Package scanner maintains per-(symbol,venue) rolling volatility windows
// and produces VolatilityScore snapshots.
package scanner

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/pkg/observability"
)

// Config tunes the scanner's windows, decay, and composite-score weights.
type Config struct {
	UpdateInterval time.Duration
	StaleMultiple  float64
	WeightSigma    float64
	WeightSurge    float64
	WeightMomentum float64
	WeightSpread   float64
}

type key struct {
	symbol string
	venue  string
}

// window tracks one (symbol,venue)'s rolling state: an EWMA of log-returns
// (for momentum), a realized-variance surrogate (sum of squared log-returns
// over a decay horizon), and trailing volume for surge detection.
type window struct {
	lastPrice    decimal.Decimal
	lastVolume   decimal.Decimal
	lastTick     time.Time
	ewmaReturn   float64
	ewmaVariance float64
	trailingVol  float64
	spread       decimal.Decimal
}

// Scanner maintains rolling windows per (symbol,venue) and computes
// VolatilityScore snapshots on demand; it holds no background goroutine of
// its own; the engine's scan task decides the cadence at which AllScores
// is read.
type Scanner struct {
	cfg    Config
	logger *observability.Logger

	mu      sync.RWMutex
	windows map[key]*window
}

// New builds a Scanner.
func New(cfg Config, logger *observability.Logger) *Scanner {
	return &Scanner{
		cfg:     cfg,
		logger:  logger,
		windows: make(map[key]*window),
	}
}

// OnTick folds one new tick into the rolling state for (symbol,venue).
func (s *Scanner) OnTick(tick *domain.MarketTick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{symbol: tick.Symbol, venue: tick.Venue}
	w, ok := s.windows[k]
	if !ok {
		w = &window{lastPrice: tick.Last, lastVolume: tick.Volume24h, lastTick: tick.Timestamp}
		s.windows[k] = w
		return
	}

	if w.lastPrice.Sign() > 0 && tick.Last.Sign() > 0 {
		logReturn := math.Log(mustFloat(tick.Last) / mustFloat(w.lastPrice))
		const alpha = 0.2
		w.ewmaReturn = alpha*logReturn + (1-alpha)*w.ewmaReturn
		w.ewmaVariance = alpha*logReturn*logReturn + (1-alpha)*w.ewmaVariance
	}
	if w.lastVolume.Sign() > 0 {
		w.trailingVol = 0.1*mustFloat(tick.Volume24h) + 0.9*w.trailingVol
	} else {
		w.trailingVol = mustFloat(tick.Volume24h)
	}

	w.spread = tick.Spread()
	w.lastPrice = tick.Last
	w.lastVolume = tick.Volume24h
	w.lastTick = tick.Timestamp
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Score computes the current VolatilityScore for one
// (symbol,venue), decaying to 0 if the window is stale (no tick within
// StaleMultiple × UpdateInterval).
func (s *Scanner) Score(symbol, venue string) domain.VolatilityScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.computeLocked(key{symbol: symbol, venue: venue})
}

func (s *Scanner) computeLocked(k key) domain.VolatilityScore {
	w, ok := s.windows[k]
	if !ok {
		return domain.VolatilityScore{Symbol: k.symbol, Venue: k.venue, Timestamp: time.Now().UTC()}
	}

	staleAfter := time.Duration(float64(s.cfg.UpdateInterval) * s.cfg.StaleMultiple)
	if staleAfter > 0 && time.Since(w.lastTick) > staleAfter {
		return domain.VolatilityScore{Symbol: k.symbol, Venue: k.venue, Timestamp: time.Now().UTC()}
	}

	sigma := math.Sqrt(math.Max(w.ewmaVariance, 0))
	volumeSurge := 1.0
	if w.trailingVol > 0 {
		volumeSurge = mustFloat(w.lastVolume) / w.trailingVol
	}
	relativeSpread := 0.0
	if w.lastPrice.Sign() > 0 {
		relativeSpread, _ = w.spread.Div(w.lastPrice).Float64()
	}
	spreadTightness := 1 / (1 + relativeSpread)
	momentum := w.ewmaReturn

	raw := s.cfg.WeightSigma*sigma + s.cfg.WeightSurge*volumeSurge + s.cfg.WeightMomentum*momentum -
		s.cfg.WeightSpread*(1-spreadTightness)
	score := clamp01(raw)

	return domain.VolatilityScore{
		Symbol: k.symbol, Venue: k.venue, Score: score,
		VolumeSurge: volumeSurge, SpreadTightness: spreadTightness, Momentum: momentum,
		Timestamp: time.Now().UTC(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// AllScores snapshots every tracked (symbol,venue)'s current score.
func (s *Scanner) AllScores() []domain.VolatilityScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.VolatilityScore, 0, len(s.windows))
	for k := range s.windows {
		out = append(out, s.computeLocked(k))
	}
	return out
}
