// Package router implements the Smart Router: venue scoring,
// selection, and execution delegation for single-venue orders.
package router

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
)

// VenueMetrics is the running profile the router maintains per venue,
// updated by EWMA on each route.
type VenueMetrics struct {
	Venue         string
	Volume24h     decimal.Decimal
	Spread        decimal.Decimal
	FeeRate       decimal.Decimal
	IsRebate      bool
	AvgExecMillis float64
	SuccessRate   float64
	ExecutionCount int64
	Connected     bool
	SupportsSymbol map[string]bool
}

// Config tunes the router.
type Config struct {
	BaselineFee       decimal.Decimal
	EWMAAlpha         float64
	MinScoreThreshold float64
}

// Router scores and selects a venue for each order, and tracks per-venue
// EWMA metrics. Scores combine liquidity, cost, speed and reliability
// into one weighted sum rather than an ad hoc composite formula.
type Router struct {
	cfg Config

	mu     sync.RWMutex
	venues map[string]*VenueMetrics
}

// New builds a Router with no venues registered.
func New(cfg Config) *Router {
	return &Router{cfg: cfg, venues: make(map[string]*VenueMetrics)}
}

// RegisterVenue adds or replaces a venue's metrics snapshot.
func (r *Router) RegisterVenue(m *VenueMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[m.Venue] = m
}

// VenueScore reports the four sub-scores and total for one venue, exposed
// for diagnostics/testing of the scoring formula.
type VenueScore struct {
	Venue       string
	Liquidity   float64
	Cost        float64
	Speed       float64
	Reliability float64
	Total       float64
}

// RouteResult is what Route returns: the chosen venue, its score, and the
// scored alternatives for observability.
type RouteResult struct {
	Venue        string
	Score        VenueScore
	Alternatives []VenueScore
}

// Route selects the best-scoring connected venue supporting symbol.
// Ties break on higher liquidity, then lower fee, then alphabetical venue
// id, all deterministic.
func (r *Router) Route(ctx context.Context, symbol string) (*RouteResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []VenueScore
	venueMeta := make(map[string]*VenueMetrics)
	for id, v := range r.venues {
		if !v.Connected || !v.SupportsSymbol[symbol] {
			continue
		}
		candidates = append(candidates, score(v, r.cfg.BaselineFee))
		venueMeta[id] = v
	}
	if len(candidates) == 0 {
		return nil, coreerrors.New(coreerrors.KindVenueAPI, "no connected venue supports symbol "+symbol)
	}

	sortByTieBreak(candidates, venueMeta)

	best := candidates[0]
	if best.Total < r.cfg.MinScoreThreshold {
		return nil, coreerrors.New(coreerrors.KindVenueAPI, "no venue meets min_score_threshold for "+symbol)
	}
	return &RouteResult{Venue: best.Venue, Score: best, Alternatives: candidates[1:]}, nil
}

// sortByTieBreak orders candidates by total score descending, then the
// deterministic tie-break chain: liquidity desc, fee asc, venue id asc.
func sortByTieBreak(candidates []VenueScore, meta map[string]*VenueMetrics) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if a.Liquidity != b.Liquidity {
			return a.Liquidity > b.Liquidity
		}
		feeA, feeB := meta[a.Venue].FeeRate, meta[b.Venue].FeeRate
		if !feeA.Equal(feeB) {
			return feeA.LessThan(feeB)
		}
		return a.Venue < b.Venue
	})
}

// score computes the four weighted sub-scores and their total. All
// sub-scores and the total are float64 (they are bounded to [0,1]);
// money/fee figures stay decimal up to this point.
func score(v *VenueMetrics, baselineFee decimal.Decimal) VenueScore {
	volume, _ := v.Volume24h.Div(decimal.NewFromInt(1_000_000)).Float64()
	if volume > 1 {
		volume = 1
	}
	spread, _ := v.Spread.Float64()
	liquidity := 0.7*volume + 0.3*(1/(1+spread))

	var cost float64
	if v.IsRebate {
		cost = 1.0
	} else {
		base, _ := baselineFee.Float64()
		fee, _ := v.FeeRate.Float64()
		cost = base / (base + fee)
		if cost < 0.1 {
			cost = 0.1
		}
	}

	speed := 1.0
	if v.AvgExecMillis > 0 {
		speed = 1000 / (1000 + v.AvgExecMillis)
	}

	reliability := v.SuccessRate

	total := 0.40*liquidity + 0.30*cost + 0.15*speed + 0.15*reliability
	return VenueScore{
		Venue: v.Venue, Liquidity: liquidity, Cost: cost, Speed: speed,
		Reliability: reliability, Total: total,
	}
}

// UpdateFromTick folds one venue's latest market tick into its metrics: it
// marks symbol as supported and refreshes the 24h volume and spread the
// liquidity sub-score reads, so a venue Route never selects has simply
// never streamed a tick for that symbol yet.
func (r *Router) UpdateFromTick(venue, symbol string, volume24h, spread decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.venues[venue]
	if !ok {
		return
	}
	if v.SupportsSymbol == nil {
		v.SupportsSymbol = make(map[string]bool)
	}
	v.SupportsSymbol[symbol] = true
	v.Volume24h = volume24h
	v.Spread = spread
}

// ScoreVenue recomputes one registered venue's current sub-scores and
// total, for callers (e.g. metrics) that want the router's latest
// assessment outside of a Route call.
func (r *Router) ScoreVenue(venue string) (VenueScore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[venue]
	if !ok {
		return VenueScore{}, false
	}
	return score(v, r.cfg.BaselineFee), true
}

// RecordExecution updates a venue's EWMA-smoothed exec-latency and success
// rate after a route's execution completes, and increments its count. alpha
// is the router's configured EWMA smoothing factor (default 0.1).
func (r *Router) RecordExecution(venue string, execMillis float64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.venues[venue]
	if !ok {
		return
	}
	alpha := r.cfg.EWMAAlpha
	if v.ExecutionCount == 0 {
		v.AvgExecMillis = execMillis
	} else {
		v.AvgExecMillis = alpha*execMillis + (1-alpha)*v.AvgExecMillis
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if v.ExecutionCount == 0 {
		v.SuccessRate = outcome
	} else {
		v.SuccessRate = alpha*outcome + (1-alpha)*v.SuccessRate
	}
	v.ExecutionCount++
}

// ExecutionPrice resolves the price to record for a routed order: the
// order's own limit price if set, else mid_price(symbol) from the tick,
// else a fallback.
func ExecutionPrice(order *domain.Order, tick *domain.MarketTick, fallback decimal.Decimal) decimal.Decimal {
	if order.Price.Sign() > 0 {
		return order.Price
	}
	if tick != nil {
		return tick.Bid.Add(tick.Ask).Div(decimal.NewFromInt(2))
	}
	return fallback
}
