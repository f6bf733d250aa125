// Package arbitrage implements the Opportunity Detector:
// cross-venue spread detection, the optional neural-confidence hook, and
// the expiry min-heap sweeper.
package arbitrage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/pkg/observability"
)

// ConfidenceScorer is the optional neural-scorer hook: when present
// its output is used as confidence instead of the heuristic fallback.
type ConfidenceScorer interface {
	Score(ctx context.Context, symbol, buyVenue, sellVenue string, profitPct float64) (float64, error)
}

// Config tunes detection thresholds.
type Config struct {
	MinProfitPct   float64
	MinConfidence  float64
	MaxRisk        float64
	MaxPositionCap decimal.Decimal
}

// venueQuote is the latest cached tick for one venue; the detector
// always matches against the most recent tick per venue.
type venueQuote struct {
	tick        *domain.MarketTick
	topOfBookSz decimal.Decimal
}

// Detector maintains the latest tick per (symbol,venue) and emits
// ArbitrageOpportunity candidates on demand, plus an expiry sweeper backed
// by a time-indexed min-heap.
type Detector struct {
	cfg     Config
	scorer  ConfidenceScorer
	logger  *observability.Logger

	mu     sync.RWMutex
	quotes map[string]map[string]venueQuote // symbol -> venue -> quote

	heap     *expiryHeap
	byID     map[uuid.UUID]*domain.ArbitrageOpportunity
	freqByPair map[string]int // detection frequency heuristic input
}

// New builds a Detector. scorer may be nil, in which case confidence falls
// back to the spread-stability/detection-frequency heuristic.
func New(cfg Config, scorer ConfidenceScorer, logger *observability.Logger) *Detector {
	h := &expiryHeap{}
	return &Detector{
		cfg: cfg, scorer: scorer, logger: logger,
		quotes: make(map[string]map[string]venueQuote),
		heap:   h, byID: make(map[uuid.UUID]*domain.ArbitrageOpportunity),
		freqByPair: make(map[string]int),
	}
}

// OnTick updates the cached quote for (symbol,venue). topOfBookSize is the
// resting size at the inside quote, used to cap max_qty.
func (d *Detector) OnTick(tick *domain.MarketTick, topOfBookSize decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byVenue, ok := d.quotes[tick.Symbol]
	if !ok {
		byVenue = make(map[string]venueQuote)
		d.quotes[tick.Symbol] = byVenue
	}
	byVenue[tick.Venue] = venueQuote{tick: tick, topOfBookSz: topOfBookSize}
}

// Detect scans every symbol present in ≥2 venues and emits a candidate
// opportunity when sell_bid > buy_ask and profit clears the configured
// minimum.
func (d *Detector) Detect(ctx context.Context) []*domain.ArbitrageOpportunity {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*domain.ArbitrageOpportunity
	now := time.Now().UTC()

	for symbol, byVenue := range d.quotes {
		if len(byVenue) < 2 {
			continue
		}
		buyVenue, buyQuote := argminAsk(byVenue)
		sellVenue, sellQuote := argmaxBid(byVenue)
		if buyVenue == sellVenue {
			continue
		}

		buyAsk := buyQuote.tick.Ask
		sellBid := sellQuote.tick.Bid
		if !sellBid.GreaterThan(buyAsk) {
			continue
		}

		profitPct, _ := sellBid.Sub(buyAsk).Div(buyAsk).Float64()
		if profitPct < d.cfg.MinProfitPct {
			continue
		}

		maxQty := decimal.Min(buyQuote.topOfBookSz, sellQuote.topOfBookSz)
		if d.cfg.MaxPositionCap.Sign() > 0 {
			maxQty = decimal.Min(maxQty, d.cfg.MaxPositionCap)
		}

		pairKey := symbol + ":" + buyVenue + ":" + sellVenue
		d.freqByPair[pairKey]++

		confidence := d.confidence(ctx, symbol, buyVenue, sellVenue, profitPct, pairKey)
		if confidence < d.cfg.MinConfidence {
			continue
		}

		risk := riskHeuristic(buyQuote, sellQuote)
		if risk > d.cfg.MaxRisk {
			continue
		}

		sensitivity := timeSensitivity(profitPct)
		opp := &domain.ArbitrageOpportunity{
			ID: uuid.New(), Symbol: symbol, BuyVenue: buyVenue, SellVenue: sellVenue,
			BuyPrice: buyAsk, SellPrice: sellBid, PriceDiff: sellBid.Sub(buyAsk),
			ProfitPct: profitPct, EstProfit: sellBid.Sub(buyAsk).Mul(maxQty),
			Confidence: confidence, MaxQty: maxQty, TimeSensitivity: sensitivity,
			Risk: risk, Complexity: 2, DetectedAt: now,
			ExpiresAt: now.Add(sensitivity.ExpiryWindow()),
		}
		out = append(out, opp)
		d.byID[opp.ID] = opp
		d.heap.push(opp)
	}
	return out
}

func (d *Detector) confidence(ctx context.Context, symbol, buyVenue, sellVenue string, profitPct float64, pairKey string) float64 {
	if d.scorer != nil {
		if c, err := d.scorer.Score(ctx, symbol, buyVenue, sellVenue, profitPct); err == nil {
			return c
		}
	}
	freq := float64(d.freqByPair[pairKey])
	frequencyTerm := freq / (freq + 10)
	stabilityTerm := 1 - minFloat(profitPct*10, 0.5)
	return clamp01(0.5*stabilityTerm + 0.5*frequencyTerm)
}

func riskHeuristic(buy, sell venueQuote) float64 {
	imbalance := 0.0
	if buy.topOfBookSz.Sign() > 0 && sell.topOfBookSz.Sign() > 0 {
		ratio, _ := buy.topOfBookSz.Div(sell.topOfBookSz).Float64()
		imbalance = absFloat(1 - ratio)
	}
	return clamp01(0.5 * imbalance)
}

func timeSensitivity(profitPct float64) domain.TimeSensitivity {
	switch {
	case profitPct >= 0.01:
		return domain.TimeSensitivityCritical
	case profitPct >= 0.005:
		return domain.TimeSensitivityHigh
	case profitPct >= 0.002:
		return domain.TimeSensitivityMedium
	default:
		return domain.TimeSensitivityLow
	}
}

func argminAsk(byVenue map[string]venueQuote) (string, venueQuote) {
	var bestVenue string
	var best venueQuote
	first := true
	for v, q := range byVenue {
		if first || q.tick.Ask.LessThan(best.tick.Ask) {
			best, bestVenue, first = q, v, false
		}
	}
	return bestVenue, best
}

func argmaxBid(byVenue map[string]venueQuote) (string, venueQuote) {
	var bestVenue string
	var best venueQuote
	first := true
	for v, q := range byVenue {
		if first || q.tick.Bid.GreaterThan(best.tick.Bid) {
			best, bestVenue, first = q, v, false
		}
	}
	return bestVenue, best
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

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// SweepExpired pops every opportunity whose expires_at has passed, removes
// it from the live index, and returns the dropped ids for callers to
// release any reserved capital against.
func (d *Detector) SweepExpired(now time.Time) []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	var expired []uuid.UUID
	for d.heap.Len() > 0 {
		top := d.heap.peek()
		if top.ExpiresAt.After(now) {
			break
		}
		d.heap.pop()
		if _, ok := d.byID[top.ID]; ok {
			delete(d.byID, top.ID)
			expired = append(expired, top.ID)
		}
	}
	return expired
}

// Get returns a live (non-expired-and-swept) opportunity by id.
func (d *Detector) Get(id uuid.UUID) (*domain.ArbitrageOpportunity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.byID[id]
	return o, ok
}

// Complete removes an opportunity from the live index once its execution
// has finished (success or failure), freeing its byID entry; the expiry
// heap entry stays until SweepExpired pops it.
func (d *Detector) Complete(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byID, id)
}

// Clear discards every live opportunity without waiting for expiry,
// leaving quotes and detection-frequency history intact.
func (d *Detector) Clear() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(d.byID))
	for id := range d.byID {
		ids = append(ids, id)
	}
	d.byID = make(map[uuid.UUID]*domain.ArbitrageOpportunity)
	d.heap = &expiryHeap{}
	return ids
}
