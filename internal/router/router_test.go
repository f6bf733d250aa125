package router

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() *Router {
	return New(Config{
		BaselineFee:       decimal.NewFromFloat(0.002),
		EWMAAlpha:         0.1,
		MinScoreThreshold: 0,
	})
}

// Total score is the exact weighted sum of the four sub-scores.
func TestScore_ExactWeightedSum(t *testing.T) {
	v := &VenueMetrics{
		Venue: "kraken", Volume24h: decimal.NewFromInt(500_000), Spread: decimal.NewFromFloat(0.5),
		FeeRate: decimal.NewFromFloat(0.0016), AvgExecMillis: 250, SuccessRate: 0.95,
	}
	s := score(v, decimal.NewFromFloat(0.002))

	wantLiquidity := 0.7*0.5 + 0.3*(1/(1+0.5))
	wantCost := 0.002 / (0.002 + 0.0016)
	wantSpeed := 1000.0 / (1000.0 + 250.0)
	wantTotal := 0.40*wantLiquidity + 0.30*wantCost + 0.15*wantSpeed + 0.15*0.95

	assert.InDelta(t, wantLiquidity, s.Liquidity, 1e-9)
	assert.InDelta(t, wantCost, s.Cost, 1e-9)
	assert.InDelta(t, wantSpeed, s.Speed, 1e-9)
	assert.InDelta(t, wantTotal, s.Total, 1e-9)
}

func TestRoute_DeterministicTieBreak(t *testing.T) {
	r := newTestRouter()
	// Two venues with identical liquidity/cost/speed/reliability inputs so
	// Total ties exactly; "b" must win on alphabetical venue id.
	for _, id := range []string{"z-venue", "b-venue"} {
		r.RegisterVenue(&VenueMetrics{
			Venue: id, Connected: true, SupportsSymbol: map[string]bool{"BTC-USD": true},
			Volume24h: decimal.NewFromInt(1_000_000), Spread: decimal.NewFromFloat(1),
			FeeRate: decimal.NewFromFloat(0.002), SuccessRate: 1, AvgExecMillis: 0,
		})
	}

	result, err := r.Route(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "b-venue", result.Venue)
}

func TestRoute_NoConnectedVenueErrors(t *testing.T) {
	r := newTestRouter()
	r.RegisterVenue(&VenueMetrics{Venue: "kraken", Connected: false, SupportsSymbol: map[string]bool{"BTC-USD": true}})
	_, err := r.Route(context.Background(), "BTC-USD")
	require.Error(t, err)
}

func TestRecordExecution_EWMAUpdatesOnSubsequentCalls(t *testing.T) {
	r := newTestRouter()
	r.RegisterVenue(&VenueMetrics{Venue: "kraken"})

	r.RecordExecution("kraken", 100, true)
	r.mu.RLock()
	first := r.venues["kraken"].AvgExecMillis
	r.mu.RUnlock()
	assert.InDelta(t, 100, first, 1e-9)

	r.RecordExecution("kraken", 300, true)
	r.mu.RLock()
	second := r.venues["kraken"].AvgExecMillis
	r.mu.RUnlock()
	want := 0.1*300 + 0.9*100
	assert.InDelta(t, want, second, 1e-9)
}
