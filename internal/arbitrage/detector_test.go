package arbitrage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/config"
	"github.com/nova-trade/trading-core/pkg/observability"
)

func testDetector(cfg Config) *Detector {
	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "error", LogFormat: "json"})
	return New(cfg, nil, logger)
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// Scenario C: venues A/B for BTC-USD, A ask 50000, B bid 50250, size 1 each.
func TestDetect_EmitsOpportunityWithinConfig(t *testing.T) {
	d := testDetector(Config{MinProfitPct: 0.001, MinConfidence: 0.0, MaxRisk: 1.0})
	now := time.Now().UTC()

	d.OnTick(&domain.MarketTick{Symbol: "BTC-USD", Venue: "A", Bid: dec("49990"), Ask: dec("50000"), Timestamp: now}, decimal.NewFromInt(1))
	d.OnTick(&domain.MarketTick{Symbol: "BTC-USD", Venue: "B", Bid: dec("50250"), Ask: dec("50260"), Timestamp: now}, decimal.NewFromInt(1))

	opps := d.Detect(context.Background())
	require.Len(t, opps, 1)

	o := opps[0]
	assert.Equal(t, "A", o.BuyVenue)
	assert.Equal(t, "B", o.SellVenue)
	assert.InDelta(t, 0.005, o.ProfitPct, 1e-4)
	assert.True(t, o.MaxQty.Equal(decimal.NewFromInt(1)))
	assert.True(t, o.ExpiresAt.After(o.DetectedAt))
}

// Every emitted opportunity must have sell_price > buy_price and
// profit_pct >= min_profit_pct.
func TestDetect_InvariantSellAboveBuyAndProfitFloor(t *testing.T) {
	d := testDetector(Config{MinProfitPct: 0.002, MinConfidence: 0.0, MaxRisk: 1.0})
	now := time.Now().UTC()

	d.OnTick(&domain.MarketTick{Symbol: "ETH-USD", Venue: "A", Bid: dec("2000"), Ask: dec("2001"), Timestamp: now}, decimal.NewFromInt(5))
	d.OnTick(&domain.MarketTick{Symbol: "ETH-USD", Venue: "B", Bid: dec("2002"), Ask: dec("2003"), Timestamp: now}, decimal.NewFromInt(5))

	opps := d.Detect(context.Background())
	for _, o := range opps {
		assert.True(t, o.SellPrice.GreaterThan(o.BuyPrice))
		assert.GreaterOrEqual(t, o.ProfitPct, 0.002)
	}
}

func TestDetect_NoOpportunityWhenBidBelowAsk(t *testing.T) {
	d := testDetector(Config{MinProfitPct: 0.001, MinConfidence: 0.0, MaxRisk: 1.0})
	now := time.Now().UTC()
	d.OnTick(&domain.MarketTick{Symbol: "BTC-USD", Venue: "A", Bid: dec("50000"), Ask: dec("50010"), Timestamp: now}, decimal.NewFromInt(1))
	d.OnTick(&domain.MarketTick{Symbol: "BTC-USD", Venue: "B", Bid: dec("50005"), Ask: dec("50015"), Timestamp: now}, decimal.NewFromInt(1))

	opps := d.Detect(context.Background())
	assert.Empty(t, opps)
}

func TestSweepExpired_RemovesOnlyPastDeadline(t *testing.T) {
	d := testDetector(Config{MinProfitPct: 0.0001, MinConfidence: 0.0, MaxRisk: 1.0})
	now := time.Now().UTC()
	d.OnTick(&domain.MarketTick{Symbol: "BTC-USD", Venue: "A", Bid: dec("100"), Ask: dec("101"), Timestamp: now}, decimal.NewFromInt(1))
	d.OnTick(&domain.MarketTick{Symbol: "BTC-USD", Venue: "B", Bid: dec("110"), Ask: dec("111"), Timestamp: now}, decimal.NewFromInt(1))

	opps := d.Detect(context.Background())
	require.Len(t, opps, 1)
	id := opps[0].ID
	expiresAt := opps[0].ExpiresAt

	assert.Empty(t, d.SweepExpired(expiresAt.Add(-time.Second)))
	_, stillLive := d.Get(id)
	assert.True(t, stillLive)

	expired := d.SweepExpired(expiresAt.Add(time.Second))
	assert.Contains(t, expired, id)
	_, stillLive = d.Get(id)
	assert.False(t, stillLive)
}
