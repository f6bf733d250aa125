package scanner

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/config"
	"github.com/nova-trade/trading-core/pkg/observability"
)

func testScanner() *Scanner {
	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "error", LogFormat: "json"})
	return New(Config{
		UpdateInterval: 100 * time.Millisecond, StaleMultiple: 2,
		WeightSigma: 0.4, WeightSurge: 0.3, WeightMomentum: 0.2, WeightSpread: 0.1,
	}, logger)
}

func tick(symbol, venue string, bid, ask, last, vol string, at time.Time) *domain.MarketTick {
	b, _ := decimal.NewFromString(bid)
	a, _ := decimal.NewFromString(ask)
	l, _ := decimal.NewFromString(last)
	v, _ := decimal.NewFromString(vol)
	return &domain.MarketTick{Symbol: symbol, Venue: venue, Bid: b, Ask: a, Last: l, Volume24h: v, Timestamp: at}
}

func TestScore_ClampedToUnitInterval(t *testing.T) {
	s := testScanner()
	now := time.Now()
	s.OnTick(tick("BTC-USD", "kraken", "100", "100.1", "100", "1000", now))
	s.OnTick(tick("BTC-USD", "kraken", "150", "150.2", "150", "5000", now.Add(10*time.Millisecond)))

	score := s.Score("BTC-USD", "kraken")
	assert.GreaterOrEqual(t, score.Score, 0.0)
	assert.LessOrEqual(t, score.Score, 1.0)
}

func TestScore_FirstTickProducesZeroBaseline(t *testing.T) {
	s := testScanner()
	s.OnTick(tick("BTC-USD", "kraken", "100", "100.1", "100", "1000", time.Now()))
	score := s.Score("BTC-USD", "kraken")
	assert.Equal(t, 0.0, score.Momentum)
}

func TestScore_StaleWindowDecaysToZero(t *testing.T) {
	s := testScanner()
	stale := time.Now().Add(-time.Hour)
	s.OnTick(tick("BTC-USD", "kraken", "100", "100.1", "100", "1000", stale))
	s.OnTick(tick("BTC-USD", "kraken", "150", "150.2", "150", "5000", stale.Add(10*time.Millisecond)))

	score := s.Score("BTC-USD", "kraken")
	assert.Equal(t, 0.0, score.Score)
}

func TestScore_UnknownKeyReturnsZeroScore(t *testing.T) {
	s := testScanner()
	score := s.Score("ZZZ-USD", "nowhere")
	assert.Equal(t, 0.0, score.Score)
}
