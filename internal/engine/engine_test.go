package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-trade/trading-core/internal/allocator"
	"github.com/nova-trade/trading-core/internal/arbitrage"
	"github.com/nova-trade/trading-core/internal/config"
	"github.com/nova-trade/trading-core/internal/connector"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/execution"
	"github.com/nova-trade/trading-core/internal/orders"
	"github.com/nova-trade/trading-core/internal/router"
	"github.com/nova-trade/trading-core/internal/scanner"
	"github.com/nova-trade/trading-core/pkg/observability"
)

// fakeExchangeClient is a minimal ExchangeClient stand-in: it answers every
// read with a zero value and records CancelOrder calls, which is all the
// orchestrator tests need from a venue connector.
type fakeExchangeClient struct {
	venueID string

	mu         sync.Mutex
	cancelled  []string
	streamChan chan connector.StreamMessage
}

func newFakeExchangeClient(venueID string) *fakeExchangeClient {
	return &fakeExchangeClient{venueID: venueID, streamChan: make(chan connector.StreamMessage, 8)}
}

func (f *fakeExchangeClient) Connect(ctx context.Context) error    { return nil }
func (f *fakeExchangeClient) Disconnect(ctx context.Context) error { return nil }
func (f *fakeExchangeClient) IsConnected() bool                    { return true }
func (f *fakeExchangeClient) VenueID() string                      { return f.venueID }

func (f *fakeExchangeClient) TradingPairs(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeExchangeClient) Balances(ctx context.Context) ([]connector.Balance, error) {
	return nil, nil
}
func (f *fakeExchangeClient) MarketTick(ctx context.Context, symbol string) (*domain.MarketTick, error) {
	return nil, nil
}
func (f *fakeExchangeClient) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]connector.Candle, error) {
	return nil, nil
}

func (f *fakeExchangeClient) PlaceOrder(ctx context.Context, req connector.OrderRequest) (*domain.Order, error) {
	return &domain.Order{ID: uuid.New()}, nil
}
func (f *fakeExchangeClient) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}
func (f *fakeExchangeClient) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return nil, nil
}

func (f *fakeExchangeClient) StartMarketStream(ctx context.Context, symbols []string) (<-chan connector.StreamMessage, error) {
	return f.streamChan, nil
}
func (f *fakeExchangeClient) StartOrderStream(ctx context.Context) (<-chan connector.OrderUpdate, error) {
	return make(chan connector.OrderUpdate), nil
}

func (f *fakeExchangeClient) TransferFunds(ctx context.Context, req connector.TransferRequest) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (f *fakeExchangeClient) GetTransferStatus(ctx context.Context, transferID uuid.UUID) (connector.TransferStatus, error) {
	return connector.TransferStatusConfirmed, nil
}
func (f *fakeExchangeClient) DroppedMessages() int64 { return 0 }

func (f *fakeExchangeClient) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "error", LogFormat: "json"})
}

func testOpportunity(profitPct, confidence, risk float64, maxQty decimal.Decimal) *domain.ArbitrageOpportunity {
	return &domain.ArbitrageOpportunity{
		ID: uuid.New(), Symbol: "BTC-USD", BuyVenue: "A", SellVenue: "B",
		BuyPrice: decimal.NewFromInt(50000), SellPrice: decimal.NewFromInt(50500),
		ProfitPct: profitPct, Confidence: confidence, Risk: risk, MaxQty: maxQty,
		DetectedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute),
	}
}

func buildEngine(t *testing.T, detectorCfg config.DetectorConfig, engineCfg config.EngineConfig, riskCfg config.RiskConfig) (*Engine, *fakeExchangeClient) {
	t.Helper()
	logger := testLogger()

	mgr := orders.New(
		orders.NewRiskValidator(decimal.NewFromInt(1000000), decimal.NewFromInt(1000000), decimal.NewFromInt(1000000)),
		orders.NewFeeCalculator(nil),
		logger,
	)
	client := newFakeExchangeClient("A")
	deps := Deps{
		Connectors: map[string]connector.ExchangeClient{"A": client},
		Symbols:    []string{"BTC-USD"},
		Scanner:    scanner.New(scanner.Config{UpdateInterval: time.Second}, logger),
		Detector:   arbitrage.New(arbitrage.Config{MinProfitPct: 0, MinConfidence: 0, MaxRisk: 1}, nil, logger),
		Router:     router.New(router.Config{BaselineFee: decimal.NewFromFloat(0.001), EWMAAlpha: 0.3, MinScoreThreshold: 0}),
		Allocator:  allocator.New(map[string]allocator.Transferrer{}, allocator.BalancedStrategy{}, logger),
		Orders:     mgr,
		Logger:     logger,
	}

	e := New(deps, engineCfg, detectorCfg, config.ExecutionConfig{MaxConcurrentLegs: 2, DeadlineSlack: time.Millisecond}, riskCfg)
	return e, client
}

func TestAdmit_RejectsBelowProfitConfidenceRiskThresholds(t *testing.T) {
	e, _ := buildEngine(t,
		config.DetectorConfig{MinProfitPct: 0.5, MinConfidence: 0.6, MaxRisk: 0.4},
		config.EngineConfig{},
		config.RiskConfig{},
	)

	ok, reason := e.admit(testOpportunity(0.1, 0.9, 0.1, decimal.NewFromInt(1)))
	assert.False(t, ok)
	assert.Equal(t, "profit_pct", reason)

	ok, reason = e.admit(testOpportunity(1.0, 0.1, 0.1, decimal.NewFromInt(1)))
	assert.False(t, ok)
	assert.Equal(t, "confidence", reason)

	ok, reason = e.admit(testOpportunity(1.0, 0.9, 0.9, decimal.NewFromInt(1)))
	assert.False(t, ok)
	assert.Equal(t, "risk", reason)

	ok, _ = e.admit(testOpportunity(1.0, 0.9, 0.1, decimal.NewFromInt(1)))
	assert.True(t, ok)
}

func TestAdmit_RejectsOverMaxPositionSize(t *testing.T) {
	e, _ := buildEngine(t,
		config.DetectorConfig{MinProfitPct: 0, MinConfidence: 0, MaxRisk: 1},
		config.EngineConfig{},
		config.RiskConfig{MaxPositionSize: "0.5"},
	)

	ok, reason := e.admit(testOpportunity(1.0, 0.9, 0.1, decimal.NewFromInt(1)))
	assert.False(t, ok)
	assert.Equal(t, "max_position_size", reason)

	ok, _ = e.admit(testOpportunity(1.0, 0.9, 0.1, decimal.NewFromFloat(0.4)))
	assert.True(t, ok)
}

func TestAdmit_RejectsOverMaxDailyAllocation(t *testing.T) {
	e, _ := buildEngine(t,
		config.DetectorConfig{MinProfitPct: 0, MinConfidence: 0, MaxRisk: 1},
		config.EngineConfig{MaxDailyAllocation: "60000"}, // one opportunity's notional (1 * 50000) fits, a second doesn't
		config.RiskConfig{},
	)

	ok, _ := e.admit(testOpportunity(1.0, 0.9, 0.1, decimal.NewFromInt(1)))
	require.True(t, ok)

	ok, reason := e.admit(testOpportunity(1.0, 0.9, 0.1, decimal.NewFromInt(1)))
	assert.False(t, ok)
	assert.Equal(t, "max_daily_allocation", reason)
}

func TestAdmit_RejectsWhileCircuitBreakerOpen(t *testing.T) {
	e, _ := buildEngine(t,
		config.DetectorConfig{MinProfitPct: 0, MinConfidence: 0, MaxRisk: 1},
		config.EngineConfig{},
		config.RiskConfig{ConsecutiveLossLimit: 2},
	)

	e.breaker.RecordOutcome(false)
	e.breaker.RecordOutcome(false)

	ok, reason := e.admit(testOpportunity(1.0, 0.9, 0.1, decimal.NewFromInt(1)))
	assert.False(t, ok)
	assert.Equal(t, "consecutive_loss_limit", reason)

	e.ResetCircuitBreaker()
	ok, _ = e.admit(testOpportunity(1.0, 0.9, 0.1, decimal.NewFromInt(1)))
	assert.True(t, ok)
}

func TestRiskMonitor_EvaluateTripsOnConsecutiveLosses(t *testing.T) {
	m := NewRiskMonitor(config.RiskConfig{ConsecutiveLossLimit: 3}, testLogger())
	for i := 0; i < 3; i++ {
		m.RecordExecution(lossOutcome())
	}
	reasons := m.Evaluate()
	assert.Contains(t, reasons, tripConsecutiveLoss)
}

func TestRiskMonitor_EvaluateTripsOnVenueErrorRateSpike(t *testing.T) {
	m := NewRiskMonitor(config.RiskConfig{}, testLogger())
	for i := 0; i < 30; i++ {
		m.RecordVenueCall("A", i%2 == 0)
	}
	reasons := m.Evaluate()
	assert.Contains(t, reasons, tripVenueErrorRate)
}

func TestEmergencyStop_CancelsOpenOrdersAndClearsOpportunities(t *testing.T) {
	e, client := buildEngine(t,
		config.DetectorConfig{MinProfitPct: 0, MinConfidence: 0, MaxRisk: 1},
		config.EngineConfig{},
		config.RiskConfig{},
	)
	ctx := context.Background()

	order, err := e.deps.Orders.Submit(ctx, orders.SubmitRequest{
		Symbol: "BTC-USD", Venue: "A", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), AccountID: "acct-1",
	})
	require.NoError(t, err)
	order.ClientOrderID = "client-" + order.ID.String()
	e.deps.Orders.Get(order.ID) // sanity: order exists

	require.NoError(t, e.EmergencyStop(ctx))

	open := e.deps.Orders.OpenOrders()
	assert.Empty(t, open)
	assert.NotEmpty(t, client.cancelledIDs())
}

func lossOutcome() execution.Outcome {
	return execution.Outcome{Success: false, RealizedProfit: decimal.NewFromInt(-10), Reason: execution.FailurePartialUnwind}
}
