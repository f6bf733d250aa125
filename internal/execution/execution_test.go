package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/config"
	"github.com/nova-trade/trading-core/internal/orders"
	"github.com/nova-trade/trading-core/pkg/observability"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	fillAt  map[string]decimal.Decimal // venue:side -> fill price, absent = never fills
	byOrder map[string]orders.SubmitRequest
}

func (f *fakeSubmitter) SubmitLimit(ctx context.Context, req orders.SubmitRequest) (*domain.Order, error) {
	order := &domain.Order{ID: uuid.New(), Symbol: req.Symbol, Venue: req.Venue, Side: req.Side, Quantity: req.Quantity}
	f.mu.Lock()
	if f.byOrder == nil {
		f.byOrder = make(map[string]orders.SubmitRequest)
	}
	f.byOrder[order.ID.String()] = req
	f.mu.Unlock()
	return order, nil
}

func (f *fakeSubmitter) Await(ctx context.Context, orderID string) (*domain.Order, []*domain.Execution, error) {
	f.mu.Lock()
	req := f.byOrder[orderID]
	f.mu.Unlock()

	key := string(req.Venue) + ":" + string(req.Side)
	price, ok := f.fillAt[key]
	if !ok {
		return &domain.Order{ID: uuid.New(), Status: domain.OrderStatusOpen}, nil, nil
	}
	return &domain.Order{ID: uuid.New(), Status: domain.OrderStatusFilled},
		[]*domain.Execution{{Side: req.Side, Symbol: req.Symbol, Venue: req.Venue, Quantity: req.Quantity, Price: price}}, nil
}

func testOpportunity() *domain.ArbitrageOpportunity {
	return &domain.ArbitrageOpportunity{
		ID: uuid.New(), Symbol: "BTC-USD", BuyVenue: "A", SellVenue: "B",
		BuyPrice: decimal.NewFromInt(50000), SellPrice: decimal.NewFromInt(50250),
		MaxQty: decimal.NewFromInt(1), DetectedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute),
	}
}

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "error", LogFormat: "json"})
}

func TestExecute_BothLegsFillSuccessfully(t *testing.T) {
	sub := &fakeSubmitter{fillAt: map[string]decimal.Decimal{
		"A:BUY":  decimal.NewFromInt(50000),
		"B:SELL": decimal.NewFromInt(50250),
	}}
	e := New(sub, Config{MaxConcurrentLegs: 2, DeadlineSlack: time.Millisecond}, testLogger())

	outcome := e.Execute(context.Background(), testOpportunity())
	require.True(t, outcome.Success)
	assert.True(t, outcome.RealizedProfit.Equal(decimal.NewFromInt(250)))
}

func TestExecute_OneLegUnfilledTriggersUnwind(t *testing.T) {
	sub := &fakeSubmitter{fillAt: map[string]decimal.Decimal{
		"A:BUY": decimal.NewFromInt(50000),
		// B:SELL never fills
	}}
	e := New(sub, Config{MaxConcurrentLegs: 2, DeadlineSlack: time.Millisecond}, testLogger())

	outcome := e.Execute(context.Background(), testOpportunity())
	assert.False(t, outcome.Success)
	assert.Equal(t, FailurePartialUnwind, outcome.Reason)
}
