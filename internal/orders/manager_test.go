package orders

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/config"
	"github.com/nova-trade/trading-core/pkg/observability"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "error", LogFormat: "json"})
	risk := NewRiskValidator(decimal.NewFromInt(100), decimal.NewFromInt(1000), decimal.NewFromInt(5000))
	fees := NewFeeCalculator(map[string]domain.FeeStructure{
		"binanceus": {Maker: decimal.NewFromFloat(-0.0005), Taker: decimal.NewFromFloat(0.001)},
	})
	return New(risk, fees, logger)
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// Scenario A: limit buy fills on a favourable tick, fee = qty*price*maker_rate.
func TestApplyMarketTick_LimitBuyFillsOnFavourableTick(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	order, err := m.Submit(ctx, SubmitRequest{
		Symbol: "AAPL", Venue: "binanceus", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.NewFromInt(100), Price: dec("150.00"), AccountID: "acct-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, order.Status)

	fills, err := m.ApplyMarketTick(ctx, "AAPL", dec("149.50"))
	require.NoError(t, err)
	require.Len(t, fills, 1)

	fill := fills[0]
	assert.True(t, fill.Price.Equal(dec("149.50")))
	expectedFee := decimal.NewFromInt(100).Mul(dec("149.50")).Mul(dec("-0.0005"))
	assert.True(t, fill.Fee.Equal(expectedFee), "fee=%s want=%s", fill.Fee, expectedFee)

	got, err := m.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.True(t, got.FilledQty.Equal(decimal.NewFromInt(100)))
}

// Scenario B: risk validator rejects an oversize order; no state change.
func TestSubmit_RejectsOversizeOrder(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.Submit(ctx, SubmitRequest{
		Symbol: "AAPL", Venue: "binanceus", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.NewFromInt(200), Price: dec("150.00"), AccountID: "acct-1",
	})
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.KindOrderValidation))
	assert.Empty(t, m.List("acct-1"))
}

func TestCancel_TerminalOrderFailsDeterministically(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	order, err := m.Submit(ctx, SubmitRequest{
		Symbol: "AAPL", Venue: "binanceus", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.NewFromInt(10), Price: dec("150.00"), AccountID: "acct-1",
	})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, order.ID))
	err = m.Cancel(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.KindOrderValidation))
}

func TestCancel_UnknownOrderReturnsNotFound(t *testing.T) {
	m := testManager(t)
	err := m.Cancel(context.Background(), [16]byte{})
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.KindOrderNotFound))
}

// Property 1: Σ fills.qty per order ≤ order.qty; equality ⇒ Filled. The
// simplified no-partial-split matcher always fills the full remaining
// quantity, so this degenerates to "filled orders consumed exactly their
// quantity".
func TestApplyMarketTick_FillNeverExceedsOrderQuantity(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	order, err := m.Submit(ctx, SubmitRequest{
		Symbol: "ETH-USD", Venue: "binanceus", Side: domain.OrderSideSell, Type: domain.OrderTypeLimit,
		Quantity: decimal.NewFromInt(5), Price: dec("2000.00"), AccountID: "acct-2",
	})
	require.NoError(t, err)

	fills, err := m.ApplyMarketTick(ctx, "ETH-USD", dec("2005.00"))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Quantity.LessThanOrEqual(order.Quantity))
	assert.True(t, fills[0].Quantity.Equal(order.Quantity))
}

func TestFeeCalculator_LinearInQtyPrice_NegativeRateProducesNegativeFee(t *testing.T) {
	fees := NewFeeCalculator(map[string]domain.FeeStructure{
		"binanceus": {Maker: decimal.NewFromFloat(-0.0005), Taker: decimal.NewFromFloat(0.001)},
	})
	order := &domain.Order{Venue: "binanceus", Type: domain.OrderTypeLimit, Quantity: decimal.NewFromInt(10)}
	fee := fees.Fee(order, dec("100.00"))
	assert.True(t, fee.IsNegative())
	assert.True(t, fee.Equal(decimal.NewFromInt(10).Mul(dec("100.00")).Mul(dec("-0.0005"))))
}
