package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-trade/trading-core/internal/domain"
)

func TestMemoryStore_OrderRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	order := &domain.Order{
		ID: uuid.New(), Symbol: "BTC-USD", Venue: "coinbase", AccountID: "acct-1",
		Status: domain.OrderStatusOpen, Quantity: decimal.NewFromInt(1), CreatedAt: time.Now(),
	}
	require.NoError(t, s.UpsertOrder(ctx, order))

	got, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Symbol, got.Symbol)

	order.Status = domain.OrderStatusFilled
	require.NoError(t, s.UpsertOrder(ctx, order))
	got, err = s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
}

func TestMemoryStore_GetOrderByID_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetOrderByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListOrders_FiltersByAccountAndStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertOrder(ctx, &domain.Order{
		ID: uuid.New(), AccountID: "acct-1", Symbol: "BTC-USD", Status: domain.OrderStatusOpen, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.UpsertOrder(ctx, &domain.Order{
		ID: uuid.New(), AccountID: "acct-2", Symbol: "BTC-USD", Status: domain.OrderStatusFilled, CreatedAt: time.Now(),
	}))

	out, err := s.ListOrders(ctx, OrderFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "acct-1", out[0].AccountID)

	out, err = s.ListOrders(ctx, OrderFilter{Status: domain.OrderStatusFilled})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.OrderStatusFilled, out[0].Status)
}

func TestMemoryStore_AppendAndListAudit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, AuditEntry{
		Category: "circuit_breaker", Message: "tripped", RecordedAt: time.Now(),
	}))
	require.NoError(t, s.AppendAudit(ctx, AuditEntry{
		Category: "emergency_stop", Message: "triggered", RecordedAt: time.Now(),
	}))

	out, err := s.ListAudit(ctx, AuditFilter{Category: "circuit_breaker"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "tripped", out[0].Message)
	assert.NotEqual(t, uuid.Nil, out[0].ID)
}

func TestMemoryStore_AllocationRequestRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	req := &domain.AllocationRequest{
		ID: uuid.New(), FromVenue: "coinbase", ToVenue: "kraken", Currency: "USD",
		Amount: decimal.NewFromInt(1000), Priority: domain.PriorityHigh, RequestedAt: time.Now(),
	}
	require.NoError(t, s.UpsertAllocationRequest(ctx, req))

	got, err := s.GetAllocationRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(req.Amount))

	out, err := s.ListAllocationRequests(ctx, AllocationFilter{ToVenue: "kraken"})
	require.NoError(t, err)
	require.Len(t, out, 1)
}
