package allocator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-trade/trading-core/internal/connector"
	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/config"
	"github.com/nova-trade/trading-core/pkg/observability"
)

type fakeTransferrer struct {
	status connector.TransferStatus
	err    error
}

func (f *fakeTransferrer) TransferFunds(ctx context.Context, req connector.TransferRequest) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return uuid.New(), nil
}

func (f *fakeTransferrer) GetTransferStatus(ctx context.Context, transferID uuid.UUID) (connector.TransferStatus, error) {
	return f.status, nil
}

func testLogger() *observability.Logger {
	return observability.NewLogger(config.ObservabilityConfig{ServiceName: "test", LogLevel: "error", LogFormat: "json"})
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// The allocator never executes a transfer whose amount exceeds available
// balance at submission time.
func TestRebalanceCycle_InsufficientCapitalDropsRequest(t *testing.T) {
	connectors := map[string]Transferrer{"A": &fakeTransferrer{status: connector.TransferStatusConfirmed}}
	a := New(connectors, BalancedStrategy{}, testLogger())
	a.RefreshBalance("A", "USD", dec("50"))

	now := time.Now()
	req := &domain.AllocationRequest{
		ID: uuid.New(), FromVenue: "A", ToVenue: "B", Currency: "USD", Amount: dec("100"),
		Priority: domain.PriorityNormal, RequestedAt: now, Deadline: now.Add(time.Hour),
	}
	a.Enqueue(req)

	result := a.RebalanceCycle(context.Background(), now)
	require.Len(t, result.Outcomes, 1)
	outcome := result.Outcomes[0]
	require.Error(t, outcome.Err)
	assert.True(t, coreerrors.Is(outcome.Err, coreerrors.KindInsufficientCap))
}

func TestRebalanceCycle_FeasibleTransferExecutes(t *testing.T) {
	connectors := map[string]Transferrer{"A": &fakeTransferrer{status: connector.TransferStatusConfirmed}}
	a := New(connectors, BalancedStrategy{}, testLogger())
	a.RefreshBalance("A", "USD", dec("500"))

	now := time.Now()
	req := &domain.AllocationRequest{
		ID: uuid.New(), FromVenue: "A", ToVenue: "B", Currency: "USD", Amount: dec("100"),
		Priority: domain.PriorityHigh, RequestedAt: now, Deadline: now.Add(time.Hour),
	}
	a.Enqueue(req)

	result := a.RebalanceCycle(context.Background(), now)
	require.Len(t, result.Outcomes, 1)
	assert.NoError(t, result.Outcomes[0].Err)
	assert.Equal(t, connector.TransferStatusConfirmed, result.Outcomes[0].Status)
}

// Scenario D: an expired High-priority request is dropped, not transferred.
func TestRebalanceCycle_ExpiredRequestDropped(t *testing.T) {
	connectors := map[string]Transferrer{"A": &fakeTransferrer{status: connector.TransferStatusConfirmed}}
	a := New(connectors, BalancedStrategy{}, testLogger())
	a.RefreshBalance("A", "USD", dec("1000"))

	requestedAt := time.Now()
	req := &domain.AllocationRequest{
		ID: uuid.New(), FromVenue: "A", ToVenue: "B", Currency: "USD", Amount: dec("100"),
		Priority: domain.PriorityHigh, RequestedAt: requestedAt, Deadline: requestedAt.Add(domain.PriorityHigh.Deadline()),
	}
	a.Enqueue(req)

	past := requestedAt.Add(domain.PriorityHigh.Deadline()).Add(time.Second)
	result := a.RebalanceCycle(context.Background(), past)
	require.Len(t, result.Expired, 1)
	assert.Equal(t, req.ID, result.Expired[0].ID)
	assert.Empty(t, result.Outcomes)
}

// Scenario E: emergency reallocation fans out one request per other venue,
// sharing a correlation id, deadline <= 1 minute.
func TestEmergencyReallocate_FansOutWithSharedCorrelationID(t *testing.T) {
	connectors := map[string]Transferrer{
		"B": &fakeTransferrer{status: connector.TransferStatusConfirmed},
		"C": &fakeTransferrer{status: connector.TransferStatusConfirmed},
	}
	a := New(connectors, BalancedStrategy{}, testLogger())
	a.RefreshBalance("A", "USD", dec("1000"))
	a.RefreshBalance("B", "USD", dec("2000"))
	a.RefreshBalance("C", "USD", dec("500"))

	now := time.Now()
	ids, err := a.EmergencyReallocate("A", "USD", 0.5, now)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	a.mu.Lock()
	var correlationIDs []uuid.UUID
	var amounts []decimal.Decimal
	for _, id := range ids {
		e := a.byID[id]
		correlationIDs = append(correlationIDs, e.req.CorrelationID)
		amounts = append(amounts, e.req.Amount)
		assert.Equal(t, domain.PriorityEmergency, e.req.Priority)
		assert.True(t, e.req.Deadline.Sub(e.req.RequestedAt) <= time.Minute)
	}
	a.mu.Unlock()

	assert.Equal(t, correlationIDs[0], correlationIDs[1])
}

// Target shares always sum to 1.0 after any strategy change.
func TestBalancedStrategy_SharesSumToOne(t *testing.T) {
	shares := BalancedStrategy{}.TargetShares([]string{"A", "B", "C"}, nil)
	sum := decimal.Zero
	for _, s := range shares {
		sum = sum.Add(s)
	}
	assert.True(t, sum.Sub(decimal.NewFromInt(1)).Abs().LessThan(dec("0.000000001")))
}

func TestSetTargets_RejectsNonUnitSum(t *testing.T) {
	a := New(nil, BalancedStrategy{}, testLogger())
	err := a.SetTargets(map[string]decimal.Decimal{"A": dec("0.3"), "B": dec("0.3")})
	require.Error(t, err)
}
