package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/orders"
)

// orderManagerSubmitter adapts the order Manager's submit-then-poll shape
// onto the execution engine's LegSubmitter contract: SubmitLimit maps
// straight onto Manager.Submit, and Await polls Manager.Get until the
// order reaches a terminal state or the caller's per-opportunity deadline
// expires — a deadline expiry is not itself an error, since the execution
// engine distinguishes "leg never filled" from "leg submission failed" by
// inspecting the returned fills, not by an error return.
type orderManagerSubmitter struct {
	manager      *orders.Manager
	pollInterval time.Duration
}

func newOrderManagerSubmitter(manager *orders.Manager, pollInterval time.Duration) *orderManagerSubmitter {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &orderManagerSubmitter{manager: manager, pollInterval: pollInterval}
}

func (s *orderManagerSubmitter) SubmitLimit(ctx context.Context, req orders.SubmitRequest) (*domain.Order, error) {
	return s.manager.Submit(ctx, req)
}

func (s *orderManagerSubmitter) Await(ctx context.Context, orderID string) (*domain.Order, []*domain.Execution, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, nil, coreerrors.New(coreerrors.KindInternal, "invalid order id "+orderID)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		order, err := s.manager.Get(id)
		if err != nil {
			return nil, nil, err
		}
		if order.Status.IsTerminal() {
			return order, s.manager.FillsFor(id), nil
		}
		select {
		case <-ctx.Done():
			return order, nil, nil
		case <-ticker.C:
		}
	}
}
