// Package allocator implements the Capital Allocator: a
// priority-ordered pending set of AllocationRequest, target-allocation
// strategies, and the periodic rebalance cycle including Gekko-mode
// emergency reallocation.
package allocator

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/connector"
	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/pkg/observability"
)

// Strategy computes target venue shares).
type Strategy interface {
	TargetShares(venues []string, opportunityDensity map[string]float64) map[string]decimal.Decimal
}

// BalancedStrategy assigns every venue an equal share.
type BalancedStrategy struct{}

func (BalancedStrategy) TargetShares(venues []string, _ map[string]float64) map[string]decimal.Decimal {
	if len(venues) == 0 {
		return nil
	}
	share := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(venues))))
	out := make(map[string]decimal.Decimal, len(venues))
	for _, v := range venues {
		out[v] = share
	}
	return normalizeToOne(out)
}

// AggressiveStrategy concentrates capital toward venues with higher recent
// opportunity density.
type AggressiveStrategy struct{}

func (AggressiveStrategy) TargetShares(venues []string, density map[string]float64) map[string]decimal.Decimal {
	total := 0.0
	for _, v := range venues {
		total += density[v]
	}
	out := make(map[string]decimal.Decimal, len(venues))
	if total <= 0 {
		return BalancedStrategy{}.TargetShares(venues, density)
	}
	for _, v := range venues {
		out[v] = decimal.NewFromFloat(density[v] / total)
	}
	return normalizeToOne(out)
}

// WeightedStrategy applies caller-supplied fixed shares.
type WeightedStrategy struct {
	Weights map[string]decimal.Decimal
}

func (s WeightedStrategy) TargetShares(venues []string, _ map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(venues))
	for _, v := range venues {
		out[v] = s.Weights[v]
	}
	return normalizeToOne(out)
}

// normalizeToOne rescales shares so they sum to exactly 1.0 (±1e-9),
// guarding against a zero-sum input.
func normalizeToOne(shares map[string]decimal.Decimal) map[string]decimal.Decimal {
	sum := decimal.Zero
	for _, s := range shares {
		sum = sum.Add(s)
	}
	if sum.IsZero() {
		return shares
	}
	out := make(map[string]decimal.Decimal, len(shares))
	for v, s := range shares {
		out[v] = s.Div(sum)
	}
	return out
}

// Transferrer is the subset of ExchangeClient the allocator needs to move
// funds and poll status, kept narrow so the allocator doesn't depend on
// the full connector surface.
type Transferrer interface {
	TransferFunds(ctx context.Context, req connector.TransferRequest) (uuid.UUID, error)
	GetTransferStatus(ctx context.Context, transferID uuid.UUID) (connector.TransferStatus, error)
}

// pendingEntry wraps an AllocationRequest with its heap index.
type pendingEntry struct {
	req   *domain.AllocationRequest
	index int
}

// pendingHeap orders by (priority rank asc, deadline asc) — the rebalance
// cycle's "process pending in (priority asc, deadline asc) order". Built on
// container/heap for the same reason as the detector's expiry heap: no
// pack repo ships a priority-queue library for this.
type pendingHeap []*pendingEntry

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	ri, rj := h[i].req.Priority.Rank(), h[j].req.Priority.Rank()
	if ri != rj {
		return ri < rj
	}
	return h[i].req.Deadline.Before(h[j].req.Deadline)
}
func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *pendingHeap) Push(x any) {
	e := x.(*pendingEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Allocator owns the pending set, target shares, and venue balances cache.
type Allocator struct {
	logger      *observability.Logger
	audit       *observability.AuditLogger
	connectors  map[string]Transferrer
	strategy    Strategy

	mu       sync.Mutex
	pending  pendingHeap
	byID     map[uuid.UUID]*pendingEntry
	targets  map[string]decimal.Decimal
	balances map[string]map[string]decimal.Decimal // venue -> currency -> amount
}

// New builds an Allocator over the given connectors.
func New(connectors map[string]Transferrer, strategy Strategy, logger *observability.Logger) *Allocator {
	return &Allocator{
		logger: logger, audit: observability.NewAuditLogger(logger), connectors: connectors, strategy: strategy,
		byID: make(map[uuid.UUID]*pendingEntry),
		targets: make(map[string]decimal.Decimal),
		balances: make(map[string]map[string]decimal.Decimal),
	}
}

// Enqueue accepts a new AllocationRequest into the priority-ordered pending
// set.
func (a *Allocator) Enqueue(req *domain.AllocationRequest) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry := &pendingEntry{req: req}
	heap.Push(&a.pending, entry)
	a.byID[req.ID] = entry
}

// RefreshBalance updates the cached balance for (venue,currency), normally
// called from the rebalance cycle's "refresh balances" step before
// processing pending requests.
func (a *Allocator) RefreshBalance(venue, currency string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	byCurrency, ok := a.balances[venue]
	if !ok {
		byCurrency = make(map[string]decimal.Decimal)
		a.balances[venue] = byCurrency
	}
	byCurrency[currency] = amount
}

func (a *Allocator) availableLocked(venue, currency string) decimal.Decimal {
	byCurrency, ok := a.balances[venue]
	if !ok {
		return decimal.Zero
	}
	return byCurrency[currency]
}

// RebalanceCycle runs one iteration of the allocator's cycle: process pending in
// priority/deadline order, expiring overdue requests and executing
// feasible transfers. Strategic drift correction toward targets is left to
// the caller via SetTargets/TargetShares, applied on top of this.
func (a *Allocator) RebalanceCycle(ctx context.Context, now time.Time) CycleResult {
	a.mu.Lock()
	var toProcess []*pendingEntry
	var expired []*domain.AllocationRequest
	remaining := pendingHeap{}
	for a.pending.Len() > 0 {
		e := heap.Pop(&a.pending).(*pendingEntry)
		if now.After(e.req.Deadline) {
			delete(a.byID, e.req.ID)
			expired = append(expired, e.req)
			continue
		}
		toProcess = append(toProcess, e)
	}
	a.pending = remaining
	a.mu.Unlock()

	var result CycleResult
	result.Expired = expired
	for _, e := range expired {
		a.logger.Warn(ctx, "allocation request expired", map[string]interface{}{
			"request_id": e.ID.String(), "priority": string(e.Priority),
		})
	}

	for _, e := range toProcess {
		outcome := a.executeOne(ctx, e.req)
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Err != nil && coreerrors.Is(outcome.Err, coreerrors.KindInsufficientCap) {
			a.mu.Lock()
			delete(a.byID, e.req.ID)
			a.mu.Unlock()
			continue
		}
		// Feasible-but-not-yet-confirmed transfers stay owned by the
		// allocator until a terminal status; re-enqueue for the next cycle.
		if outcome.Err == nil && outcome.Status != connector.TransferStatusConfirmed {
			a.mu.Lock()
			heap.Push(&a.pending, e)
			a.mu.Unlock()
		} else {
			a.mu.Lock()
			delete(a.byID, e.req.ID)
			a.mu.Unlock()
		}
	}
	return result
}

// executeOne checks capital availability then submits the transfer.
func (a *Allocator) executeOne(ctx context.Context, req *domain.AllocationRequest) TransferOutcome {
	a.mu.Lock()
	available := a.availableLocked(req.FromVenue, req.Currency)
	a.mu.Unlock()

	if req.Amount.GreaterThan(available) {
		return TransferOutcome{
			Request: req,
			Err: coreerrors.New(coreerrors.KindInsufficientCap, "insufficient capital").WithFields(map[string]any{
				"required": req.Amount.String(), "available": available.String(),
			}),
		}
	}

	client, ok := a.connectors[req.FromVenue]
	if !ok {
		return TransferOutcome{Request: req, Err: coreerrors.New(coreerrors.KindTransferFailed, "no connector for venue "+req.FromVenue)}
	}

	transferID, err := client.TransferFunds(ctx, connector.TransferRequest{
		Currency: req.Currency, Amount: req.Amount, ToVenue: req.ToVenue,
		Urgency: connector.UrgencyFromPriority(req.Priority),
	})
	if err != nil {
		return TransferOutcome{Request: req, Err: coreerrors.Wrap(coreerrors.KindTransferFailed, "transfer submit failed", err)}
	}

	status, err := client.GetTransferStatus(ctx, transferID)
	if err != nil {
		status = connector.TransferStatusPending
	}
	return TransferOutcome{Request: req, TransferID: transferID, Status: status}
}

// EmergencyReallocate implements Gekko mode: for every other venue
// holding currency, enqueue an Emergency transfer of pct·available to
// target_venue, all sharing one correlation id.
func (a *Allocator) EmergencyReallocate(targetVenue, currency string, pct float64, now time.Time) ([]uuid.UUID, error) {
	if pct <= 0 || pct > 1 {
		return nil, coreerrors.New(coreerrors.KindOrderValidation, "pct must be in (0,1]")
	}

	a.mu.Lock()
	correlationID := uuid.New()
	var ids []uuid.UUID
	for venue, byCurrency := range a.balances {
		if venue == targetVenue {
			continue
		}
		available, ok := byCurrency[currency]
		if !ok || available.Sign() <= 0 {
			continue
		}
		amount := available.Mul(decimal.NewFromFloat(pct))
		req := &domain.AllocationRequest{
			ID: uuid.New(), CorrelationID: correlationID, FromVenue: venue, ToVenue: targetVenue,
			Currency: currency, Amount: amount, Priority: domain.PriorityEmergency,
			Reason: "emergency_reallocate", RequestedAt: now,
			Deadline: now.Add(domain.PriorityEmergency.Deadline()),
		}
		entry := &pendingEntry{req: req}
		heap.Push(&a.pending, entry)
		a.byID[req.ID] = entry
		ids = append(ids, req.ID)
	}
	a.mu.Unlock()

	a.audit.LogUserAction(context.Background(), "emergency_reallocate", "operator", targetVenue, map[string]interface{}{
		"correlation_id": correlationID.String(), "currency": currency, "pct": pct, "request_count": len(ids),
	})
	return ids, nil
}

// SetTargets installs new target shares after validating they sum to 1.0
// within tolerance.
func (a *Allocator) SetTargets(shares map[string]decimal.Decimal) error {
	sum := decimal.Zero
	for _, s := range shares {
		sum = sum.Add(s)
	}
	tolerance := decimal.NewFromFloat(1e-9)
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(tolerance) {
		return coreerrors.New(coreerrors.KindOrderValidation, "target shares must sum to 1.0")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = shares
	return nil
}

// CycleResult summarizes one RebalanceCycle invocation.
type CycleResult struct {
	Outcomes []TransferOutcome
	Expired  []*domain.AllocationRequest
}

// TransferOutcome is the result of attempting to execute one pending
// request.
type TransferOutcome struct {
	Request    *domain.AllocationRequest
	TransferID uuid.UUID
	Status     connector.TransferStatus
	Err        error
}
