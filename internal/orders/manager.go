// Package orders implements the order lifecycle state machine: the
// order store, the resting-order book, tick-driven matching, the risk
// validator and the fee calculator.
package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/pkg/observability"
)

// restingOrder is one entry in the order book, keyed by (symbol, side).
type restingOrder struct {
	orderID   uuid.UUID
	price     decimal.Decimal
	accountID string
	seq       uint64 // insertion order, for FIFO tie-break
}

// Manager owns the order → state map and the resting-order book. Many
// concurrent readers may inspect orders; mutations take the write lock for
// the duration of the pure state transition only, never across I/O.
type Manager struct {
	logger *observability.Logger
	risk   *RiskValidator
	fees   *FeeCalculator

	mu        sync.RWMutex
	orders    map[uuid.UUID]*domain.Order
	book      map[bookKey][]*restingOrder // sorted per side's price priority
	seq       uint64
	lastPrice map[string]decimal.Decimal        // symbol -> latest tick price
	fills     map[uuid.UUID][]*domain.Execution // orderID -> its executions
}

type bookKey struct {
	symbol string
	side   domain.OrderSide
}

// New builds an order Manager.
func New(risk *RiskValidator, fees *FeeCalculator, logger *observability.Logger) *Manager {
	return &Manager{
		logger: logger,
		risk:   risk,
		fees:   fees,
		orders:    make(map[uuid.UUID]*domain.Order),
		book:      make(map[bookKey][]*restingOrder),
		lastPrice: make(map[string]decimal.Decimal),
		fills:     make(map[uuid.UUID][]*domain.Execution),
	}
}

// Submit validates and accepts an order. Market orders fill
// immediately against the caller-supplied reference price if one is given;
// resting order types (anything requiring a price) are inserted into the
// book for later matching by ApplyMarketTick.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID: uuid.New(), Symbol: req.Symbol, Venue: req.Venue, Side: req.Side,
		Type: req.Type, Quantity: req.Quantity, Price: req.Price,
		TimeInForce: req.TimeInForce, AccountID: req.AccountID,
		Status: domain.OrderStatusPending, CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(), Metadata: req.Metadata,
	}

	m.mu.Lock()
	existing := m.activeOrdersForAccountLocked(req.AccountID)
	if err := m.risk.Validate(order, existing); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	order.Status = domain.OrderStatusOpen
	m.orders[order.ID] = order

	var fill *domain.Execution
	if order.Type == domain.OrderTypeMarket {
		if ref, ok := m.lastPrice[order.Symbol]; ok && ref.Sign() > 0 {
			fill = m.fillOrderLocked(order, ref)
		}
	} else if order.Type.RequiresPrice() {
		m.insertBookLocked(order)
	}
	m.mu.Unlock()

	m.logger.Info(ctx, "order accepted", map[string]interface{}{
		"order_id": order.ID.String(), "symbol": order.Symbol, "side": string(order.Side),
	})
	if fill != nil {
		m.logger.Info(ctx, "order filled", map[string]interface{}{
			"order_id": fill.OrderID.String(), "price": fill.Price.String(), "fee": fill.Fee.String(),
		})
	}
	return order, nil
}

// fillOrderLocked fully fills o at price, records the execution, and
// returns it. Callers must hold m.mu.
func (m *Manager) fillOrderLocked(o *domain.Order, price decimal.Decimal) *domain.Execution {
	fee := m.fees.Fee(o, price)
	exec := &domain.Execution{
		ID: uuid.New(), OrderID: o.ID, Symbol: o.Symbol, Side: o.Side,
		Quantity: o.Quantity.Sub(o.FilledQty), Price: price, Venue: o.Venue,
		Fee: fee, Timestamp: time.Now().UTC(),
	}
	o.FilledQty = o.Quantity
	o.AvgFillPrice = price
	o.Status = domain.OrderStatusFilled
	o.UpdatedAt = exec.Timestamp
	m.fills[o.ID] = append(m.fills[o.ID], exec)
	return exec
}

func (m *Manager) activeOrdersForAccountLocked(accountID string) []*domain.Order {
	var out []*domain.Order
	for _, o := range m.orders {
		if o.AccountID == accountID && o.Status.IsMutable() {
			out = append(out, o)
		}
	}
	return out
}

func (m *Manager) insertBookLocked(o *domain.Order) {
	m.seq++
	key := bookKey{symbol: o.Symbol, side: o.Side}
	entry := &restingOrder{orderID: o.ID, price: o.Price, accountID: o.AccountID, seq: m.seq}
	m.book[key] = append(m.book[key], entry)
	sortBookSideLocked(m.book[key], o.Side)
}

// sortBookSideLocked orders buys by price descending, sells ascending, with
// insertion sequence as the tie-break (FIFO at a given price).
func sortBookSideLocked(entries []*restingOrder, side domain.OrderSide) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].price.Equal(entries[j].price) {
			return entries[i].seq < entries[j].seq
		}
		if side == domain.OrderSideBuy {
			return entries[i].price.GreaterThan(entries[j].price)
		}
		return entries[i].price.LessThan(entries[j].price)
	})
}

// Cancel transitions an active order to Cancelled and removes any resting
// book entry. Cancelling an already-terminal order is a validation error,
// not a silent success.
func (m *Manager) Cancel(ctx context.Context, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return coreerrors.ErrOrderNotFound
	}
	if !o.Status.IsMutable() {
		return coreerrors.New(coreerrors.KindOrderValidation, "order already in terminal state "+string(o.Status))
	}

	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = time.Now().UTC()
	m.removeFromBookLocked(o)
	return nil
}

func (m *Manager) removeFromBookLocked(o *domain.Order) {
	key := bookKey{symbol: o.Symbol, side: o.Side}
	entries := m.book[key]
	for i, e := range entries {
		if e.orderID == o.ID {
			m.book[key] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Get returns a copy-by-reference snapshot of one order.
func (m *Manager) Get(orderID uuid.UUID) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, coreerrors.ErrOrderNotFound
	}
	return o, nil
}

// List returns all orders for an account, most recently created first.
func (m *Manager) List(accountID string) []*domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.AccountID == accountID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// OpenOrders returns every order across all accounts still in a mutable
// state, for callers that need to act venue-wide rather than per-account
// (e.g. an emergency shutdown cancelling everything outstanding).
func (m *Manager) OpenOrders() []*domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.Status.IsMutable() {
			out = append(out, o)
		}
	}
	return out
}

// ApplyMarketTick matches resting orders against a new tick price for one
// symbol: a buy at bp matches when p≤bp; a sell at sp matches when
// p≥sp. Matched orders fill fully at p in this simplified model — no
// partial splits — and are removed from the book. Ties are broken by
// insertion order, already encoded in the book's sort.
func (m *Manager) ApplyMarketTick(ctx context.Context, symbol string, price decimal.Decimal) ([]*domain.Execution, error) {
	var fills []*domain.Execution

	m.mu.Lock()
	m.lastPrice[symbol] = price
	for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		key := bookKey{symbol: symbol, side: side}
		entries := m.book[key]
		var remaining []*restingOrder
		for _, e := range entries {
			matched := (side == domain.OrderSideBuy && price.LessThanOrEqual(e.price)) ||
				(side == domain.OrderSideSell && price.GreaterThanOrEqual(e.price))
			if !matched {
				remaining = append(remaining, e)
				continue
			}
			o := m.orders[e.orderID]
			if o == nil || !o.Status.IsMutable() {
				continue
			}
			fills = append(fills, m.fillOrderLocked(o, price))
		}
		m.book[key] = remaining
	}
	m.mu.Unlock()

	for _, f := range fills {
		m.logger.Info(ctx, "order filled", map[string]interface{}{
			"order_id": f.OrderID.String(), "price": f.Price.String(), "fee": f.Fee.String(),
		})
	}
	return fills, nil
}

// FillsFor returns the executions recorded against one order so far.
func (m *Manager) FillsFor(orderID uuid.UUID) []*domain.Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fills[orderID]
}

// SubmitRequest is the caller-facing request to Submit.
type SubmitRequest struct {
	Symbol        string
	Venue         string
	Side          domain.OrderSide
	Type          domain.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   domain.TimeInForce
	AccountID     string
	Metadata      map[string]string
}

func validateRequest(req SubmitRequest) error {
	if req.Quantity.Sign() <= 0 {
		return coreerrors.New(coreerrors.KindOrderValidation, "quantity must be positive")
	}
	requiresPrice := req.Type.RequiresPrice()
	hasPrice := req.Price.Sign() > 0
	if requiresPrice && !hasPrice {
		return coreerrors.New(coreerrors.KindOrderValidation, "price is required for order type "+string(req.Type))
	}
	if !requiresPrice && hasPrice {
		return coreerrors.New(coreerrors.KindOrderValidation, "price must not be set for market orders")
	}
	return nil
}
