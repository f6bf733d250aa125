// Package storage defines the persistence boundary the trading core needs
// and nothing more: upsert/get/list on the two entities the engine
// produces (orders, allocation requests) plus an append-only audit trail.
// Migrations and schema management stay a host concern; this package
// specifies and implements the port itself, and PostgresStore tunes its
// own connection pool.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nova-trade/trading-core/internal/domain"
)

// OrderFilter narrows ListOrders; zero-value fields are unconstrained.
type OrderFilter struct {
	AccountID string
	Symbol    string
	Venue     string
	Status    domain.OrderStatus
}

// AllocationFilter narrows ListAllocationRequests; zero-value fields are
// unconstrained.
type AllocationFilter struct {
	FromVenue string
	ToVenue   string
	Priority  domain.AllocationPriority
}

// AuditEntry is one append-only record of a system event worth retaining
// past process lifetime (admission rejections, circuit-breaker trips,
// emergency stops).
type AuditEntry struct {
	ID        uuid.UUID
	Category  string
	Message   string
	Fields    map[string]string
	RecordedAt time.Time
}

// AuditFilter narrows ListAudit; zero-value fields are unconstrained.
type AuditFilter struct {
	Category string
	Since    time.Time
}

// Store is the persistence port: upsert/get_by_id/list_by over orders and
// allocation requests, plus an append-only audit log. Both the in-memory
// reference implementation and the Postgres-backed implementation satisfy
// it identically, so callers (including tests) can swap one for the other
// without any other code change.
type Store interface {
	UpsertOrder(ctx context.Context, o *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, error)

	UpsertAllocationRequest(ctx context.Context, r *domain.AllocationRequest) error
	GetAllocationRequestByID(ctx context.Context, id uuid.UUID) (*domain.AllocationRequest, error)
	ListAllocationRequests(ctx context.Context, filter AllocationFilter) ([]*domain.AllocationRequest, error)

	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)

	Close() error
}

// ErrNotFound is returned by GetByID-style lookups that find nothing.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "storage: record not found" }
