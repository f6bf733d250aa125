package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nova-trade/trading-core/internal/domain"
)

// MemoryStore is the in-memory reference implementation of Store, built on
// the same mutex-guarded-map idiom the Order Manager and Detector use.
// Intended for tests and for running the engine without a configured
// database.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[uuid.UUID]*domain.Order
	allocations map[uuid.UUID]*domain.AllocationRequest
	audit       []AuditEntry
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[uuid.UUID]*domain.Order),
		allocations: make(map[uuid.UUID]*domain.AllocationRequest),
	}
}

func (s *MemoryStore) UpsertOrder(ctx context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if filter.AccountID != "" && o.AccountID != filter.AccountID {
			continue
		}
		if filter.Symbol != "" && o.Symbol != filter.Symbol {
			continue
		}
		if filter.Venue != "" && o.Venue != filter.Venue {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpsertAllocationRequest(ctx context.Context, r *domain.AllocationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.allocations[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAllocationRequestByID(ctx context.Context, id uuid.UUID) (*domain.AllocationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.allocations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListAllocationRequests(ctx context.Context, filter AllocationFilter) ([]*domain.AllocationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.AllocationRequest
	for _, r := range s.allocations {
		if filter.FromVenue != "" && r.FromVenue != filter.FromVenue {
			continue
		}
		if filter.ToVenue != "" && r.ToVenue != filter.ToVenue {
			continue
		}
		if filter.Priority != "" && r.Priority != filter.Priority {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AuditEntry
	for _, e := range s.audit {
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		if !filter.Since.IsZero() && e.RecordedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
