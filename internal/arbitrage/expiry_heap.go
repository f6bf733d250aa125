package arbitrage

import (
	"container/heap"

	"github.com/nova-trade/trading-core/internal/domain"
)

// expiryHeap is a time-indexed min-heap keyed by expires_at. No pack repo ships a generic
// heap/priority-queue library, so this is built on the standard library's
// container/heap — justified in the design ledger as ordinary Go idiom for
// a single-process priority queue, not a gap in dependency coverage.
type expiryHeap struct {
	items []*domain.ArbitrageOpportunity
}

func (h expiryHeap) Len() int { return len(h.items) }
func (h expiryHeap) Less(i, j int) bool {
	return h.items[i].ExpiresAt.Before(h.items[j].ExpiresAt)
}
func (h expiryHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *expiryHeap) Push(x any) {
	h.items = append(h.items, x.(*domain.ArbitrageOpportunity))
}

func (h *expiryHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func (h *expiryHeap) push(o *domain.ArbitrageOpportunity) { heap.Push(h, o) }
func (h *expiryHeap) pop() *domain.ArbitrageOpportunity {
	return heap.Pop(h).(*domain.ArbitrageOpportunity)
}
func (h *expiryHeap) peek() *domain.ArbitrageOpportunity { return h.items[0] }
