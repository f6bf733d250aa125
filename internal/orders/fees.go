package orders

import (
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/domain"
)

// FeeCalculator computes the fee for one execution. Default
// policy: qty·price·(maker_rate if type=Limit else taker_rate); negative
// rates (rebates) are permitted and simply flow through as negative fees.
type FeeCalculator struct {
	venueFees map[string]domain.FeeStructure
}

// NewFeeCalculator builds a calculator over per-venue fee structures.
func NewFeeCalculator(venueFees map[string]domain.FeeStructure) *FeeCalculator {
	return &FeeCalculator{venueFees: venueFees}
}

// Fee computes qty·price·rate for the given order at the given execution
// price, choosing the maker rate for Limit orders (resting) and the taker
// rate for everything else (Market and the remaining marching types which
// cross the book immediately in this simplified model).
func (c *FeeCalculator) Fee(order *domain.Order, execPrice decimal.Decimal) decimal.Decimal {
	fs, ok := c.venueFees[order.Venue]
	if !ok {
		return decimal.Zero
	}
	rate := fs.Taker
	if order.Type == domain.OrderTypeLimit {
		rate = fs.Maker
	}
	return order.Quantity.Mul(execPrice).Mul(rate)
}
