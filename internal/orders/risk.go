package orders

import (
	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/coreerrors"
	"github.com/nova-trade/trading-core/internal/domain"
)

// RiskValidator is the order Manager's pre-accept gate: it checks a
// prospective order against configured size and exposure limits before the
// Manager ever mutates its order/book state.
type RiskValidator struct {
	maxOrderSize         decimal.Decimal
	maxPositionSize      decimal.Decimal
	maxPortfolioExposure decimal.Decimal
}

// NewRiskValidator builds the default policy from parsed decimal limits.
func NewRiskValidator(maxOrderSize, maxPositionSize, maxPortfolioExposure decimal.Decimal) *RiskValidator {
	return &RiskValidator{
		maxOrderSize:         maxOrderSize,
		maxPositionSize:      maxPositionSize,
		maxPortfolioExposure: maxPortfolioExposure,
	}
}

// Validate checks a prospective order against the account's existing
// mutable orders: qty ≤ max_order_size; symbol exposure + qty ≤
// max_position_size; portfolio exposure + qty ≤ max_portfolio_exposure.
func (v *RiskValidator) Validate(order *domain.Order, existing []*domain.Order) error {
	if order.Quantity.GreaterThan(v.maxOrderSize) {
		return coreerrors.New(coreerrors.KindOrderValidation,
			"order size "+order.Quantity.String()+" exceeds max_order_size "+v.maxOrderSize.String())
	}

	symbolExposure := decimal.Zero
	portfolioExposure := decimal.Zero
	for _, o := range existing {
		remaining := o.Remaining()
		portfolioExposure = portfolioExposure.Add(remaining)
		if o.Symbol == order.Symbol {
			symbolExposure = symbolExposure.Add(remaining)
		}
	}

	if symbolExposure.Add(order.Quantity).GreaterThan(v.maxPositionSize) {
		return coreerrors.New(coreerrors.KindOrderValidation,
			"symbol exposure would exceed max_position_size "+v.maxPositionSize.String())
	}
	if portfolioExposure.Add(order.Quantity).GreaterThan(v.maxPortfolioExposure) {
		return coreerrors.New(coreerrors.KindOrderValidation,
			"portfolio exposure would exceed max_portfolio_exposure "+v.maxPortfolioExposure.String())
	}
	return nil
}
