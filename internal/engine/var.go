package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// varMethod selects the statistical model behind a VaR estimate.
type varMethod string

const (
	varMethodHistorical varMethod = "historical"
	varMethodParametric varMethod = "parametric"
)

// varResult is one point-in-time Value-at-Risk estimate over the
// portfolio's realized-value history.
type varResult struct {
	Method            varMethod
	ConfidenceLevel   decimal.Decimal
	VaR               decimal.Decimal
	ExpectedShortfall decimal.Decimal
	PortfolioValue    decimal.Decimal
	Volatility        decimal.Decimal
	DataPoints        int
	CalculatedAt      time.Time
}

// varCalculator estimates VaR/Expected-Shortfall from a series of
// portfolio-value snapshots, narrowed to the historical/parametric methods
// the Risk Monitor actually
// needs; Monte Carlo and EWMA variants are dropped (Monte Carlo's random
// draw was never wired to an actual generator upstream, and EWMA duplicates
// the scanner's own EWMA variance for the same inputs).
type varCalculator struct {
	confidenceLevel decimal.Decimal
}

func newVaRCalculator(confidenceLevel decimal.Decimal) *varCalculator {
	if confidenceLevel.Sign() <= 0 {
		confidenceLevel = decimal.NewFromFloat(0.95)
	}
	return &varCalculator{confidenceLevel: confidenceLevel}
}

// Calculate derives simple returns from consecutive values then estimates
// VaR by the requested method.
func (vc *varCalculator) Calculate(values []decimal.Decimal, method varMethod) (*varResult, error) {
	if len(values) < 2 {
		return nil, fmt.Errorf("insufficient portfolio-value history for VaR")
	}
	returns := make([]decimal.Decimal, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev.IsZero() {
			continue
		}
		returns = append(returns, values[i].Sub(prev).Div(prev))
	}
	if len(returns) == 0 {
		return nil, fmt.Errorf("no usable return observations")
	}

	portfolioValue := values[len(values)-1]
	var result *varResult
	switch method {
	case varMethodParametric:
		result = vc.parametric(returns, portfolioValue)
	default:
		result = vc.historical(returns, portfolioValue)
	}
	result.CalculatedAt = time.Now()
	result.DataPoints = len(returns)
	return result, nil
}

func (vc *varCalculator) historical(returns []decimal.Decimal, portfolioValue decimal.Decimal) *varResult {
	sorted := make([]decimal.Decimal, len(returns))
	copy(sorted, returns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	alpha := decimal.NewFromInt(1).Sub(vc.confidenceLevel)
	index := int(alpha.Mul(decimal.NewFromInt(int64(len(sorted)))).IntPart())
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	if index < 0 {
		index = 0
	}

	varReturn := sorted[index].Neg()
	tailSum := decimal.Zero
	for i := 0; i <= index; i++ {
		tailSum = tailSum.Add(sorted[i])
	}
	expectedShortfall := decimal.Zero
	if index >= 0 {
		expectedShortfall = portfolioValue.Mul(tailSum.Div(decimal.NewFromInt(int64(index + 1))).Neg())
	}

	return &varResult{
		Method: varMethodHistorical, ConfidenceLevel: vc.confidenceLevel,
		VaR: portfolioValue.Mul(varReturn), ExpectedShortfall: expectedShortfall,
		PortfolioValue: portfolioValue, Volatility: standardDeviation(returns, mean(returns)),
	}
}

func (vc *varCalculator) parametric(returns []decimal.Decimal, portfolioValue decimal.Decimal) *varResult {
	m := mean(returns)
	stdDev := standardDeviation(returns, m)
	alpha := decimal.NewFromInt(1).Sub(vc.confidenceLevel)
	z := zScore(alpha)

	varReturn := m.Add(z.Mul(stdDev)).Neg()
	phi := standardNormalPDF(z)
	expectedShortfall := portfolioValue.Mul(m.Sub(stdDev.Mul(phi).Div(alpha)).Neg())

	return &varResult{
		Method: varMethodParametric, ConfidenceLevel: vc.confidenceLevel,
		VaR: portfolioValue.Mul(varReturn), ExpectedShortfall: expectedShortfall,
		PortfolioValue: portfolioValue, Volatility: stdDev,
	}
}

func mean(returns []decimal.Decimal) decimal.Decimal {
	if len(returns) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, r := range returns {
		sum = sum.Add(r)
	}
	return sum.Div(decimal.NewFromInt(int64(len(returns))))
}

func standardDeviation(returns []decimal.Decimal, m decimal.Decimal) decimal.Decimal {
	if len(returns) <= 1 {
		return decimal.Zero
	}
	sumSq := decimal.Zero
	for _, r := range returns {
		diff := r.Sub(m)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(returns) - 1)))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

// zScore approximates the inverse standard-normal CDF at common confidence
// thresholds; refining beyond these buckets would need a full inverse-erf
// implementation this package has no reason to carry.
func zScore(alpha decimal.Decimal) decimal.Decimal {
	a := alpha.InexactFloat64()
	switch {
	case a <= 0.01:
		return decimal.NewFromFloat(-2.326)
	case a <= 0.025:
		return decimal.NewFromFloat(-1.96)
	case a <= 0.05:
		return decimal.NewFromFloat(-1.645)
	case a <= 0.1:
		return decimal.NewFromFloat(-1.282)
	default:
		return decimal.NewFromFloat(-1.645)
	}
}

func standardNormalPDF(z decimal.Decimal) decimal.Decimal {
	zf := z.InexactFloat64()
	return decimal.NewFromFloat((1.0 / math.Sqrt(2*math.Pi)) * math.Exp(-0.5*zf*zf))
}
