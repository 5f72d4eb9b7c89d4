package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrProgressRegression rejects an accumulated percentage below the prior one.
	ErrProgressRegression = errors.New("ledger: accumulated progress below previous valuation")
	// ErrProgressOverflow rejects an accumulated percentage above 100.
	ErrProgressOverflow = errors.New("ledger: accumulated progress above 100%")
	// ErrProgressMismatch indicates a valuation series whose values do not add up.
	ErrProgressMismatch = errors.New("ledger: valuation series does not reconcile")
)

// Valuation is one measured step of contractor progress.
type Valuation struct {
	AccumulatedPct decimal.Decimal
	PeriodPct      decimal.Decimal
	PeriodValue    decimal.Decimal
}

// NextValuation derives the period share of a new accumulated percentage.
func NextValuation(contractValue, priorAccumulatedPct, accumulatedPct decimal.Decimal) (Valuation, error) {
	if contractValue.IsNegative() {
		return Valuation{}, ErrNegativeAmount
	}
	if accumulatedPct.GreaterThan(hundred) {
		return Valuation{}, ErrProgressOverflow
	}
	if accumulatedPct.LessThan(priorAccumulatedPct) || accumulatedPct.IsNegative() {
		return Valuation{}, fmt.Errorf("%w: %s%% < %s%%", ErrProgressRegression, accumulatedPct.String(), priorAccumulatedPct.String())
	}
	periodPct := accumulatedPct.Sub(priorAccumulatedPct)
	// Period value is the difference of accumulated values so rounding never drifts.
	periodValue := Percent(contractValue, accumulatedPct).Sub(Percent(contractValue, priorAccumulatedPct))
	return Valuation{AccumulatedPct: accumulatedPct, PeriodPct: periodPct, PeriodValue: periodValue}, nil
}

// ReconcileValuations checks an ordered series: accumulated percentages are
// monotonic and bounded, each period percentage is the accumulated delta and
// the period values sum to the accumulated value of the last valuation.
func ReconcileValuations(contractValue decimal.Decimal, series []Valuation) error {
	prior := decimal.Zero
	sum := decimal.Zero
	for i, v := range series {
		expected, err := NextValuation(contractValue, prior, v.AccumulatedPct)
		if err != nil {
			return fmt.Errorf("valuation %d: %w", i+1, err)
		}
		if !expected.PeriodPct.Equal(v.PeriodPct) || !expected.PeriodValue.Equal(v.PeriodValue) {
			return fmt.Errorf("%w: valuation %d", ErrProgressMismatch, i+1)
		}
		sum = sum.Add(v.PeriodValue)
		prior = v.AccumulatedPct
	}
	if !sum.Equal(Percent(contractValue, prior)) {
		return ErrProgressMismatch
	}
	return nil
}
