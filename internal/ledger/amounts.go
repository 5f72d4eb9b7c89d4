package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeAmount rejects negative quantities, prices or amounts.
	ErrNegativeAmount = errors.New("ledger: amount must not be negative")
	// ErrInvalidPercentage rejects percentages outside 0..100.
	ErrInvalidPercentage = errors.New("ledger: percentage must be between 0 and 100")
	// ErrExceedsTotal indicates a child sum would exceed its parent total.
	ErrExceedsTotal = errors.New("ledger: amount exceeds parent total")
	// ErrNoLines indicates a document without lines.
	ErrNoLines = errors.New("ledger: at least one line required")
)

var (
	hundred = decimal.NewFromInt(100)
	// MoneyPlaces is the rounding precision of monetary values.
	MoneyPlaces int32 = 2
	// QuantityPlaces is the rounding precision of quantities.
	QuantityPlaces int32 = 4
)

// Money rounds d to MoneyPlaces.
func Money(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// Quantity rounds d to QuantityPlaces.
func Quantity(d decimal.Decimal) decimal.Decimal { return d.Round(QuantityPlaces) }

// Line is a priced document line.
type Line struct {
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
	TaxPct      decimal.Decimal
}

// LineAmounts are the derived values of a Line.
type LineAmounts struct {
	Gross    decimal.Decimal
	Discount decimal.Decimal
	Net      decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Amounts aggregates a document's lines.
type Amounts struct {
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	Retention  decimal.Decimal
	NetPayable decimal.Decimal
}

// Compute derives the line values, rounded to money precision.
func (l Line) Compute() (LineAmounts, error) {
	if l.Quantity.IsNegative() || l.UnitPrice.IsNegative() {
		return LineAmounts{}, ErrNegativeAmount
	}
	if err := checkPct(l.DiscountPct); err != nil {
		return LineAmounts{}, err
	}
	if err := checkPct(l.TaxPct); err != nil {
		return LineAmounts{}, err
	}
	gross := Money(l.Quantity.Mul(l.UnitPrice))
	discount := Money(gross.Mul(l.DiscountPct).Div(hundred))
	net := gross.Sub(discount)
	tax := Money(net.Mul(l.TaxPct).Div(hundred))
	return LineAmounts{Gross: gross, Discount: discount, Net: net, Tax: tax, Total: net.Add(tax)}, nil
}

// Summarize totals lines and withholds retentionPct of the subtotal.
func Summarize(lines []Line, retentionPct decimal.Decimal) (Amounts, error) {
	if len(lines) == 0 {
		return Amounts{}, ErrNoLines
	}
	if err := checkPct(retentionPct); err != nil {
		return Amounts{}, err
	}
	var out Amounts
	for i, line := range lines {
		amounts, err := line.Compute()
		if err != nil {
			return Amounts{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		out.Subtotal = out.Subtotal.Add(amounts.Net)
		out.Discount = out.Discount.Add(amounts.Discount)
		out.Tax = out.Tax.Add(amounts.Tax)
	}
	out.Total = out.Subtotal.Add(out.Tax)
	out.Retention = Money(out.Subtotal.Mul(retentionPct).Div(hundred))
	out.NetPayable = out.Total.Sub(out.Retention)
	return out, nil
}

// Percent returns pct% of amount at money precision.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Money(amount.Mul(pct).Div(hundred))
}

func checkPct(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return ErrInvalidPercentage
	}
	return nil
}
