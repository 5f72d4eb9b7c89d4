package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestLineCompute(t *testing.T) {
	amounts, err := Line{Quantity: d("3"), UnitPrice: d("10.50"), DiscountPct: d("10"), TaxPct: d("11")}.Compute()
	require.NoError(t, err)
	require.True(t, amounts.Gross.Equal(d("31.50")))
	require.True(t, amounts.Discount.Equal(d("3.15")))
	require.True(t, amounts.Net.Equal(d("28.35")))
	require.True(t, amounts.Tax.Equal(d("3.12")))
	require.True(t, amounts.Total.Equal(d("31.47")))

	_, err = Line{Quantity: d("-1"), UnitPrice: d("1")}.Compute()
	require.ErrorIs(t, err, ErrNegativeAmount)
	_, err = Line{Quantity: d("1"), UnitPrice: d("1"), TaxPct: d("101")}.Compute()
	require.ErrorIs(t, err, ErrInvalidPercentage)
}

func TestSummarizeWithRetention(t *testing.T) {
	lines := []Line{
		{Quantity: d("2"), UnitPrice: d("100"), TaxPct: d("10")},
		{Quantity: d("1"), UnitPrice: d("50")},
	}
	amounts, err := Summarize(lines, d("5"))
	require.NoError(t, err)
	require.True(t, amounts.Subtotal.Equal(d("250")))
	require.True(t, amounts.Tax.Equal(d("20")))
	require.True(t, amounts.Total.Equal(d("270")))
	require.True(t, amounts.Retention.Equal(d("12.5")))
	require.True(t, amounts.NetPayable.Equal(d("257.5")))

	_, err = Summarize(nil, decimal.Zero)
	require.ErrorIs(t, err, ErrNoLines)
	_, err = Summarize(lines, d("-1"))
	require.ErrorIs(t, err, ErrInvalidPercentage)
}

func TestBalanceInvoiceAndPayment(t *testing.T) {
	b := Balance{Total: d("100"), RequireInvoiceBeforePayment: true}
	require.Equal(t, PaymentUnpaid, b.Status())

	require.ErrorIs(t, b.ApplyPayment(d("10")), ErrExceedsTotal)
	require.NoError(t, b.ApplyInvoice(d("60")))
	require.NoError(t, b.ApplyPayment(d("40")))
	require.Equal(t, PaymentPartial, b.Status())
	require.ErrorIs(t, b.ApplyInvoice(d("41")), ErrExceedsTotal)
	require.ErrorIs(t, b.ReverseInvoice(d("30")), ErrExceedsTotal)

	require.NoError(t, b.ApplyInvoice(d("40")))
	require.True(t, b.FullyInvoiced())
	require.NoError(t, b.ApplyPayment(d("60")))
	require.Equal(t, PaymentPaid, b.Status())
	require.True(t, b.Outstanding().IsZero())
	require.True(t, b.Uninvoiced().IsZero())

	require.NoError(t, b.ReversePayment(d("25")))
	require.Equal(t, PaymentPartial, b.Status())
	require.ErrorIs(t, b.ReversePayment(d("80")), ErrNegativeAmount)
	require.ErrorIs(t, b.ApplyPayment(d("0")), ErrNegativeAmount)
}

func TestSettlement(t *testing.T) {
	s := Settlement{Amount: d("500")}
	status, err := s.Apply(d("200"))
	require.NoError(t, err)
	require.Equal(t, SettlementPartial, status)

	status, err = s.Apply(d("301"))
	require.ErrorIs(t, err, ErrExceedsTotal)
	require.Equal(t, SettlementPartial, status)

	status, err = s.Apply(d("300"))
	require.NoError(t, err)
	require.Equal(t, SettlementSettled, status)
	require.True(t, s.Remaining().IsZero())
}

func TestNextValuation(t *testing.T) {
	v, err := NextValuation(d("1000"), d("25"), d("40"))
	require.NoError(t, err)
	require.True(t, v.PeriodPct.Equal(d("15")))
	require.True(t, v.PeriodValue.Equal(d("150")))

	_, err = NextValuation(d("1000"), d("40"), d("30"))
	require.ErrorIs(t, err, ErrProgressRegression)
	_, err = NextValuation(d("1000"), d("40"), d("100.01"))
	require.ErrorIs(t, err, ErrProgressOverflow)
}

func TestReconcileValuations(t *testing.T) {
	contract := d("333.33")
	var series []Valuation
	prior := decimal.Zero
	for _, pct := range []string{"33.3", "66.6", "100"} {
		v, err := NextValuation(contract, prior, d(pct))
		require.NoError(t, err)
		series = append(series, v)
		prior = v.AccumulatedPct
	}
	require.NoError(t, ReconcileValuations(contract, series))

	series[1].PeriodValue = series[1].PeriodValue.Add(d("0.01"))
	require.ErrorIs(t, ReconcileValuations(contract, series), ErrProgressMismatch)
}

func TestEnvelope(t *testing.T) {
	e := Envelope{Budget: d("1000"), TolerancePct: d("10")}
	require.True(t, e.Ceiling().Equal(d("1100")))

	require.NoError(t, e.Commit(d("900")))
	require.ErrorIs(t, e.Commit(d("201")), ErrBudgetExceeded)
	require.NoError(t, e.Commit(d("200")))
	require.True(t, e.Available().IsZero())

	require.NoError(t, e.Supplement(d("500")))
	require.True(t, e.Authorized().Equal(d("1500")))
	require.NoError(t, e.Release(d("100")))
	require.ErrorIs(t, e.Release(d("5000")), ErrExceedsTotal)

	require.NoError(t, e.RecordActual(d("400")))
	require.True(t, e.OpenCommitments().Equal(d("600")))
}

func TestStockMovingAverageAndTransfer(t *testing.T) {
	main := StockKey{WarehouseID: 1, ProductID: 7}
	yard := StockKey{WarehouseID: 2, ProductID: 7}
	s := NewStock(nil)

	_, err := s.Receive(main, d("10"), d("5"))
	require.NoError(t, err)
	eff, err := s.Receive(main, d("10"), d("7"))
	require.NoError(t, err)
	require.True(t, eff.After.AvgCost.Equal(d("6")))

	out, in, err := s.Move(7, 1, 2, d("4"))
	require.NoError(t, err)
	require.True(t, out.QtyDelta.Equal(d("-4")))
	require.True(t, in.After.AvgCost.Equal(d("6")))
	require.True(t, s.Position(yard).Qty.Equal(d("4")))
	require.True(t, s.TotalQty(7).Equal(d("20")))

	_, err = s.Issue(yard, d("5"))
	require.ErrorIs(t, err, ErrNegativeStock)
	require.True(t, s.Position(yard).Qty.Equal(d("4")))

	_, _, err = s.Move(7, 2, 2, d("1"))
	require.ErrorIs(t, err, ErrSameWarehouse)
}
