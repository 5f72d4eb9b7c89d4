package contractor

import (
	"context"
	"maps"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/audit/audittest"
	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

type memoryState struct {
	contracts  map[int64]Contract
	valuations map[int64]Valuation
	invoices   map[int64]Invoice
	payments   []Payment
	nextID     int64
}

func (s memoryState) clone() memoryState {
	return memoryState{
		contracts:  maps.Clone(s.contracts),
		valuations: maps.Clone(s.valuations),
		invoices:   maps.Clone(s.invoices),
		payments:   append([]Payment(nil), s.payments...),
		nextID:     s.nextID,
	}
}

type memoryRepo struct {
	state memoryState
	trail *audittest.Trail
}

type memoryTx struct {
	state *memoryState
	trail *audittest.Trail
}

func newMemoryRepo(trail *audittest.Trail) *memoryRepo {
	return &memoryRepo{
		state: memoryState{contracts: map[int64]Contract{}, valuations: map[int64]Valuation{}, invoices: map[int64]Invoice{}},
		trail: trail,
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &work, trail: r.trail}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetContract(ctx context.Context, id int64) (Contract, error) {
	c, ok := r.state.contracts[id]
	if !ok {
		return Contract{}, ErrContractNotFound
	}
	return c, nil
}

func (r *memoryRepo) GetValuation(ctx context.Context, id int64) (Valuation, error) {
	v, ok := r.state.valuations[id]
	if !ok {
		return Valuation{}, ErrValuationNotFound
	}
	return v, nil
}

func (r *memoryRepo) ListApprovedValuations(ctx context.Context, contractID int64) ([]Valuation, error) {
	return approvedOf(r.state.valuations, contractID), nil
}

func approvedOf(valuations map[int64]Valuation, contractID int64) []Valuation {
	var out []Valuation
	for _, v := range valuations {
		if v.ContractID == contractID && v.Status == ValuationApproved {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccumulatedPct.LessThan(out[j].AccumulatedPct) })
	return out
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.state.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range r.state.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memoryTx) id() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) CreateContract(ctx context.Context, c Contract) (int64, error) {
	c.ID = tx.id()
	tx.state.contracts[c.ID] = c
	return c.ID, nil
}

func (tx *memoryTx) LockContract(ctx context.Context, id int64) (Contract, error) {
	c, ok := tx.state.contracts[id]
	if !ok {
		return Contract{}, ErrContractNotFound
	}
	return c, nil
}

func (tx *memoryTx) CreateValuation(ctx context.Context, v Valuation) (int64, error) {
	v.ID = tx.id()
	tx.state.valuations[v.ID] = v
	return v.ID, nil
}

func (tx *memoryTx) LatestApprovedPct(ctx context.Context, contractID int64) (decimal.Decimal, error) {
	return ValuationSubject{Approved: approvedOf(tx.state.valuations, contractID)}.LatestApprovedPct(), nil
}

func (tx *memoryTx) UpdateValuationStatus(ctx context.Context, id int64, from, to ValuationStatus) error {
	v, ok := tx.state.valuations[id]
	if !ok || v.Status != from {
		return workflow.ErrStaleState
	}
	v.Status = to
	tx.state.valuations[id] = v
	return nil
}

func (tx *memoryTx) SetValuationApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	v := tx.state.valuations[id]
	v.ApprovedBy, v.ApprovedAt = approvedBy, &approvedAt
	tx.state.valuations[id] = v
	return nil
}

func (tx *memoryTx) HasLiveInvoice(ctx context.Context, valuationID int64) (bool, error) {
	for _, inv := range tx.state.invoices {
		if inv.ValuationID == valuationID && inv.Status != InvoiceCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	inv.ID = tx.id()
	tx.state.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (tx *memoryTx) UpdateInvoiceStatus(ctx context.Context, id int64, from, to InvoiceStatus) error {
	inv, ok := tx.state.invoices[id]
	if !ok || inv.Status != from {
		return workflow.ErrStaleState
	}
	inv.Status = to
	tx.state.invoices[id] = inv
	return nil
}

func (tx *memoryTx) SetInvoiceApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	inv := tx.state.invoices[id]
	inv.ApprovedBy, inv.ApprovedAt = approvedBy, &approvedAt
	tx.state.invoices[id] = inv
	return nil
}

func (tx *memoryTx) ApplyPayment(ctx context.Context, id int64, amount decimal.Decimal) error {
	inv := tx.state.invoices[id]
	if !inv.Payable() || inv.PaidAmount.Add(amount).GreaterThan(inv.NetPayable) {
		return ledger.ErrExceedsTotal
	}
	inv.PaidAmount = inv.PaidAmount.Add(amount)
	tx.state.invoices[id] = inv
	return nil
}

func (tx *memoryTx) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	p.ID = tx.id()
	tx.state.payments = append(tx.state.payments, p)
	return p.ID, nil
}

func (tx *memoryTx) InsertTransition(ctx context.Context, step workflow.Step) error {
	tx.trail.Append(step)
	return nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, log audit.Log) error {
	return tx.trail.Record(ctx, log)
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var (
	surveyor        = workflow.Actor{ID: 1}
	projectManager  = workflow.Actor{ID: 2, Roles: workflow.Roles(RoleProjectManager)}
	contractManager = workflow.Actor{ID: 3, Roles: workflow.Roles(RoleContractManager)}
)

func newTestService(t *testing.T) (*Service, *audittest.Trail) {
	t.Helper()
	trail := audittest.New()
	registry := workflow.NewRegistry()
	require.NoError(t, registry.Register(ValuationDefinition()))
	require.NoError(t, registry.Register(InvoiceDefinition()))
	history := audit.NewTrail(trail)
	engine := workflow.NewEngine(registry, workflow.Options{History: history})
	return NewService(newMemoryRepo(trail), engine, history, Options{}), trail
}

func newContract(t *testing.T, svc *Service) Contract {
	t.Helper()
	c, err := svc.CreateContract(context.Background(), surveyor, CreateContractInput{
		ContractorID: 50, Title: "Flowline installation", Value: d("1000"), RetentionPct: d("5"), TaxPct: d("10"),
	})
	require.NoError(t, err)
	return c
}

func approvedValuation(t *testing.T, svc *Service, contractID int64, pct string) Valuation {
	t.Helper()
	ctx := context.Background()
	v, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: contractID, AccumulatedPct: d(pct)})
	require.NoError(t, err)
	_, err = svc.Valuations().Transition(ctx, v.ID, surveyor, workflow.ActionSubmit, "")
	require.NoError(t, err)
	v, err = svc.Valuations().Transition(ctx, v.ID, projectManager, workflow.ActionApprove, "")
	require.NoError(t, err)
	return v
}

func approvedInvoice(t *testing.T, svc *Service, valuationID int64) Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := svc.CreateInvoice(ctx, surveyor, CreateInvoiceInput{ValuationID: valuationID})
	require.NoError(t, err)
	_, err = svc.Invoices().Transition(ctx, inv.ID, surveyor, workflow.ActionSubmit, "")
	require.NoError(t, err)
	inv, err = svc.Invoices().Transition(ctx, inv.ID, contractManager, workflow.ActionApprove, "")
	require.NoError(t, err)
	return inv
}

func TestValuationAccumulation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := newContract(t, svc)

	first := approvedValuation(t, svc, c.ID, "30")
	require.Equal(t, ValuationApproved, first.Status)
	require.True(t, first.PeriodValue.Equal(d("300")))

	_, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c.ID, AccumulatedPct: d("20")})
	require.ErrorIs(t, err, ledger.ErrProgressRegression)
	_, err = svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c.ID, AccumulatedPct: d("120")})
	require.ErrorIs(t, err, ledger.ErrProgressOverflow)

	second, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c.ID, AccumulatedPct: d("50")})
	require.NoError(t, err)
	require.True(t, second.PriorPct.Equal(d("30")))
	require.True(t, second.PeriodPct.Equal(d("20")))
	require.True(t, second.PeriodValue.Equal(d("200")))
}

func TestStaleValuationFailsGuard(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := newContract(t, svc)
	approvedValuation(t, svc, c.ID, "30")

	a, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c.ID, AccumulatedPct: d("50")})
	require.NoError(t, err)
	b, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c.ID, AccumulatedPct: d("60")})
	require.NoError(t, err)
	_, err = svc.Valuations().Transition(ctx, b.ID, surveyor, workflow.ActionSubmit, "")
	require.NoError(t, err)

	_, err = svc.Valuations().Transition(ctx, a.ID, surveyor, workflow.ActionSubmit, "")
	require.NoError(t, err)
	_, err = svc.Valuations().Transition(ctx, a.ID, projectManager, workflow.ActionApprove, "")
	require.NoError(t, err)

	_, err = svc.Valuations().Transition(ctx, b.ID, projectManager, workflow.ActionApprove, "")
	require.ErrorIs(t, err, workflow.ErrGuardFailed)
	require.ErrorIs(t, err, ErrValuationStale)
}

func TestInvoiceFromValuation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := newContract(t, svc)

	draft, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c.ID, AccumulatedPct: d("30")})
	require.NoError(t, err)
	_, err = svc.CreateInvoice(ctx, surveyor, CreateInvoiceInput{ValuationID: draft.ID})
	require.ErrorIs(t, err, ErrValuationNotApproved)

	_, err = svc.Valuations().Transition(ctx, draft.ID, surveyor, workflow.ActionSubmit, "")
	require.NoError(t, err)
	v, err := svc.Valuations().Transition(ctx, draft.ID, projectManager, workflow.ActionApprove, "")
	require.NoError(t, err)

	inv, err := svc.CreateInvoice(ctx, surveyor, CreateInvoiceInput{ValuationID: v.ID})
	require.NoError(t, err)
	require.True(t, inv.Subtotal.Equal(d("300")))
	require.True(t, inv.Tax.Equal(d("30")))
	require.True(t, inv.Total.Equal(d("330")))
	require.True(t, inv.Retention.Equal(d("15")))
	require.True(t, inv.NetPayable.Equal(d("315")))

	_, err = svc.CreateInvoice(ctx, surveyor, CreateInvoiceInput{ValuationID: v.ID})
	require.ErrorIs(t, err, ErrAlreadyInvoiced)

	_, err = svc.Invoices().Transition(ctx, inv.ID, surveyor, workflow.ActionCancel, "wrong period")
	require.NoError(t, err)
	_, err = svc.CreateInvoice(ctx, surveyor, CreateInvoiceInput{ValuationID: v.ID})
	require.NoError(t, err)
}

func TestPartialPaymentsSettleInvoice(t *testing.T) {
	svc, trail := newTestService(t)
	ctx := context.Background()
	c := newContract(t, svc)
	v := approvedValuation(t, svc, c.ID, "30")
	inv := approvedInvoice(t, svc, v.ID)
	require.Equal(t, InvoiceApproved, inv.Status)

	_, err := svc.Invoices().Transition(ctx, inv.ID, contractManager, workflow.ActionSettle, "")
	require.ErrorIs(t, err, workflow.ErrForbidden)

	inv, err = svc.RegisterPayment(ctx, contractManager, inv.ID, PaymentInput{Amount: d("100")})
	require.NoError(t, err)
	require.Equal(t, InvoicePartiallyPaid, inv.Status)

	_, err = svc.RegisterPayment(ctx, contractManager, inv.ID, PaymentInput{Amount: d("215.01")})
	require.ErrorIs(t, err, ledger.ErrExceedsTotal)

	inv, err = svc.RegisterPayment(ctx, contractManager, inv.ID, PaymentInput{Amount: d("15")})
	require.NoError(t, err)
	require.Equal(t, InvoicePartiallyPaid, inv.Status)

	inv, err = svc.RegisterPayment(ctx, contractManager, inv.ID, PaymentInput{Amount: d("200")})
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, inv.Status)
	require.True(t, inv.PaidAmount.Equal(d("315")))

	_, err = svc.RegisterPayment(ctx, contractManager, inv.ID, PaymentInput{Amount: d("1")})
	require.ErrorIs(t, err, ErrNotPayable)

	require.Equal(t, []workflow.Action{workflow.ActionSubmit, workflow.ActionApprove, workflow.ActionSettlePartial, workflow.ActionSettle}, trail.Actions(DocTypeInvoice, inv.ID))
	history, err := svc.Invoices().History(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), history[2].ActorID)

	payments, err := svc.Payments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
}

func TestFullPaymentSettlesDirectly(t *testing.T) {
	svc, trail := newTestService(t)
	ctx := context.Background()
	c := newContract(t, svc)
	inv := approvedInvoice(t, svc, approvedValuation(t, svc, c.ID, "100").ID)

	inv, err := svc.RegisterPayment(ctx, contractManager, inv.ID, PaymentInput{Amount: inv.NetPayable})
	require.NoError(t, err)
	require.Equal(t, InvoicePaid, inv.Status)
	require.Equal(t, []workflow.Action{workflow.ActionSubmit, workflow.ActionApprove, workflow.ActionSettle}, trail.Actions(DocTypeInvoice, inv.ID))
}

func TestPaymentRequiresApprovedInvoice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := newContract(t, svc)
	v := approvedValuation(t, svc, c.ID, "30")
	inv, err := svc.CreateInvoice(ctx, surveyor, CreateInvoiceInput{ValuationID: v.ID})
	require.NoError(t, err)

	_, err = svc.RegisterPayment(ctx, contractManager, inv.ID, PaymentInput{Amount: d("10")})
	require.ErrorIs(t, err, ErrNotPayable)
	_, err = svc.RegisterPayment(ctx, contractManager, inv.ID, PaymentInput{Amount: d("0")})
	require.ErrorIs(t, err, ledger.ErrNegativeAmount)
}

type hookLocker struct {
	held  map[string]bool
	hooks map[string]func()
}

func (l *hookLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if hook, ok := l.hooks[key]; ok {
		delete(l.hooks, key)
		hook()
	}
	if l.held[key] {
		return nil, workflow.ErrLocked
	}
	l.held[key] = true
	return func() { delete(l.held, key) }, nil
}

func transitionCount(t *testing.T, registry *prometheus.Registry, docType workflow.DocType, action workflow.Action, outcome string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	want := map[string]string{"doc_type": string(docType), "action": string(action), "outcome": outcome}
	for _, mf := range families {
		if mf.GetName() != "wellhead_workflow_transitions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, label := range m.GetLabel() {
				if want[label.GetName()] == label.GetValue() {
					matched++
				}
			}
			if matched == len(want) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestConcurrentValuationApprovalRejectedByGuard(t *testing.T) {
	trail := audittest.New()
	registry := workflow.NewRegistry()
	require.NoError(t, registry.Register(ValuationDefinition()))
	require.NoError(t, registry.Register(InvoiceDefinition()))
	history := audit.NewTrail(trail)
	locker := &hookLocker{held: map[string]bool{}, hooks: map[string]func(){}}
	promRegistry := prometheus.NewRegistry()
	engine := workflow.NewEngine(registry, workflow.Options{History: history, Locker: locker, Metrics: workflow.NewMetrics(promRegistry)})
	svc := NewService(newMemoryRepo(trail), engine, history, Options{Locker: locker})
	ctx := context.Background()
	c := newContract(t, svc)

	a, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c.ID, AccumulatedPct: d("40")})
	require.NoError(t, err)
	b, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c.ID, AccumulatedPct: d("55")})
	require.NoError(t, err)
	for _, id := range []int64{a.ID, b.ID} {
		_, err = svc.Valuations().Transition(ctx, id, surveyor, workflow.ActionSubmit, "")
		require.NoError(t, err)
	}

	contractKey := workflow.LockKey(ContractLockType, c.ID)
	locker.hooks[workflow.LockKey(DocTypeValuation, b.ID)] = func() {
		_, err := svc.Valuations().Transition(ctx, a.ID, projectManager, workflow.ActionApprove, "")
		require.ErrorIs(t, err, workflow.ErrLocked)
	}
	approvedB, err := svc.Valuations().Transition(ctx, b.ID, projectManager, workflow.ActionApprove, "")
	require.NoError(t, err)
	require.Equal(t, ValuationApproved, approvedB.Status)
	require.False(t, locker.held[contractKey])

	c2 := newContract(t, svc)
	x, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c2.ID, AccumulatedPct: d("20")})
	require.NoError(t, err)
	y, err := svc.CreateValuation(ctx, surveyor, CreateValuationInput{ContractID: c2.ID, AccumulatedPct: d("35")})
	require.NoError(t, err)
	for _, id := range []int64{x.ID, y.ID} {
		_, err = svc.Valuations().Transition(ctx, id, surveyor, workflow.ActionSubmit, "")
		require.NoError(t, err)
	}
	locker.hooks[workflow.LockKey(ContractLockType, c2.ID)] = func() {
		_, err := svc.Valuations().Transition(ctx, x.ID, projectManager, workflow.ActionApprove, "")
		require.NoError(t, err)
	}
	_, err = svc.Valuations().Transition(ctx, y.ID, projectManager, workflow.ActionApprove, "")
	require.ErrorIs(t, err, ErrValuationStale)
	require.Equal(t, 1.0, transitionCount(t, promRegistry, DocTypeValuation, workflow.ActionApprove, "rejected"))
	require.Zero(t, transitionCount(t, promRegistry, DocTypeValuation, workflow.ActionApprove, "error"))
}
