package crm

import (
	"context"
	"maps"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/audit/audittest"
	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

type memoryRepo struct {
	quotes map[int64]Quote
	nextID int64
	trail  *audittest.Trail
}

type memoryTx struct {
	quotes map[int64]Quote
	nextID *int64
	trail  *audittest.Trail
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := maps.Clone(r.quotes)
	next := r.nextID
	if err := fn(ctx, &memoryTx{quotes: work, nextID: &next, trail: r.trail}); err != nil {
		return err
	}
	r.quotes, r.nextID = work, next
	return nil
}

func (r *memoryRepo) GetQuote(ctx context.Context, id int64) (Quote, error) {
	q, ok := r.quotes[id]
	if !ok {
		return Quote{}, ErrNotFound
	}
	return q, nil
}

func (r *memoryRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	for id, q := range r.quotes {
		if q.Status == QuoteSent && q.Expired(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (tx *memoryTx) CreateQuote(ctx context.Context, q Quote) (int64, error) {
	*tx.nextID++
	q.ID = *tx.nextID
	tx.quotes[q.ID] = q
	return q.ID, nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line QuoteLine) error {
	*tx.nextID++
	line.ID = *tx.nextID
	q := tx.quotes[line.QuoteID]
	q.Lines = append(append([]QuoteLine(nil), q.Lines...), line)
	tx.quotes[line.QuoteID] = q
	return nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, from, to QuoteStatus) error {
	q, ok := tx.quotes[id]
	if !ok || q.Status != from {
		return workflow.ErrStaleState
	}
	q.Status = to
	tx.quotes[id] = q
	return nil
}

func (tx *memoryTx) InsertTransition(ctx context.Context, step workflow.Step) error {
	tx.trail.Append(step)
	return nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, log audit.Log) error {
	return tx.trail.Record(ctx, log)
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var sales = workflow.Actor{ID: 41}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*Service, *memoryRepo, *clock) {
	t.Helper()
	trail := audittest.New()
	registry := workflow.NewRegistry()
	require.NoError(t, registry.Register(Definition()))
	history := audit.NewTrail(trail)
	engine := workflow.NewEngine(registry, workflow.Options{History: history})
	repo := &memoryRepo{quotes: map[int64]Quote{}, trail: trail}
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewService(repo, engine, history, Options{Now: c.Now}), repo, c
}

func draft(t *testing.T, svc *Service, validUntil time.Time) Quote {
	t.Helper()
	q, err := svc.CreateDraft(context.Background(), sales, CreateQuoteInput{
		CustomerID: 5,
		ValidUntil: validUntil,
		Lines: []QuoteLineInput{
			{Description: "wireline logging", Qty: d("2"), Price: d("1000"), DiscountPct: d("5"), TaxPct: d("10")},
			{Description: "mobilisation", Qty: d("1"), Price: d("250")},
		},
	})
	require.NoError(t, err)
	return q
}

func TestCreateDraftTotals(t *testing.T) {
	svc, _, c := newTestService(t)
	q := draft(t, svc, c.now.Add(72*time.Hour))
	require.Equal(t, QuoteDraft, q.Status)
	require.True(t, q.Subtotal.Equal(d("2150")))
	require.True(t, q.Discount.Equal(d("100")))
	require.True(t, q.Tax.Equal(d("190")))
	require.True(t, q.Total.Equal(d("2340")))
	require.Len(t, q.Lines, 2)

	_, err := svc.CreateDraft(context.Background(), sales, CreateQuoteInput{CustomerID: 5, ValidUntil: c.now, Lines: []QuoteLineInput{{Description: "x", Qty: d("0"), Price: d("1")}}})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreateDraft(context.Background(), sales, CreateQuoteInput{CustomerID: 5, ValidUntil: c.now, Lines: []QuoteLineInput{{Description: "x", Qty: d("1"), Price: d("1"), TaxPct: d("120")}}})
	require.ErrorIs(t, err, ledger.ErrInvalidPercentage)
}

func TestSendAndAcceptWithinValidity(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()
	q := draft(t, svc, c.now.Add(48*time.Hour))

	q, err := svc.Transition(ctx, q.ID, sales, workflow.ActionSend, "")
	require.NoError(t, err)
	require.Equal(t, QuoteSent, q.Status)

	_, err = svc.Transition(ctx, q.ID, sales, workflow.ActionExpire, "")
	require.ErrorIs(t, err, workflow.ErrForbidden)

	c.now = c.now.Add(24 * time.Hour)
	q, err = svc.Transition(ctx, q.ID, sales, workflow.ActionAccept, "")
	require.NoError(t, err)
	require.Equal(t, QuoteAccepted, q.Status)

	_, err = svc.Transition(ctx, q.ID, sales, workflow.ActionReject, "changed mind")
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestSendRequiresFutureValidity(t *testing.T) {
	svc, _, c := newTestService(t)
	q := draft(t, svc, c.now.Add(-time.Minute))
	_, err := svc.Transition(context.Background(), q.ID, sales, workflow.ActionSend, "")
	require.ErrorIs(t, err, workflow.ErrGuardFailed)
	require.ErrorIs(t, err, ErrValidityElapsed)
}

func TestAcceptAfterValidityFails(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()
	q := draft(t, svc, c.now.Add(time.Hour))
	_, err := svc.Transition(ctx, q.ID, sales, workflow.ActionSend, "")
	require.NoError(t, err)

	c.now = c.now.Add(2 * time.Hour)
	_, err = svc.Transition(ctx, q.ID, sales, workflow.ActionAccept, "")
	require.ErrorIs(t, err, ErrValidityElapsed)
}

func TestExpireDue(t *testing.T) {
	svc, repo, c := newTestService(t)
	ctx := context.Background()
	short := draft(t, svc, c.now.Add(time.Hour))
	long := draft(t, svc, c.now.Add(240*time.Hour))
	for _, id := range []int64{short.ID, long.ID} {
		_, err := svc.Transition(ctx, id, sales, workflow.ActionSend, "")
		require.NoError(t, err)
	}

	_, err := svc.Transition(ctx, short.ID, workflow.SystemActor, workflow.ActionExpire, "")
	require.ErrorIs(t, err, ErrStillValid)

	c.now = c.now.Add(2 * time.Hour)
	n, err := svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, QuoteExpired, repo.quotes[short.ID].Status)
	require.Equal(t, QuoteSent, repo.quotes[long.ID].Status)

	entries, err := svc.History(ctx, short.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, workflow.ActionExpire, entries[1].Action)
}

func TestCancelRequiresReason(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()
	q := draft(t, svc, c.now.Add(time.Hour))

	_, err := svc.Transition(ctx, q.ID, sales, workflow.ActionCancel, "")
	require.ErrorIs(t, err, workflow.ErrReasonRequired)
	q, err = svc.Transition(ctx, q.ID, sales, workflow.ActionCancel, "duplicate")
	require.NoError(t, err)
	require.Equal(t, QuoteCancelled, q.Status)

	actions, err := svc.AvailableActions(ctx, q.ID, sales)
	require.NoError(t, err)
	require.Empty(t, actions)
}
