package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/audit/audittest"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

func seedTrail(t *testing.T, n int) *audittest.Trail {
	t.Helper()
	store := audittest.New()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		store.Append(workflow.Step{
			DocType: "PO",
			DocID:   int64(i%2 + 1),
			Action:  workflow.ActionSubmit,
			From:    "DRAFT",
			To:      "SUBMITTED",
			ActorID: int64(10 + i),
			At:      base.Add(time.Duration(i) * time.Hour),
		})
	}
	return store
}

func TestTimelinePaging(t *testing.T) {
	trail := audit.NewTrail(seedTrail(t, 5))

	result, err := trail.Timeline(context.Background(), audit.TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, int64(14), result.Rows[0].ActorID)

	result, err = trail.Timeline(context.Background(), audit.TimelineFilters{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.PrevPage)
}

func TestTimelineClampsPageSize(t *testing.T) {
	trail := audit.NewTrail(seedTrail(t, 3))
	result, err := trail.Timeline(context.Background(), audit.TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 50, result.Paging.PageSize)
	require.Equal(t, 1, result.Paging.Page)

	result, err = trail.Timeline(context.Background(), audit.TimelineFilters{})
	require.NoError(t, err)
	require.Equal(t, 20, result.Paging.PageSize)
	require.Len(t, result.Rows, 3)
}

func TestHistoryAndLastActor(t *testing.T) {
	store := seedTrail(t, 4)
	trail := audit.NewTrail(store)

	history, err := trail.History(context.Background(), "PO", 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, audit.RefID("PO", 1), history[0].RefID)

	actor, found, err := trail.LastActor(context.Background(), "PO", 2, workflow.ActionSubmit)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(13), actor)

	_, found, err = trail.LastActor(context.Background(), "PO", 2, workflow.ActionApprove)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTrailWithoutRepository(t *testing.T) {
	var trail *audit.Trail
	_, err := trail.History(context.Background(), "PO", 1)
	require.ErrorIs(t, err, audit.ErrRepositoryMissing)
}

func TestRefIDDeterministic(t *testing.T) {
	require.Equal(t, audit.RefID("AFE", 7), audit.RefID("AFE", 7))
	require.NotEqual(t, audit.RefID("AFE", 7), audit.RefID("PO", 7))
}

type recordingChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (c *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange = exchange
	c.key = key
	c.msg = msg
	return c.err
}

func TestPublisherNotify(t *testing.T) {
	ch := &recordingChannel{}
	pub := audit.NewPublisher(ch, "wellhead.workflow", language.English, nil)
	step := workflow.Step{
		DocType: "PO",
		DocID:   3,
		Number:  "PO-0003",
		Action:  workflow.ActionApprove,
		From:    "SUBMITTED",
		To:      "APPROVED",
		ActorID: 42,
		At:      time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		Meta:    map[string]any{"amount": decimal.RequireFromString("12500"), "currency": "USD"},
	}
	require.NoError(t, pub.Notify(context.Background(), step))
	require.Equal(t, "wellhead.workflow", ch.exchange)
	require.Equal(t, "po.approve", ch.key)
	require.Equal(t, "application/json", ch.msg.ContentType)
	var published audit.TransitionMessage
	require.NoError(t, json.Unmarshal(ch.msg.Body, &published))
	require.Equal(t, "PO PO-0003: SUBMITTED -> APPROVED by actor 42, amount 12,500.00 USD", published.Note)
	require.Equal(t, audit.RefID("PO", 3).String(), published.RefID)

	ch.err = errors.New("channel closed")
	require.Error(t, pub.Notify(context.Background(), step))
}

func TestFormatNoteSystemActor(t *testing.T) {
	note := audit.FormatNote(nil, workflow.Step{DocType: "QUOTE", DocID: 9, From: "SENT", To: "EXPIRED", Reason: "validity elapsed"})
	require.Equal(t, "QUOTE #9: SENT -> EXPIRED by system (validity elapsed)", note)
}

func TestFormatNoteKeepsActorIDUngrouped(t *testing.T) {
	step := workflow.Step{DocType: "AFE", Number: "AFE-7", From: "SUBMITTED", To: "APPROVED", ActorID: 1234567, Meta: map[string]any{"amount": "1234.5"}}
	note := audit.FormatNote(nil, step)
	require.Equal(t, "AFE AFE-7: SUBMITTED -> APPROVED by actor 1234567, amount 1,234.50", note)
}
