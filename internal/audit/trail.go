package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// ErrRepositoryMissing is returned when the trail has no storage configured.
var ErrRepositoryMissing = errors.New("audit: repository not configured")

// Entry is one committed transition as stored in workflow_transitions.
type Entry struct {
	ID      int64            `json:"id"`
	RefID   uuid.UUID        `json:"ref_id"`
	DocType workflow.DocType `json:"doc_type"`
	DocID   int64            `json:"doc_id"`
	Number  string           `json:"number,omitempty"`
	Action  workflow.Action  `json:"action"`
	From    workflow.State   `json:"from"`
	To      workflow.State   `json:"to"`
	ActorID int64            `json:"actor_id"`
	Reason  string           `json:"reason,omitempty"`
	Meta    map[string]any   `json:"meta,omitempty"`
	At      time.Time        `json:"at"`
}

// EntryFromStep converts a committed step into a trail entry.
func EntryFromStep(step workflow.Step) Entry {
	return Entry{
		RefID:   RefID(step.DocType, step.DocID),
		DocType: step.DocType,
		DocID:   step.DocID,
		Number:  step.Number,
		Action:  step.Action,
		From:    step.From,
		To:      step.To,
		ActorID: step.ActorID,
		Reason:  step.Reason,
		Meta:    step.Meta,
		At:      step.At,
	}
}

// RefID derives the stable reference of a document across modules.
func RefID(docType workflow.DocType, docID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", docType, docID)))
}

// Repository reads the transition trail.
type Repository interface {
	ListByDocument(ctx context.Context, docType workflow.DocType, docID int64) ([]Entry, error)
	LastActor(ctx context.Context, docType workflow.DocType, docID int64, action workflow.Action) (int64, bool, error)
	TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error)
}

// Trail answers history questions about governed documents.
type Trail struct {
	repo Repository
}

// NewTrail constructs a Trail.
func NewTrail(repo Repository) *Trail {
	return &Trail{repo: repo}
}

// History returns the transitions of one document, oldest first.
func (t *Trail) History(ctx context.Context, docType workflow.DocType, docID int64) ([]Entry, error) {
	if t == nil || t.repo == nil {
		return nil, ErrRepositoryMissing
	}
	return t.repo.ListByDocument(ctx, docType, docID)
}

// LastActor implements workflow.HistoryReader.
func (t *Trail) LastActor(ctx context.Context, docType workflow.DocType, docID int64, action workflow.Action) (int64, bool, error) {
	if t == nil || t.repo == nil {
		return 0, false, ErrRepositoryMissing
	}
	return t.repo.LastActor(ctx, docType, docID, action)
}

// Timeline mengambil data transisi dengan paging.
func (t *Trail) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if t == nil || t.repo == nil {
		return Result{}, ErrRepositoryMissing
	}
	page, size := normalisePaging(filters)
	rows, err := t.repo.TimelineWindow(ctx, filters, (page-1)*size, size+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > size
	if hasNext {
		rows = rows[:size]
	}
	paging := PagingInfo{Page: page, PageSize: size, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []Entry{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}
