// Package audittest provides an in-memory transition trail for tests.
package audittest

import (
	"context"
	"sort"
	"sync"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// Trail stores entries in memory and implements audit.Repository.
type Trail struct {
	mu      sync.Mutex
	entries []audit.Entry
	logs    []audit.Log
}

// New returns an empty Trail.
func New() *Trail { return &Trail{} }

// Append records a committed step.
func (t *Trail) Append(step workflow.Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := audit.EntryFromStep(step)
	entry.ID = int64(len(t.entries) + 1)
	t.entries = append(t.entries, entry)
}

// Record stores a non-transition log.
func (t *Trail) Record(_ context.Context, log audit.Log) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs = append(t.logs, log)
	return nil
}

// Entries returns a copy of all entries.
func (t *Trail) Entries() []audit.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]audit.Entry(nil), t.entries...)
}

// Logs returns a copy of all non-transition logs.
func (t *Trail) Logs() []audit.Log {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]audit.Log(nil), t.logs...)
}

// Actions lists the actions recorded for one document in order.
func (t *Trail) Actions(docType workflow.DocType, docID int64) []workflow.Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []workflow.Action
	for _, e := range t.entries {
		if e.DocType == docType && e.DocID == docID {
			out = append(out, e.Action)
		}
	}
	return out
}

// ListByDocument implements audit.Repository.
func (t *Trail) ListByDocument(_ context.Context, docType workflow.DocType, docID int64) ([]audit.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []audit.Entry
	for _, e := range t.entries {
		if e.DocType == docType && e.DocID == docID {
			out = append(out, e)
		}
	}
	return out, nil
}

// LastActor implements audit.Repository and workflow.HistoryReader.
func (t *Trail) LastActor(_ context.Context, docType workflow.DocType, docID int64, action workflow.Action) (int64, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.DocType == docType && e.DocID == docID && e.Action == action {
			return e.ActorID, true, nil
		}
	}
	return 0, false, nil
}

// TimelineWindow implements audit.Repository.
func (t *Trail) TimelineWindow(_ context.Context, filters audit.TimelineFilters, offset, limit int) ([]audit.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var matched []audit.Entry
	for _, e := range t.entries {
		if !filters.From.IsZero() && e.At.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && !e.At.Before(filters.To) {
			continue
		}
		if filters.DocType != "" && e.DocType != filters.DocType {
			continue
		}
		if filters.ActorID != 0 && e.ActorID != filters.ActorID {
			continue
		}
		if filters.Action != "" && e.Action != filters.Action {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].At.Equal(matched[j].At) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].At.After(matched[j].At)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}
