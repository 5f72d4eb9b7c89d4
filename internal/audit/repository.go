package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// Executor is satisfied by pgx.Tx and *pgxpool.Pool.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertTransitionSQL = `INSERT INTO workflow_transitions
(ref_id, doc_type, doc_id, doc_number, action, from_state, to_state, actor_id, reason, meta, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// InsertTransition appends the trail row of a committed step. Callers pass the
// transaction that changed the document status.
func InsertTransition(ctx context.Context, exec Executor, step workflow.Step) error {
	if exec == nil {
		return errors.New("audit: executor required")
	}
	entry := EntryFromStep(step)
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	_, err = exec.Exec(ctx, insertTransitionSQL,
		entry.RefID, string(entry.DocType), entry.DocID, entry.Number, string(entry.Action),
		string(entry.From), string(entry.To), entry.ActorID, entry.Reason, meta, entry.At)
	if err != nil {
		return fmt.Errorf("audit: insert transition: %w", err)
	}
	return nil
}

// PgRepository reads workflow_transitions with pgx.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const selectEntryColumns = `SELECT id, ref_id, doc_type, doc_id, doc_number, action, from_state, to_state, actor_id, reason, meta, at FROM workflow_transitions`

// ListByDocument returns the trail of one document ordered by time.
func (r *PgRepository) ListByDocument(ctx context.Context, docType workflow.DocType, docID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, selectEntryColumns+` WHERE doc_type=$1 AND doc_id=$2 ORDER BY at ASC, id ASC`, string(docType), docID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// LastActor returns the actor of the latest action on a document.
func (r *PgRepository) LastActor(ctx context.Context, docType workflow.DocType, docID int64, action workflow.Action) (int64, bool, error) {
	var actorID int64
	err := r.pool.QueryRow(ctx, `SELECT actor_id FROM workflow_transitions
WHERE doc_type=$1 AND doc_id=$2 AND action=$3 ORDER BY at DESC, id DESC LIMIT 1`, string(docType), docID, string(action)).Scan(&actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return actorID, true, nil
}

// TimelineWindow returns a filtered page, newest first.
func (r *PgRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !filters.From.IsZero() {
		add("at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("at < $%d", filters.To)
	}
	if filters.DocType != "" {
		add("doc_type = $%d", string(filters.DocType))
	}
	if filters.ActorID != 0 {
		add("actor_id = $%d", filters.ActorID)
	}
	if filters.Action != "" {
		add("action = $%d", string(filters.Action))
	}
	query := selectEntryColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e                         Entry
			docType, action, from, to string
			meta                      []byte
		)
		if err := rows.Scan(&e.ID, &e.RefID, &docType, &e.DocID, &e.Number, &action, &from, &to, &e.ActorID, &e.Reason, &meta, &e.At); err != nil {
			return nil, err
		}
		e.DocType = workflow.DocType(docType)
		e.Action = workflow.Action(action)
		e.From = workflow.State(from)
		e.To = workflow.State(to)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
