package repo

import (
	"context"
	"database/sql"

	"reviewline/internal/domain"
)

type HistoryFilters struct {
	TaskID      string
	PerformedBy string
	Limit       int
	Cursor      int64
}

func scanHistory(rows *sql.Rows) (domain.HistoryEntry, error) {
	var h domain.HistoryEntry
	var taskID, comments sql.NullString
	if err := rows.Scan(&h.ID, &taskID, &h.Action, &comments, &h.PerformedBy, &h.TS); err != nil {
		return h, err
	}
	if taskID.Valid {
		h.TaskID = &taskID.String
	}
	if comments.Valid {
		h.Comments = &comments.String
	}
	return h, nil
}

// TaskHistory returns a task's audit entries in append order.
func (r Repo) TaskHistory(ctx context.Context, taskID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,action,comments,performed_by,ts FROM history WHERE task_id=? ORDER BY ts ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// LatestHistory returns recent audit entries, newest first.
func (r Repo) LatestHistory(ctx context.Context, f HistoryFilters) ([]domain.HistoryEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.PerformedBy != "" {
		clauses = append(clauses, "performed_by=?")
		args = append(args, f.PerformedBy)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,task_id,action,comments,performed_by,ts FROM history ` + joinClauses(clauses) + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// HistoryAfter returns entries with IDs greater than the cursor in ascending
// order, for webhook delivery.
func (r Repo) HistoryAfter(ctx context.Context, limit int, cursor int64) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,action,comments,performed_by,ts FROM history WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// LatestHistoryID returns the highest history id, or 0 for an empty trail.
// Webhook cursors start here so hooks only see entries recorded after boot.
func (r Repo) LatestHistoryID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM history`)
	var id int64
	err := row.Scan(&id)
	return id, err
}

// CountTaskHistory is used by tests and the status summary.
func (r Repo) CountTaskHistory(ctx context.Context, taskID string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM history WHERE task_id=?`, taskID)
	var n int
	err := row.Scan(&n)
	return n, err
}
