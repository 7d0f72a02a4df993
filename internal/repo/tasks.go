package repo

import (
	"context"
	"database/sql"

	"reviewline/internal/domain"
)

const taskColumns = `id,project_id,title,description,status,created_by,assignee_id,deadline,submitted_at,proof_ref,created_at,updated_at`

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var description, deadline, submittedAt, proofRef sql.NullString
	var status string
	err := scan(&t.ID, &t.ProjectID, &t.Title, &description, &status, &t.CreatedBy, &t.AssigneeID,
		&deadline, &submittedAt, &proofRef, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.TaskStatus(status)
	if description.Valid {
		t.Description = description.String
	}
	if deadline.Valid {
		t.Deadline = &deadline.String
	}
	if submittedAt.Valid {
		t.SubmittedAt = &submittedAt.String
	}
	if proofRef.Valid {
		t.ProofRef = &proofRef.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), string(t.Status), t.CreatedBy, t.AssigneeID,
		nullableStringPtr(t.Deadline), nullableStringPtr(t.SubmittedAt), nullableStringPtr(t.ProofRef),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, assignee_id=?, deadline=?, submitted_at=?, proof_ref=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), string(t.Status), t.AssigneeID,
		nullableStringPtr(t.Deadline), nullableStringPtr(t.SubmittedAt), nullableStringPtr(t.ProofRef),
		t.UpdatedAt, t.ID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	ProjectID       string
	Status          string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + joinClauses(clauses) + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListPendingReview returns submitted tasks with no evaluation row: the
// evaluator work queue. Optionally scoped to one evaluator's projects.
func (r Repo) ListPendingReview(ctx context.Context, evaluatorID string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
WHERE status=? AND NOT EXISTS (SELECT 1 FROM evaluations e WHERE e.task_id=tasks.id)`
	args := []any{string(domain.TaskSubmitted)}
	if evaluatorID != "" {
		query += ` AND project_id IN (SELECT id FROM projects WHERE evaluator_id=?)`
		args = append(args, evaluatorID)
	}
	query += ` ORDER BY submitted_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
