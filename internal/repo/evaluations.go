package repo

import (
	"context"
	"database/sql"

	"reviewline/internal/domain"
)

func (r Repo) InsertEvaluation(ctx context.Context, tx *sql.Tx, e domain.Evaluation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO evaluations(id,task_id,evaluator_id,status,comments,evaluated_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.TaskID, e.EvaluatorID, string(e.Status), nullable(e.Comments), e.EvaluatedAt)
	return err
}

func (r Repo) UpdateEvaluation(ctx context.Context, tx *sql.Tx, e domain.Evaluation) error {
	res, err := tx.ExecContext(ctx, `UPDATE evaluations SET evaluator_id=?, status=?, comments=?, evaluated_at=? WHERE task_id=?`,
		e.EvaluatorID, string(e.Status), nullable(e.Comments), e.EvaluatedAt, e.TaskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetEvaluationByTask(ctx context.Context, taskID string) (domain.Evaluation, error) {
	var e domain.Evaluation
	var comments sql.NullString
	var status string
	err := r.DB.QueryRowContext(ctx, `SELECT id,task_id,evaluator_id,status,comments,evaluated_at FROM evaluations WHERE task_id=?`, taskID).
		Scan(&e.ID, &e.TaskID, &e.EvaluatorID, &status, &comments, &e.EvaluatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Status = domain.EvalStatus(status)
	if comments.Valid {
		e.Comments = comments.String
	}
	return e, nil
}

func (r Repo) DeleteEvaluation(ctx context.Context, tx *sql.Tx, taskID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM evaluations WHERE task_id=?`, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEvaluationsByEvaluator returns the evaluator's review history, newest
// first, each row joined with the parent task's display fields.
func (r Repo) ListEvaluationsByEvaluator(ctx context.Context, evaluatorID string) ([]domain.EvaluationHistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT e.id,e.task_id,e.evaluator_id,e.status,e.comments,e.evaluated_at,t.title,COALESCE(t.description,'')
FROM evaluations e JOIN tasks t ON t.id=e.task_id
WHERE e.evaluator_id=?
ORDER BY e.evaluated_at DESC, e.id DESC`, evaluatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EvaluationHistoryEntry
	for rows.Next() {
		var h domain.EvaluationHistoryEntry
		var comments sql.NullString
		var status string
		if err := rows.Scan(&h.ID, &h.TaskID, &h.EvaluatorID, &status, &comments, &h.EvaluatedAt, &h.TaskTitle, &h.TaskDescription); err != nil {
			return nil, err
		}
		h.Status = domain.EvalStatus(status)
		if comments.Valid {
			h.Comments = comments.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
