package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reviewline/internal/domain"
	"reviewline/internal/engine/auth"
	"reviewline/internal/repo"
)

// Evaluation coordination. Evaluators act through this path; it bypasses the
// lifecycle role table but reuses the task status vocabulary via the derive
// mapping. Creating or updating an evaluation always forces the mapped task
// status, in the same transaction as the evaluation write.

// GetEvaluation returns the task's evaluation, or repo.ErrNotFound.
func (e Engine) GetEvaluation(ctx context.Context, taskID string) (domain.Evaluation, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return domain.Evaluation{}, err
	}
	return e.Repo.GetEvaluationByTask(ctx, taskID)
}

// CreateEvaluation inserts the one evaluation a task may have and applies
// the derived task status. Fails with ConflictError when one already exists.
func (e Engine) CreateEvaluation(ctx context.Context, taskID string, status domain.EvalStatus, comments string, actor Actor) (domain.Evaluation, error) {
	t, _, err := e.evaluationTarget(ctx, taskID, actor)
	if err != nil {
		return domain.Evaluation{}, err
	}
	if _, err := e.Repo.GetEvaluationByTask(ctx, taskID); err == nil {
		return domain.Evaluation{}, ConflictError{Reason: "task " + taskID + " already has an evaluation"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Evaluation{}, err
	}
	ev := domain.Evaluation{
		ID:          uuid.New().String(),
		TaskID:      t.ID,
		EvaluatorID: actor.UserID,
		Status:      status,
		Comments:    comments,
		EvaluatedAt: e.now().UTC().Format(time.RFC3339),
	}
	action := fmt.Sprintf("Evaluation set to %s", status)
	if err := e.applyEvaluation(ctx, t, ev, action, false, actor); err != nil {
		return domain.Evaluation{}, err
	}
	return ev, nil
}

// UpdateEvaluation re-reviews: mutates the existing evaluation and re-applies
// the derived task status. Fails with repo.ErrNotFound when none exists.
func (e Engine) UpdateEvaluation(ctx context.Context, taskID string, status domain.EvalStatus, comments string, actor Actor) (domain.Evaluation, error) {
	t, _, err := e.evaluationTarget(ctx, taskID, actor)
	if err != nil {
		return domain.Evaluation{}, err
	}
	ev, err := e.Repo.GetEvaluationByTask(ctx, taskID)
	if err != nil {
		return domain.Evaluation{}, err
	}
	ev.EvaluatorID = actor.UserID
	ev.Status = status
	ev.Comments = comments
	ev.EvaluatedAt = e.now().UTC().Format(time.RFC3339)
	action := fmt.Sprintf("Evaluation updated to %s", status)
	if err := e.applyEvaluation(ctx, t, ev, action, true, actor); err != nil {
		return domain.Evaluation{}, err
	}
	return ev, nil
}

// UpsertEvaluation creates the task's evaluation, or updates it when one is
// already there.
func (e Engine) UpsertEvaluation(ctx context.Context, taskID string, status domain.EvalStatus, comments string, actor Actor) (domain.Evaluation, error) {
	ev, err := e.CreateEvaluation(ctx, taskID, status, comments, actor)
	var conflict ConflictError
	if errors.As(err, &conflict) {
		return e.UpdateEvaluation(ctx, taskID, status, comments, actor)
	}
	return ev, err
}

// DeleteEvaluation removes the evaluation row and records the deletion. Only
// the project's evaluator may delete. The task keeps whatever status the
// evaluation last forced; deletion is not a reversal.
func (e Engine) DeleteEvaluation(ctx context.Context, taskID string, actor Actor) error {
	t, _, err := e.evaluationTarget(ctx, taskID, actor)
	if err != nil {
		return err
	}
	if _, err := e.Repo.GetEvaluationByTask(ctx, taskID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteEvaluation(ctx, tx, t.ID); err != nil {
		return err
	}
	if err := e.History.Append(ctx, tx, &t.ID, "Evaluation deleted", nil, actor.UserID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListPendingEvaluations returns the evaluator work queue: submitted tasks
// with no evaluation row. Any evaluation write moves the task off submitted
// or attaches a row, so the queue never shows an evaluated task.
func (e Engine) ListPendingEvaluations(ctx context.Context, evaluatorID string) ([]domain.Task, error) {
	return e.Repo.ListPendingReview(ctx, evaluatorID)
}

// ListEvaluationHistory returns all evaluations authored by the evaluator,
// newest first, with the parent task's display fields.
func (e Engine) ListEvaluationHistory(ctx context.Context, evaluatorID string) ([]domain.EvaluationHistoryEntry, error) {
	return e.Repo.ListEvaluationsByEvaluator(ctx, evaluatorID)
}

func (e Engine) evaluationTarget(ctx context.Context, taskID string, actor Actor) (domain.Task, domain.Project, error) {
	if e.Config == nil {
		return domain.Task{}, domain.Project{}, errors.New("config not loaded")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, domain.Project{}, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return t, p, err
	}
	if err := auth.CanEvaluate(actor.Role, actor.UserID, p); err != nil {
		return t, p, err
	}
	return t, p, nil
}

// applyEvaluation writes the evaluation row, forces the derived task status
// and appends the audit entry as one atomic unit.
func (e Engine) applyEvaluation(ctx context.Context, t domain.Task, ev domain.Evaluation, action string, update bool, actor Actor) error {
	if !domain.ValidEvalStatus(ev.Status) {
		return ValidationError{Field: "status", Reason: "unknown evaluation status " + string(ev.Status)}
	}
	derived, err := deriveTaskStatus(e.Config, ev.Status)
	if err != nil {
		return err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	t.Status = derived
	t.UpdatedAt = nowStr

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	write := e.Repo.InsertEvaluation
	if update {
		write = e.Repo.UpdateEvaluation
	}
	if err := write(ctx, tx, ev); err != nil {
		return err
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return err
	}
	var comments *string
	if ev.Comments != "" {
		comments = &ev.Comments
	}
	if err := e.History.Append(ctx, tx, &t.ID, action, comments, actor.UserID); err != nil {
		return err
	}
	return tx.Commit()
}
