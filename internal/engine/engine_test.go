package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reviewline/internal/config"
	"reviewline/internal/db"
	"reviewline/internal/domain"
	"reviewline/internal/engine"
	"reviewline/internal/engine/auth"
	"reviewline/internal/migrate"
	"reviewline/internal/repo"
)

type testEnv struct {
	Engine    engine.Engine
	Ctx       context.Context
	Admin     engine.Actor
	Evaluator engine.Actor
	Employee  engine.Actor
	Outsider  engine.Actor
	ProjectID string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	admin, err := eng.CreateUser(ctx, "Ada Admin", "ada@example.com", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	evaluator, err := eng.CreateUser(ctx, "Eve Evaluator", "eve@example.com", domain.RoleEvaluator)
	if err != nil {
		t.Fatalf("create evaluator: %v", err)
	}
	employee, err := eng.CreateUser(ctx, "Emil Employee", "emil@example.com", domain.RoleEmployee)
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	outsider, err := eng.CreateUser(ctx, "Otto Outsider", "otto@example.com", domain.RoleEmployee)
	if err != nil {
		t.Fatalf("create outsider: %v", err)
	}
	p, err := eng.CreateProject(ctx, "proj-1", "Pipeline", "", evaluator.ID)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := eng.AssignToProject(ctx, p.ID, employee.ID); err != nil {
		t.Fatalf("assign employee: %v", err)
	}
	return testEnv{
		Engine:    eng,
		Ctx:       ctx,
		Admin:     engine.Actor{UserID: admin.ID, Role: domain.RoleAdmin},
		Evaluator: engine.Actor{UserID: evaluator.ID, Role: domain.RoleEvaluator},
		Employee:  engine.Actor{UserID: employee.ID, Role: domain.RoleEmployee},
		Outsider:  engine.Actor{UserID: outsider.ID, Role: domain.RoleEmployee},
		ProjectID: p.ID,
	}
}

// createTask makes a todo task. Titles must differ within a test: with the
// fixed clock the deterministic id is a hash of (project, title, time).
func (env testEnv) createTask(t *testing.T, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  env.ProjectID,
		Title:      title,
		AssigneeID: env.Employee.UserID,
		Actor:      env.Evaluator,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

// submitTask walks a fresh task through the full employee path and returns
// it in submitted.
func (env testEnv) submitTask(t *testing.T, title string) domain.Task {
	t.Helper()
	task := env.createTask(t, title)
	for _, s := range []domain.TaskStatus{domain.TaskInProgress, domain.TaskDone} {
		var err error
		task, err = env.Engine.Transition(env.Ctx, task.ID, s, env.Employee)
		if err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	task, err := env.Engine.RecordSubmissionProof(env.Ctx, task.ID, "https://reports.example.com/q1.pdf", env.Employee)
	if err != nil {
		t.Fatalf("record proof: %v", err)
	}
	task, err = env.Engine.Transition(env.Ctx, task.ID, domain.TaskSubmitted, env.Employee)
	if err != nil {
		t.Fatalf("to submitted: %v", err)
	}
	return task
}

func TestEmployeeLifecyclePath(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Ship the report")
	if task.Status != domain.TaskTodo {
		t.Fatalf("new task status = %s, want todo", task.Status)
	}

	task, err := env.Engine.Transition(env.Ctx, task.ID, domain.TaskInProgress, env.Employee)
	if err != nil || task.Status != domain.TaskInProgress {
		t.Fatalf("to in_progress: %v (status %s)", err, task.Status)
	}
	task, err = env.Engine.Transition(env.Ctx, task.ID, domain.TaskDone, env.Employee)
	if err != nil || task.Status != domain.TaskDone {
		t.Fatalf("to done: %v (status %s)", err, task.Status)
	}

	// submission without a proof reference is blocked
	_, err = env.Engine.Transition(env.Ctx, task.ID, domain.TaskSubmitted, env.Employee)
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "proof_ref" {
		t.Fatalf("submit without proof: got %v, want proof_ref validation error", err)
	}

	task, err = env.Engine.RecordSubmissionProof(env.Ctx, task.ID, "commit:abc123", env.Employee)
	if err != nil {
		t.Fatalf("record proof: %v", err)
	}
	task, err = env.Engine.Transition(env.Ctx, task.ID, domain.TaskSubmitted, env.Employee)
	if err != nil || task.Status != domain.TaskSubmitted {
		t.Fatalf("to submitted: %v (status %s)", err, task.Status)
	}
	if task.SubmittedAt == nil || *task.SubmittedAt == "" {
		t.Fatalf("submitted task has no submitted_at")
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Ship the report")

	cases := []struct {
		to    domain.TaskStatus
		actor engine.Actor
	}{
		{domain.TaskDone, env.Employee},      // skipping in_progress
		{domain.TaskSubmitted, env.Employee}, // skipping the middle entirely
		{domain.TaskTodo, env.Employee},      // self-loop is not in the table
	}
	for _, tc := range cases {
		_, err := env.Engine.Transition(env.Ctx, task.ID, tc.to, tc.actor)
		var ite engine.InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("todo -> %s: got %v, want InvalidTransitionError", tc.to, err)
		}
	}

	_, err := env.Engine.Transition(env.Ctx, task.ID, "sideways", env.Employee)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("unknown status: got %v, want ValidationError", err)
	}
}

func TestEmployeeCannotResubmitAfterNeedsRevision(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")
	task, err := env.Engine.Transition(env.Ctx, task.ID, domain.TaskNeedsRevision, env.Evaluator)
	if err != nil || task.Status != domain.TaskNeedsRevision {
		t.Fatalf("to needs_revision: %v (status %s)", err, task.Status)
	}
	// The default table has no employee rule out of needs_revision; the rework
	// loop needs an evaluator or a config change.
	_, err = env.Engine.Transition(env.Ctx, task.ID, domain.TaskSubmitted, env.Employee)
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("needs_revision -> submitted by employee: got %v, want InvalidTransitionError", err)
	}
}

func TestEvaluatorTransitionsFromAnyStatus(t *testing.T) {
	env := newTestEnv(t)
	// Straight from todo; the wildcard origin permits it.
	task := env.createTask(t, "Ship the report")
	task, err := env.Engine.Transition(env.Ctx, task.ID, domain.TaskApproved, env.Evaluator)
	if err != nil || task.Status != domain.TaskApproved {
		t.Fatalf("todo -> approved by evaluator: %v (status %s)", err, task.Status)
	}
	// But employee statuses stay out of the evaluator's reach.
	_, err = env.Engine.Transition(env.Ctx, task.ID, domain.TaskInProgress, env.Evaluator)
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("evaluator to in_progress: got %v, want InvalidTransitionError", err)
	}
}

func TestTransitionAuthorization(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Ship the report")

	// a non-assignee employee is denied
	_, err := env.Engine.Transition(env.Ctx, task.ID, domain.TaskInProgress, env.Outsider)
	var ue auth.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("outsider transition: got %v, want UnauthorizedError", err)
	}
	// admin has no transition bypass
	_, err = env.Engine.Transition(env.Ctx, task.ID, domain.TaskInProgress, env.Admin)
	if !errors.As(err, &ue) {
		t.Fatalf("admin transition: got %v, want UnauthorizedError", err)
	}
	// the assignee is allowed
	if _, err := env.Engine.Transition(env.Ctx, task.ID, domain.TaskInProgress, env.Employee); err != nil {
		t.Fatalf("assignee transition: %v", err)
	}
}

func TestCreateTaskRequiresAssignment(t *testing.T) {
	env := newTestEnv(t)
	// Outsider employee exists but was never assigned to the project.
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  env.ProjectID,
		Title:      "Orphan work",
		AssigneeID: env.Outsider.UserID,
		Actor:      env.Evaluator,
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "assignee_id" {
		t.Fatalf("unassigned assignee: got %v, want assignee_id validation error", err)
	}
	// Evaluators cannot be assignees at all.
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  env.ProjectID,
		Title:      "Self review",
		AssigneeID: env.Evaluator.UserID,
		Actor:      env.Evaluator,
	})
	if !errors.As(err, &ve) || ve.Field != "assignee_id" {
		t.Fatalf("evaluator assignee: got %v, want assignee_id validation error", err)
	}
	// Employees cannot create tasks, even for themselves.
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  env.ProjectID,
		Title:      "Self serve",
		AssigneeID: env.Employee.UserID,
		Actor:      env.Employee,
	})
	var ue auth.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("employee create: got %v, want UnauthorizedError", err)
	}
}

func TestEvaluationDrivesTaskStatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")

	ev, err := env.Engine.CreateEvaluation(env.Ctx, task.ID, domain.EvalNeedsRevision, "tighten section 2", env.Evaluator)
	if err != nil {
		t.Fatalf("create evaluation: %v", err)
	}
	if ev.Status != domain.EvalNeedsRevision {
		t.Fatalf("evaluation status = %s", ev.Status)
	}
	task, err = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if task.Status != domain.TaskNeedsRevision {
		t.Fatalf("task status = %s, want needs_revision", task.Status)
	}

	// duplicate create conflicts
	_, err = env.Engine.CreateEvaluation(env.Ctx, task.ID, domain.EvalApproved, "", env.Evaluator)
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("second create: got %v, want ConflictError", err)
	}

	// re-review via update moves the task again
	ev, err = env.Engine.UpdateEvaluation(env.Ctx, task.ID, domain.EvalApproved, "good now", env.Evaluator)
	if err != nil || ev.Status != domain.EvalApproved {
		t.Fatalf("update evaluation: %v", err)
	}
	task, _ = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if task.Status != domain.TaskApproved {
		t.Fatalf("task status after update = %s, want approved", task.Status)
	}

	// pending maps back to submitted
	ev, err = env.Engine.UpdateEvaluation(env.Ctx, task.ID, domain.EvalPending, "", env.Evaluator)
	if err != nil || ev.Status != domain.EvalPending {
		t.Fatalf("pending update: %v", err)
	}
	task, _ = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if task.Status != domain.TaskSubmitted {
		t.Fatalf("task status after pending = %s, want submitted", task.Status)
	}
}

func TestUpsertEvaluation(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")

	first, err := env.Engine.UpsertEvaluation(env.Ctx, task.ID, domain.EvalRejected, "off scope", env.Evaluator)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := env.Engine.UpsertEvaluation(env.Ctx, task.ID, domain.EvalApproved, "", env.Evaluator)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("upsert created a second evaluation row")
	}
	task, _ = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if task.Status != domain.TaskApproved {
		t.Fatalf("task status = %s, want approved", task.Status)
	}
}

func TestEvaluationReadBack(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")

	if _, err := env.Engine.CreateEvaluation(env.Ctx, task.ID, domain.EvalApproved, "good work", env.Evaluator); err != nil {
		t.Fatalf("create evaluation: %v", err)
	}
	ev, err := env.Engine.GetEvaluation(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get evaluation: %v", err)
	}
	if ev.Status != domain.EvalApproved {
		t.Fatalf("status = %s, want approved", ev.Status)
	}
	if ev.Comments != "good work" {
		t.Fatalf("comments = %q, want %q", ev.Comments, "good work")
	}
	if ev.EvaluatorID != env.Evaluator.UserID {
		t.Fatalf("evaluator = %s, want %s", ev.EvaluatorID, env.Evaluator.UserID)
	}
}

func TestEvaluationAuthorization(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")

	var ue auth.UnauthorizedError
	_, err := env.Engine.CreateEvaluation(env.Ctx, task.ID, domain.EvalApproved, "", env.Employee)
	if !errors.As(err, &ue) {
		t.Fatalf("employee evaluate: got %v, want UnauthorizedError", err)
	}
	_, err = env.Engine.CreateEvaluation(env.Ctx, task.ID, domain.EvalApproved, "", env.Admin)
	if !errors.As(err, &ue) {
		t.Fatalf("admin evaluate: got %v, want UnauthorizedError", err)
	}
	// an evaluator who does not own the project is denied too
	other, err := env.Engine.CreateUser(env.Ctx, "Nora", "nora@example.com", domain.RoleEvaluator)
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateEvaluation(env.Ctx, task.ID, domain.EvalApproved, "", engine.Actor{UserID: other.ID, Role: domain.RoleEvaluator})
	if !errors.As(err, &ue) {
		t.Fatalf("non-owner evaluator: got %v, want UnauthorizedError", err)
	}
}

func TestDeleteEvaluationKeepsTaskStatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")
	if _, err := env.Engine.UpsertEvaluation(env.Ctx, task.ID, domain.EvalApproved, "", env.Evaluator); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteEvaluation(env.Ctx, task.ID, env.Evaluator); err != nil {
		t.Fatalf("delete evaluation: %v", err)
	}
	task, _ = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if task.Status != domain.TaskApproved {
		t.Fatalf("task status after delete = %s, want approved (no reversion)", task.Status)
	}
	if _, err := env.Engine.GetEvaluation(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("evaluation still present: %v", err)
	}
}

func TestDeleteEvaluationAuthorization(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")
	if _, err := env.Engine.UpsertEvaluation(env.Ctx, task.ID, domain.EvalApproved, "", env.Evaluator); err != nil {
		t.Fatal(err)
	}

	var ue auth.UnauthorizedError
	for _, actor := range []engine.Actor{env.Employee, env.Admin, env.Outsider} {
		if err := env.Engine.DeleteEvaluation(env.Ctx, task.ID, actor); !errors.As(err, &ue) {
			t.Fatalf("delete as %s %s: got %v, want UnauthorizedError", actor.Role, actor.UserID, err)
		}
	}
	// nothing was removed
	if _, err := env.Engine.GetEvaluation(env.Ctx, task.ID); err != nil {
		t.Fatalf("evaluation gone after denied deletes: %v", err)
	}
}

func TestDeleteMissingEvaluation(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")
	before, err := env.Engine.Repo.CountTaskHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteEvaluation(env.Ctx, task.ID, env.Evaluator); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("delete missing evaluation: got %v, want ErrNotFound", err)
	}
	after, err := env.Engine.Repo.CountTaskHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Fatalf("failed delete wrote history: %d -> %d", before, after)
	}
}

func TestPendingEvaluationQueue(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")

	queue, err := env.Engine.ListPendingEvaluations(env.Ctx, env.Evaluator.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 || queue[0].ID != task.ID {
		t.Fatalf("queue = %v, want the submitted task", queue)
	}

	if _, err := env.Engine.UpsertEvaluation(env.Ctx, task.ID, domain.EvalApproved, "", env.Evaluator); err != nil {
		t.Fatal(err)
	}
	queue, err = env.Engine.ListPendingEvaluations(env.Ctx, env.Evaluator.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 0 {
		t.Fatalf("queue after evaluation = %d entries, want 0", len(queue))
	}
}

func TestEvaluationHistoryListing(t *testing.T) {
	env := newTestEnv(t)
	first := env.submitTask(t, "Quarterly report")
	second := env.submitTask(t, "Annual report")
	if _, err := env.Engine.UpsertEvaluation(env.Ctx, first.ID, domain.EvalApproved, "", env.Evaluator); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpsertEvaluation(env.Ctx, second.ID, domain.EvalRejected, "duplicate", env.Evaluator); err != nil {
		t.Fatal(err)
	}
	items, err := env.Engine.ListEvaluationHistory(env.Ctx, env.Evaluator.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("history = %d entries, want 2", len(items))
	}
	for _, item := range items {
		if item.TaskTitle == "" {
			t.Fatalf("history entry missing task title: %+v", item)
		}
	}
}

func TestTaskHistoryTrail(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")
	if _, err := env.Engine.UpsertEvaluation(env.Ctx, task.ID, domain.EvalNeedsRevision, "redo intro", env.Evaluator); err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.Repo.TaskHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"Task created",
		"todo to in_progress",
		"in_progress to done",
		"Proof recorded",
		"done to submitted",
		"Evaluation set to needs_revision",
	}
	if len(entries) != len(want) {
		t.Fatalf("history length = %d, want %d: %+v", len(entries), len(want), entries)
	}
	for i, entry := range entries {
		if entry.Action != want[i] {
			t.Fatalf("entry %d action = %q, want %q", i, entry.Action, want[i])
		}
	}
}

func TestUpdateTaskFields(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Ship the report")

	newTitle := "Ship the final report"
	updated, err := env.Engine.UpdateTaskFields(env.Ctx, engine.TaskUpdateOptions{
		ID:    task.ID,
		Title: &newTitle,
		Actor: env.Admin, // blanket admin bypass applies here
	})
	if err != nil || updated.Title != newTitle {
		t.Fatalf("admin update: %v", err)
	}
	if updated.Status != task.Status {
		t.Fatalf("field update changed status: %s", updated.Status)
	}

	// reassignment re-runs the membership check
	_, err = env.Engine.UpdateTaskFields(env.Ctx, engine.TaskUpdateOptions{
		ID:         task.ID,
		AssigneeID: &env.Outsider.UserID,
		Actor:      env.Evaluator,
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "assignee_id" {
		t.Fatalf("reassign to outsider: got %v, want assignee_id validation error", err)
	}

	// employees cannot manage tasks
	_, err = env.Engine.UpdateTaskFields(env.Ctx, engine.TaskUpdateOptions{
		ID:    task.ID,
		Title: &newTitle,
		Actor: env.Employee,
	})
	var ue auth.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("employee update: got %v, want UnauthorizedError", err)
	}
}

func TestDeleteTaskLeavesHistory(t *testing.T) {
	env := newTestEnv(t)
	task := env.submitTask(t, "Ship the report")
	if _, err := env.Engine.UpsertEvaluation(env.Ctx, task.ID, domain.EvalApproved, "", env.Evaluator); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, env.Admin); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task still present: %v", err)
	}
	if _, err := env.Engine.Repo.GetEvaluationByTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("evaluation still present: %v", err)
	}
	entries, err := env.Engine.Repo.TaskHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatalf("history did not survive task deletion")
	}
	last := entries[len(entries)-1]
	if last.Action != "Task deleted" {
		t.Fatalf("last action = %q, want Task deleted", last.Action)
	}
}

func TestDeleteTaskAuthorization(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Ship the report")
	var ue auth.UnauthorizedError
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, env.Employee); !errors.As(err, &ue) {
		t.Fatalf("employee delete: got %v, want UnauthorizedError", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, env.Evaluator); err != nil {
		t.Fatalf("owning evaluator delete: %v", err)
	}
}
