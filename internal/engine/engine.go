package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reviewline/internal/config"
	"reviewline/internal/domain"
	"reviewline/internal/engine/auth"
	"reviewline/internal/history"
	"reviewline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	History history.Writer
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		History: history.Writer{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Actor is the already-authenticated principal acting on the engine. The
// engine trusts the pair; verifying it is the transport layer's problem.
type Actor struct {
	UserID string
	Role   domain.Role
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	AssigneeID  string
	Deadline    string
	Actor       Actor
}

// CreateTask creates a task for an employee already assigned to the project.
// The assignment check happens here, once; transitions never re-check it.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "required"}
	}
	if opts.ProjectID == "" {
		return domain.Task{}, ValidationError{Field: "project_id", Reason: "required"}
	}
	if opts.AssigneeID == "" {
		return domain.Task{}, ValidationError{Field: "assignee_id", Reason: "required"}
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.CanCreateTask(opts.Actor.Role, opts.Actor.UserID, p); err != nil {
		return domain.Task{}, err
	}
	assignee, err := e.Repo.GetUser(ctx, opts.AssigneeID)
	if err != nil {
		return domain.Task{}, err
	}
	if assignee.Role != domain.RoleEmployee {
		return domain.Task{}, ValidationError{Field: "assignee_id", Reason: "assignee must have role employee"}
	}
	member, err := e.Repo.IsProjectMember(ctx, p.ID, assignee.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if !member {
		return domain.Task{}, ValidationError{Field: "assignee_id", Reason: "assignee is not a member of project " + p.ID}
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.ID+"|"+opts.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:          id,
		ProjectID:   p.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.TaskTodo,
		CreatedBy:   opts.Actor.UserID,
		AssigneeID:  assignee.ID,
		Deadline:    optionalString(opts.Deadline),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.History.Append(ctx, tx, &t.ID, "Task created", nil, opts.Actor.UserID); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Transition drives one step of the task lifecycle state machine. Legality
// is decided purely on (current status, requested status, role) against the
// configured table.
func (e Engine) Transition(ctx context.Context, taskID string, requested domain.TaskStatus, actor Actor) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if !domain.ValidTaskStatus(requested) {
		return domain.Task{}, ValidationError{Field: "status", Reason: "unknown task status " + string(requested)}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return t, err
	}
	if err := auth.CanTransition(actor.Role, actor.UserID, t, p); err != nil {
		return t, err
	}
	rule, ok := findTransition(e.Config.RulesFor(actor.Role), t.Status, requested)
	if !ok {
		return t, InvalidTransitionError{From: t.Status, To: requested, Role: actor.Role}
	}
	if rule.RequiresProof && (t.ProofRef == nil || *t.ProofRef == "") {
		return t, ValidationError{Field: "proof_ref", Reason: "a proof reference must be recorded before submission"}
	}
	old := t.Status
	nowStr := e.now().UTC().Format(time.RFC3339)
	t.Status = requested
	t.UpdatedAt = nowStr
	if requested == domain.TaskSubmitted {
		t.SubmittedAt = &nowStr
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	action := fmt.Sprintf("%s to %s", old, t.Status)
	if err := e.History.Append(ctx, tx, &t.ID, action, nil, actor.UserID); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// RecordSubmissionProof stores the opaque reference returned by the proof
// storage collaborator. The employee calls this before done -> submitted.
func (e Engine) RecordSubmissionProof(ctx context.Context, taskID, proofRef string, actor Actor) (domain.Task, error) {
	if proofRef == "" {
		return domain.Task{}, ValidationError{Field: "proof_ref", Reason: "required"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	t.ProofRef = &proofRef
	t.UpdatedAt = nowStr
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.History.Append(ctx, tx, &t.ID, "Proof recorded", &proofRef, actor.UserID); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed field updates. Nil means unchanged.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	AssigneeID  *string
	Deadline    *string
	Actor       Actor
}

// UpdateTaskFields mutates non-lifecycle task fields. This is the path with
// the admin bypass; status never changes here.
func (e Engine) UpdateTaskFields(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return t, err
	}
	if err := auth.CanManageTask(opts.Actor.Role, opts.Actor.UserID, t, p); err != nil {
		return t, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return t, ValidationError{Field: "title", Reason: "required"}
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Deadline != nil {
		t.Deadline = optionalString(*opts.Deadline)
	}
	if opts.AssigneeID != nil && *opts.AssigneeID != t.AssigneeID {
		assignee, err := e.Repo.GetUser(ctx, *opts.AssigneeID)
		if err != nil {
			return t, err
		}
		if assignee.Role != domain.RoleEmployee {
			return t, ValidationError{Field: "assignee_id", Reason: "assignee must have role employee"}
		}
		member, err := e.Repo.IsProjectMember(ctx, p.ID, assignee.ID)
		if err != nil {
			return t, err
		}
		if !member {
			return t, ValidationError{Field: "assignee_id", Reason: "assignee is not a member of project " + p.ID}
		}
		t.AssigneeID = assignee.ID
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.History.Append(ctx, tx, &t.ID, "Task updated", nil, opts.Actor.UserID); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// DeleteTask removes the task row. The history append happens first, in the
// same transaction; the entry survives with a detached task id.
func (e Engine) DeleteTask(ctx context.Context, taskID string, actor Actor) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return err
	}
	if err := auth.CanManageTask(actor.Role, actor.UserID, t, p); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.History.Append(ctx, tx, &t.ID, "Task deleted", nil, actor.UserID); err != nil {
		return err
	}
	// The one-per-task evaluation goes with it.
	if err := e.Repo.DeleteEvaluation(ctx, tx, t.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, t.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateUser registers a user with one of the fixed roles.
func (e Engine) CreateUser(ctx context.Context, name, email string, role domain.Role) (domain.User, error) {
	if name == "" {
		return domain.User{}, ValidationError{Field: "name", Reason: "required"}
	}
	if email == "" {
		return domain.User{}, ValidationError{Field: "email", Reason: "required"}
	}
	if !domain.ValidRole(role) {
		return domain.User{}, ValidationError{Field: "role", Reason: "unknown role " + string(role)}
	}
	u := domain.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CreateProject registers a project owned by an evaluator.
func (e Engine) CreateProject(ctx context.Context, id, name, description, evaluatorID string) (domain.Project, error) {
	if name == "" {
		return domain.Project{}, ValidationError{Field: "name", Reason: "required"}
	}
	owner, err := e.Repo.GetUser(ctx, evaluatorID)
	if err != nil {
		return domain.Project{}, err
	}
	if owner.Role != domain.RoleEvaluator {
		return domain.Project{}, ValidationError{Field: "evaluator_id", Reason: "project owner must have role evaluator"}
	}
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.Project{
		ID:          id,
		Name:        name,
		Description: description,
		EvaluatorID: owner.ID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// AssignToProject records an employee in the project's assignment set.
func (e Engine) AssignToProject(ctx context.Context, projectID, userID string) error {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role != domain.RoleEmployee {
		return ValidationError{Field: "user_id", Reason: "only employees can be assigned to projects"}
	}
	return e.Repo.AddProjectMember(ctx, p.ID, u.ID)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
