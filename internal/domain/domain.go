package domain

// Role of a user as supplied by the authentication layer.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleEvaluator Role = "evaluator"
	RoleEmployee  Role = "employee"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleEvaluator, RoleEmployee:
		return true
	}
	return false
}

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	TaskTodo          TaskStatus = "todo"
	TaskInProgress    TaskStatus = "in_progress"
	TaskDone          TaskStatus = "done"
	TaskSubmitted     TaskStatus = "submitted"
	TaskApproved      TaskStatus = "approved"
	TaskNeedsRevision TaskStatus = "needs_revision"
	TaskRejected      TaskStatus = "rejected"
)

// ValidTaskStatus reports whether s is part of the task status vocabulary.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone, TaskSubmitted, TaskApproved, TaskNeedsRevision, TaskRejected:
		return true
	}
	return false
}

// EvalStatus is the status of an evaluation record.
type EvalStatus string

const (
	EvalPending       EvalStatus = "pending"
	EvalApproved      EvalStatus = "approved"
	EvalNeedsRevision EvalStatus = "needs_revision"
	EvalRejected      EvalStatus = "rejected"
)

// ValidEvalStatus reports whether s is part of the evaluation status vocabulary.
func ValidEvalStatus(s EvalStatus) bool {
	switch s {
	case EvalPending, EvalApproved, EvalNeedsRevision, EvalRejected:
		return true
	}
	return false
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      Role   `json:"role" enum:"admin,evaluator,employee"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	EvaluatorID string `json:"evaluator_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status" enum:"todo,in_progress,done,submitted,approved,needs_revision,rejected"`
	CreatedBy   string     `json:"created_by"`
	AssigneeID  string     `json:"assignee_id"`
	Deadline    *string    `json:"deadline,omitempty" format:"date-time"`
	SubmittedAt *string    `json:"submitted_at,omitempty" format:"date-time"`
	ProofRef    *string    `json:"proof_ref,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

type Evaluation struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	EvaluatorID string     `json:"evaluator_id"`
	Status      EvalStatus `json:"status" enum:"pending,approved,needs_revision,rejected"`
	Comments    string     `json:"comments,omitempty"`
	EvaluatedAt string     `json:"evaluated_at" format:"date-time"`
}

// HistoryEntry is one append-only audit record. TaskID has no foreign key:
// entries keep referencing their task id after the task row is deleted.
type HistoryEntry struct {
	ID          int64   `json:"id"`
	TaskID      *string `json:"task_id,omitempty"`
	Action      string  `json:"action"`
	Comments    *string `json:"comments,omitempty"`
	PerformedBy string  `json:"performed_by"`
	TS          string  `json:"ts" format:"date-time"`
}

// EvaluationHistoryEntry augments an evaluation with its parent task's
// display fields for the evaluator's review history.
type EvaluationHistoryEntry struct {
	Evaluation
	TaskTitle       string `json:"task_title"`
	TaskDescription string `json:"task_description,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
