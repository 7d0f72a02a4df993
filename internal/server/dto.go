package server

import (
	"reviewline/internal/domain"
)

// Request payloads

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" format:"email"`
	Role  string `json:"role" enum:"admin,evaluator,employee"`
}

type CreateProjectRequest struct {
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	EvaluatorID string  `json:"evaluator_id"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AssigneeID  string  `json:"assignee_id"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
}

type TransitionRequest struct {
	Status string `json:"status" enum:"todo,in_progress,done,submitted,approved,needs_revision,rejected"`
}

type RecordProofRequest struct {
	ProofRef string `json:"proof_ref"`
}

type UpsertEvaluationRequest struct {
	Status   string `json:"status" enum:"pending,approved,needs_revision,rejected"`
	Comments string `json:"comments,omitempty"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Key    string `json:"key"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"admin,evaluator,employee"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	EvaluatorID string `json:"evaluator_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"todo,in_progress,done,submitted,approved,needs_revision,rejected"`
	CreatedBy   string  `json:"created_by"`
	AssigneeID  string  `json:"assignee_id"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
	SubmittedAt *string `json:"submitted_at,omitempty" format:"date-time"`
	ProofRef    *string `json:"proof_ref,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type EvaluationResponse struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	EvaluatorID string `json:"evaluator_id"`
	Status      string `json:"status" enum:"pending,approved,needs_revision,rejected"`
	Comments    string `json:"comments,omitempty"`
	EvaluatedAt string `json:"evaluated_at" format:"date-time"`
}

type EvaluationHistoryResponse struct {
	EvaluationResponse
	TaskTitle       string `json:"task_title"`
	TaskDescription string `json:"task_description,omitempty"`
}

type HistoryEntryResponse struct {
	ID          int64   `json:"id"`
	TaskID      *string `json:"task_id,omitempty"`
	Action      string  `json:"action"`
	Comments    *string `json:"comments,omitempty"`
	PerformedBy string  `json:"performed_by"`
	TS          string  `json:"ts" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Mapping helpers

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role), CreatedAt: u.CreatedAt}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Name: p.Name, Description: p.Description, EvaluatorID: p.EvaluatorID, CreatedAt: p.CreatedAt}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedBy:   t.CreatedBy,
		AssigneeID:  t.AssigneeID,
		Deadline:    t.Deadline,
		SubmittedAt: t.SubmittedAt,
		ProofRef:    t.ProofRef,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func evaluationResponse(e domain.Evaluation) EvaluationResponse {
	return EvaluationResponse{
		ID:          e.ID,
		TaskID:      e.TaskID,
		EvaluatorID: e.EvaluatorID,
		Status:      string(e.Status),
		Comments:    e.Comments,
		EvaluatedAt: e.EvaluatedAt,
	}
}

func mapEvaluationHistory(items []domain.EvaluationHistoryEntry) []EvaluationHistoryResponse {
	res := make([]EvaluationHistoryResponse, 0, len(items))
	for _, h := range items {
		res = append(res, EvaluationHistoryResponse{
			EvaluationResponse: evaluationResponse(h.Evaluation),
			TaskTitle:          h.TaskTitle,
			TaskDescription:    h.TaskDescription,
		})
	}
	return res
}

func mapHistory(items []domain.HistoryEntry) []HistoryEntryResponse {
	res := make([]HistoryEntryResponse, 0, len(items))
	for _, h := range items {
		res = append(res, HistoryEntryResponse{
			ID:          h.ID,
			TaskID:      h.TaskID,
			Action:      h.Action,
			Comments:    h.Comments,
			PerformedBy: h.PerformedBy,
			TS:          h.TS,
		})
	}
	return res
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}
