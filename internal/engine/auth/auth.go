// Package auth is the authorization matrix for the review pipeline. Every
// decision is a pure function over the acting principal and the ownership
// facts of the entities involved; callers load those facts and ask.
package auth

import (
	"fmt"

	"reviewline/internal/domain"
)

// UnauthorizedError indicates a role or ownership mismatch. Denial is always
// an error, never a silent no-op.
type UnauthorizedError struct {
	Action string
	UserID string
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("user %s is not authorized to %s", e.UserID, e.Action)
}

// CanTransition decides whether the actor may drive a direct status
// transition on the task. Employees are scoped to tasks they are assigned;
// evaluators to tasks inside projects they own. Admin gets no bypass here:
// the blanket admin override covers field update and delete only.
func CanTransition(role domain.Role, userID string, task domain.Task, project domain.Project) error {
	switch role {
	case domain.RoleEmployee:
		if task.AssigneeID == userID {
			return nil
		}
	case domain.RoleEvaluator:
		if project.EvaluatorID == userID {
			return nil
		}
	}
	return UnauthorizedError{Action: "transition task " + task.ID, UserID: userID}
}

// CanManageTask decides whether the actor may update fields of or delete the
// task. The owning evaluator and admins are allowed.
func CanManageTask(role domain.Role, userID string, task domain.Task, project domain.Project) error {
	if role == domain.RoleAdmin {
		return nil
	}
	if role == domain.RoleEvaluator && project.EvaluatorID == userID {
		return nil
	}
	return UnauthorizedError{Action: "manage task " + task.ID, UserID: userID}
}

// CanCreateTask decides whether the actor may create a task in the project.
func CanCreateTask(role domain.Role, userID string, project domain.Project) error {
	if role == domain.RoleAdmin {
		return nil
	}
	if role == domain.RoleEvaluator && project.EvaluatorID == userID {
		return nil
	}
	return UnauthorizedError{Action: "create task in project " + project.ID, UserID: userID}
}

// CanEvaluate decides whether the evaluator may write or delete an
// evaluation for a task in the project.
func CanEvaluate(role domain.Role, userID string, project domain.Project) error {
	if role == domain.RoleEvaluator && project.EvaluatorID == userID {
		return nil
	}
	return UnauthorizedError{Action: "evaluate tasks in project " + project.ID, UserID: userID}
}
