package auth_test

import (
	"testing"

	"reviewline/internal/domain"
	"reviewline/internal/engine/auth"
)

var (
	project = domain.Project{ID: "p1", EvaluatorID: "eve"}
	task    = domain.Task{ID: "t1", ProjectID: "p1", AssigneeID: "emil"}
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name   string
		role   domain.Role
		userID string
		ok     bool
	}{
		{"assignee", domain.RoleEmployee, "emil", true},
		{"other employee", domain.RoleEmployee, "otto", false},
		{"owning evaluator", domain.RoleEvaluator, "eve", true},
		{"other evaluator", domain.RoleEvaluator, "nora", false},
		{"admin has no bypass", domain.RoleAdmin, "ada", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := auth.CanTransition(tc.role, tc.userID, task, project)
			if (err == nil) != tc.ok {
				t.Fatalf("CanTransition(%s, %s) = %v, want ok=%v", tc.role, tc.userID, err, tc.ok)
			}
		})
	}
}

func TestCanManageTask(t *testing.T) {
	cases := []struct {
		name   string
		role   domain.Role
		userID string
		ok     bool
	}{
		{"admin bypass", domain.RoleAdmin, "ada", true},
		{"owning evaluator", domain.RoleEvaluator, "eve", true},
		{"other evaluator", domain.RoleEvaluator, "nora", false},
		{"assignee", domain.RoleEmployee, "emil", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := auth.CanManageTask(tc.role, tc.userID, task, project)
			if (err == nil) != tc.ok {
				t.Fatalf("CanManageTask(%s, %s) = %v, want ok=%v", tc.role, tc.userID, err, tc.ok)
			}
		})
	}
}

func TestCanEvaluate(t *testing.T) {
	if err := auth.CanEvaluate(domain.RoleEvaluator, "eve", project); err != nil {
		t.Fatalf("owning evaluator: %v", err)
	}
	// Evaluation authority never widens: not to admins, not to other evaluators.
	for _, tc := range []struct {
		role   domain.Role
		userID string
	}{
		{domain.RoleAdmin, "ada"},
		{domain.RoleEvaluator, "nora"},
		{domain.RoleEmployee, "emil"},
	} {
		if err := auth.CanEvaluate(tc.role, tc.userID, project); err == nil {
			t.Fatalf("CanEvaluate(%s, %s) allowed, want denied", tc.role, tc.userID)
		}
	}
}

func TestUnauthorizedErrorMessage(t *testing.T) {
	err := auth.CanTransition(domain.RoleAdmin, "ada", task, project)
	ue, ok := err.(auth.UnauthorizedError)
	if !ok {
		t.Fatalf("got %T, want UnauthorizedError", err)
	}
	if ue.UserID != "ada" {
		t.Fatalf("UserID = %s", ue.UserID)
	}
}
