package engine

import (
	"fmt"

	"reviewline/internal/domain"
)

// ValidationError indicates malformed or inadmissible input detected before
// any mutation was applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidTransitionError indicates a (from, to, role) triple absent from the
// lifecycle table.
type InvalidTransitionError struct {
	From domain.TaskStatus
	To   domain.TaskStatus
	Role domain.Role
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task status transition %s -> %s for role %s", e.From, e.To, e.Role)
}

// ConflictError indicates a caller precondition about current state does not
// hold, such as creating an evaluation where one already exists.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }
