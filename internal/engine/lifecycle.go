package engine

import (
	"reviewline/internal/config"
	"reviewline/internal/domain"
)

// findTransition looks up the (from, to) pair in a role's slice of the
// lifecycle table. The table is the only authority on legality; it has no
// memory beyond the current status value.
func findTransition(rules []config.TransitionRule, from, to domain.TaskStatus) (config.TransitionRule, bool) {
	for _, rule := range rules {
		if rule.To != string(to) {
			continue
		}
		if rule.From == config.AnyStatus || rule.From == string(from) {
			return rule, true
		}
	}
	return config.TransitionRule{}, false
}

// deriveTaskStatus is the single bridge between the evaluation and task
// status vocabularies. No other code path may set a task to approved,
// needs_revision, or rejected on behalf of an evaluation write.
func deriveTaskStatus(cfg *config.Config, s domain.EvalStatus) (domain.TaskStatus, error) {
	ts, ok := cfg.DeriveTaskStatus(s)
	if !ok {
		return "", ValidationError{Field: "status", Reason: "no task status derivable from evaluation status " + string(s)}
	}
	return ts, nil
}
