package config_test

import (
	"strings"
	"testing"

	"reviewline/internal/config"
	"reviewline/internal/domain"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	rules := cfg.RulesFor(domain.RoleEmployee)
	if len(rules) != 3 {
		t.Fatalf("employee rules = %d, want 3", len(rules))
	}
	for _, rule := range rules {
		if rule.To == string(domain.TaskSubmitted) && !rule.RequiresProof {
			t.Fatalf("done -> submitted must require proof")
		}
	}
	if len(cfg.RulesFor(domain.RoleAdmin)) != 0 {
		t.Fatalf("admin must have no direct transition rules")
	}
}

func TestDeriveMapping(t *testing.T) {
	cfg := config.Default()
	cases := map[domain.EvalStatus]domain.TaskStatus{
		domain.EvalPending:       domain.TaskSubmitted,
		domain.EvalApproved:      domain.TaskApproved,
		domain.EvalNeedsRevision: domain.TaskNeedsRevision,
		domain.EvalRejected:      domain.TaskRejected,
	}
	for es, want := range cases {
		got, ok := cfg.DeriveTaskStatus(es)
		if !ok || got != want {
			t.Fatalf("derive(%s) = %s/%v, want %s", es, got, ok, want)
		}
	}
	if _, ok := cfg.DeriveTaskStatus("bogus"); ok {
		t.Fatalf("derive accepted unknown evaluation status")
	}
}

func TestFromYAMLRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"unknown role",
			`lifecycle:
  transitions:
    manager:
      - {from: todo, to: in_progress}
evaluation:
  derive: {pending: submitted, approved: approved, needs_revision: needs_revision, rejected: rejected}
`,
			"unknown role",
		},
		{
			"unknown status",
			`lifecycle:
  transitions:
    employee:
      - {from: todo, to: finished}
evaluation:
  derive: {pending: submitted, approved: approved, needs_revision: needs_revision, rejected: rejected}
`,
			"unknown target status",
		},
		{
			"incomplete derive map",
			`lifecycle:
  transitions:
    employee:
      - {from: todo, to: in_progress}
evaluation:
  derive: {approved: approved}
`,
			"derive missing mapping",
		},
		{
			"empty webhook url",
			`lifecycle:
  transitions:
    employee:
      - {from: todo, to: in_progress}
evaluation:
  derive: {pending: submitted, approved: approved, needs_revision: needs_revision, rejected: rejected}
webhooks:
  - url: ""
`,
			"empty url",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestWildcardOrigin(t *testing.T) {
	yaml := `lifecycle:
  transitions:
    evaluator:
      - {from: "*", to: approved}
evaluation:
  derive: {pending: submitted, approved: approved, needs_revision: needs_revision, rejected: rejected}
`
	cfg, err := config.FromYAML([]byte(yaml))
	if err != nil {
		t.Fatalf("wildcard origin rejected: %v", err)
	}
	rules := cfg.RulesFor(domain.RoleEvaluator)
	if len(rules) != 1 || rules[0].From != config.AnyStatus {
		t.Fatalf("rules = %+v", rules)
	}
}
