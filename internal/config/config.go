package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"reviewline/internal/domain"
)

// AnyStatus in a transition rule's From field matches every origin status.
const AnyStatus = "*"

// TransitionRule is one allowed (from, to) pair for a role. RequiresProof
// gates the transition on a recorded proof reference.
type TransitionRule struct {
	From          string `yaml:"from" json:"from"`
	To            string `yaml:"to" json:"to"`
	RequiresProof bool   `yaml:"requires_proof,omitempty" json:"requires_proof,omitempty"`
}

// WebhookConfig describes one audit-trail webhook target.
type WebhookConfig struct {
	URL     string `yaml:"url" json:"url"`
	Secret  string `yaml:"secret,omitempty" json:"secret,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Config models reviewline.yml. The lifecycle section is the role-gated
// transition table; the evaluation section is the evaluation-status to
// task-status derivation map.
type Config struct {
	Lifecycle struct {
		Transitions map[string][]TransitionRule `yaml:"transitions" json:"transitions"`
	} `yaml:"lifecycle" json:"lifecycle"`
	Evaluation struct {
		Derive map[string]string `yaml:"derive" json:"derive"`
	} `yaml:"evaluation" json:"evaluation"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with rvl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Lifecycle.Transitions) == 0 {
		return fmt.Errorf("config.lifecycle.transitions is required")
	}
	for role, rules := range c.Lifecycle.Transitions {
		if !domain.ValidRole(domain.Role(role)) {
			return fmt.Errorf("lifecycle.transitions has unknown role %s", role)
		}
		if len(rules) == 0 {
			return fmt.Errorf("lifecycle.transitions for role %s is empty", role)
		}
		for _, rule := range rules {
			if rule.From != AnyStatus && !domain.ValidTaskStatus(domain.TaskStatus(rule.From)) {
				return fmt.Errorf("role %s transition has unknown origin status %s", role, rule.From)
			}
			if !domain.ValidTaskStatus(domain.TaskStatus(rule.To)) {
				return fmt.Errorf("role %s transition has unknown target status %s", role, rule.To)
			}
		}
	}
	if len(c.Evaluation.Derive) == 0 {
		return fmt.Errorf("config.evaluation.derive is required")
	}
	for _, es := range []domain.EvalStatus{domain.EvalPending, domain.EvalApproved, domain.EvalNeedsRevision, domain.EvalRejected} {
		ts, ok := c.Evaluation.Derive[string(es)]
		if !ok {
			return fmt.Errorf("evaluation.derive missing mapping for %s", es)
		}
		if !domain.ValidTaskStatus(domain.TaskStatus(ts)) {
			return fmt.Errorf("evaluation.derive maps %s to unknown task status %s", es, ts)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d] has empty url", i)
		}
	}
	return nil
}

// RulesFor returns the transition rules configured for a role.
func (c *Config) RulesFor(role domain.Role) []TransitionRule {
	return c.Lifecycle.Transitions[string(role)]
}

// DeriveTaskStatus maps an evaluation status to the task status it forces.
func (c *Config) DeriveTaskStatus(s domain.EvalStatus) (domain.TaskStatus, bool) {
	ts, ok := c.Evaluation.Derive[string(s)]
	return domain.TaskStatus(ts), ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "reviewline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// The evaluator rows carry from: "*" on purpose: an evaluator verdict is
// allowed from any origin status, including todo. Tighten here, not in code.
const defaultTemplate = `lifecycle:
  transitions:
    employee:
      - {from: todo, to: in_progress}
      - {from: in_progress, to: done}
      - {from: done, to: submitted, requires_proof: true}
    evaluator:
      - {from: "*", to: approved}
      - {from: "*", to: needs_revision}
      - {from: "*", to: rejected}

evaluation:
  derive:
    pending: submitted
    approved: approved
    needs_revision: needs_revision
    rejected: rejected
`
