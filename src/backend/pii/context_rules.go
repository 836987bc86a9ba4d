package pii

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

var placeholderRe = regexp.MustCompile(`^\[[A-Z][A-Z0-9_]*\]$`)

// IsPlaceholder reports whether s is a bracketed token like [ROLE_NAME].
func IsPlaceholder(s string) bool {
	return placeholderRe.MatchString(s)
}

// WithOverrides returns a copy of rs with a non-zero window size or a
// non-empty fallback replaced.
func (rs *RuleSet) WithOverrides(windowSize int, fallback string) (*RuleSet, error) {
	out := *rs
	if windowSize > 0 {
		out.WindowSize = windowSize
	}
	if fallback != "" {
		if !IsPlaceholder(fallback) {
			return nil, fmt.Errorf("fallback %q is not a placeholder like [OTHER_NAME]", fallback)
		}
		out.Fallback = fallback
	}
	return &out, nil
}

// RuleFile is the YAML layout of a context rule file.
type RuleFile struct {
	WindowSize int        `yaml:"window_size"`
	Fallback   string     `yaml:"fallback"`
	Rules      []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule as written in YAML. Rules are enabled unless
// enabled: false is set.
type RuleSpec struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Placeholder string `yaml:"placeholder"`
	Enabled     *bool  `yaml:"enabled,omitempty"`
}

// RuleSet is a compiled rule file.
type RuleSet struct {
	Rules      []ContextRule
	WindowSize int
	Fallback   string
}

// Classifier builds a RoleClassifier from the rule set.
func (rs *RuleSet) Classifier() *RoleClassifier {
	return NewRoleClassifier(rs.Rules, rs.WindowSize, rs.Fallback)
}

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() (*RuleSet, error) {
	return ParseRuleFile(defaultRulesYAML)
}

// LoadRuleFile reads and compiles a YAML rule file.
func LoadRuleFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rs, err := ParseRuleFile(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return rs, nil
}

// ParseRuleFile compiles rule YAML. Patterns are made case-insensitive.
func ParseRuleFile(data []byte) (*RuleSet, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	if file.WindowSize < 0 {
		return nil, fmt.Errorf("window_size must not be negative (current value: %d)", file.WindowSize)
	}
	if file.WindowSize == 0 {
		file.WindowSize = DefaultWindowSize
	}
	if file.Fallback == "" {
		file.Fallback = DefaultFallbackPlaceholder
	}
	if !placeholderRe.MatchString(file.Fallback) {
		return nil, fmt.Errorf("fallback %q is not a placeholder like [OTHER_NAME]", file.Fallback)
	}

	names := make(map[string]bool, len(file.Rules))
	rules := make([]ContextRule, 0, len(file.Rules))
	for i, spec := range file.Rules {
		if spec.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if names[spec.Name] {
			return nil, fmt.Errorf("rule %s: duplicate name", spec.Name)
		}
		names[spec.Name] = true

		if spec.Enabled != nil && !*spec.Enabled {
			continue
		}
		rule, err := compileRule(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return &RuleSet{
		Rules:      rules,
		WindowSize: file.WindowSize,
		Fallback:   file.Fallback,
	}, nil
}

func compileRule(spec RuleSpec) (ContextRule, error) {
	if strings.TrimSpace(spec.Pattern) == "" {
		return ContextRule{}, fmt.Errorf("rule %s: pattern is required", spec.Name)
	}
	if !placeholderRe.MatchString(spec.Placeholder) {
		return ContextRule{}, fmt.Errorf("rule %s: placeholder %q is not like [ROLE_NAME]", spec.Name, spec.Placeholder)
	}

	pattern := spec.Pattern
	if !strings.HasPrefix(pattern, "(?i)") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ContextRule{}, fmt.Errorf("rule %s: compile pattern: %w", spec.Name, err)
	}
	return ContextRule{Name: spec.Name, Pattern: re, Placeholder: spec.Placeholder}, nil
}
