package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// CategoryRule holds the per-category return terms.
type CategoryRule struct {
	ReturnWindowDays int  `yaml:"return_window_days"`
	RefundShipping   bool `yaml:"refund_shipping"`
	NonReturnable    bool `yaml:"non_returnable"`
}

// ReasonRule holds the per-reason resolution terms.
type ReasonRule struct {
	RequiresEvidence bool     `yaml:"requires_evidence"`
	MerchantFault    bool     `yaml:"merchant_fault"`
	ImpliedAction    Action   `yaml:"implied_action"`
	Actions          []Action `yaml:"actions"`
}

// Table is the declarative rule set evaluated by the Engine.
type Table struct {
	Version         int                     `yaml:"version"`
	DefaultCategory CategoryRule            `yaml:"default_category"`
	Categories      map[string]CategoryRule `yaml:"categories"`
	Reasons         map[Reason]ReasonRule   `yaml:"reasons"`
	Aliases         map[string]Reason       `yaml:"aliases"`
}

// DefaultTable returns the embedded default policy.
func DefaultTable() *Table {
	t, err := ParseTable(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("policy: embedded table invalid: %v", err))
	}
	return t
}

// LoadTable reads and validates a YAML policy file.
func LoadTable(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTable(b)
}

// ParseTable decodes and validates a YAML policy document.
func ParseTable(b []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}
	t.normalize()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) normalize() {
	cats := make(map[string]CategoryRule, len(t.Categories))
	for k, v := range t.Categories {
		cats[strings.ToLower(strings.TrimSpace(k))] = v
	}
	t.Categories = cats

	reasons := make(map[Reason]ReasonRule, len(t.Reasons))
	for k, v := range t.Reasons {
		reasons[Reason(strings.ToLower(strings.TrimSpace(string(k))))] = v
	}
	t.Reasons = reasons

	aliases := make(map[string]Reason, len(t.Aliases))
	for k, v := range t.Aliases {
		aliases[strings.ToLower(strings.TrimSpace(k))] = Reason(strings.ToLower(strings.TrimSpace(string(v))))
	}
	t.Aliases = aliases
}

// Validate checks the table for unknown actions, negative windows and
// dangling aliases.
func (t *Table) Validate() error {
	var errs []error
	if len(t.Reasons) == 0 {
		errs = append(errs, errors.New("policy: no reasons defined"))
	}
	if t.DefaultCategory.ReturnWindowDays < 0 {
		errs = append(errs, errors.New("policy: default_category.return_window_days must be >= 0"))
	}
	for name, c := range t.Categories {
		if c.ReturnWindowDays < 0 {
			errs = append(errs, fmt.Errorf("policy: category %q: return_window_days must be >= 0", name))
		}
	}
	for name, r := range t.Reasons {
		if !r.ImpliedAction.Valid() {
			errs = append(errs, fmt.Errorf("policy: reason %q: unknown implied_action %q", name, r.ImpliedAction))
		}
		if len(r.Actions) == 0 {
			errs = append(errs, fmt.Errorf("policy: reason %q: actions must not be empty", name))
		}
		for _, a := range r.Actions {
			if !a.Valid() {
				errs = append(errs, fmt.Errorf("policy: reason %q: unknown action %q", name, a))
			}
		}
	}
	for alias, target := range t.Aliases {
		if _, ok := t.Reasons[target]; !ok {
			errs = append(errs, fmt.Errorf("policy: alias %q points to unknown reason %q", alias, target))
		}
	}
	return errors.Join(errs...)
}

// Category returns the rule for category, falling back to the default.
func (t *Table) Category(category string) CategoryRule {
	if c, ok := t.Categories[strings.ToLower(strings.TrimSpace(category))]; ok {
		return c
	}
	return t.DefaultCategory
}

// NormalizeReason maps user-facing reason values (including aliases and
// "changed mind" style spacing) onto a known Reason.
func (t *Table) NormalizeReason(raw string) (Reason, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if key == "" {
		return "", false
	}
	if _, ok := t.Reasons[Reason(key)]; ok {
		return Reason(key), true
	}
	if r, ok := t.Aliases[key]; ok {
		return r, true
	}
	return "", false
}

// Reason returns the rule for r.
func (t *Table) Reason(r Reason) (ReasonRule, bool) {
	rule, ok := t.Reasons[r]
	return rule, ok
}

// ReasonNames lists the configured reasons in sorted order.
func (t *Table) ReasonNames() []Reason {
	out := make([]Reason, 0, len(t.Reasons))
	for r := range t.Reasons {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
