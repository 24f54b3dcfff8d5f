// Package policy holds the timing and threshold configuration that governs
// notify, follow-up and auto-resolve behavior per event source. Policies are
// loaded once at startup and read-only afterwards; the core never mutates
// them.
package policy

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Escalation is the effective policy for one source after defaults are
// applied.
type Escalation struct {
	// IdentityFields are the payload fields that define event identity for
	// fingerprinting. Required per source.
	IdentityFields []string

	// InitialDelay is how long after an issue opens before the first
	// notification goes out.
	InitialDelay time.Duration

	// FollowUpInterval is the time between unacknowledged follow-ups.
	FollowUpInterval time.Duration

	// MaxFollowUps bounds follow-ups after the initial notification.
	MaxFollowUps int

	// AutoResolveTimeout force-resolves an issue open this long, any state.
	AutoResolveTimeout time.Duration

	// MaxUnresolvedAge bounds how long an issue may stay new without a
	// resolvable owner before being ignored.
	MaxUnresolvedAge time.Duration

	// Reopen controls terminal-fingerprint recurrence: true transitions the
	// terminal issue back to new, false replaces it with a fresh issue.
	Reopen bool

	// OnBudgetExhausted is the terminal outcome when the follow-up budget
	// runs out: "resolved" or "ignored".
	OnBudgetExhausted string

	// Owners is the static owner list for the source; OwnerField optionally
	// names a payload field whose value overrides it.
	Owners     []string
	OwnerField string
}

// Registry maps sources to their effective escalation policies.
type Registry struct {
	defaults Escalation
	sources  map[string]Escalation
}

// ForSource returns the policy for a source, falling back to defaults for
// sources with no specific configuration.
func (r *Registry) ForSource(source string) Escalation {
	if p, ok := r.sources[source]; ok {
		return p
	}
	return r.defaults
}

// Sources returns the explicitly configured source names.
func (r *Registry) Sources() []string {
	out := make([]string, 0, len(r.sources))
	for s := range r.sources {
		out = append(out, s)
	}
	return out
}

// file mirrors the YAML layout. Pointer fields distinguish "unset, inherit
// default" from explicit zero values.
type file struct {
	Defaults fileEntry            `yaml:"defaults"`
	Sources  map[string]fileEntry `yaml:"sources"`
}

type fileEntry struct {
	IdentityFields     []string  `yaml:"identity_fields"`
	InitialDelay       *duration `yaml:"initial_delay"`
	FollowUpInterval   *duration `yaml:"follow_up_interval"`
	MaxFollowUps       *int      `yaml:"max_follow_ups"`
	AutoResolveTimeout *duration `yaml:"auto_resolve_timeout"`
	MaxUnresolvedAge   *duration `yaml:"max_unresolved_age"`
	Reopen             *bool     `yaml:"reopen"`
	OnBudgetExhausted  *string   `yaml:"on_budget_exhausted"`
	Owners             []string  `yaml:"owners"`
	OwnerField         *string   `yaml:"owner_field"`
}

// duration parses YAML scalars via time.ParseDuration.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// builtinDefaults apply when the file's defaults section leaves a field
// unset.
var builtinDefaults = Escalation{
	InitialDelay:       10 * time.Minute,
	FollowUpInterval:   30 * time.Minute,
	MaxFollowUps:       2,
	AutoResolveTimeout: 7 * 24 * time.Hour,
	MaxUnresolvedAge:   24 * time.Hour,
	Reopen:             true,
	OnBudgetExhausted:  "resolved",
}

// Load reads and validates a policy file. Any validation failure is fatal:
// a half-understood policy must never silently govern escalation.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse builds a Registry from raw YAML.
func Parse(raw []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}

	defaults := merge(builtinDefaults, f.Defaults)

	reg := &Registry{
		defaults: defaults,
		sources:  make(map[string]Escalation, len(f.Sources)),
	}

	var errs []error
	if err := validate("defaults", defaults, false); err != nil {
		errs = append(errs, err)
	}
	for name, entry := range f.Sources {
		p := merge(defaults, entry)
		if err := validate(name, p, true); err != nil {
			errs = append(errs, err)
			continue
		}
		reg.sources[name] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

// Default returns a registry with builtin defaults and no per-source
// overrides, for setups running without a policy file.
func Default() *Registry {
	return &Registry{defaults: builtinDefaults, sources: map[string]Escalation{}}
}

func merge(base Escalation, e fileEntry) Escalation {
	out := base
	if len(e.IdentityFields) > 0 {
		out.IdentityFields = append([]string(nil), e.IdentityFields...)
	}
	if e.InitialDelay != nil {
		out.InitialDelay = time.Duration(*e.InitialDelay)
	}
	if e.FollowUpInterval != nil {
		out.FollowUpInterval = time.Duration(*e.FollowUpInterval)
	}
	if e.MaxFollowUps != nil {
		out.MaxFollowUps = *e.MaxFollowUps
	}
	if e.AutoResolveTimeout != nil {
		out.AutoResolveTimeout = time.Duration(*e.AutoResolveTimeout)
	}
	if e.MaxUnresolvedAge != nil {
		out.MaxUnresolvedAge = time.Duration(*e.MaxUnresolvedAge)
	}
	if e.Reopen != nil {
		out.Reopen = *e.Reopen
	}
	if e.OnBudgetExhausted != nil {
		out.OnBudgetExhausted = *e.OnBudgetExhausted
	}
	if len(e.Owners) > 0 {
		out.Owners = append([]string(nil), e.Owners...)
	}
	if e.OwnerField != nil {
		out.OwnerField = *e.OwnerField
	}
	return out
}

func validate(name string, p Escalation, requireIdentity bool) error {
	var errs []error
	if requireIdentity && len(p.IdentityFields) == 0 {
		errs = append(errs, fmt.Errorf("source %s: identity_fields is required", name))
	}
	if p.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("source %s: initial_delay must not be negative", name))
	}
	if p.FollowUpInterval <= 0 {
		errs = append(errs, fmt.Errorf("source %s: follow_up_interval must be positive", name))
	}
	if p.MaxFollowUps < 0 {
		errs = append(errs, fmt.Errorf("source %s: max_follow_ups must not be negative", name))
	}
	if p.AutoResolveTimeout <= 0 {
		errs = append(errs, fmt.Errorf("source %s: auto_resolve_timeout must be positive", name))
	}
	if p.MaxUnresolvedAge <= 0 {
		errs = append(errs, fmt.Errorf("source %s: max_unresolved_age must be positive", name))
	}
	if p.OnBudgetExhausted != "resolved" && p.OnBudgetExhausted != "ignored" {
		errs = append(errs, fmt.Errorf("source %s: on_budget_exhausted must be resolved or ignored, got %q", name, p.OnBudgetExhausted))
	}
	return errors.Join(errs...)
}
