// Package static resolves owners from the policy registry: a fixed owner
// list per source, optionally overridden by a payload field carrying the
// owner identity on the event itself.
package static

import (
	"context"

	"github.com/linnemanlabs/herald/internal/issue"
	"github.com/linnemanlabs/herald/internal/policy"
)

// Resolver resolves owners from static per-source configuration.
type Resolver struct {
	policies *policy.Registry
}

// New creates a static resolver backed by the given registry.
func New(policies *policy.Registry) *Resolver {
	return &Resolver{policies: policies}
}

// Resolve returns the configured owners for the issue's source. When the
// source declares an owner_field and the issue payload carries a non-empty
// value for it, that value wins over the static list. Never errs: static
// lookup has no transport to fail.
func (r *Resolver) Resolve(_ context.Context, iss *issue.Issue) ([]string, error) {
	pol := r.policies.ForSource(iss.Source)

	if pol.OwnerField != "" {
		if owner := iss.Payload[pol.OwnerField]; owner != "" {
			return []string{owner}, nil
		}
	}

	if len(pol.Owners) == 0 {
		return nil, nil
	}
	return append([]string(nil), pol.Owners...), nil
}
