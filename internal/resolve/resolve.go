// Package resolve defines the owner-resolution contract. Concrete backends
// (directory services, LDAP) are supplied by the embedding application; the
// core only consumes this interface.
package resolve

import (
	"context"

	"github.com/linnemanlabs/herald/internal/issue"
)

// Resolver maps an issue to the identities responsible for acting on it.
//
// An empty result is a valid answer, not an error: the scheduler keeps the
// issue due and retries on later ticks. Errors signal transport failure and
// are treated as retryable.
type Resolver interface {
	Resolve(ctx context.Context, iss *issue.Issue) ([]string, error)
}

// Func adapts a plain function to Resolver.
type Func func(ctx context.Context, iss *issue.Issue) ([]string, error)

// Resolve implements Resolver.
func (f Func) Resolve(ctx context.Context, iss *issue.Issue) ([]string, error) {
	return f(ctx, iss)
}
