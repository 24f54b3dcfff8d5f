// Package notify defines the notification contract. Concrete transports
// (chat, email) are supplied by the embedding application; the core only
// consumes this interface.
package notify

import (
	"context"

	"github.com/linnemanlabs/herald/internal/issue"
)

// Notifier renders and sends an alert for an issue to one owner.
//
// Delivery is at-least-once: the scheduler may repeat a send after a crash
// between "call sent" and "state committed", so implementations must be safe
// to invoke more than once for the same issue and notification round.
// Errors are transient delivery failures and are retried with bounded
// backoff.
type Notifier interface {
	Notify(ctx context.Context, owner string, iss *issue.Issue) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, owner string, iss *issue.Issue) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, owner string, iss *issue.Issue) error {
	return f(ctx, owner, iss)
}
