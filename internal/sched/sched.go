// Package sched drives the time-based half of the issue lifecycle: first
// notifications, follow-up escalations, no-owner expiry and auto-resolve
// timeouts. Due-ness is computed from issue timestamps plus policy, so the
// scan interval only bounds latency, never correctness, of the schedule.
package sched

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/herald/internal/issue"
	"github.com/linnemanlabs/herald/internal/notify"
	"github.com/linnemanlabs/herald/internal/policy"
	"github.com/linnemanlabs/herald/internal/resolve"
)

// Terminal reasons recorded by the scheduler.
const (
	ReasonTimeout         = "timeout"
	ReasonBudgetExhausted = "escalation budget exhausted"
	ReasonNoOwner         = "no owner found"
)

// notifyTries bounds delivery attempts per owner within one tick. The issue
// stays due after a failed round, so the next tick retries the whole round.
const notifyTries = 3

// Scheduler periodically scans open issues and performs whatever
// notification action each one is due for.
type Scheduler struct {
	store    issue.Store
	policies *policy.Registry
	resolver resolve.Resolver
	notifier notify.Notifier
	logger   log.Logger
	sink     issue.Sink

	// now is injected so tests can drive a virtual clock.
	now func() time.Time
}

// New creates a Scheduler.
func New(store issue.Store, policies *policy.Registry, resolver resolve.Resolver, notifier notify.Notifier, logger log.Logger, sink issue.Sink) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	if sink == nil {
		sink = issue.NopSink{}
	}
	return &Scheduler{
		store:    store,
		policies: policies,
		resolver: resolver,
		notifier: notifier,
		logger:   logger,
		sink:     sink,
		now:      time.Now,
	}
}

// Start launches the tick loop and returns a stop function that cancels it
// and waits for the in-flight tick to drain.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) func(context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := s.Tick(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error(runCtx, err, "scheduler tick failed")
			}
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func(stopCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

// Tick evaluates every open issue once. Issues are processed sequentially
// with a cancellation checkpoint between them, so shutdown never aborts an
// issue mid-transition. A conditional-update conflict on one issue is not an
// error: the racing writer won and the next tick re-evaluates.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := s.now()

	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return err
	}

	due := 0
	for _, iss := range open {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		acted, err := s.process(ctx, iss)
		if acted {
			due++
		}
		if err != nil {
			if errors.Is(err, issue.ErrVersionConflict) {
				s.logger.Info(ctx, "tick lost update race, deferring to next tick", "fingerprint", iss.Fingerprint)
				continue
			}
			s.logger.Error(ctx, err, "issue tick failed", "fingerprint", iss.Fingerprint, "state", iss.State)
		}
	}

	s.sink.TickDone(due, s.now().Sub(start))
	return nil
}

// process performs at most one action round for the issue. The returned
// bool reports whether the issue was due at all.
func (s *Scheduler) process(ctx context.Context, iss *issue.Issue) (bool, error) {
	now := s.now()
	pol := s.policies.ForSource(iss.Source)

	// Auto-resolve timeout wins over everything else: terminal beats another
	// follow-up when both thresholds are crossed in the same tick.
	if now.Sub(iss.OpenedAt) >= pol.AutoResolveTimeout {
		return true, s.finalize(ctx, iss, issue.StateResolved, ReasonTimeout)
	}

	switch iss.State {
	case issue.StateNew:
		if now.Sub(iss.OpenedAt) < pol.InitialDelay {
			return false, nil
		}
		return true, s.firstNotify(ctx, iss, pol, now)

	case issue.StateNotified, issue.StateEscalated:
		if now.Sub(iss.LastNotifiedAt) < pol.FollowUpInterval {
			return false, nil
		}
		return true, s.followUp(ctx, iss, pol, now)

	default:
		// acknowledged issues only age toward auto-resolve
		return false, nil
	}
}

func (s *Scheduler) firstNotify(ctx context.Context, iss *issue.Issue, pol policy.Escalation, now time.Time) error {
	owners, err := s.resolver.Resolve(ctx, iss)
	if err != nil {
		// transport failure: issue stays new and due, retried next tick
		s.logger.Error(ctx, err, "owner resolution failed", "fingerprint", iss.Fingerprint)
		return nil
	}

	if len(owners) == 0 {
		if now.Sub(iss.OpenedAt) >= pol.MaxUnresolvedAge {
			return s.finalize(ctx, iss, issue.StateIgnored, ReasonNoOwner)
		}
		return nil
	}

	iss.Owners = owners
	return s.notifyRound(ctx, iss, now, issue.StateNotified, false)
}

func (s *Scheduler) followUp(ctx context.Context, iss *issue.Issue, pol policy.Escalation, now time.Time) error {
	if iss.EscalationLevel >= pol.MaxFollowUps {
		return s.exhaustBudget(ctx, iss, pol)
	}

	if err := s.notifyRound(ctx, iss, now, issue.StateEscalated, true); err != nil {
		return err
	}

	// The budget check runs again right after the final follow-up so the
	// issue closes immediately instead of lingering one more interval.
	if iss.State == issue.StateEscalated && iss.EscalationLevel >= pol.MaxFollowUps {
		return s.exhaustBudget(ctx, iss, pol)
	}
	return nil
}

// notifyRound delivers to every resolved owner and commits the resulting
// transition. The notify counter increases on every attempted round,
// delivered or not; state and last_notified_at advance only after the
// transport accepted the send. No store lock is held while the external
// call is in flight.
func (s *Scheduler) notifyRound(ctx context.Context, iss *issue.Issue, now time.Time, to issue.State, followUp bool) error {
	iss.NotifyCount++

	sendErr := s.deliver(ctx, iss)
	if sendErr != nil {
		// record the attempt, leave the state (and due-ness) unchanged
		s.logger.Error(ctx, sendErr, "notification round failed",
			"fingerprint", iss.Fingerprint,
			"notify_count", iss.NotifyCount,
		)
		return s.store.Update(ctx, iss)
	}

	if err := iss.Transition(to, ""); err != nil {
		return err
	}
	iss.LastNotifiedAt = now
	if followUp {
		iss.EscalationLevel++
	}

	if err := s.store.Update(ctx, iss); err != nil {
		return err
	}

	s.sink.Notified(iss.Source, followUp)
	if followUp {
		s.sink.Escalated(iss.Source)
	}
	s.logger.Info(ctx, "notification sent",
		"fingerprint", iss.Fingerprint,
		"state", iss.State,
		"owners", iss.Owners,
		"notify_count", iss.NotifyCount,
		"escalation_level", iss.EscalationLevel,
	)
	return nil
}

// deliver sends to each owner with bounded exponential backoff. The round
// fails if any owner could not be reached; repeating a partially delivered
// round on the next tick is safe under at-least-once semantics.
func (s *Scheduler) deliver(ctx context.Context, iss *issue.Issue) error {
	var errs []error
	for _, owner := range iss.Owners {
		op := func() (struct{}, error) {
			return struct{}{}, s.notifier.Notify(ctx, owner, iss)
		}
		_, err := backoff.Retry(ctx, op,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(notifyTries),
		)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) exhaustBudget(ctx context.Context, iss *issue.Issue, pol policy.Escalation) error {
	to := issue.StateResolved
	if pol.OnBudgetExhausted == "ignored" {
		to = issue.StateIgnored
	}
	return s.finalize(ctx, iss, to, ReasonBudgetExhausted)
}

func (s *Scheduler) finalize(ctx context.Context, iss *issue.Issue, to issue.State, reason string) error {
	if err := iss.Transition(to, reason); err != nil {
		return err
	}
	if err := s.store.Update(ctx, iss); err != nil {
		return err
	}

	switch to {
	case issue.StateResolved:
		s.sink.Resolved(iss.Source, reason, s.now().Sub(iss.OpenedAt))
	case issue.StateIgnored:
		s.sink.Ignored(iss.Source, reason)
	}
	s.logger.Info(ctx, "issue closed",
		"fingerprint", iss.Fingerprint,
		"state", to,
		"reason", reason,
	)
	return nil
}
