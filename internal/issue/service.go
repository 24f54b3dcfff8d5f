package issue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// casRetries bounds how often an operator transition retries after losing a
// conditional-update race before giving up.
const casRetries = 5

// Service applies operator-driven lifecycle transitions: acknowledge,
// resolve and ignore. Every write goes through the store's conditional
// update so a racing ingest or scheduler tick resolves deterministically.
type Service struct {
	store  Store
	logger log.Logger
	sink   Sink
	now    func() time.Time
}

// NewService creates a lifecycle service.
func NewService(store Store, logger log.Logger, sink Sink) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Service{
		store:  store,
		logger: logger,
		sink:   sink,
		now:    time.Now,
	}
}

// Get returns the issue for a fingerprint.
func (s *Service) Get(ctx context.Context, fingerprint string) (*Issue, bool, error) {
	return s.store.Get(ctx, fingerprint)
}

// ListOpen returns all non-terminal issues.
func (s *Service) ListOpen(ctx context.Context) ([]*Issue, error) {
	return s.store.ListOpen(ctx)
}

// Acknowledge transitions a notified or escalated issue to acknowledged.
// Re-acknowledging an already acknowledged issue is a no-op, not an error.
func (s *Service) Acknowledge(ctx context.Context, fingerprint, actor string) (*Issue, error) {
	return s.transition(ctx, fingerprint, actor, func(iss *Issue) error {
		if iss.State == StateAcknowledged {
			return nil
		}
		return iss.Transition(StateAcknowledged, "")
	})
}

// Resolve marks an issue resolved with an operator-supplied reason, from any
// non-terminal state.
func (s *Service) Resolve(ctx context.Context, fingerprint, actor, reason string) (*Issue, error) {
	if reason == "" {
		reason = "resolved by " + actor
	}
	iss, err := s.transition(ctx, fingerprint, actor, func(iss *Issue) error {
		return iss.Transition(StateResolved, reason)
	})
	if err != nil {
		return nil, err
	}
	s.sink.Resolved(iss.Source, reason, s.now().Sub(iss.OpenedAt))
	return iss, nil
}

// Ignore suppresses an issue with an operator-supplied reason, from any
// non-terminal state.
func (s *Service) Ignore(ctx context.Context, fingerprint, actor, reason string) (*Issue, error) {
	if reason == "" {
		reason = "ignored by " + actor
	}
	iss, err := s.transition(ctx, fingerprint, actor, func(iss *Issue) error {
		return iss.Transition(StateIgnored, reason)
	})
	if err != nil {
		return nil, err
	}
	s.sink.Ignored(iss.Source, reason)
	return iss, nil
}

// ErrNotFound is returned for transitions on unknown fingerprints.
var ErrNotFound = errors.New("issue: not found")

func (s *Service) transition(ctx context.Context, fingerprint, actor string, mutate func(*Issue) error) (*Issue, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		iss, ok, err := s.store.Get(ctx, fingerprint)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound
		}

		before := iss.State
		if err := mutate(iss); err != nil {
			return nil, err
		}
		if iss.State == before {
			// idempotent no-op, nothing to persist
			return iss, nil
		}

		if err := s.store.Update(ctx, iss); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, err
		}

		s.logger.Info(ctx, "issue transition",
			"fingerprint", fingerprint,
			"from", before,
			"to", iss.State,
			"actor", actor,
		)
		return iss, nil
	}
	return nil, fmt.Errorf("issue %s: %w after %d attempts", fingerprint, ErrVersionConflict, casRetries)
}
