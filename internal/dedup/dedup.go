// Package dedup folds semantically identical events into a single logical
// issue. It owns the create/merge/reopen half of the issue state machine;
// the scheduler owns the notify/escalate/close half.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/herald/internal/event"
	"github.com/linnemanlabs/herald/internal/fingerprint"
	"github.com/linnemanlabs/herald/internal/issue"
	"github.com/linnemanlabs/herald/internal/policy"
)

// Outcome describes what an ingest did to the issue table.
type Outcome string

const (
	// OutcomeCreated means a first-seen fingerprint created a new issue.
	OutcomeCreated Outcome = "created"

	// OutcomeUpdated means the occurrence merged into an open issue.
	OutcomeUpdated Outcome = "updated"

	// OutcomeReopened means a terminal issue went back to new.
	OutcomeReopened Outcome = "reopened"

	// OutcomeReplaced means a terminal issue was swapped for a fresh one.
	OutcomeReplaced Outcome = "replaced"
)

// Result acknowledges an ingest with everything the caller needs to locate
// the issue.
type Result struct {
	Fingerprint string      `json:"fingerprint"`
	IssueID     string      `json:"issue_id"`
	State       issue.State `json:"state"`
	Outcome     Outcome     `json:"outcome"`
}

// casRetries bounds how often an ingest restarts after losing a
// conditional-update race. Each retry starts from a fresh read, so a bounded
// count only ever gives up under sustained contention on one fingerprint.
const casRetries = 8

// Deduplicator ingests events against the shared issue store.
type Deduplicator struct {
	store    issue.Store
	policies *policy.Registry
	logger   log.Logger
	sink     issue.Sink
	now      func() time.Time
}

// New creates a Deduplicator.
func New(store issue.Store, policies *policy.Registry, logger log.Logger, sink issue.Sink) *Deduplicator {
	if logger == nil {
		logger = log.Nop()
	}
	if sink == nil {
		sink = issue.NopSink{}
	}
	return &Deduplicator{
		store:    store,
		policies: policies,
		logger:   logger,
		sink:     sink,
		now:      time.Now,
	}
}

// Ingest folds an event into the issue table: create on first sight, merge
// occurrence metadata on repeats, reopen or replace on terminal recurrence
// per source policy. It never notifies; that is the scheduler's job.
//
// Concurrent ingests of the same fingerprint are serialized by the store's
// conditional updates: exactly one writer wins each round, losers retry from
// a fresh read.
func (d *Deduplicator) Ingest(ctx context.Context, ev *event.Event) (*Result, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = d.now()
	}

	pol := d.policies.ForSource(ev.Source)
	fp, err := fingerprint.New(ev, pol.IdentityFields)
	if err != nil {
		return nil, err
	}

	L := d.logger.With("source", ev.Source, "fingerprint", fp)

	for attempt := 0; attempt < casRetries; attempt++ {
		res, err := d.ingestOnce(ctx, ev, fp, pol)
		if err != nil {
			if errors.Is(err, issue.ErrVersionConflict) || errors.Is(err, issue.ErrDuplicateFingerprint) {
				continue
			}
			return nil, err
		}

		switch res.Outcome {
		case OutcomeCreated, OutcomeReplaced:
			d.sink.IssueCreated(ev.Source)
		case OutcomeUpdated:
			d.sink.DedupHit(ev.Source)
		case OutcomeReopened:
			d.sink.IssueCreated(ev.Source)
		}

		L.Info(ctx, "event ingested", "issue_id", res.IssueID, "state", res.State, "outcome", res.Outcome)
		return res, nil
	}
	return nil, fmt.Errorf("ingest %s: %w after %d attempts", fp, issue.ErrVersionConflict, casRetries)
}

func (d *Deduplicator) ingestOnce(ctx context.Context, ev *event.Event, fp string, pol policy.Escalation) (*Result, error) {
	now := d.now()

	existing, ok, err := d.store.Get(ctx, fp)
	if err != nil {
		return nil, err
	}

	if !ok {
		iss := issue.New(ulid.Make().String(), fp, ev, now)
		if err := d.store.Create(ctx, iss); err != nil {
			return nil, err
		}
		return &Result{Fingerprint: fp, IssueID: iss.ID, State: iss.State, Outcome: OutcomeCreated}, nil
	}

	if existing.State.Terminal() {
		if pol.Reopen {
			if err := existing.Reopen(ev, now); err != nil {
				return nil, err
			}
			if err := d.store.Update(ctx, existing); err != nil {
				return nil, err
			}
			return &Result{Fingerprint: fp, IssueID: existing.ID, State: existing.State, Outcome: OutcomeReopened}, nil
		}

		fresh := issue.New(ulid.Make().String(), fp, ev, now)
		if err := d.store.Replace(ctx, fresh, existing.Version); err != nil {
			return nil, err
		}
		return &Result{Fingerprint: fp, IssueID: fresh.ID, State: fresh.State, Outcome: OutcomeReplaced}, nil
	}

	existing.Observe(ev, now)
	if err := d.store.Update(ctx, existing); err != nil {
		return nil, err
	}
	return &Result{Fingerprint: fp, IssueID: existing.ID, State: existing.State, Outcome: OutcomeUpdated}, nil
}
