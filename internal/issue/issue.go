package issue

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/herald/internal/event"
)

// State tracks where an issue is in its notification lifecycle.
type State string

const (
	// StateNew means created or reopened, not yet notified.
	StateNew State = "new"

	// StateNotified means the first alert was sent to an owner.
	StateNotified State = "notified"

	// StateAcknowledged means an owner confirmed they are on it.
	StateAcknowledged State = "acknowledged"

	// StateEscalated means at least one follow-up was sent without an ack.
	StateEscalated State = "escalated"

	// StateResolved is terminal: fixed, timed out, or budget exhausted.
	StateResolved State = "resolved"

	// StateIgnored is terminal: explicitly suppressed.
	StateIgnored State = "ignored"
)

// Terminal reports whether s is an end state. Terminal issues are retained
// for audit but excluded from scheduler scans.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateIgnored
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNew, StateNotified, StateAcknowledged, StateEscalated, StateResolved, StateIgnored:
		return true
	}
	return false
}

// InvalidTransitionError reports an attempted transition outside the
// state-machine table. The issue is left unchanged.
type InvalidTransitionError struct {
	Fingerprint string
	From, To    State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("issue %s: illegal transition %s -> %s", e.Fingerprint, e.From, e.To)
}

// transitions is the legal state-machine table. Self-transition on
// escalated covers repeated follow-ups; terminal states may only go back
// to new (reopen on a fresh occurrence).
var transitions = map[State][]State{
	StateNew:          {StateNotified, StateResolved, StateIgnored},
	StateNotified:     {StateEscalated, StateAcknowledged, StateResolved, StateIgnored},
	StateEscalated:    {StateEscalated, StateAcknowledged, StateResolved, StateIgnored},
	StateAcknowledged: {StateResolved, StateIgnored},
	StateResolved:     {StateNew},
	StateIgnored:      {StateNew},
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Issue is the durable aggregate representing one logical alert across all
// its occurrences. Fingerprint is the unique key; Version is the
// optimistic-concurrency counter bumped by the store on every write.
type Issue struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Source      string `json:"source"`
	State       State  `json:"state"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// OpenedAt is set at creation and again on reopen. Scheduler deadlines
	// (initial delay, unresolved age, auto-resolve timeout) derive from it
	// so a reopened issue starts a fresh notification cycle.
	OpenedAt time.Time `json:"opened_at"`

	OccurrenceCount int64 `json:"occurrence_count"`

	// Owners is nil until resolution succeeds.
	Owners []string `json:"owners,omitempty"`

	LastNotifiedAt  time.Time `json:"last_notified_at,omitempty"`
	NotifyCount     int       `json:"notify_count"`
	EscalationLevel int       `json:"escalation_level"`

	// Payload is the latest representative event data, used for formatting
	// notifications. Latest occurrence wins for display fields.
	Payload map[string]string `json:"payload,omitempty"`

	// Reason records why a terminal transition happened. Never empty on a
	// terminal issue.
	Reason string `json:"reason,omitempty"`

	Version int64 `json:"-"`
}

// New creates an issue for the first occurrence of a fingerprint.
func New(id, fp string, ev *event.Event, now time.Time) *Issue {
	return &Issue{
		ID:              id,
		Fingerprint:     fp,
		Source:          ev.Source,
		State:           StateNew,
		FirstSeen:       now,
		LastSeen:        now,
		OpenedAt:        now,
		OccurrenceCount: 1,
		Payload:         clonePayload(ev.Data),
	}
}

// Transition moves the issue to a new state, enforcing the table. Terminal
// transitions carry a reason; non-terminal transitions clear it.
func (i *Issue) Transition(to State, reason string) error {
	if !legal(i.State, to) {
		return &InvalidTransitionError{Fingerprint: i.Fingerprint, From: i.State, To: to}
	}
	i.State = to
	if to.Terminal() {
		i.Reason = reason
	} else {
		i.Reason = ""
	}
	return nil
}

// Observe merges a repeat occurrence into an open issue.
func (i *Issue) Observe(ev *event.Event, now time.Time) {
	i.LastSeen = now
	i.OccurrenceCount++
	i.Payload = clonePayload(ev.Data)
}

// Reopen transitions a terminal issue back to new on a fresh occurrence.
// The occurrence count continues from its prior value; the notification
// cycle restarts.
func (i *Issue) Reopen(ev *event.Event, now time.Time) error {
	if err := i.Transition(StateNew, ""); err != nil {
		return err
	}
	i.LastSeen = now
	i.OpenedAt = now
	i.OccurrenceCount++
	i.Payload = clonePayload(ev.Data)
	i.Owners = nil
	i.LastNotifiedAt = time.Time{}
	i.NotifyCount = 0
	i.EscalationLevel = 0
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing store
// internals.
func (i *Issue) Clone() *Issue {
	cp := *i
	if i.Owners != nil {
		cp.Owners = append([]string(nil), i.Owners...)
	}
	cp.Payload = clonePayload(i.Payload)
	return &cp
}

func clonePayload(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
