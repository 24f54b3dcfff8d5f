package issue

import (
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/herald/internal/event"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testEvent() *event.Event {
	return &event.Event{
		Source: "scanner",
		Data:   map[string]string{"host": "db-1", "check": "tls"},
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	iss := New("01ABC", "scanner_feed", testEvent(), t0)

	if iss.State != StateNew {
		t.Errorf("State = %q, want %q", iss.State, StateNew)
	}
	if iss.Source != "scanner" {
		t.Errorf("Source = %q, want scanner", iss.Source)
	}
	if !iss.FirstSeen.Equal(t0) || !iss.LastSeen.Equal(t0) || !iss.OpenedAt.Equal(t0) {
		t.Errorf("timestamps not initialized to now: first=%v last=%v opened=%v", iss.FirstSeen, iss.LastSeen, iss.OpenedAt)
	}
	if iss.OccurrenceCount != 1 {
		t.Errorf("OccurrenceCount = %d, want 1", iss.OccurrenceCount)
	}
	if iss.Payload["host"] != "db-1" {
		t.Errorf("Payload not captured: %v", iss.Payload)
	}
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()

	terminal := map[State]bool{
		StateNew: false, StateNotified: false, StateAcknowledged: false,
		StateEscalated: false, StateResolved: true, StateIgnored: true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestTransition_Table(t *testing.T) {
	t.Parallel()

	allStates := []State{StateNew, StateNotified, StateAcknowledged, StateEscalated, StateResolved, StateIgnored}

	legal := map[State][]State{
		StateNew:          {StateNotified, StateResolved, StateIgnored},
		StateNotified:     {StateEscalated, StateAcknowledged, StateResolved, StateIgnored},
		StateEscalated:    {StateEscalated, StateAcknowledged, StateResolved, StateIgnored},
		StateAcknowledged: {StateResolved, StateIgnored},
		StateResolved:     {StateNew},
		StateIgnored:      {StateNew},
	}

	allowed := func(from, to State) bool {
		for _, s := range legal[from] {
			if s == to {
				return true
			}
		}
		return false
	}

	for _, from := range allStates {
		for _, to := range allStates {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				t.Parallel()

				iss := New("id", "scanner_fp", testEvent(), t0)
				iss.State = from

				err := iss.Transition(to, "why")
				if allowed(from, to) {
					if err != nil {
						t.Fatalf("legal transition rejected: %v", err)
					}
					if iss.State != to {
						t.Errorf("State = %q after transition, want %q", iss.State, to)
					}
					return
				}

				var invalid *InvalidTransitionError
				if !errors.As(err, &invalid) {
					t.Fatalf("illegal transition: err = %v, want InvalidTransitionError", err)
				}
				if iss.State != from {
					t.Errorf("issue mutated on rejected transition: %q", iss.State)
				}
				if invalid.From != from || invalid.To != to {
					t.Errorf("error reports %s->%s, want %s->%s", invalid.From, invalid.To, from, to)
				}
			})
		}
	}
}

func TestTransition_ReasonHandling(t *testing.T) {
	t.Parallel()

	iss := New("id", "scanner_fp", testEvent(), t0)

	if err := iss.Transition(StateResolved, "fixed upstream"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if iss.Reason != "fixed upstream" {
		t.Errorf("Reason = %q, want %q", iss.Reason, "fixed upstream")
	}

	// reopen clears the terminal reason
	if err := iss.Transition(StateNew, ""); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if iss.Reason != "" {
		t.Errorf("Reason = %q after reopen, want empty", iss.Reason)
	}
}

func TestObserve(t *testing.T) {
	t.Parallel()

	iss := New("id", "scanner_fp", testEvent(), t0)
	later := t0.Add(5 * time.Minute)

	ev2 := testEvent()
	ev2.Data["detail"] = "second run"
	iss.Observe(ev2, later)

	if iss.OccurrenceCount != 2 {
		t.Errorf("OccurrenceCount = %d, want 2", iss.OccurrenceCount)
	}
	if !iss.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", iss.LastSeen, later)
	}
	if !iss.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen moved to %v, want %v", iss.FirstSeen, t0)
	}
	if !iss.OpenedAt.Equal(t0) {
		t.Errorf("OpenedAt moved on observe: %v", iss.OpenedAt)
	}
	if iss.Payload["detail"] != "second run" {
		t.Errorf("Payload not refreshed: %v", iss.Payload)
	}
}

func TestReopen(t *testing.T) {
	t.Parallel()

	iss := New("id", "scanner_fp", testEvent(), t0)
	iss.State = StateResolved
	iss.Reason = "timeout"
	iss.Owners = []string{"alice"}
	iss.LastNotifiedAt = t0.Add(time.Hour)
	iss.NotifyCount = 3
	iss.EscalationLevel = 2

	later := t0.Add(48 * time.Hour)
	if err := iss.Reopen(testEvent(), later); err != nil {
		t.Fatalf("Reopen: %v", err)
	}

	if iss.State != StateNew {
		t.Errorf("State = %q, want new", iss.State)
	}
	if iss.OccurrenceCount != 2 {
		t.Errorf("OccurrenceCount = %d, want 2 (continues across reopen)", iss.OccurrenceCount)
	}
	if !iss.OpenedAt.Equal(later) {
		t.Errorf("OpenedAt = %v, want %v (fresh cycle)", iss.OpenedAt, later)
	}
	if !iss.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen = %v, want %v (audit history survives)", iss.FirstSeen, t0)
	}
	if iss.NotifyCount != 0 || iss.EscalationLevel != 0 || iss.Owners != nil || !iss.LastNotifiedAt.IsZero() {
		t.Errorf("notification cycle not reset: count=%d level=%d owners=%v last=%v",
			iss.NotifyCount, iss.EscalationLevel, iss.Owners, iss.LastNotifiedAt)
	}
	if iss.Reason != "" {
		t.Errorf("Reason = %q, want empty", iss.Reason)
	}
}

func TestReopen_FromOpenStateFails(t *testing.T) {
	t.Parallel()

	iss := New("id", "scanner_fp", testEvent(), t0)
	iss.State = StateNotified

	err := iss.Reopen(testEvent(), t0.Add(time.Hour))
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

func TestClone_NoAliasing(t *testing.T) {
	t.Parallel()

	iss := New("id", "scanner_fp", testEvent(), t0)
	iss.Owners = []string{"alice"}

	cp := iss.Clone()
	cp.Owners[0] = "mallory"
	cp.Payload["host"] = "evil"

	if iss.Owners[0] != "alice" {
		t.Error("Clone shares Owners slice")
	}
	if iss.Payload["host"] != "db-1" {
		t.Error("Clone shares Payload map")
	}
}
