package dedup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/herald/internal/event"
	"github.com/linnemanlabs/herald/internal/fingerprint"
	"github.com/linnemanlabs/herald/internal/issue"
	"github.com/linnemanlabs/herald/internal/issue/memstore"
	"github.com/linnemanlabs/herald/internal/policy"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testPolicy = `
defaults:
  identity_fields: [host, check]
sources:
  scanner:
    identity_fields: [host, check]
  oneshot:
    identity_fields: [job]
    reopen: false
`

func newDeduper(t *testing.T, store issue.Store) *Deduplicator {
	t.Helper()
	reg, err := policy.Parse([]byte(testPolicy))
	if err != nil {
		t.Fatalf("policy.Parse: %v", err)
	}
	d := New(store, reg, nil, nil)
	d.now = func() time.Time { return t0 }
	return d
}

func testEvent(source, host string) *event.Event {
	return &event.Event{
		Source: source,
		Data:   map[string]string{"host": host, "check": "tls", "detail": "cert expires soon"},
	}
}

func TestIngest_Create(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	d := newDeduper(t, store)

	res, err := d.Ingest(context.Background(), testEvent("scanner", "db-1"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("Outcome = %q, want created", res.Outcome)
	}
	if res.State != issue.StateNew {
		t.Errorf("State = %q, want new", res.State)
	}
	if !strings.HasPrefix(res.Fingerprint, "scanner_") {
		t.Errorf("Fingerprint = %q, want scanner_ prefix", res.Fingerprint)
	}

	iss, ok, _ := store.Get(context.Background(), res.Fingerprint)
	if !ok {
		t.Fatal("issue not persisted")
	}
	if iss.ID != res.IssueID {
		t.Errorf("stored ID = %q, result ID = %q", iss.ID, res.IssueID)
	}
}

func TestIngest_Update(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	d := newDeduper(t, store)
	ctx := context.Background()

	first, err := d.Ingest(ctx, testEvent("scanner", "db-1"))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	later := t0.Add(5 * time.Minute)
	d.now = func() time.Time { return later }

	ev2 := testEvent("scanner", "db-1")
	ev2.Data["detail"] = "cert expired"
	second, err := d.Ingest(ctx, ev2)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if second.Outcome != OutcomeUpdated {
		t.Errorf("Outcome = %q, want updated", second.Outcome)
	}
	if second.IssueID != first.IssueID {
		t.Errorf("IssueID changed %q -> %q on dedup hit", first.IssueID, second.IssueID)
	}

	iss, _, _ := store.Get(ctx, first.Fingerprint)
	if iss.OccurrenceCount != 2 {
		t.Errorf("OccurrenceCount = %d, want 2", iss.OccurrenceCount)
	}
	if !iss.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", iss.LastSeen, later)
	}
	if !iss.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen = %v, want %v", iss.FirstSeen, t0)
	}
	if iss.Payload["detail"] != "cert expired" {
		t.Errorf("payload not refreshed: %v", iss.Payload)
	}
}

// Identity fields define the issue, the rest of the payload does not.
func TestIngest_VolatileFieldsStillDedup(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	d := newDeduper(t, store)
	ctx := context.Background()

	ev1 := testEvent("scanner", "db-1")
	ev2 := testEvent("scanner", "db-1")
	ev2.Data["detail"] = "different every run"
	ev2.Data["timestamp"] = "2026-03-01T12:05:00Z"

	a, err := d.Ingest(ctx, ev1)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	b, err := d.Ingest(ctx, ev2)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if a.Fingerprint != b.Fingerprint {
		t.Errorf("fingerprints diverged on volatile fields: %q vs %q", a.Fingerprint, b.Fingerprint)
	}
	if b.Outcome != OutcomeUpdated {
		t.Errorf("Outcome = %q, want updated", b.Outcome)
	}
}

func TestIngest_Reopen(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	d := newDeduper(t, store)
	ctx := context.Background()

	first, err := d.Ingest(ctx, testEvent("scanner", "db-1"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	iss, _, _ := store.Get(ctx, first.Fingerprint)
	if err := iss.Transition(issue.StateResolved, "fixed"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.Update(ctx, iss); err != nil {
		t.Fatalf("Update: %v", err)
	}

	later := t0.Add(48 * time.Hour)
	d.now = func() time.Time { return later }

	res, err := d.Ingest(ctx, testEvent("scanner", "db-1"))
	if err != nil {
		t.Fatalf("reopen Ingest: %v", err)
	}
	if res.Outcome != OutcomeReopened {
		t.Errorf("Outcome = %q, want reopened", res.Outcome)
	}
	if res.IssueID != first.IssueID {
		t.Errorf("IssueID changed on reopen: %q -> %q", first.IssueID, res.IssueID)
	}

	got, _, _ := store.Get(ctx, first.Fingerprint)
	if got.State != issue.StateNew {
		t.Errorf("State = %q, want new", got.State)
	}
	if got.OccurrenceCount != 2 {
		t.Errorf("OccurrenceCount = %d, want 2 (history continues)", got.OccurrenceCount)
	}
	if !got.OpenedAt.Equal(later) {
		t.Errorf("OpenedAt = %v, want %v (fresh notification cycle)", got.OpenedAt, later)
	}
	if !got.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen = %v, want %v", got.FirstSeen, t0)
	}
}

func TestIngest_Replace(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	d := newDeduper(t, store)
	ctx := context.Background()

	ev := &event.Event{Source: "oneshot", Data: map[string]string{"job": "nightly"}}
	first, err := d.Ingest(ctx, ev)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	iss, _, _ := store.Get(ctx, first.Fingerprint)
	if err := iss.Transition(issue.StateResolved, "fixed"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.Update(ctx, iss); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ev2 := &event.Event{Source: "oneshot", Data: map[string]string{"job": "nightly"}}
	res, err := d.Ingest(ctx, ev2)
	if err != nil {
		t.Fatalf("replace Ingest: %v", err)
	}
	if res.Outcome != OutcomeReplaced {
		t.Errorf("Outcome = %q, want replaced", res.Outcome)
	}
	if res.IssueID == first.IssueID {
		t.Error("replace kept the old issue ID, want a fresh one")
	}

	got, _, _ := store.Get(ctx, first.Fingerprint)
	if got.OccurrenceCount != 1 {
		t.Errorf("OccurrenceCount = %d, want 1 (fresh issue)", got.OccurrenceCount)
	}
}

func TestIngest_InvalidEvent(t *testing.T) {
	t.Parallel()

	d := newDeduper(t, memstore.New())

	_, err := d.Ingest(context.Background(), &event.Event{Source: "scanner"})
	if err == nil {
		t.Fatal("Ingest accepted an event with no data")
	}
}

func TestIngest_FingerprintConfigError(t *testing.T) {
	t.Parallel()

	d := newDeduper(t, memstore.New())

	// identity fields are host+check; an event carrying neither cannot be
	// fingerprinted
	ev := &event.Event{Source: "scanner", Data: map[string]string{"unrelated": "x"}}
	_, err := d.Ingest(context.Background(), ev)

	var cfgErr *fingerprint.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if cfgErr.Source != "scanner" {
		t.Errorf("ConfigError.Source = %q, want scanner", cfgErr.Source)
	}
	if !cfgErr.EventMissingFields {
		t.Error("EventMissingFields = false, want true")
	}
}

func TestIngest_SetsReceivedAt(t *testing.T) {
	t.Parallel()

	d := newDeduper(t, memstore.New())

	ev := testEvent("scanner", "db-1")
	if _, err := d.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !ev.ReceivedAt.Equal(t0) {
		t.Errorf("ReceivedAt = %v, want stamped with %v", ev.ReceivedAt, t0)
	}
}

func TestIngest_ConcurrentSameFingerprint(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	d := newDeduper(t, store)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)

	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			results[i], errs[i] = d.Ingest(ctx, testEvent("scanner", "db-1"))
		}()
	}
	wg.Wait()

	var created int
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("ingest %d: %v", i, errs[i])
		}
		if results[i].Outcome == OutcomeCreated {
			created++
		}
	}
	if created != 1 {
		t.Errorf("created = %d, want exactly 1", created)
	}

	iss, _, _ := store.Get(ctx, results[0].Fingerprint)
	if iss.OccurrenceCount != n {
		t.Errorf("OccurrenceCount = %d, want %d (no lost updates)", iss.OccurrenceCount, n)
	}
}
