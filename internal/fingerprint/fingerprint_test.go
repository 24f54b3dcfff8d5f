package fingerprint

import (
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/herald/internal/event"
)

func ev(source string, data map[string]string) *event.Event {
	return &event.Event{Source: source, Data: data}
}

func TestNew_Deterministic(t *testing.T) {
	t.Parallel()

	e := ev("scanner", map[string]string{"host": "db-1", "check": "tls", "detail": "x"})
	fields := []string{"host", "check"}

	a, err := New(e, fields)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(e, fields)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a != b {
		t.Errorf("same input produced %q and %q", a, b)
	}
}

func TestNew_SourcePrefix(t *testing.T) {
	t.Parallel()

	e := ev("scanner", map[string]string{"host": "db-1"})
	fp, err := New(e, []string{"host"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strings.HasPrefix(fp, "scanner_") {
		t.Errorf("fingerprint %q lacks source prefix", fp)
	}
	// source prefix + 128-bit hex digest
	if len(fp) != len("scanner_")+32 {
		t.Errorf("fingerprint length = %d, want %d", len(fp), len("scanner_")+32)
	}
}

func TestNew_FieldOrderIrrelevant(t *testing.T) {
	t.Parallel()

	e := ev("scanner", map[string]string{"host": "db-1", "check": "tls"})

	a, _ := New(e, []string{"host", "check"})
	b, _ := New(e, []string{"check", "host"})
	if a != b {
		t.Errorf("identity field order changed fingerprint: %q vs %q", a, b)
	}
}

func TestNew_VolatileFieldsIgnored(t *testing.T) {
	t.Parallel()

	a, _ := New(ev("scanner", map[string]string{"host": "db-1", "detail": "run 1"}), []string{"host"})
	b, _ := New(ev("scanner", map[string]string{"host": "db-1", "detail": "run 2"}), []string{"host"})
	if a != b {
		t.Errorf("non-identity field changed fingerprint: %q vs %q", a, b)
	}
}

func TestNew_IdentityValueChanges(t *testing.T) {
	t.Parallel()

	a, _ := New(ev("scanner", map[string]string{"host": "db-1"}), []string{"host"})
	b, _ := New(ev("scanner", map[string]string{"host": "db-2"}), []string{"host"})
	if a == b {
		t.Error("different identity values produced the same fingerprint")
	}
}

func TestNew_SourcesNeverCollide(t *testing.T) {
	t.Parallel()

	data := map[string]string{"host": "db-1"}
	a, _ := New(ev("scanner", data), []string{"host"})
	b, _ := New(ev("auditor", data), []string{"host"})
	if a == b {
		t.Error("same payload across sources produced the same fingerprint")
	}
}

func TestNew_MissingFieldContributesEmpty(t *testing.T) {
	t.Parallel()

	// a missing identity field dedupes with an explicitly empty one
	a, err := New(ev("scanner", map[string]string{"host": "db-1"}), []string{"host", "check"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(ev("scanner", map[string]string{"host": "db-1", "check": ""}), []string{"host", "check"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a != b {
		t.Errorf("missing vs empty identity field diverged: %q vs %q", a, b)
	}
}

func TestNew_DuplicateFieldsCollapse(t *testing.T) {
	t.Parallel()

	e := ev("scanner", map[string]string{"host": "db-1"})
	a, _ := New(e, []string{"host"})
	b, _ := New(e, []string{"host", "host", ""})
	if a != b {
		t.Errorf("duplicate/empty field names changed fingerprint: %q vs %q", a, b)
	}
}

func TestNew_NoUsableFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields []string
	}{
		{"nil fields", nil},
		{"empty slice", []string{}},
		{"only empty names", []string{"", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(ev("scanner", map[string]string{"host": "x"}), tt.fields)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if cfgErr.Source != "scanner" {
				t.Errorf("ConfigError.Source = %q, want scanner", cfgErr.Source)
			}
		})
	}
}

func TestNew_NoIdentityFieldPresent(t *testing.T) {
	t.Parallel()

	// an event carrying none of its identity fields must not hash over
	// all-empty values, that would fold every such event into one issue
	_, err := New(ev("scanner", map[string]string{"unrelated": "x"}), []string{"host", "check"})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if cfgErr.Source != "scanner" {
		t.Errorf("ConfigError.Source = %q, want scanner", cfgErr.Source)
	}
	if !cfgErr.EventMissingFields {
		t.Error("EventMissingFields = false, want true for an event-caused failure")
	}
}

func TestNew_EmbeddedSeparatorsDoNotCollide(t *testing.T) {
	t.Parallel()

	// values containing pair-separator lookalikes must not forge other pairs
	a, err := New(ev("s", map[string]string{"a": "1\nb=2", "b": ""}), []string{"a", "b"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(ev("s", map[string]string{"a": "1", "b": "2\nb="}), []string{"a", "b"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a == b {
		t.Errorf("distinct events collided on %q", a)
	}
}

func TestToken_RoundTrip(t *testing.T) {
	t.Parallel()

	fp := "scanner_0123456789abcdef0123456789abcdef"
	token := Token(fp, "secret")

	if !VerifyToken(fp, token, "secret") {
		t.Error("VerifyToken rejected its own token")
	}
	if VerifyToken(fp, token, "other-secret") {
		t.Error("VerifyToken accepted token under wrong secret")
	}
	if VerifyToken("scanner_ffffffffffffffffffffffffffffffff", token, "secret") {
		t.Error("VerifyToken accepted token for different fingerprint")
	}
	if VerifyToken(fp, "", "secret") {
		t.Error("VerifyToken accepted empty token")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fp      string
		wantErr bool
	}{
		{"valid", "scanner_0123456789abcdef", false},
		{"minimum length", "abcd1234", false},
		{"dots and dashes", "my-source_a.b-c_d", false},
		{"empty", "", true},
		{"too short", "abc", true},
		{"too long", strings.Repeat("a", 1025), true},
		{"at max length", strings.Repeat("a", 1024), false},
		{"whitespace", "has space_here", true},
		{"slash", "a/b/c/d/e", true},
		{"non-ascii", "snöflinga_123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.fp)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) = %v, wantErr %v", tt.fp, err, tt.wantErr)
			}
		})
	}
}

func FuzzNew(f *testing.F) {
	f.Add("scanner", "host", "db-1", "check", "tls")
	f.Add("", "", "", "", "")
	f.Add("s", "k", strings.Repeat("v", 4096), "k2", "v2")

	f.Fuzz(func(t *testing.T, source, k1, v1, k2, v2 string) {
		e := ev(source, map[string]string{k1: v1, k2: v2})
		fields := []string{k1, k2}

		fp, err := New(e, fields)
		if err != nil {
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}

		// deterministic
		again, err := New(e, fields)
		if err != nil {
			t.Fatalf("second call errored: %v", err)
		}
		if fp != again {
			t.Errorf("non-deterministic: %q vs %q", fp, again)
		}
		if !strings.HasPrefix(fp, source+"_") {
			t.Errorf("fingerprint %q lacks source prefix %q", fp, source)
		}
	})
}
