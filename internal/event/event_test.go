package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{"valid", Event{Source: "scanner", Data: map[string]string{"host": "db-1"}}, false},
		{"missing source", Event{Data: map[string]string{"host": "db-1"}}, true},
		{"nil data", Event{Source: "scanner"}, true},
		{"empty data", Event{Source: "scanner", Data: map[string]string{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnmarshalJSON_CoercesValueTypes(t *testing.T) {
	t.Parallel()

	raw := `{
		"source": "scanner",
		"data": {
			"host": "db-1",
			"port": 5432,
			"ratio": 0.25,
			"open": true,
			"note": null,
			"tags": ["tls", "prod"],
			"extra": {"region": "eu-west-1"}
		}
	}`

	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := map[string]string{
		"host":  "db-1",
		"port":  "5432",
		"ratio": "0.25",
		"open":  "true",
		"note":  "",
		"tags":  `["tls","prod"]`,
		"extra": `{"region":"eu-west-1"}`,
	}
	for k, w := range want {
		if got := e.Data[k]; got != w {
			t.Errorf("Data[%q] = %q, want %q", k, got, w)
		}
	}
	if e.Source != "scanner" {
		t.Errorf("Source = %q", e.Source)
	}
}

func TestUnmarshalJSON_ReceivedAtAndNilData(t *testing.T) {
	t.Parallel()

	var e Event
	raw := `{"source": "scanner", "received_at": "2026-03-01T12:00:00Z"}`
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Data != nil {
		t.Errorf("Data = %v, want nil", e.Data)
	}
	if !e.ReceivedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("ReceivedAt = %v", e.ReceivedAt)
	}
}
