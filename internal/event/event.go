// Package event defines the raw input record herald ingests. Events are
// immutable once received; issues reference them as occurrences but never
// mutate them.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Event is a single observed occurrence reported by an upstream detector.
type Event struct {
	// Source tags which detector produced the event. It scopes the
	// fingerprint namespace and selects the escalation policy.
	Source string `json:"source"`

	// Data is the arbitrary key/value payload of the detection. Values are
	// stored as strings; non-string JSON values are coerced on decode (see
	// UnmarshalJSON) so fingerprinting and policy lookups stay string-typed.
	Data map[string]string `json:"data"`

	// ReceivedAt is stamped at ingestion time.
	ReceivedAt time.Time `json:"received_at"`
}

// UnmarshalJSON decodes an event, coercing non-string data values to their
// string form: numbers and booleans keep their literal token, null becomes
// empty, and nested objects or arrays are kept as compact JSON. Detectors
// post whatever value types they have; identity is defined over the string
// forms.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		Source     string                     `json:"source"`
		Data       map[string]json.RawMessage `json:"data"`
		ReceivedAt time.Time                  `json:"received_at"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	e.Source = raw.Source
	e.ReceivedAt = raw.ReceivedAt
	if raw.Data == nil {
		e.Data = nil
		return nil
	}

	e.Data = make(map[string]string, len(raw.Data))
	for k, v := range raw.Data {
		s, err := coerceString(v)
		if err != nil {
			return err
		}
		e.Data[k] = s
	}
	return nil
}

func coerceString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return "", nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case bytes.Equal(trimmed, []byte("null")):
		return "", nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
}

// Validate checks the minimal shape an event must have before ingestion.
func (e *Event) Validate() error {
	if e.Source == "" {
		return errors.New("event: missing source")
	}
	if len(e.Data) == 0 {
		return errors.New("event: empty data payload")
	}
	return nil
}
