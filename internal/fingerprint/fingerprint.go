// Package fingerprint derives stable deduplication keys from events.
// Two events that agree on their source's identity fields map to the same
// fingerprint and are treated as the same logical issue.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/linnemanlabs/herald/internal/event"
)

// hashBytes is the truncated digest length: 128 bits, 32 hex characters.
const hashBytes = 16

const (
	minLength = 8
	maxLength = 1024
)

// ConfigError reports that an event could not be fingerprinted over its
// source's identity fields. It is fatal at ingestion time: silently
// fingerprinting over the whole event would make dedup behavior depend on
// volatile payload fields.
type ConfigError struct {
	Source string
	Reason string

	// EventMissingFields is true when the configuration itself is usable but
	// the event carries none of the identity fields. That is the submitter's
	// defect, not the operator's.
	EventMissingFields bool
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fingerprint config for source %q: %s", e.Source, e.Reason)
}

// New computes the fingerprint of an event over the given identity fields.
//
// The digest is SHA-256 over the JSON encoding of the field-to-value map,
// truncated to 128 bits and hex encoded, prefixed with the event source so
// fingerprints never collide across sources. JSON gives an unambiguous
// canonical form: keys are sorted and values are quoted, so embedded
// separators in a value can never forge another pair. A partially missing
// identity field contributes an empty value, but an event carrying none of
// them is rejected: hashing over all-empty values would collapse every such
// event for the source into one issue.
//
// Determinism is the contract: no randomness, no clock, and no sensitivity
// to payload key order.
func New(ev *event.Event, identityFields []string) (string, error) {
	if len(identityFields) == 0 {
		return "", &ConfigError{Source: ev.Source, Reason: "no identity fields configured"}
	}

	names := make(map[string]struct{}, len(identityFields))
	for _, f := range identityFields {
		if f != "" {
			names[f] = struct{}{}
		}
	}
	if len(names) == 0 {
		return "", &ConfigError{Source: ev.Source, Reason: "identity fields resolve to zero usable fields"}
	}

	pairs := make(map[string]string, len(names))
	present := 0
	for f := range names {
		v, ok := ev.Data[f]
		if ok {
			present++
		}
		pairs[f] = v
	}
	if present == 0 {
		return "", &ConfigError{
			Source:             ev.Source,
			Reason:             "event carries none of the identity fields",
			EventMissingFields: true,
		}
	}

	canonical, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return ev.Source + "_" + hex.EncodeToString(sum[:hashBytes]), nil
}

// Token returns an HMAC-SHA256 hexdigest authenticating the fingerprint.
// Action links embedded in notifications carry this token so that ack and
// resolve endpoints can verify the link without a bearer credential.
func Token(fp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fp))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken reports whether token authenticates fp under secret, in
// constant time.
func VerifyToken(fp, token, secret string) bool {
	want := Token(fp, secret)
	return hmac.Equal([]byte(token), []byte(want))
}

var syntaxRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Validate checks that an externally supplied fingerprint string is
// well-formed before it is used in a store lookup.
func Validate(fp string) error {
	switch {
	case fp == "":
		return fmt.Errorf("fingerprint invalid: empty")
	case len(fp) < minLength:
		return fmt.Errorf("fingerprint invalid: shorter than %d characters", minLength)
	case len(fp) > maxLength:
		return fmt.Errorf("fingerprint invalid: longer than %d characters", maxLength)
	case !syntaxRe.MatchString(fp):
		return fmt.Errorf("fingerprint invalid: contains invalid characters")
	}
	return nil
}
