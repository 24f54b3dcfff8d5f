package issue

import (
	"context"
	"errors"
)

// ErrDuplicateFingerprint is returned by Create when an issue with the same
// fingerprint already exists. The caller lost a create race and should
// re-read.
var ErrDuplicateFingerprint = errors.New("issue: fingerprint already exists")

// ErrVersionConflict is returned by Update and Replace when the row changed
// since the caller's read. Always safe to retry the whole operation from a
// fresh read.
var ErrVersionConflict = errors.New("issue: version conflict")

// Store is the persistence contract for issues. It is the only shared
// mutable resource; all cross-worker coordination happens through its
// conditional updates.
type Store interface {
	// Get returns the issue for a fingerprint, if any.
	Get(ctx context.Context, fingerprint string) (*Issue, bool, error)

	// Create inserts a new issue. Fails with ErrDuplicateFingerprint if the
	// fingerprint is already present.
	Create(ctx context.Context, iss *Issue) error

	// Update writes iss conditionally: it succeeds only if the stored
	// version still equals iss.Version, and bumps the version on success.
	Update(ctx context.Context, iss *Issue) error

	// Replace swaps the stored row for fresh, conditional on the stored
	// version being oldVersion. Used when reopen policy mandates a new
	// issue identity for a recurring terminal fingerprint.
	Replace(ctx context.Context, fresh *Issue, oldVersion int64) error

	// ListOpen returns all non-terminal issues. Order is unspecified.
	ListOpen(ctx context.Context) ([]*Issue, error)
}
