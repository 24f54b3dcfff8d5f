// Package memstore provides an in-memory implementation of issue.Store.
// Suitable for dev and testing; conditional-update semantics match pgstore
// so race behavior is identical across backends.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/herald/internal/issue"
)

// Store holds issues in memory keyed by fingerprint.
type Store struct {
	mu     sync.RWMutex
	issues map[string]*issue.Issue
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{issues: make(map[string]*issue.Issue)}
}

// Get retrieves an issue by fingerprint. Returns a copy.
func (s *Store) Get(_ context.Context, fp string) (*issue.Issue, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iss, ok := s.issues[fp]
	if !ok {
		return nil, false, nil
	}
	return iss.Clone(), true, nil
}

// Create inserts a new issue at version 1.
func (s *Store) Create(_ context.Context, iss *issue.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[iss.Fingerprint]; ok {
		return issue.ErrDuplicateFingerprint
	}
	cp := iss.Clone()
	cp.Version = 1
	s.issues[iss.Fingerprint] = cp
	iss.Version = cp.Version
	return nil
}

// Update writes iss if the stored version matches iss.Version, bumping the
// version on success.
func (s *Store) Update(_ context.Context, iss *issue.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.issues[iss.Fingerprint]
	if !ok || cur.Version != iss.Version {
		return issue.ErrVersionConflict
	}
	cp := iss.Clone()
	cp.Version = cur.Version + 1
	s.issues[iss.Fingerprint] = cp
	iss.Version = cp.Version
	return nil
}

// Replace swaps the stored row for fresh, conditional on oldVersion.
func (s *Store) Replace(_ context.Context, fresh *issue.Issue, oldVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.issues[fresh.Fingerprint]
	if !ok || cur.Version != oldVersion {
		return issue.ErrVersionConflict
	}
	cp := fresh.Clone()
	cp.Version = cur.Version + 1
	s.issues[fresh.Fingerprint] = cp
	fresh.Version = cp.Version
	return nil
}

// ListOpen returns copies of all non-terminal issues in unspecified order.
func (s *Store) ListOpen(_ context.Context) ([]*issue.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*issue.Issue
	for _, iss := range s.issues {
		if !iss.State.Terminal() {
			out = append(out, iss.Clone())
		}
	}
	return out, nil
}
