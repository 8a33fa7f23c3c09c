// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package entitlement

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemStore is an in-memory [Store]. Nothing survives a restart, so it is only
// useful for tests and local development.
type MemStore struct {
	mu    sync.RWMutex
	users map[UserID]time.Time
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{users: make(map[UserID]time.Time)}
}

// IsEntitled implements [Store].
func (s *MemStore) IsEntitled(_ context.Context, id UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok
}

// Grant implements [Store].
func (s *MemStore) Grant(_ context.Context, id UserID) error {
	if id.IsZero() {
		return ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		s.users[id] = time.Now()
	}
	return nil
}

// Revoke implements [Store].
func (s *MemStore) Revoke(_ context.Context, id UserID) error {
	if id.IsZero() {
		return ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

// List implements [Store].
func (s *MemStore) List(context.Context) ([]UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.users)), nil
}

// Close implements [Store].
func (s *MemStore) Close() error { return nil }
