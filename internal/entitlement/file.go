// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"go.leyla.chat/leyla/internal/atomicio"
	"go.leyla.chat/leyla/internal/filelock"
)

// FileStore is a [Store] backed by a JSON file. The whole file is rewritten
// atomically on every mutation, which is fine for the number of paying users a
// chat bot has. A lock file next to it keeps other processes from opening
// the same file.
type FileStore struct {
	path   string
	keep   int
	logger zerolog.Logger
	lock   *filelock.Lock

	mu    sync.RWMutex // held across mutation and flush
	users map[UserID]time.Time

	// used in tests
	write func(name string, data []byte, perm fs.FileMode, keep int) error
}

type fileContents struct {
	Users map[UserID]time.Time `json:"users"`
}

// DefaultBackups is the number of previous versions of the entitlement file
// kept next to it.
const DefaultBackups = 5

// OpenFileStore opens the entitlement file at path, creating an empty store if
// the file doesn't exist yet. keep previous versions of the file are retained
// as backups.
func OpenFileStore(path string, keep int, logger zerolog.Logger) (*FileStore, error) {
	lock, err := filelock.Acquire(path + ".lock")
	if err != nil {
		return nil, err
	}
	s := &FileStore{
		path:   path,
		keep:   keep,
		logger: logger,
		lock:   lock,
		users:  make(map[UserID]time.Time),
		write:  atomicio.WriteFileWithBackups,
	}
	if err := s.load(); err != nil {
		return nil, errors.Join(err, lock.Release())
	}
	return s, nil
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info().Str("path", s.path).Msg("entitlement file doesn't exist, starting empty")
		return nil
	}
	if err != nil {
		return err
	}
	var fc fileContents
	if err := json.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	for id, at := range fc.Users {
		if id = ParseUserID(string(id)); !id.IsZero() {
			s.users[id] = at
		}
	}
	s.logger.Info().Str("path", s.path).Int("users", len(s.users)).Msg("loaded entitlements")
	return nil
}

// IsEntitled implements [Store].
func (s *FileStore) IsEntitled(_ context.Context, id UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok
}

// Grant implements [Store].
func (s *FileStore) Grant(_ context.Context, id UserID) error {
	if id.IsZero() {
		return ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; ok {
		return nil
	}
	s.users[id] = time.Now().UTC()
	if err := s.flush(); err != nil {
		delete(s.users, id)
		return &StoreWriteError{Op: "grant", User: id, Err: err}
	}
	return nil
}

// Revoke implements [Store].
func (s *FileStore) Revoke(_ context.Context, id UserID) error {
	if id.IsZero() {
		return ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.users[id]
	if !ok {
		return nil
	}
	delete(s.users, id)
	if err := s.flush(); err != nil {
		s.users[id] = at
		return &StoreWriteError{Op: "revoke", User: id, Err: err}
	}
	return nil
}

// flush must be called with s.mu held.
func (s *FileStore) flush() error {
	b, err := json.MarshalIndent(fileContents{Users: s.users}, "", "  ")
	if err != nil {
		return err
	}
	return s.write(s.path, b, 0o600, s.keep)
}

// List implements [Store].
func (s *FileStore) List(context.Context) ([]UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.users)), nil
}

// Close implements [Store]. It releases the lock file.
func (s *FileStore) Close() error { return s.lock.Release() }
