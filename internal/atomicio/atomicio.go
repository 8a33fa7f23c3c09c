// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio provides durable atomic file writing with optional backups.
package atomicio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const backupTimeFormat = "20060102150405.000000000"

// WriteFile writes data to a file atomically. When WriteFile returns nil, the
// new contents are flushed to stable storage: readers see either the old or
// the new file, never a torn one, even after a crash.
func WriteFile(name string, data []byte, perm fs.FileMode) error {
	return WriteFileWithBackups(name, data, perm, 0)
}

// WriteFileWithBackups is like [WriteFile], but moves the previous version of
// the file aside as a timestamped backup and keeps at most keep backups.
func WriteFileWithBackups(name string, data []byte, perm fs.FileMode, keep int) (err error) {
	// The temporary file must live on the same filesystem for os.Rename to be
	// atomic.
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if keep > 0 {
		if err := backup(name); err != nil {
			return err
		}
	}

	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}
	if err := syncDir(filepath.Dir(name)); err != nil {
		return err
	}

	if keep > 0 {
		return pruneBackups(name, keep)
	}
	return nil
}

func backup(name string) error {
	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	backupName := name + "." + time.Now().UTC().Format(backupTimeFormat) + ".bak"
	return os.WriteFile(backupName, data, 0o600)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some platforms can't fsync directories; the rename itself is still atomic.
	d.Sync()
	return nil
}

func pruneBackups(name string, keep int) error {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return err
	}
	if len(backups) <= keep {
		return nil
	}

	slices.Sort(backups)
	for _, b := range backups[:len(backups)-keep] {
		if err := os.Remove(b); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
