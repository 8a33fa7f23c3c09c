// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package entitlement

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"

	"go.leyla.chat/leyla/internal/filelock"
	"go.leyla.chat/leyla/internal/testutil"
)

func TestParseUserID(t *testing.T) {
	cases := map[string]struct {
		in   string
		want UserID
	}{
		"plain number":     {in: "42", want: "42"},
		"whitespace":       {in: "  42\n", want: "42"},
		"leading plus":     {in: "+42", want: "42"},
		"leading zeros":    {in: "00042", want: "42"},
		"zero":             {in: "000", want: "0"},
		"negative chat":    {in: "-1001234", want: "-1001234"},
		"negative zero":    {in: "-0", want: "0"},
		"opaque string":    {in: "user_abc", want: "user_abc"},
		"mixed is opaque":  {in: "042abc", want: "042abc"},
		"empty":            {in: "   ", want: ""},
		"lone sign":        {in: "+", want: "+"},
		"huge number kept": {in: "123456789012345678901234567890", want: "123456789012345678901234567890"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, ParseUserID(tc.in), tc.want)
		})
	}
	testutil.AssertEqual(t, UserIDFromInt64(42), ParseUserID("42"))
	n, ok := UserID("42").Int64()
	testutil.AssertEqual(t, n, int64(42))
	testutil.AssertEqual(t, ok, true)
	_, ok = UserID("abc").Int64()
	testutil.AssertEqual(t, ok, false)
}

func TestStoreWriteError(t *testing.T) {
	err := fmt.Errorf("applying event: %w", &StoreWriteError{Op: "grant", User: "42", Err: fs.ErrPermission})
	if !errors.Is(err, ErrStoreWrite) {
		t.Error("StoreWriteError doesn't match ErrStoreWrite")
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("StoreWriteError doesn't match the underlying error")
	}
	var swe *StoreWriteError
	if !errors.As(err, &swe) || swe.User != "42" {
		t.Errorf("errors.As failed: %v", err)
	}
}

// testStore checks the behavior every Store must have.
func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	// Not entitled before any grant, entitled after any number of grants.
	testutil.AssertEqual(t, s.IsEntitled(ctx, "42"), false)
	for range 3 {
		if err := s.Grant(ctx, "42"); err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, s.IsEntitled(ctx, "42"), true)
	}
	if err := s.Grant(ctx, "7"); err != nil {
		t.Fatal(err)
	}

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, ids, []UserID{"42", "7"})

	// Revoke, then revoke again.
	if err := s.Revoke(ctx, "42"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, s.IsEntitled(ctx, "42"), false)
	if err := s.Revoke(ctx, "42"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if err := s.Revoke(ctx, "never-granted"); err != nil {
		t.Fatalf("revoking a stranger: %v", err)
	}
	testutil.AssertEqual(t, s.IsEntitled(ctx, "7"), true)

	if err := s.Grant(ctx, ""); !errors.Is(err, ErrEmptyUserID) {
		t.Fatalf("Grant(\"\") = %v, want ErrEmptyUserID", err)
	}

	// Concurrent grants and revokes of different users don't interfere.
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := UserIDFromInt64(int64(1000 + i))
			if err := s.Grant(ctx, id); err != nil {
				t.Error(err)
			}
			if i%2 == 0 {
				if err := s.Revoke(ctx, id); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()
	for i := range 20 {
		id := UserIDFromInt64(int64(1000 + i))
		testutil.AssertEqual(t, s.IsEntitled(ctx, id), i%2 == 1)
	}
}

func TestMemStore(t *testing.T) {
	testStore(t, NewMemStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitlements.json")
	s, err := OpenFileStore(path, 2, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)

	// Only one process may own the file.
	if _, err := OpenFileStore(path, 2, zerolog.Nop()); !errors.Is(err, filelock.ErrAlreadyLocked) {
		t.Fatalf("second OpenFileStore = %v, want filelock.ErrAlreadyLocked", err)
	}

	// Entitlements survive a restart.
	want, _ := s.List(t.Context())
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	reopened, err := OpenFileStore(path, 2, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reopened.Close() })
	got, _ := reopened.List(t.Context())
	testutil.AssertEqual(t, got, want)
	testutil.AssertEqual(t, reopened.IsEntitled(t.Context(), "7"), true)
}

func TestFileStoreWriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitlements.json")
	s, err := OpenFileStore(path, 0, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Grant(t.Context(), "7"); err != nil {
		t.Fatal(err)
	}

	s.write = func(string, []byte, fs.FileMode, int) error { return fs.ErrPermission }

	err = s.Grant(t.Context(), "42")
	if !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("Grant = %v, want ErrStoreWrite", err)
	}
	// Memory doesn't claim what the disk doesn't hold.
	testutil.AssertEqual(t, s.IsEntitled(t.Context(), "42"), false)

	err = s.Revoke(t.Context(), "7")
	if !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("Revoke = %v, want ErrStoreWrite", err)
	}
	testutil.AssertEqual(t, s.IsEntitled(t.Context(), "7"), true)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitlements.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileStore(path, 0, zerolog.Nop()); err == nil {
		t.Fatal("want error for a corrupt file")
	}
}

func TestFileStoreCanonicalisesOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitlements.json")
	if err := os.WriteFile(path, []byte(`{"users": {" 042 ": "2025-01-01T00:00:00Z"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := OpenFileStore(path, 0, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, s.IsEntitled(t.Context(), "42"), true)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "leyla.db"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Ping(t.Context()); err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx := context.Background()
	s, err := OpenPostgres(ctx, databaseURL, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Clean up the table before running the test.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entitlements"); err != nil {
		t.Fatal(err)
	}

	testStore(t, s)
}

func TestSQLStoreMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS entitlements`).WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLStore(t.Context(), db, Postgres, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("grant uses upsert", func(t *testing.T) {
		mock.ExpectExec(`(?s)INSERT INTO entitlements.*VALUES \(\$1, \$2\).*ON CONFLICT \(user_id\) DO NOTHING`).
			WithArgs("42", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		if err := s.Grant(t.Context(), "42"); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("grant failure is a store write error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO entitlements`).
			WithArgs("42", sqlmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))
		err := s.Grant(t.Context(), "42")
		if !errors.Is(err, ErrStoreWrite) {
			t.Fatalf("Grant = %v, want ErrStoreWrite", err)
		}
	})

	t.Run("revoke deletes", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM entitlements WHERE user_id = \$1`).
			WithArgs("42").
			WillReturnResult(sqlmock.NewResult(0, 0))
		if err := s.Revoke(t.Context(), "42"); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("lookup", func(t *testing.T) {
		mock.ExpectQuery(`SELECT 1 FROM entitlements WHERE user_id = \$1`).
			WithArgs("42").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		testutil.AssertEqual(t, s.IsEntitled(t.Context(), "42"), true)
	})

	t.Run("lookup failure means not entitled", func(t *testing.T) {
		mock.ExpectQuery(`SELECT 1 FROM entitlements WHERE user_id = \$1`).
			WithArgs("42").
			WillReturnError(errors.New("connection reset"))
		testutil.AssertEqual(t, s.IsEntitled(t.Context(), "42"), false)
	})

	t.Run("list", func(t *testing.T) {
		mock.ExpectQuery(`SELECT user_id FROM entitlements ORDER BY user_id`).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("100").AddRow("42"))
		ids, err := s.List(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, ids, []UserID{"100", "42"})
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]struct {
		spec    string
		wantErr bool
		check   func(t *testing.T, s Store)
	}{
		"mem": {
			spec: "mem:",
			check: func(t *testing.T, s Store) {
				if _, ok := s.(*MemStore); !ok {
					t.Fatalf("got %T", s)
				}
			},
		},
		"file": {
			spec: "file:" + filepath.Join(dir, "a.json"),
			check: func(t *testing.T, s Store) {
				if _, ok := s.(*FileStore); !ok {
					t.Fatalf("got %T", s)
				}
			},
		},
		"bare json path": {
			spec: filepath.Join(dir, "b.json"),
			check: func(t *testing.T, s Store) {
				if _, ok := s.(*FileStore); !ok {
					t.Fatalf("got %T", s)
				}
			},
		},
		"sqlite": {
			spec: "sqlite:" + filepath.Join(dir, "c.db"),
			check: func(t *testing.T, s Store) {
				if _, ok := s.(*SQLStore); !ok {
					t.Fatalf("got %T", s)
				}
			},
		},
		"empty":   {spec: "", wantErr: true},
		"unknown": {spec: "mongodb://localhost", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := Open(t.Context(), tc.spec, zerolog.Nop())
			if tc.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()
			tc.check(t, s)
		})
	}
}
