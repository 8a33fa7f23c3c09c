// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"go.leyla.chat/leyla/internal/testutil"
)

func TestLoadDotenv(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TG_TOKEN=from-file\nFREE_QUOTA=5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := &Env{Getenv: func(name string) string {
		if name == "TG_TOKEN" {
			return "from-env"
		}
		return ""
	}}
	if err := env.LoadDotenv(path); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, env.Getenv("TG_TOKEN"), "from-env")
	testutil.AssertEqual(t, env.Getenv("FREE_QUOTA"), "5")
	testutil.AssertEqual(t, env.Getenv("MISSING"), "")
}

func TestLoadDotenvMissingFile(t *testing.T) {
	t.Parallel()

	env := &Env{Getenv: func(string) string { return "" }}
	if err := env.LoadDotenv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file must be ignored, got %v", err)
	}
}

type flagApp struct {
	name string
	ran  bool
}

func (a *flagApp) Flags(fs *flag.FlagSet) { fs.StringVar(&a.name, "name", "", "Name.") }

func (a *flagApp) Run(ctx context.Context) error {
	a.ran = true
	if GetEnv(ctx) == nil {
		return errors.New("no env in context")
	}
	return nil
}

func TestRun(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	app := new(flagApp)
	env := &Env{Args: []string{"-name", "leyla"}, Getenv: os.Getenv, Stderr: &stderr}
	if err := Run(WithEnv(context.Background(), env), app); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, app.name, "leyla")
	testutil.AssertEqual(t, app.ran, true)
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	env := &Env{Args: []string{"-version"}, Getenv: os.Getenv, Stderr: &stderr}
	err := Run(WithEnv(context.Background(), env), AppFunc(func(context.Context) error {
		t.Fatal("app must not run")
		return nil
	}))
	if !errors.Is(err, ErrExitVersion) {
		t.Fatalf("got %v, want ErrExitVersion", err)
	}
	if isPrintableError(err) {
		t.Fatal("ErrExitVersion must not be printable")
	}
}
