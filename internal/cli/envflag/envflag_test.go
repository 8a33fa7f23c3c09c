// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package envflag

import (
	"flag"
	"io"
	"testing"
	"time"

	"go.leyla.chat/leyla/internal/testutil"
)

func TestApply(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	s := New(fs)

	var (
		addr  = Value(s, "addr", "ADDR", "localhost:3000", "Listen address.")
		quota = Value(s, "free-quota", "FREE_QUOTA", 3, "Free messages.")
		prod  = Value(s, "prod", "PROD", false, "Production mode.")
		ttl   = Value(s, "ttl", "TTL", time.Hour, "TTL.")
		owner = Value(s, "owner", "TG_OWNER", int64(0), "Owner.")
	)

	if err := fs.Parse([]string{"-addr", ":8080", "-prod"}); err != nil {
		t.Fatal(err)
	}
	env := map[string]string{
		"ADDR":       ":9999", // command line wins
		"FREE_QUOTA": "5",
		"TTL":        "10m",
		"TG_OWNER":   "123456789",
	}
	if err := s.Apply(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, *addr, ":8080")
	testutil.AssertEqual(t, *quota, 5)
	testutil.AssertEqual(t, *prod, true)
	testutil.AssertEqual(t, *ttl, 10*time.Minute)
	testutil.AssertEqual(t, *owner, int64(123456789))
}

func TestApplyInvalidValue(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	s := New(fs)
	Value(s, "free-quota", "FREE_QUOTA", 3, "Free messages.")
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	err := s.Apply(func(string) string { return "many" })
	if err == nil {
		t.Fatal("want error for non-numeric FREE_QUOTA")
	}
}

func TestVar(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	s := New(fs)

	var token string
	Var(s, &token, "tg-token", "TG_TOKEN", "default", "Token.")
	testutil.AssertEqual(t, token, "default")

	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(func(k string) string { return map[string]string{"TG_TOKEN": "secret"}[k] }); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, token, "secret")
}
