// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package version

import (
	"runtime/debug"
	"strings"
	"testing"

	"go.leyla.chat/leyla/internal/testutil"
)

func TestLoadInfo(t *testing.T) {
	t.Parallel()

	i := loadInfo(func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "v1.2.3"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abcdef"},
				{Key: "vcs.time", Value: "2025-01-01T00:00:00Z"},
			},
		}, true
	})
	testutil.AssertEqual(t, i.Version, "v1.2.3")
	testutil.AssertEqual(t, i.Commit, "abcdef")
	testutil.AssertEqual(t, i.BuiltAt, "2025-01-01T00:00:00Z")
	if !strings.Contains(i.String(), "commit abcdef") {
		t.Fatalf("Info.String() = %q, want commit line", i.String())
	}
}

func TestLoadInfoNoBuildInfo(t *testing.T) {
	t.Parallel()

	i := loadInfo(func() (*debug.BuildInfo, bool) { return nil, false })
	testutil.AssertEqual(t, i.Version, "devel")
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   Info
		want string
	}{
		"release": {
			in:   Info{Name: "leyla", Version: "v1.0.0"},
			want: "leyla/v1.0.0 (+https://leyla.chat)",
		},
		"devel with commit": {
			in:   Info{Name: "leyla", Version: "devel", Commit: "abc"},
			want: "leyla/abc (+https://leyla.chat)",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, userAgent(tc.in), tc.want)
		})
	}
}
