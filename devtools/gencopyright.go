// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

//go:build ignore

// gencopyright.go adds copyright header to each Go file under cmd and internal.

package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
)

const tmpl = `// © %d Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

`

var (
	roots = []string{"cmd", "internal"}
	// Carry their own headers.
	exclusions = []string{
		// Based on Tailscale code.
		filepath.Join("internal", "web", "debug.go"),
	}
)

func main() {
	for _, root := range roots {
		if err := filepath.WalkDir(root, addHeader); err != nil {
			log.Fatal(err)
		}
	}
}

func addHeader(path string, d fs.DirEntry, err error) error {
	if err != nil {
		return err
	}
	if d.IsDir() || filepath.Ext(path) != ".go" || slices.Contains(exclusions, path) {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if bytes.HasPrefix(content, []byte("// ©")) {
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, tmpl, info.ModTime().Year())
	buf.Write(content)
	return os.WriteFile(path, buf.Bytes(), info.Mode().Perm())
}
