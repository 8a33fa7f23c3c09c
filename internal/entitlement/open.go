// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package entitlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Open returns the [Store] described by spec:
//
//	mem:                       in-memory, lost on restart
//	file:<path>                JSON file (a bare path ending in .json works too)
//	sqlite:<dsn>               SQLite database
//	postgres://...             PostgreSQL database (postgresql:// too)
func Open(ctx context.Context, spec string, logger zerolog.Logger) (Store, error) {
	logger = logger.With().Str("component", "entitlement").Logger()
	switch {
	case spec == "mem:" || spec == "mem":
		return NewMemStore(), nil
	case strings.HasPrefix(spec, "file:"):
		return OpenFileStore(strings.TrimPrefix(spec, "file:"), DefaultBackups, logger)
	case strings.HasSuffix(spec, ".json") && !strings.Contains(spec, "://"):
		return OpenFileStore(spec, DefaultBackups, logger)
	case strings.HasPrefix(spec, "sqlite:"):
		return OpenSQLite(ctx, strings.TrimPrefix(spec, "sqlite:"), logger)
	case strings.HasPrefix(spec, "postgres://"), strings.HasPrefix(spec, "postgresql://"):
		return OpenPostgres(ctx, spec, logger)
	case spec == "":
		return nil, fmt.Errorf("entitlement store is not configured")
	}
	return nil, fmt.Errorf("unknown entitlement store %q", spec)
}
