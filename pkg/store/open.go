package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// OpenOption decorates the store built by Open.
type OpenOption func(Store) Store

// WithRedisNonceBoundary moves nonce consumption to the Redis instance
// at addr, leaving the rest of the store on the base backend. An empty
// addr is a no-op, so the option can be passed unconditionally.
func WithRedisNonceBoundary(addr string) OpenOption {
	return func(s Store) Store {
		if addr == "" {
			return s
		}
		return NewRedisNonceStoreAt(s, addr)
	}
}

// Open builds a Store from a backend descriptor:
//
//	memory
//	postgres+<dsn>
//	sqlite+<path>
//
// SQL backends are schema-initialized before returning. Options apply
// in order on top of the base backend.
func Open(ctx context.Context, backend string, opts ...OpenOption) (Store, error) {
	var (
		s   Store
		err error
	)
	switch {
	case backend == "" || backend == "memory":
		s = NewMemoryStore()

	case strings.HasPrefix(backend, "postgres+"):
		s, err = openSQL(ctx, "postgres", strings.TrimPrefix(backend, "postgres+"))

	case strings.HasPrefix(backend, "sqlite+"):
		s, err = openSQL(ctx, "sqlite", strings.TrimPrefix(backend, "sqlite+"))

	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		s = opt(s)
	}
	return s, nil
}

func openSQL(ctx context.Context, driver, dsn string) (Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// modernc.org/sqlite serializes writers; a single connection
		// avoids SQLITE_BUSY under concurrent commits.
		db.SetMaxOpenConns(1)
	}
	s := NewSQLStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
