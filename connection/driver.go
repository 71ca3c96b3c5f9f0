package connection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// Driver opens a bun handle for a store URI.
type Driver interface {
	Open(ctx context.Context, uri string, cfg PoolConfig) (*bun.DB, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, uri string, cfg PoolConfig) (*bun.DB, error)

func (f DriverFunc) Open(ctx context.Context, uri string, cfg PoolConfig) (*bun.DB, error) {
	return f(ctx, uri, cfg)
}

// SQLDriver picks the database/sql driver and bun dialect from the URI scheme:
//
//	postgres://, postgresql://   lib/pq + pgdialect
//	sqlite://<path>, file:...    go-sqlite3 + sqlitedialect
type SQLDriver struct{}

// Open does not reach the server; the manager pings the returned handle.
func (SQLDriver) Open(_ context.Context, uri string, cfg PoolConfig) (*bun.DB, error) {
	driverName, dsn, dialect, err := resolve(uri)
	if err != nil {
		return nil, err
	}

	sqldb, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connection: open %s: %w", driverName, err)
	}
	sqldb.SetMaxOpenConns(cfg.MaxPoolSize)
	sqldb.SetMaxIdleConns(cfg.MinPoolSize)

	return bun.NewDB(sqldb, dialect), nil
}

func resolve(uri string) (string, string, schema.Dialect, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return "postgres", uri, pgdialect.New(), nil
	case strings.HasPrefix(uri, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(uri, "sqlite://"), sqlitedialect.New(), nil
	case strings.HasPrefix(uri, "file:"):
		return "sqlite3", uri, sqlitedialect.New(), nil
	default:
		return "", "", nil, fmt.Errorf("%w: unsupported store URI scheme in %q", ErrInvalidConfig, redact(uri))
	}
}

// redact drops credentials from a URI before it is logged or returned.
func redact(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
