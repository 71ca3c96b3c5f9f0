package testsupport

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-customer-cache/customer"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

//go:embed testdata/customers.json
var seedCustomers []byte

var dbCounter atomic.Int64

const updateGoldenEnv = "GOLDEN_UPDATE"

// LoadFixture reads path, relative to the test package directory, failing
// the test when it cannot.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("fixture %s: %v", path, err)
	}
	return data
}

// LoadFixtureJSON decodes the JSON fixture at path into dest.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	if err := json.Unmarshal(LoadFixture(t, path), dest); err != nil {
		t.Fatalf("fixture %s: %v", path, err)
	}
}

// CompareWithGolden fails the test when actual differs from the golden file
// at path. With GOLDEN_UPDATE=1 in the environment the file is rewritten
// instead.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	if os.Getenv(updateGoldenEnv) == "1" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("golden %s: %v", path, err)
		}
		if err := os.WriteFile(path, actual, 0o644); err != nil {
			t.Fatalf("golden %s: %v", path, err)
		}
		return
	}

	expected, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("golden %s: %v (run with %s=1 to create it)", path, err, updateGoldenEnv)
	}
	if !bytes.Equal(actual, expected) {
		t.Errorf("output differs from %s:\n--- want\n%s\n--- got\n%s", path, expected, actual)
	}
}

// SeedFields returns the attribute sets of the built in customer fixtures.
func SeedFields(t testing.TB) []customer.Fields {
	t.Helper()

	var fields []customer.Fields
	if err := json.Unmarshal(seedCustomers, &fields); err != nil {
		t.Fatalf("failed to unmarshal seed customers: %v", err)
	}
	return fields
}

// NewCustomer builds a valid customer; overrides are applied to the first seed
// fixture before validation.
func NewCustomer(t testing.TB, override func(*customer.Fields)) *customer.Customer {
	t.Helper()

	f := SeedFields(t)[0]
	if override != nil {
		override(&f)
	}
	c, err := customer.New(f)
	if err != nil {
		t.Fatalf("failed to build customer fixture: %v", err)
	}
	return c
}

// SQLiteURI returns a store URI for a private, shared-cache in-memory SQLite
// database. Every connection opened with the URI sees the same data, which
// lives until the last connection closes.
func SQLiteURI(t testing.TB) string {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbCounter.Add(1))
}

// OpenSQLite opens a bun handle on a fresh in-memory SQLite database and
// closes it when the test ends.
func OpenSQLite(t testing.TB) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", SQLiteURI(t))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("failed to ping sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
