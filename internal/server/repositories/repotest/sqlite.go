// Package repotest provides database fixtures for repository and service
// tests: an in-memory SQLite database with the real schema applied.
package repotest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/dmitrijs2005/authkeeper/internal/server/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteDSN returns an in-memory DSN private to name.
func SQLiteDSN(name string) string {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_time_format=sqlite&_pragma=foreign_keys(1)", name)
}

// OpenSQLite opens a fresh in-memory database for t and migrates it.
// The pool is limited to one connection, so concurrent transactions
// serialize the way row locks serialize them on PostgreSQL.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", SQLiteDSN(t.Name()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	fsys, err := migrations.ForDialect("sqlite")
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		t.Fatalf("goose provider: %v", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		t.Fatalf("goose up: %v", err)
	}

	return db
}
