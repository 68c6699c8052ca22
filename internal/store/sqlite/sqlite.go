// Package sqlite stores entity records and staged import rows in a local
// SQLite database. It backs the CLI and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	gerrors "github.com/go-faster/errors"
	_ "modernc.org/sqlite"
)

const importRowsSchema = `CREATE TABLE IF NOT EXISTS import_rows (
    import_id    TEXT    NOT NULL,
    row_number   INTEGER NOT NULL,
    raw_data     TEXT    NOT NULL,
    corrections  TEXT,
    match_action TEXT,
    matched_id   TEXT,
    PRIMARY KEY (import_id, row_number)
)`

const entitySchema = `CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    tenant_id  TEXT NOT NULL,
    name       TEXT NOT NULL DEFAULT '',
    emails     TEXT NOT NULL DEFAULT '[]',
    domains    TEXT NOT NULL DEFAULT '[]',
    attributes TEXT NOT NULL DEFAULT '{}'
)`

// Open opens the database at path; ":memory:" gives a private in-memory
// database. The pool is limited to one connection since SQLite has a
// single writer and each in-memory connection is its own database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, gerrors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, gerrors.Wrap(err, "configure sqlite")
	}
	return db, nil
}

// Migrate creates the staging table and one entity table per name.
func Migrate(ctx context.Context, db *sql.DB, tables ...string) error {
	stmts := []string{importRowsSchema}
	for _, t := range tables {
		stmts = append(stmts,
			fmt.Sprintf(entitySchema, quoteIdentifier(t)),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (tenant_id, id)",
				quoteIdentifier(t+"_tenant"), quoteIdentifier(t)),
		)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return gerrors.Wrap(err, "apply schema")
		}
	}
	return nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// jsonPath addresses one top-level key of a JSON object, so CSV headers
// with spaces or dots are looked up whole.
func jsonPath(key string) string {
	return `$."` + key + `"`
}
