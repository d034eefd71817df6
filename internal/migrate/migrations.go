// Package migrate applies the embedded schema migrations at startup. Files
// under sql/ are named NNNN_description.sql and run in lexical order, each at
// most once per workspace.
package migrate

import (
	"database/sql"
	"fmt"
	"sort"

	"embed"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// Migrate brings the database up to the latest embedded schema. Applied
// migrations are recorded in schema_migrations, one row per file, so reruns
// are no-ops. All pending migrations apply in a single transaction.
func Migrate(db *sql.DB) error {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations(
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, name := range names {
		var applied int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name=?`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}
		ddl, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := tx.Exec(string(ddl)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(name) VALUES (?)`, name); err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
	}
	return tx.Commit()
}
