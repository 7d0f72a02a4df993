package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// migration is one embedded schema step. Files are named NNNN_name.sql and
// apply in numeric order.
type migration struct {
	version int
	name    string
	stmts   string
}

func load() ([]migration, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, err
	}
	var steps []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", entry.Name(), err)
		}
		data, err := schemaFS.ReadFile("sql/" + entry.Name())
		if err != nil {
			return nil, err
		}
		steps = append(steps, migration{version: version, name: entry.Name(), stmts: string(data)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// Migrate brings the database schema up to the latest embedded version.
// The applied version lives in the single-row schema_version table; all
// pending steps run in one transaction.
func Migrate(db *sql.DB) error {
	steps, err := load()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("schema_version table: %w", err)
	}
	var current int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("schema_version seed: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("schema_version read: %w", err)
	}

	for _, step := range steps {
		if step.version <= current {
			continue
		}
		if _, err := tx.Exec(step.stmts); err != nil {
			return fmt.Errorf("apply %s: %w", step.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, step.version); err != nil {
			return fmt.Errorf("record %s: %w", step.name, err)
		}
		current = step.version
	}
	return tx.Commit()
}
