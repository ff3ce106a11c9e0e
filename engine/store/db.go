// Package store persists the relational side of the planner: the extraction
// cache, the product catalog, shopping items, plan entries, and saved user
// recipes. SQLite keeps the deployment single-binary.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER NOT NULL,
	applied_at TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS cache (
	user_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	expires_at TEXT,
	PRIMARY KEY (user_id, key)
);

CREATE TABLE IF NOT EXISTS products (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL,
	name      TEXT NOT NULL,
	category  TEXT NOT NULL DEFAULT '',
	synonyms  TEXT NOT NULL DEFAULT '[]',
	is_global INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_products_user ON products(user_id);

CREATE TABLE IF NOT EXISTS shopping_items (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	qty        REAL,
	unit       TEXT,
	category   TEXT,
	checked    INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shopping_user ON shopping_items(user_id);

CREATE TABLE IF NOT EXISTS plan_entries (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	day         TEXT NOT NULL,
	meal        TEXT NOT NULL,
	recipe_json TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plan_user_day ON plan_entries(user_id, day);

CREATE TABLE IF NOT EXISTS user_recipes (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	title       TEXT NOT NULL,
	recipe_json TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recipes_user ON user_recipes(user_id);
`

// DB owns the SQLite connection and schema migrations.
type DB struct {
	sqlDB *sql.DB
}

// Open opens or creates a database at path and applies the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	db := &DB{sqlDB: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sqlDB.Close()
}

func (d *DB) migrate() error {
	version, err := d.schemaVersion()
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := d.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		currentSchemaVersion, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

func (d *DB) schemaVersion() (int, error) {
	var exists int
	if err := d.sqlDB.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check schema_version: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err := d.sqlDB.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
