// Package journal persists the engine's structural operations in SQLite.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shaban/pluginhost"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Store is a pluginhost.Journal backed by a SQLite file.
type Store struct {
	db *sql.DB
}

var _ pluginhost.Journal = (*Store)(nil)

// Open creates or opens the journal at path. ":memory:" gives a throwaway
// journal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite has one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("journal schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Record appends entry.
func (s *Store) Record(ctx context.Context, entry pluginhost.JournalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (at, engine, operation, plugin_id, value, plugin, duration_ns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Time.UnixNano(),
		entry.Engine,
		string(entry.Operation),
		int64(entry.PluginID),
		int64(entry.Value),
		entry.Plugin,
		int64(entry.Duration),
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", entry.Operation, err)
	}
	return nil
}

// Filter narrows Recent. Zero values match everything.
type Filter struct {
	Engine     string
	Operation  pluginhost.OperationType
	FailedOnly bool
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int, f Filter) ([]pluginhost.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, engine, operation, plugin_id, value, plugin, duration_ns, error
		FROM operations
		WHERE (? = '' OR engine = ?)
		  AND (? = '' OR operation = ?)
		  AND (? = 0 OR error != '')
		ORDER BY seq DESC
		LIMIT ?`,
		f.Engine, f.Engine,
		string(f.Operation), string(f.Operation),
		boolInt(f.FailedOnly),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []pluginhost.JournalEntry
	for rows.Next() {
		var (
			e         pluginhost.JournalEntry
			at, dur   int64
			id, value int64
			op        string
		)
		if err := rows.Scan(&at, &e.Engine, &op, &id, &value, &e.Plugin, &dur, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Time = time.Unix(0, at)
		e.Operation = pluginhost.OperationType(op)
		e.PluginID = uint(id)
		e.Value = uint(value)
		e.Duration = time.Duration(dur)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}

// Count returns the number of recorded operations.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count journal: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
