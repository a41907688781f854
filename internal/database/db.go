// Package database opens and maintains the engine's SQLite files.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schemas/*.sql
var schemas embed.FS

// Profile selects the durability trade-off for one database file.
type Profile string

const (
	// ProfileLedger fsyncs every write. The journal is the audit trail
	// for fills; losing a row costs more than the sync.
	ProfileLedger Profile = "ledger"

	// ProfileCache favors speed for data that can be rebuilt.
	ProfileCache Profile = "cache"

	// ProfileStandard is the balanced default.
	ProfileStandard Profile = "standard"
)

// Config describes one database file to open.
type Config struct {
	Path    string
	Profile Profile
	Name    string
}

// DB is an open SQLite handle plus the identity used in schema lookup
// and error messages.
type DB struct {
	conn *sql.DB
	path string
	name string
}

// New opens (creating if needed) the database at cfg.Path with the
// pragmas of its profile and verifies the connection.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") && cfg.Path != ":memory:" {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = abs
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", connString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	// One runner writes; the monitoring API reads. A small pool covers
	// both without piling up WAL readers.
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(12 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, name: cfg.Name}, nil
}

// connString appends the profile's pragmas to the path. WAL mode and a
// busy timeout apply everywhere; sync behavior is the profile's call.
func connString(path string, profile Profile) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"busy_timeout(5000)",
		"foreign_keys(1)",
		"cache_size(-64000)",
	}
	switch profile {
	case ProfileLedger:
		pragmas = append(pragmas, "synchronous(FULL)", "auto_vacuum(NONE)")
	case ProfileCache:
		pragmas = append(pragmas, "synchronous(OFF)", "temp_store(MEMORY)")
	default:
		pragmas = append(pragmas, "synchronous(NORMAL)", "temp_store(MEMORY)")
	}

	var b strings.Builder
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// Conn exposes the underlying pool for repositories.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Migrate applies the embedded schema named after this database.
// Schemas compile into the binary, so migration behaves identically in
// tests and production; every statement uses IF NOT EXISTS, so applying
// twice is a no-op. A database with no bundled schema migrates to
// nothing.
func (d *DB) Migrate() error {
	content, err := schemas.ReadFile("schemas/" + d.name + "_schema.sql")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read embedded schema for %s: %w", d.name, err)
	}

	if _, err := d.conn.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to apply schema for %s: %w", d.name, err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction, committing on success
// and rolling back when fn returns an error or panics.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
			return
		}
		if err = tx.Commit(); err != nil {
			err = fmt.Errorf("failed to commit transaction: %w", err)
		}
	}()

	return fn(tx)
}

// HealthCheck pings the database and runs a full integrity check.
func (d *DB) HealthCheck(ctx context.Context) error {
	if err := d.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", d.name, err)
	}

	var result string
	if err := d.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed for %s: %w", d.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", d.name, result)
	}
	return nil
}

// WALCheckpoint folds the write-ahead log back into the main file.
// Mode is one of PASSIVE, FULL, RESTART or TRUNCATE; empty means
// TRUNCATE.
func (d *DB) WALCheckpoint(mode string) error {
	if mode == "" {
		mode = "TRUNCATE"
	}
	if _, err := d.conn.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", d.name, err)
	}
	return nil
}

// BackupTo writes an atomic copy of the database to path using
// VACUUM INTO. The copy is a fresh single file with no WAL sidecar.
func (d *DB) BackupTo(path string) error {
	if _, err := d.conn.Exec(fmt.Sprintf("VACUUM INTO '%s'", path)); err != nil {
		return fmt.Errorf("VACUUM INTO failed for %s: %w", d.name, err)
	}
	return nil
}
