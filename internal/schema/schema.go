// Package schema owns the table definitions of the event store and the
// version-gated upgrade policy.
//
// The schema version lives in PRAGMA user_version; the layout a database was
// created with is recorded in the schema_meta table. Opening a database whose
// persisted version is older than requested is a destructive upgrade: every
// collection table is dropped and recreated empty. Row data is never migrated
// forward. The layout can only change together with a version bump.
package schema

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/netstat/internal/contract"
)

//go:embed meta.sql
var metaSQL string

//go:embed unified.sql
var unifiedSQL string

//go:embed split.sql
var splitSQL string

const layoutKey = "layout"

// Options controls Apply.
type Options struct {
	// Version is the requested schema version (>= 1).
	Version int

	// Layout selects the collections to create.
	Layout contract.Layout

	// ReadOnly forbids any DDL. Apply fails if the persisted schema does not
	// already match Version and Layout.
	ReadOnly bool

	// Logger receives lifecycle messages. Defaults to slog.Default().
	Logger *slog.Logger
}

// Info describes what Apply found and did.
type Info struct {
	Version         int
	Layout          contract.Layout
	PreviousVersion int
	PreviousLayout  contract.Layout

	// Created is set when the database had no schema.
	Created bool

	// Upgraded is set when existing tables were dropped and recreated.
	Upgraded bool
}

// SchemaError reports a failure to create, inspect or upgrade the schema.
// It is fatal to store initialization.
type SchemaError struct {
	Op      string
	Version int
	Err     error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s (version %d): %v", e.Op, e.Version, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsSchemaError reports whether err is or wraps a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// DDL returns the CREATE statements of layout.
func DDL(layout contract.Layout) (string, error) {
	switch layout {
	case contract.LayoutUnified:
		return unifiedSQL, nil
	case contract.LayoutSplit:
		return splitSQL, nil
	default:
		return "", fmt.Errorf("unknown layout %q", layout)
	}
}

// Apply brings db to the requested version and layout.
//
// On a database without schema the layout's tables are created. When the
// persisted version is older, all collection tables are dropped and
// recreated in the requested layout and a warning is logged, because all
// data is lost. A persisted version newer than requested, or a different
// layout at the same version, is an error. All DDL runs in one transaction.
func Apply(ctx context.Context, db *sql.DB, opts Options) (Info, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fail := func(op string, err error) (Info, error) {
		return Info{}, &SchemaError{Op: op, Version: opts.Version, Err: err}
	}

	if opts.Version < contract.BaselineVersion {
		return fail("validate", fmt.Errorf("version must be >= %d", contract.BaselineVersion))
	}
	ddl, err := DDL(opts.Layout)
	if err != nil {
		return fail("validate", err)
	}

	current, err := userVersion(ctx, db)
	if err != nil {
		return fail("inspect", err)
	}
	info := Info{Version: opts.Version, Layout: opts.Layout, PreviousVersion: current}

	if current > 0 {
		info.PreviousLayout, err = persistedLayout(ctx, db)
		if err != nil {
			return fail("inspect", err)
		}
	}

	if current > opts.Version {
		return fail("open", fmt.Errorf("database version %d is newer than requested; downgrade is not supported", current))
	}
	if current == opts.Version {
		if info.PreviousLayout != opts.Layout {
			return fail("open", fmt.Errorf("database at version %d uses the %s layout, not %s; a layout change needs a newer schema version",
				current, info.PreviousLayout, opts.Layout))
		}
		return info, nil
	}

	if opts.ReadOnly {
		if current == 0 {
			return fail("open", errors.New("database has no schema and is opened read-only"))
		}
		return fail("open", fmt.Errorf("database at version %d (%s) needs an upgrade but is opened read-only", current, info.PreviousLayout))
	}

	info.Created = current == 0
	info.Upgraded = current > 0
	if info.Upgraded {
		logger.Warn("upgrading database which will destroy all data",
			"from_version", current,
			"to_version", opts.Version,
			"from_layout", string(info.PreviousLayout),
			"to_layout", string(opts.Layout))
	}

	if err := migrate(ctx, db, ddl, opts, info.Upgraded); err != nil {
		if info.Upgraded {
			return fail("upgrade", err)
		}
		return fail("create", err)
	}

	if info.Created {
		logger.Info("created database schema", "version", opts.Version, "layout", string(opts.Layout))
	}
	return info, nil
}

func migrate(ctx context.Context, db *sql.DB, ddl string, opts Options, drop bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if drop {
		for _, c := range contract.AllCollections() {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+c.Name); err != nil {
				return fmt.Errorf("drop %s: %w", c.Name, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, metaSQL); err != nil {
		return fmt.Errorf("create schema_meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s tables: %w", opts.Layout, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, layoutKey, string(opts.Layout)); err != nil {
		return fmt.Errorf("record layout: %w", err)
	}
	// PRAGMA does not accept parameters; Version is an int.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", opts.Version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// persistedLayout returns the recorded layout. Databases that predate the
// schema_meta table only ever had the unified layout.
func persistedLayout(ctx context.Context, db *sql.DB) (contract.Layout, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_meta'",
	).Scan(&n); err != nil {
		return "", fmt.Errorf("look up schema_meta: %w", err)
	}
	if n == 0 {
		return contract.LayoutUnified, nil
	}

	var value string
	err := db.QueryRowContext(ctx, "SELECT value FROM schema_meta WHERE key = ?", layoutKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return contract.LayoutUnified, nil
	}
	if err != nil {
		return "", fmt.Errorf("read layout: %w", err)
	}
	return contract.Layout(value), nil
}

// Current reports the persisted version and layout without modifying db.
// A database without schema reports version 0 and an empty layout.
func Current(ctx context.Context, db *sql.DB) (int, contract.Layout, error) {
	version, err := userVersion(ctx, db)
	if err != nil || version == 0 {
		return version, "", err
	}
	layout, err := persistedLayout(ctx, db)
	return version, layout, err
}
