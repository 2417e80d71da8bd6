package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/netstat/internal/address"
	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/notify"
	"github.com/roach88/netstat/internal/schema"
	"github.com/roach88/netstat/internal/sqlgen"
)

// Publisher receives the identifiers changed by each committed call.
// *notify.Notifier implements it.
type Publisher interface {
	Publish(identifiers ...string)
}

// Options controls Open.
type Options struct {
	// Version is the requested schema version. Zero selects
	// contract.BaselineVersion.
	Version int

	// Layout selects the collections. Empty selects contract.DefaultLayout.
	Layout contract.Layout

	// ReadOnly opens the file with mode=ro. No DDL runs and every mutation
	// fails with ErrReadOnly.
	ReadOnly bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Notifier receives change notifications. When nil, Open creates one
	// that delivers item changes to collection observers.
	Notifier *notify.Notifier
}

// Store is the event store. Create it with Open or New; it has no global state.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	resolver *address.Resolver
	pub      Publisher
	changes  *notify.Notifier
	logger   *slog.Logger
	readOnly bool

	compilers map[string]*sqlgen.Compiler
}

// Open creates or opens the SQLite database at path and brings its schema to
// the requested version and layout.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Opening an older schema is destructive; see schema.Apply.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.Version == 0 {
		opts.Version = contract.BaselineVersion
	}
	if opts.Layout == "" {
		opts.Layout = contract.DefaultLayout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn := path
	if opts.ReadOnly {
		dsn = "file:" + path + "?mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	info, err := schema.Apply(ctx, db, schema.Options{
		Version:  opts.Version,
		Layout:   opts.Layout,
		ReadOnly: opts.ReadOnly,
		Logger:   logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	resolver := address.NewResolver(opts.Layout)
	changes := opts.Notifier
	if changes == nil {
		changes = notify.New(logger, notify.WithParents(resolver.ParentOf))
	}

	s := New(db, resolver, changes, logger)
	s.readOnly = opts.ReadOnly

	logger.Debug("opened store",
		"path", path,
		"version", info.Version,
		"layout", string(info.Layout),
		"read_only", opts.ReadOnly)
	return s, nil
}

// New wraps an already initialized database. The caller is responsible for
// the schema; New runs no DDL. pub may be nil to disable notifications.
func New(db *sql.DB, resolver *address.Resolver, pub Publisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:        db,
		resolver:  resolver,
		pub:       pub,
		logger:    logger,
		compilers: make(map[string]*sqlgen.Compiler),
	}
	if n, ok := pub.(*notify.Notifier); ok {
		s.changes = n
	}
	for _, c := range resolver.Collections() {
		s.compilers[c.Name] = sqlgen.New(c)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Resolver returns the address resolver of the store's layout.
func (s *Store) Resolver() *address.Resolver {
	return s.resolver
}

// Changes returns the notifier observers subscribe to, or nil when the store
// publishes to some other Publisher.
func (s *Store) Changes() *notify.Notifier {
	return s.changes
}

// ReadOnly reports whether mutations are rejected.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Current reports the persisted schema version and layout.
func (s *Store) Current(ctx context.Context) (int, contract.Layout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schema.Current(ctx, s.db)
}

func (s *Store) compiler(c *contract.Collection) *sqlgen.Compiler {
	return s.compilers[c.Name]
}

// withTx runs fn in a transaction. The deferred rollback is a no-op after
// commit and also covers panics and context cancellation.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func (s *Store) writable(op string) error {
	if s.readOnly {
		return &StorageError{Op: op, Err: ErrReadOnly}
	}
	return nil
}

// publish sends the deduplicated identifiers in first-seen order.
func (s *Store) publish(identifiers ...string) {
	if s.pub == nil || len(identifiers) == 0 {
		return
	}
	seen := make(map[string]bool, len(identifiers))
	out := identifiers[:0:0]
	for _, id := range identifiers {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	s.pub.Publish(out...)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB, readOnly bool) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if readOnly {
		pragmas = []string{"PRAGMA busy_timeout = 5000"}
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
