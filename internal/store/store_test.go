package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/notify"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), contract.DatabaseName)

	s, err := Open(context.Background(), path, Options{Logger: discardLogger()})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err, "database file was not created")

	version, layout, err := s.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contract.BaselineVersion, version)
	assert.Equal(t, contract.DefaultLayout, layout)
	assert.Equal(t, contract.LayoutSplit, s.Resolver().Layout())
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), contract.DatabaseName)
	ctx := context.Background()
	opts := Options{Layout: contract.LayoutUnified, Logger: discardLogger()}

	s, err := Open(ctx, path, opts)
	require.NoError(t, err)
	mustInsert(t, s, eventsID, eventValues(100, "a", contract.SyncPending))
	require.NoError(t, s.Close())

	for i := 0; i < 3; i++ {
		s, err = Open(ctx, path, opts)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}

	s, err = Open(ctx, path, opts)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.QueryAll(ctx, eventsID, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// Opening at a newer version drops every row.
func TestOpen_UpgradeIsDestructive(t *testing.T) {
	path := filepath.Join(t.TempDir(), contract.DatabaseName)
	ctx := context.Background()

	s, err := Open(ctx, path, Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()})
	require.NoError(t, err)
	mustInsert(t, s, eventsID, eventValues(100, "a", contract.SyncPending))
	mustInsert(t, s, eventsID, eventValues(200, "b", contract.SyncPending))
	require.NoError(t, s.Close())

	var logs bytes.Buffer
	s, err = Open(ctx, path, Options{
		Version: 2,
		Layout:  contract.LayoutUnified,
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.QueryAll(ctx, eventsID, QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Contains(t, logs.String(), "upgrading database which will destroy all data")

	version, _, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestOpen_DowngradeIsSchemaError(t *testing.T) {
	path := filepath.Join(t.TempDir(), contract.DatabaseName)
	ctx := context.Background()

	s, err := Open(ctx, path, Options{Version: 2, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, path, Options{Version: 1, Logger: discardLogger()})
	var se *SchemaError
	require.ErrorAs(t, err, &se)
}

func TestOpen_LayoutMismatchKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), contract.DatabaseName)
	ctx := context.Background()
	unified := Options{Layout: contract.LayoutUnified, Logger: discardLogger()}

	s, err := Open(ctx, path, unified)
	require.NoError(t, err)
	mustInsert(t, s, eventsID, eventValues(100, "a", contract.SyncPending))
	require.NoError(t, s.Close())

	_, err = Open(ctx, path, Options{Version: 1, Logger: discardLogger()})
	var se *SchemaError
	require.ErrorAs(t, err, &se)

	s, err = Open(ctx, path, unified)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.QueryAll(ctx, eventsID, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestOpen_ReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), contract.DatabaseName)
	ctx := context.Background()

	// The writer stays open so the WAL files exist for the reader.
	w, err := Open(ctx, path, Options{Layout: contract.LayoutUnified, Logger: discardLogger()})
	require.NoError(t, err)
	defer w.Close()
	mustInsert(t, w, eventsID, eventValues(100, "a", contract.SyncPending))

	r, err := Open(ctx, path, Options{Layout: contract.LayoutUnified, ReadOnly: true, Logger: discardLogger()})
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.ReadOnly())

	rows, err := r.QueryAll(ctx, eventsID, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = r.Insert(ctx, eventsID, eventValues(200, "b", contract.SyncPending))
	assert.True(t, errors.Is(err, ErrReadOnly))
	assert.True(t, IsStorage(err))

	_, err = r.Update(ctx, eventsID, contract.Values{contract.ColumnSyncStatus: 1}, nil)
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = r.Delete(ctx, eventsID, nil)
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = r.ApplyBatch(ctx, []Operation{NewDelete(eventsID, nil)})
	assert.ErrorIs(t, err, ErrReadOnly)

	// A read-only open never upgrades.
	_, err = Open(ctx, path, Options{Version: 2, Layout: contract.LayoutUnified, ReadOnly: true, Logger: discardLogger()})
	var se *SchemaError
	require.ErrorAs(t, err, &se)

	rows, err = w.QueryAll(ctx, eventsID, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestOpen_UsesProvidedNotifier(t *testing.T) {
	n := notify.New(discardLogger())
	s := createTestStoreWith(t, Options{Layout: contract.LayoutUnified, Notifier: n})
	assert.Same(t, n, s.Changes())

	sub := subscribe(t, s, eventsID)
	mustInsert(t, s, eventsID, eventValues(100, "a", contract.SyncPending))

	got := sub.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, []string{eventsID}, got[0].Identifiers,
		"without parent mapping only the collection identifier matches")
}

func TestNew_NilPublisher(t *testing.T) {
	s := createTestStore(t)
	bare := New(s.DB(), s.Resolver(), nil, nil)
	assert.Nil(t, bare.Changes())

	res, err := bare.Insert(context.Background(), eventsID, eventValues(100, "a", contract.SyncPending))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ID)
}
