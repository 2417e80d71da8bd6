package store

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/notify"
)

const (
	eventsID = "org.pixmob.freemobile.netstat/events"
	phoneID  = "org.pixmob.freemobile.netstat/phoneEvents"
	wifiID   = "org.pixmob.freemobile.netstat/wifiEvents"
)

func eventID(id int64) string {
	return "org.pixmob.freemobile.netstat/event/" + strconv.FormatInt(id, 10)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// createTestStore opens a unified-layout store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return createTestStoreWith(t, Options{Layout: contract.LayoutUnified})
}

func createTestStoreWith(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	path := filepath.Join(t.TempDir(), contract.DatabaseName)
	s, err := Open(context.Background(), path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// subscribe registers a buffered observer that is cancelled at cleanup.
func subscribe(t *testing.T, s *Store, prefix string) *notify.Subscription {
	t.Helper()
	sub := s.Changes().Subscribe(prefix, 64)
	t.Cleanup(sub.Cancel)
	return sub
}

// eventValues returns a complete record for the unified or phone collection.
func eventValues(ts int64, syncID string, status contract.SyncStatus) contract.Values {
	return contract.Values{
		contract.ColumnTimestamp:     ts,
		contract.ColumnMobileEnabled: true,
		contract.ColumnMobileRoaming: false,
		contract.ColumnSyncID:        syncID,
		contract.ColumnSyncStatus:    status,
	}
}

func mustInsert(t *testing.T, s *Store, identifier string, values contract.Values) InsertResult {
	t.Helper()
	res, err := s.Insert(context.Background(), identifier, values)
	require.NoError(t, err)
	return res
}

func ids(t *testing.T, rows []contract.Values) []int64 {
	t.Helper()
	out := make([]int64, len(rows))
	for i, r := range rows {
		id, ok := r[contract.ColumnID].(int64)
		require.True(t, ok, "row %d has no _id", i)
		out[i] = id
	}
	return out
}
