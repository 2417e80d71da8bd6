package schema

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/netstat/internal/contract"
)

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tempDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), contract.DatabaseName)
	return openDB(t, path), path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func insertEvent(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO events (timestamp, mobile_enabled, mobile_roaming, sync_id, sync_status)
		VALUES (100, 1, 0, 'a', 0)`)
	require.NoError(t, err)
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n))
	return n == 1
}

func TestApply_CreatesUnified(t *testing.T) {
	db, _ := tempDB(t)
	ctx := context.Background()

	info, err := Apply(ctx, db, Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()})
	require.NoError(t, err)
	assert.True(t, info.Created)
	assert.False(t, info.Upgraded)
	assert.Equal(t, 0, info.PreviousVersion)

	assert.True(t, tableExists(t, db, "events"))
	assert.False(t, tableExists(t, db, "phoneEvents"))

	version, layout, err := Current(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, contract.LayoutUnified, layout)
}

func TestApply_CreatesSplit(t *testing.T) {
	db, _ := tempDB(t)

	_, err := Apply(context.Background(), db, Options{Version: 1, Layout: contract.LayoutSplit, Logger: discardLogger()})
	require.NoError(t, err)

	for _, c := range contract.LayoutSplit.Collections() {
		assert.True(t, tableExists(t, db, c.Name), c.Name)
	}
	assert.False(t, tableExists(t, db, "events"))
}

// The embedded DDL must declare exactly the columns the contract knows about.
func TestDDLMatchesContract(t *testing.T) {
	for _, layout := range []contract.Layout{contract.LayoutUnified, contract.LayoutSplit} {
		db, _ := tempDB(t)
		_, err := Apply(context.Background(), db, Options{Version: 1, Layout: layout, Logger: discardLogger()})
		require.NoError(t, err)

		for _, c := range layout.Collections() {
			rows, err := db.Query("SELECT name, \"notnull\", pk FROM pragma_table_info(?) ORDER BY cid", c.Name)
			require.NoError(t, err)

			var names []string
			for rows.Next() {
				var name string
				var notNull, pk int
				require.NoError(t, rows.Scan(&name, &notNull, &pk))
				names = append(names, name)

				col, ok := c.Column(name)
				require.True(t, ok, "%s.%s not in contract", c.Name, name)
				if pk == 0 {
					assert.Equal(t, !col.Nullable, notNull == 1, "%s.%s nullability", c.Name, name)
				}
			}
			require.NoError(t, rows.Err())
			rows.Close()

			assert.Equal(t, c.ColumnNames(), names, c.Name)
		}
	}
}

func TestApply_ReopenSameVersionKeepsData(t *testing.T) {
	db, _ := tempDB(t)
	ctx := context.Background()
	opts := Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()}

	_, err := Apply(ctx, db, opts)
	require.NoError(t, err)
	insertEvent(t, db)

	info, err := Apply(ctx, db, opts)
	require.NoError(t, err)
	assert.False(t, info.Created)
	assert.False(t, info.Upgraded)
	assert.Equal(t, 1, countRows(t, db, "events"))
}

func TestApply_UpgradeDestroysData(t *testing.T) {
	db, _ := tempDB(t)
	ctx := context.Background()

	_, err := Apply(ctx, db, Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()})
	require.NoError(t, err)
	insertEvent(t, db)
	insertEvent(t, db)

	var logs bytes.Buffer
	info, err := Apply(ctx, db, Options{
		Version: 2,
		Layout:  contract.LayoutUnified,
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)
	assert.True(t, info.Upgraded)
	assert.Equal(t, 1, info.PreviousVersion)

	assert.Equal(t, 0, countRows(t, db, "events"))
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "destroy all data")

	version, _, err := Current(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestApply_LayoutChangeAtSameVersionFails(t *testing.T) {
	db, _ := tempDB(t)
	ctx := context.Background()

	_, err := Apply(ctx, db, Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()})
	require.NoError(t, err)
	insertEvent(t, db)

	_, err = Apply(ctx, db, Options{Version: 1, Layout: contract.LayoutSplit, Logger: discardLogger()})
	require.Error(t, err)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "open", se.Op)
	assert.Contains(t, err.Error(), "layout")

	assert.Equal(t, 1, countRows(t, db, "events"))
	assert.False(t, tableExists(t, db, "phoneEvents"))
}

func TestApply_LayoutChangeWithUpgrade(t *testing.T) {
	db, _ := tempDB(t)
	ctx := context.Background()

	_, err := Apply(ctx, db, Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()})
	require.NoError(t, err)
	insertEvent(t, db)

	info, err := Apply(ctx, db, Options{Version: 2, Layout: contract.LayoutSplit, Logger: discardLogger()})
	require.NoError(t, err)
	assert.True(t, info.Upgraded)
	assert.Equal(t, contract.LayoutUnified, info.PreviousLayout)

	assert.False(t, tableExists(t, db, "events"))
	assert.True(t, tableExists(t, db, "phoneEvents"))
}

// Databases created before schema_meta existed are treated as unified.
func TestApply_LegacyDatabaseIsUnified(t *testing.T) {
	db, _ := tempDB(t)
	ctx := context.Background()

	_, err := db.Exec(unifiedSQL)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	insertEvent(t, db)

	info, err := Apply(ctx, db, Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()})
	require.NoError(t, err)
	assert.False(t, info.Upgraded)
	assert.Equal(t, 1, countRows(t, db, "events"))
}

func TestApply_LegacyDatabaseKeepsDataUnderSplitDefault(t *testing.T) {
	db, _ := tempDB(t)
	ctx := context.Background()

	_, err := db.Exec(unifiedSQL)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	insertEvent(t, db)

	_, err = Apply(ctx, db, Options{Version: 1, Layout: contract.DefaultLayout, Logger: discardLogger()})
	require.Error(t, err)
	assert.True(t, IsSchemaError(err))
	assert.Equal(t, 1, countRows(t, db, "events"))
}

func TestApply_DowngradeFails(t *testing.T) {
	db, _ := tempDB(t)
	ctx := context.Background()

	_, err := Apply(ctx, db, Options{Version: 3, Layout: contract.LayoutSplit, Logger: discardLogger()})
	require.NoError(t, err)

	_, err = Apply(ctx, db, Options{Version: 2, Layout: contract.LayoutSplit, Logger: discardLogger()})
	require.Error(t, err)
	assert.True(t, IsSchemaError(err))
	assert.Contains(t, err.Error(), "downgrade")
}

func TestApply_InvalidOptions(t *testing.T) {
	db, _ := tempDB(t)
	ctx := context.Background()

	_, err := Apply(ctx, db, Options{Version: 0, Layout: contract.LayoutSplit})
	assert.True(t, IsSchemaError(err))

	_, err = Apply(ctx, db, Options{Version: 1, Layout: "bogus"})
	assert.True(t, IsSchemaError(err))
}

func TestApply_ReadOnlyNeverRunsDDL(t *testing.T) {
	db, path := tempDB(t)
	ctx := context.Background()

	_, err := Apply(ctx, db, Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()})
	require.NoError(t, err)
	insertEvent(t, db)
	require.NoError(t, db.Close())

	ro := openDB(t, "file:"+path+"?mode=ro")

	info, err := Apply(ctx, ro, Options{Version: 1, Layout: contract.LayoutUnified, ReadOnly: true, Logger: discardLogger()})
	require.NoError(t, err)
	assert.False(t, info.Created)

	_, err = Apply(ctx, ro, Options{Version: 2, Layout: contract.LayoutUnified, ReadOnly: true, Logger: discardLogger()})
	require.Error(t, err)
	assert.True(t, IsSchemaError(err))
	assert.Contains(t, err.Error(), "read-only")

	assert.Equal(t, 1, countRows(t, ro, "events"), "read-only open must not drop data")
}

func TestApply_ReadOnlyWithoutSchema(t *testing.T) {
	db, _ := tempDB(t)

	_, err := Apply(context.Background(), db, Options{Version: 1, Layout: contract.LayoutSplit, ReadOnly: true, Logger: discardLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema")
	assert.False(t, tableExists(t, db, "schema_meta"))
}

func TestApply_DDLFailureIsSchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("PRAGMA user_version")).
		WillReturnRows(sqlmock.NewRows([]string{"user_version"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_meta").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = Apply(context.Background(), db, Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()})
	require.Error(t, err)

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "create", se.Op)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_InspectFailureIsSchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("PRAGMA user_version")).
		WillReturnError(errors.New("file is not a database"))

	_, err = Apply(context.Background(), db, Options{Version: 1, Layout: contract.LayoutUnified, Logger: discardLogger()})
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "inspect", se.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}
