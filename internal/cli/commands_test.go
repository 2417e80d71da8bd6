package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/netstat/internal/config"
	"github.com/roach88/netstat/internal/contract"
)

const (
	phoneEvents = "org.pixmob.freemobile.netstat/phoneEvents"
	phoneEvent1 = "org.pixmob.freemobile.netstat/phoneEvent/1"
	events      = "org.pixmob.freemobile.netstat/events"
)

type cmdResult struct {
	stdout string
	stderr string
	err    error
}

// execute runs the root command with args and captures both streams.
func execute(t *testing.T, args ...string) cmdResult {
	t.Helper()
	for _, env := range []string{config.EnvDatabase, config.EnvLayout, config.EnvSchemaVersion, config.EnvReadOnly} {
		t.Setenv(env, "")
	}

	root := NewRootCommand()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return cmdResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// decodeData unmarshals the data field of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), contract.DatabaseName)
}

func insertPhoneEvent(t *testing.T, db string, sets ...string) {
	t.Helper()
	args := []string{"--db", db, "insert", phoneEvents,
		"--set", "mobile_enabled=true", "--set", "mobile_roaming=false"}
	for _, s := range sets {
		args = append(args, "--set", s)
	}
	res := execute(t, args...)
	require.NoError(t, res.err, res.stderr)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "insert", "update", "delete", "query", "type", "batch", "test"} {
		assert.True(t, names[want], "missing command %q", want)
	}

	for _, flag := range []string{"verbose", "format", "config", "db", "layout", "schema-version", "read-only"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag --%s", flag)
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	res := execute(t, "--format", "xml", "--db", tempDB(t), "init")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), `invalid format "xml"`)
}

func TestInitCommand(t *testing.T) {
	db := tempDB(t)

	res := execute(t, "--db", db, "--format", "json", "init")
	require.NoError(t, res.err, res.stderr)

	var data struct {
		Path    string `json:"path"`
		Version int    `json:"version"`
		Layout  string `json:"layout"`
	}
	decodeData(t, res.stdout, &data)
	assert.Equal(t, db, data.Path)
	assert.Equal(t, contract.BaselineVersion, data.Version)
	assert.Equal(t, "split", data.Layout)

	res = execute(t, "--db", db, "--layout", "unified", "--schema-version", "2", "init")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, db+": schema version 2, unified layout\n", res.stdout)

	res = execute(t, "--db", db, "--schema-version", "1", "init")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Equal(t, CodeSchema, ErrorCode(res.err))
}

func TestInitCommand_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	cfgPath := filepath.Join(dir, "netstat.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database: "+db+"\nlayout: unified\n"), 0o644))

	res := execute(t, "--config", cfgPath, "--format", "json", "init")
	require.NoError(t, res.err, res.stderr)

	var data map[string]any
	decodeData(t, res.stdout, &data)
	assert.Equal(t, db, data["path"])
	assert.Equal(t, "unified", data["layout"])

	res = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "init")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "invalid configuration")
}

func TestWriteAndQueryCommands(t *testing.T) {
	db := tempDB(t)

	res := execute(t, "--db", db, "insert", phoneEvents,
		"--set", "timestamp=100",
		"--set", "mobile_enabled=true",
		"--set", "mobile_roaming=false",
		"--set", "mobile_operator=Free")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "inserted "+phoneEvent1+" (id 1)\n", res.stdout)

	insertPhoneEvent(t, db, "timestamp=200", "sync_status=1")

	res = execute(t, "--db", db, "--format", "json", "query", phoneEvents,
		"--columns", "_id,timestamp,mobile_operator,sync_status")
	require.NoError(t, res.err, res.stderr)

	var result QueryResult
	decodeData(t, res.stdout, &result)
	assert.Equal(t, phoneEvents, result.Address)
	assert.Equal(t, []string{"_id", "timestamp", "mobile_operator", "sync_status"}, result.Columns)
	require.Len(t, result.Rows, 2)
	// newest first
	assert.Equal(t, float64(2), result.Rows[0]["_id"])
	assert.Equal(t, float64(1), result.Rows[1]["_id"])
	assert.Equal(t, "Free", result.Rows[1]["mobile_operator"])
	assert.Nil(t, result.Rows[0]["mobile_operator"])
	assert.Equal(t, float64(0), result.Rows[1]["sync_status"])

	res = execute(t, "--db", db, "update", phoneEvents, "--set", "sync_status=1", "--where", "sync_status=0")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "updated 1 row(s) at "+phoneEvents+"\n", res.stdout)

	res = execute(t, "--db", db, "query", phoneEvents,
		"--columns", "_id,sync_status", "--order", "_id", "--where", "sync_status=1")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "_id  sync_status\n1    1\n2    1\n", res.stdout)

	res = execute(t, "--db", db, "delete", phoneEvent1)
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "deleted 1 row(s) at "+phoneEvent1+"\n", res.stdout)

	res = execute(t, "--db", db, "--format", "json", "query", phoneEvent1)
	require.NoError(t, res.err, res.stderr)
	decodeData(t, res.stdout, &result)
	assert.Empty(t, result.Rows)

	res = execute(t, "--db", db, "--format", "json", "delete", phoneEvents, "--where", "mobile_operator is null")
	require.NoError(t, res.err, res.stderr)
	var count struct {
		Count int64 `json:"count"`
	}
	decodeData(t, res.stdout, &count)
	assert.Equal(t, int64(1), count.Count)
}

func TestInsertCommand_Defaults(t *testing.T) {
	db := tempDB(t)
	insertPhoneEvent(t, db)

	res := execute(t, "--db", db, "--format", "json", "query", phoneEvent1)
	require.NoError(t, res.err, res.stderr)

	var result QueryResult
	decodeData(t, res.stdout, &result)
	require.Len(t, result.Rows, 1)
	row := result.Rows[0]
	assert.Greater(t, row["timestamp"], float64(0))
	assert.Equal(t, float64(contract.SyncPending), row["sync_status"])
	assert.NotEmpty(t, row["sync_id"])
}

func TestWriteCommands_Errors(t *testing.T) {
	db := tempDB(t)
	insertPhoneEvent(t, db)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{
			name: "missing required column",
			args: []string{"insert", phoneEvents, "--set", "mobile_enabled=true"},
			code: CodeValidation,
		},
		{
			name: "insert at item address",
			args: []string{"insert", phoneEvent1, "--set", "mobile_enabled=true", "--set", "mobile_roaming=true"},
			code: CodeUnsupportedAddress,
		},
		{
			name: "unknown collection",
			args: []string{"query", "org.pixmob.freemobile.netstat/events"},
			code: CodeUnsupportedAddress,
		},
		{
			name: "foreign authority",
			args: []string{"delete", "com.example/phoneEvents"},
			code: CodeUnsupportedAddress,
		},
		{
			name: "bad set",
			args: []string{"update", phoneEvents, "--set", "sync_status=soon"},
			code: CodeInternal,
		},
		{
			name: "bad where",
			args: []string{"delete", phoneEvents, "--where", "wifi_ssid=home"},
			code: CodeInternal,
		},
		{
			name: "bad order",
			args: []string{"query", phoneEvents, "--order", "timestamp:sideways"},
			code: CodeInternal,
		},
		{
			name: "unknown projection",
			args: []string{"query", phoneEvents, "--columns", "battery_level"},
			code: CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, append([]string{"--db", db}, tt.args...)...)
			require.Error(t, res.err)
			assert.Equal(t, ExitCommandError, GetExitCode(res.err))
			assert.Equal(t, tt.code, ErrorCode(res.err))
			assert.Empty(t, res.stdout)
		})
	}
}

func TestReadOnly(t *testing.T) {
	db := tempDB(t)
	insertPhoneEvent(t, db, "timestamp=5")

	res := execute(t, "--db", db, "--read-only", "insert", phoneEvents,
		"--set", "mobile_enabled=true", "--set", "mobile_roaming=false")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Equal(t, CodeReadOnly, ErrorCode(res.err))

	res = execute(t, "--db", db, "--read-only", "query", phoneEvents, "--columns", "timestamp")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "timestamp\n5\n", res.stdout)

	res = execute(t, "--db", tempDB(t), "--read-only", "init")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "failed to open database")
}

func TestTypeCommand(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"type", "content://" + phoneEvent1}, "vnd.android.cursor.item/phoneEvent\n"},
		{[]string{"type", phoneEvents}, "vnd.android.cursor.dir/phoneEvent\n"},
		{[]string{"--layout", "unified", "type", events}, "vnd.android.cursor.dir/event\n"},
	}
	for _, tt := range tests {
		res := execute(t, tt.args...)
		require.NoError(t, res.err, res.stderr)
		assert.Equal(t, tt.want, res.stdout)
	}

	res := execute(t, "type", events)
	require.Error(t, res.err)
	assert.Equal(t, CodeUnsupportedAddress, ErrorCode(res.err))
}

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const syncBatch = `operations:
  - op: insert
    uri: org.pixmob.freemobile.netstat/events
    values:
      timestamp: 100
      mobile_enabled: true
      mobile_roaming: false
      sync_id: a
      sync_status: 0
  - op: update
    uri: org.pixmob.freemobile.netstat/events
    key_ref: 0
    values:
      sync_status: 1
`

func TestBatchCommand(t *testing.T) {
	db := tempDB(t)
	path := writeBatch(t, syncBatch)

	res := execute(t, "--db", db, "--layout", "unified", "--format", "json", "batch", path)
	require.NoError(t, res.err, res.stderr)

	var out BatchResult
	decodeData(t, res.stdout, &out)
	assert.Equal(t, []BatchOpResult{
		{Op: "insert", Address: "org.pixmob.freemobile.netstat/event/1", ID: 1, Count: 1},
		{Op: "update", Address: "org.pixmob.freemobile.netstat/event/1", Count: 1},
	}, out.Results)
	assert.Equal(t, []BatchChange{
		{Seq: 1, Identifiers: []string{"org.pixmob.freemobile.netstat/event/1", events}},
	}, out.Changes)

	res = execute(t, "--db", db, "--layout", "unified", "query", events, "--columns", "_id,sync_status")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "_id  sync_status\n1    1\n", res.stdout)
}

func TestBatchCommand_Text(t *testing.T) {
	res := execute(t, "--db", tempDB(t), "--layout", "unified", "batch", writeBatch(t, syncBatch))
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, ""+
		"[0] insert org.pixmob.freemobile.netstat/event/1 (id 1)\n"+
		"[1] update org.pixmob.freemobile.netstat/event/1 (1 row(s))\n"+
		"changed: org.pixmob.freemobile.netstat/event/1, "+events+"\n",
		res.stdout)
}

func TestBatchCommand_RollsBack(t *testing.T) {
	db := tempDB(t)
	path := writeBatch(t, syncBatch+`  - op: delete
    uri: org.pixmob.freemobile.netstat/events
    where:
      - field: no_such_column
        op: "="
        value: 1
`)

	res := execute(t, "--db", db, "--layout", "unified", "batch", path)
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Equal(t, CodeValidation, ErrorCode(res.err))
	assert.Contains(t, res.err.Error(), "batch operation 2")
	assert.Empty(t, res.stdout)

	res = execute(t, "--db", db, "--layout", "unified", "--format", "json", "query", events)
	require.NoError(t, res.err, res.stderr)
	var result QueryResult
	decodeData(t, res.stdout, &result)
	assert.Empty(t, result.Rows)
}

func TestBatchCommand_InvalidFile(t *testing.T) {
	res := execute(t, "--db", tempDB(t), "batch", writeBatch(t, "operations:\n  - op: upsert\n    uri: x\n"))
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "invalid batch file")

	res = execute(t, "--db", tempDB(t), "batch", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}
