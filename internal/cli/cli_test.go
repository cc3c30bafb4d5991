package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/watchload/internal/ingesterr"
	"github.com/JonMunkholm/watchload/internal/loader"
	"github.com/JonMunkholm/watchload/internal/normalize"
	"github.com/JonMunkholm/watchload/internal/pipeline"
	"github.com/JonMunkholm/watchload/internal/schema"
	"github.com/JonMunkholm/watchload/internal/tracker"
	"github.com/JonMunkholm/watchload/internal/watcher"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedTracker(t *testing.T, names ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.db")
	tr, err := tracker.Open(path)
	require.NoError(t, err)
	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, name := range names {
		require.NoError(t, tr.Record(context.Background(), name, mod))
	}
	require.NoError(t, tr.Close())
	return path
}

func TestSanitize(t *testing.T) {
	out, err := execute(t, "sanitize", "2024 Sales-Report.csv")
	require.NoError(t, err)
	assert.Equal(t, "t_2024_sales_report\n", out)

	out, err = execute(t, "sanitize", "a b.csv", "Orders.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "a b.csv\ta_b\nOrders.xlsx\torders\n", out)
}

func TestSanitize_JSON(t *testing.T) {
	out, err := execute(t, "sanitize", "-o", "json", "Orders.xlsx")
	require.NoError(t, err)

	var got []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []map[string]string{{"file": "Orders.xlsx", "table": "orders"}}, got)
}

func TestSanitize_Invalid(t *testing.T) {
	_, err := execute(t, "sanitize", ".csv")
	require.ErrorIs(t, err, loader.ErrInvalidTableName)
}

func TestUnsupportedOutput(t *testing.T) {
	_, err := execute(t, "sanitize", "-o", "xml", "a.csv")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "watchload version dev")
}

func TestTrackerList(t *testing.T) {
	path := seedTracker(t, "b.csv", "a.csv")

	out, err := execute(t, "tracker", "list", "--path", path, "-o", "json")
	require.NoError(t, err)

	var recs []tracker.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "a.csv", recs[0].Filename)
	assert.Equal(t, "b.csv", recs[1].Filename)

	out, err = execute(t, "tracker", "list", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "a.csv")
	assert.Contains(t, out, "2024-05-01T12:00:00Z")
}

func TestTrackerList_Empty(t *testing.T) {
	path := seedTracker(t)

	out, err := execute(t, "tracker", "list", "--path", path)
	require.NoError(t, err)
	assert.Equal(t, "no processed files\n", out)

	out, err = execute(t, "tracker", "list", "--path", path, "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestTrackerForget(t *testing.T) {
	path := seedTracker(t, "a.csv", "b.csv")

	out, err := execute(t, "tracker", "forget", "--path", path, "/watched/a.csv", "missing.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "forgot a.csv\n")
	assert.Contains(t, out, "1 of 2 files had no record")

	tr, err := tracker.Open(path)
	require.NoError(t, err)
	defer tr.Close()
	recs, err := tr.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b.csv", recs[0].Filename)
}

func TestTrackerReset(t *testing.T) {
	path := seedTracker(t, "a.csv", "b.csv", "c.csv")

	_, err := execute(t, "tracker", "reset", "--path", path)
	require.ErrorIs(t, err, errResetNotConfirmed)

	out, err := execute(t, "tracker", "reset", "--path", path, "--yes")
	require.NoError(t, err)
	assert.Equal(t, "deleted 3 records\n", out)
}

func TestScan_MissingDirectory(t *testing.T) {
	t.Setenv("WATCH_DIR", filepath.Join(t.TempDir(), "nope"))
	t.Setenv("DB_USER", "loader")
	t.Setenv("DB_NAME", "warehouse")
	t.Setenv("LOG_LEVEL", "error")

	_, err := execute(t, "scan")
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindDirectory, ingesterr.KindOf(err))
}

func TestScan_MissingConfig(t *testing.T) {
	t.Setenv("WATCH_DIR", "")
	t.Setenv("WATCHLOAD_DIR", "")
	t.Setenv("DB_USER", "")
	t.Setenv("PGUSER", "")

	_, err := execute(t, "scan")
	assert.ErrorContains(t, err, "load configuration")
}

func TestSummarize(t *testing.T) {
	s := summarize([]pipeline.Outcome{
		{State: pipeline.StateRecorded, Status: loader.StatusCreated, Rows: 3},
		{State: pipeline.StateRecorded, Status: loader.StatusCreated},
		{State: pipeline.StateRecorded, Status: loader.StatusSkippedExists},
		{State: pipeline.StateDeduped},
		{State: pipeline.StateFailed, Err: os.ErrNotExist},
	})
	assert.Equal(t, scanSummary{Files: 5, Loaded: 2, Skipped: 2, Failed: 1, Rows: 3}, s)
}

type countingLoader struct{ loads int }

func (l *countingLoader) LoadColumns(_ context.Context, table string, cols []schema.Column, rows [][]string) (loader.Outcome, error) {
	l.loads++
	return loader.Outcome{Table: table, Status: loader.StatusCreated, Rows: int64(len(rows)), Columns: cols}, nil
}

func TestScanAndRun_UnreadableDirectoryKeepsReceiving(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	require.NoError(t, os.Mkdir(dir, 0o755))
	norm, err := normalize.New(normalize.Options{OutputDir: filepath.Join(t.TempDir(), "out")})
	require.NoError(t, err)
	tr, err := tracker.Open(filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	defer tr.Close()

	ld := &countingLoader{}
	p, err := pipeline.New(pipeline.Options{Dir: dir}, tr, norm, ld)
	require.NoError(t, err)

	// The event arrives for a file outside the now missing directory.
	other := filepath.Join(t.TempDir(), "late.csv")
	require.NoError(t, os.WriteFile(other, []byte("id\n1\n"), 0o644))
	require.NoError(t, os.Remove(dir))

	events := make(chan watcher.Event, 1)
	events <- watcher.Event{Path: other, Op: watcher.OpCreate}
	close(events)

	require.NoError(t, scanAndRun(context.Background(), p, events))
	assert.Equal(t, 1, ld.loads, "events are still processed after a failed scan")
}
