package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()

	root := t.TempDir()

	l, err := OpenLedger(context.Background(), root, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	return l, root
}

func TestLedger_RunLifecycle(t *testing.T) {
	l, _ := newTestLedger(t)

	id, err := l.BeginRun(context.Background(), "pushed")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	l.RecordItem("content", "pushed", "c1", "")
	l.RecordItem("content", "pushed", "c2", "server said no")
	l.RecordItem("asset", "pushed", "/a.png", "conflict")

	require.NoError(t, l.EndRun(context.Background(), 1, 2))

	failed, err := l.FailedItems(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "c2", failed[0].Path)
	assert.Equal(t, "server said no", failed[0].Error)
	assert.Equal(t, "/a.png", failed[1].Path)
}

func TestLedger_WriteErrorLog(t *testing.T) {
	l, root := newTestLedger(t)

	_, err := l.BeginRun(context.Background(), "pushed")
	require.NoError(t, err)

	l.RecordItem("content", "pushed", "ok", "")
	l.RecordItem("content", "pushed", "broken", "HTTP 400")

	path, err := l.WriteErrorLog(context.Background(), root)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "errors-"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "content\tbroken\tHTTP 400")
	assert.NotContains(t, string(data), "\tok\t")
}

func TestLedger_NoFailuresNoLog(t *testing.T) {
	l, root := newTestLedger(t)

	_, err := l.BeginRun(context.Background(), "pulled")
	require.NoError(t, err)

	l.RecordItem("content", "pulled", "c1", "")

	path, err := l.WriteErrorLog(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLedger_NilSafe(t *testing.T) {
	var l *Ledger

	id, err := l.BeginRun(context.Background(), "pushed")
	require.NoError(t, err)
	assert.Empty(t, id)

	l.RecordItem("content", "pushed", "c1", "")

	require.NoError(t, l.EndRun(context.Background(), 0, 0))

	items, err := l.FailedItems(context.Background())
	require.NoError(t, err)
	assert.Nil(t, items)

	path, err := l.WriteErrorLog(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, l.Close())
}

func TestLedger_ReopenKeepsSchema(t *testing.T) {
	root := t.TempDir()

	l, err := OpenLedger(context.Background(), root, nil)
	require.NoError(t, err)

	_, err = l.BeginRun(context.Background(), "pushed")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Reopening applies no duplicate migrations and keeps the data.
	l2, err := OpenLedger(context.Background(), root, nil)
	require.NoError(t, err)

	defer l2.Close()

	_, err = l2.BeginRun(context.Background(), "pulled")
	require.NoError(t, err)
}
