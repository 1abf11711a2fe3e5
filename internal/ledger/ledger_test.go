package ledger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*FileLedger, string) {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := NewFileLedger(dir, logger)
	require.NoError(t, err)
	return l, dir
}

func TestVersionOf(t *testing.T) {
	t.Parallel()

	v1 := VersionOf("subjects", "template-v1")
	v2 := VersionOf("subjects", "template-v1")
	v3 := VersionOf("subjects", "template-v2")

	assert.Equal(t, v1, v2)
	assert.NotEqual(t, v1, v3)
	assert.NotEqual(t, VersionOf("ab", "c"), VersionOf("a", "bc"),
		"part boundaries must be part of the digest")
	assert.Len(t, string(v1), 64)
}

func TestVersionOfFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logic.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("template body"), 0o644))

	v1, err := VersionOfFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("changed body"), 0o644))
	v2, err := VersionOfFile(path)
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)

	_, err = VersionOfFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestFileLedger_MarkAndCheck(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()
	version := VersionOf("worker-v1")

	done, err := l.IsCompleted(ctx, "item-1", version)
	require.NoError(t, err)
	assert.False(t, done, "fresh item is not completed")

	require.NoError(t, l.MarkCompleted(ctx, "item-1", version, []string{"out/a.jsonl"}))

	done, err = l.IsCompleted(ctx, "item-1", version)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestFileLedger_VersionChangeOrphansRecord(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()

	v1 := VersionOf("worker-v1")
	v2 := VersionOf("worker-v2")

	require.NoError(t, l.MarkCompleted(ctx, "item-1", v1, nil))

	done, err := l.IsCompleted(ctx, "item-1", v2)
	require.NoError(t, err)
	assert.False(t, done, "completion under an old version must not satisfy a new one")

	// The new version overwrites on completion; the old record is gone,
	// not merged.
	require.NoError(t, l.MarkCompleted(ctx, "item-1", v2, nil))

	done, err = l.IsCompleted(ctx, "item-1", v2)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = l.IsCompleted(ctx, "item-1", v1)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestFileLedger_MarkCompletedIdempotent(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()
	version := VersionOf("worker-v1")

	require.NoError(t, l.MarkCompleted(ctx, "item-1", version, []string{"a"}))
	require.NoError(t, l.MarkCompleted(ctx, "item-1", version, []string{"a"}))

	done, err := l.IsCompleted(ctx, "item-1", version)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestFileLedger_ShardLayout(t *testing.T) {
	t.Parallel()

	l, dir := newTestLedger(t)
	ctx := context.Background()

	itemID := "abcdef0123456789"
	require.NoError(t, l.MarkCompleted(ctx, itemID, VersionOf("v"), nil))

	_, err := os.Stat(filepath.Join(dir, "ab", itemID+".json"))
	assert.NoError(t, err, "records are sharded by the first two id characters")
}

func TestFileLedger_CorruptRecordMeansNotCompleted(t *testing.T) {
	t.Parallel()

	l, dir := newTestLedger(t)
	ctx := context.Background()

	itemID := "cafe1234"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ca"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ca", itemID+".json"), []byte("{oops"), 0o644))

	done, err := l.IsCompleted(ctx, itemID, VersionOf("v"))
	require.NoError(t, err)
	assert.False(t, done)
}
