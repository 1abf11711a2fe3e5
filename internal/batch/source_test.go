package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFromJSONL(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "disciplines.jsonl", `{"discipline_name":"Mathematics","field":"STEM"}

{"discipline_name":"History","field":"Humanities"}
`)

	items, err := FromJSONL(path)
	require.NoError(t, err)
	require.Len(t, items, 2, "blank lines are skipped")

	assert.Len(t, items[0].ID, 64)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	assert.JSONEq(t, `{"discipline_name":"Mathematics","field":"STEM"}`, string(items[0].Payload))
}

func TestFromJSONL_IDStableAcrossFormatting(t *testing.T) {
	t.Parallel()

	compact := writeFile(t, "a.jsonl", `{"b":2,"a":1}`)
	spaced := writeFile(t, "b.jsonl", `{ "a": 1, "b": 2 }`)

	items1, err := FromJSONL(compact)
	require.NoError(t, err)
	items2, err := FromJSONL(spaced)
	require.NoError(t, err)

	assert.Equal(t, items1[0].ID, items2[0].ID,
		"semantically identical records must share an identifier")
}

func TestFromJSONL_InvalidLine(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "bad.jsonl", `{"ok":true}
not json at all
`)

	_, err := FromJSONL(path)
	assert.ErrorContains(t, err, "line 2")
}

func TestFromJSONL_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := FromJSONL(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestFromFiles(t *testing.T) {
	t.Parallel()

	p1 := writeFile(t, "one.txt", "alpha")
	p2 := writeFile(t, "two.txt", "beta")

	items, err := FromFiles([]string{p1, p2})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, p1, string(items[0].Payload), "payload is the path for file-granular items")
	assert.NotEqual(t, items[0].ID, items[1].ID)

	// Same content elsewhere hashes to the same identifier.
	p3 := writeFile(t, "copy.txt", "alpha")
	again, err := FromFiles([]string{p3})
	require.NoError(t, err)
	assert.Equal(t, items[0].ID, again[0].ID)
}
