package journal

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFillsDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs, "/var/log/errors.ndjson")

	require.NoError(t, w.Append(&Entry{
		Repo:    "octo/hello",
		Issue:   3,
		Message: "boom",
	}))

	entries, err := w.Read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.TS)
	assert.Equal(t, "unexpected", e.ErrorKind)
	assert.Equal(t, "octo/hello", e.Repo)
	assert.Equal(t, 3, e.Issue)
}

func TestAppendIsAppendOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs, "/var/log/errors.ndjson")

	require.NoError(t, w.Append(&Entry{Message: "first", ErrorKind: "decode"}))
	require.NoError(t, w.Append(&Entry{Message: "second", ErrorKind: "permission"}))

	entries, err := w.Read()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	raw, err := afero.ReadFile(fs, "/var/log/errors.ndjson")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	assert.Len(t, lines, 2, "one JSON object per line")
}

func TestReadMissingLog(t *testing.T) {
	w := NewWriter(afero.NewMemMapFs(), "/nope.ndjson")
	entries, err := w.Read()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
