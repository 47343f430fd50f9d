package file

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicCreatesParents(t *testing.T) {
	fs := afero.NewMemMapFs()

	err := WriteAtomic(fs, "/deep/nested/dir/record.json", []byte(`{"a":1}`), 0o644)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/deep/nested/dir/record.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestWriteAtomicOverwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteAtomic(fs, "/r.json", []byte("old"), 0o644))
	require.NoError(t, WriteAtomic(fs, "/r.json", []byte("new"), 0o644))

	data, err := afero.ReadFile(fs, "/r.json")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteAtomic(fs, "/dir/r.json", []byte("x"), 0o644))

	entries, err := afero.ReadDir(fs, "/dir")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "r.json", entries[0].Name())
}
