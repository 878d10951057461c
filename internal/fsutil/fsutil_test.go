package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	in := map[string]int{"a": 1}
	require.NoError(t, WriteJSON(path, in))

	var out map[string]int
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestReadJSONMissing(t *testing.T) {
	var out map[string]int
	err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &out)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestConfineRelPath(t *testing.T) {
	root := t.TempDir()

	p, err := ConfineRelPath(root, "login/file.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "login", "file.json"), p)

	for _, bad := range []string{"../x", "/etc/passwd", "a\\b", "..", "", "a/../../b"} {
		_, err := ConfineRelPath(root, bad)
		assert.ErrorIs(t, err, ErrOutsideRoot, bad)
	}
}
