package sqlstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/flatfs/internal/catalog"
	"github.com/bamsammich/flatfs/internal/vfs"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func read(t *testing.T, s *Store, name string) string {
	t.Helper()
	info, err := s.Lookup(name)
	require.NoError(t, err)
	buf := make([]byte, info.Size+8)
	n, err := s.ReadAt(name, buf, 0)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestCreateWriteRead(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "fs.db"))
	require.NoError(t, s.Create("a"))
	require.ErrorIs(t, s.Create("a"), catalog.ErrAlreadyExists)

	n, err := s.WriteAt("a", []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, err = s.WriteAt("a", []byte(" world"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello world", read(t, s, "a"))

	buf := make([]byte, 4)
	n, err = s.ReadAt("a", buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "worl", string(buf[:n]))

	n, err = s.ReadAt("a", buf, 11)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.ReadAt("missing", buf, 0)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestNamesAreBoundParameters(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "fs.db"))
	tricky := []string{"what?", "it's", `"quoted"`, "'; DROP TABLE files; --"}
	for _, name := range tricky {
		require.NoError(t, s.Create(name))
		_, err := s.WriteAt(name, []byte(name), 0)
		require.NoError(t, err)
	}
	for _, name := range tricky {
		assert.Equal(t, name, read(t, s, name))
	}
	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, len(tricky))
}

func TestWriteGapAndTruncate(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "fs.db"))
	require.NoError(t, s.Create("f"))
	_, err := s.WriteAt("f", []byte("z"), 3)
	require.NoError(t, err)
	assert.Equal(t, "\x00\x00\x00z", read(t, s, "f"))

	require.NoError(t, s.Truncate("f", 1))
	assert.Equal(t, "\x00", read(t, s, "f"))
	require.NoError(t, s.Truncate("f", 0))
	assert.Equal(t, "", read(t, s, "f"))
	require.NoError(t, s.Truncate("f", 2))
	assert.Equal(t, "\x00\x00", read(t, s, "f"))
	require.ErrorIs(t, s.Truncate("nope", 1), catalog.ErrNotFound)
}

func TestRenameAndRemove(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "fs.db"))
	require.NoError(t, s.Create("a"))
	require.NoError(t, s.Create("b"))

	require.ErrorIs(t, s.Rename("a", "b"), catalog.ErrAlreadyExists)
	require.ErrorIs(t, s.Rename("x", "y"), catalog.ErrNotFound)
	require.ErrorIs(t, s.Rename("a", "bad/name"), catalog.ErrInvalidName)
	require.NoError(t, s.Rename("a", "a"))
	require.NoError(t, s.Rename("a", "c"))

	require.NoError(t, s.Remove("c"))
	require.ErrorIs(t, s.Remove("c"), catalog.ErrNotFound)

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []vfs.FileInfo{{Name: "b", Size: 0}}, list)
}

func TestNameValidation(t *testing.T) {
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "fs.db"), NameMax: 4})
	require.NoError(t, err)
	defer s.Close()

	require.ErrorIs(t, s.Create("toolong"), catalog.ErrNameTooLong)
	require.ErrorIs(t, s.Create(".."), catalog.ErrInvalidName)
	require.NoError(t, s.Create("ok"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.db")
	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Create("keep"))
	_, err = s.WriteAt("keep", []byte("data"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s = openStore(t, path)
	assert.Equal(t, "data", read(t, s, "keep"))
}

func TestUsageCompactCheck(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "fs.db"))
	payload := []byte(strings.Repeat("x", 256*1024))
	for _, name := range []string{"a", "b"} {
		require.NoError(t, s.Create(name))
		_, err := s.WriteAt(name, payload, 0)
		require.NoError(t, err)
	}
	require.NoError(t, s.Remove("a"))
	require.NoError(t, s.Flush())

	u, err := s.Usage()
	require.NoError(t, err)
	assert.Equal(t, 1, u.Files)
	assert.Equal(t, int64(len(payload)), u.LiveBytes)
	assert.Positive(t, u.DeadBytes)

	res, err := s.Compact(context.Background())
	require.NoError(t, err)
	assert.Positive(t, res.Reclaimed)

	u, err = s.Usage()
	require.NoError(t, err)
	assert.Zero(t, u.DeadBytes)
	require.NoError(t, s.Check())
	assert.Equal(t, string(payload), read(t, s, "b"))
}

func TestClosed(t *testing.T) {
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "fs.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Create("a"), ErrClosed)
	_, err = s.Lookup("a")
	require.ErrorIs(t, err, ErrClosed)
}

func TestImplementsBackend(t *testing.T) {
	var _ vfs.Backend = (*Store)(nil)
}
