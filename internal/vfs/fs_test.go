package vfs_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/bamsammich/flatfs/internal/event"
	"github.com/bamsammich/flatfs/internal/store"
	"github.com/bamsammich/flatfs/internal/vfs"
)

func newFS(t *testing.T, events chan event.Event) *vfs.FS {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(store.Options{
		DataPath: filepath.Join(dir, "fs.data"),
		MetaPath: filepath.Join(dir, "fs.meta"),
	})
	require.NoError(t, err)
	fs := vfs.New(s, vfs.Options{Events: events})
	t.Cleanup(func() { fs.Close() })
	return fs
}

func put(t *testing.T, fs *vfs.FS, path, content string) {
	t.Helper()
	require.NoError(t, fs.Create(path))
	n, err := fs.Write(path, []byte(content), 0)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		path    string
		name    string
		root    bool
		wantErr error
	}{
		{path: "", root: true},
		{path: "/", root: true},
		{path: "/a.txt", name: "a.txt"},
		{path: "a.txt", name: "a.txt"},
		{path: "/dir/a.txt", wantErr: vfs.ErrInvalidName},
		{path: "//a", wantErr: vfs.ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			name, root, err := vfs.Normalize(tt.path)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.root, root)
		})
	}
}

func TestAttr(t *testing.T) {
	fs := newFS(t, nil)
	put(t, fs, "/f", "12345")

	root, err := fs.Attr("/")
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, uint32(2), root.Nlink)
	assert.Equal(t, vfs.DirMode, root.Mode)

	attr, err := fs.Attr("/f")
	require.NoError(t, err)
	assert.False(t, attr.IsDir())
	assert.Equal(t, int64(5), attr.Size)
	assert.Equal(t, vfs.FileMode, attr.Mode)
	assert.Equal(t, uint32(1), attr.Nlink)

	_, err = fs.Attr("/missing")
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestOpen(t *testing.T) {
	fs := newFS(t, nil)
	put(t, fs, "/f", "x")
	require.NoError(t, fs.Open("/"))
	require.NoError(t, fs.Open("/f"))
	require.ErrorIs(t, fs.Open("/g"), vfs.ErrNotFound)
	require.NoError(t, fs.Unlink("/f"))
	require.ErrorIs(t, fs.Open("/f"), vfs.ErrNotFound)
}

func TestReadDir(t *testing.T) {
	fs := newFS(t, nil)
	put(t, fs, "/b", "bb")
	put(t, fs, "/a", "a")

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, ".", entries[0].Name)
	assert.Equal(t, "..", entries[1].Name)
	assert.Equal(t, vfs.DirEntry{Name: "b", Mode: vfs.FileMode, Size: 2}, entries[2])
	assert.Equal(t, vfs.DirEntry{Name: "a", Mode: vfs.FileMode, Size: 1}, entries[3])

	_, err = fs.ReadDir("/a")
	require.ErrorIs(t, err, vfs.ErrInvalidName)
}

func TestReadWriteThroughFS(t *testing.T) {
	fs := newFS(t, nil)
	put(t, fs, "/a", "aaa")
	put(t, fs, "/b", "bbb")
	_, err := fs.Write("/a", []byte("AAA"), 3)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := fs.Read("/a", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "aaaAAA", string(buf[:n]))

	n, err = fs.Read("/b", buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = fs.Read("/", buf, 0)
	require.ErrorIs(t, err, vfs.ErrInvalidName)
	require.ErrorIs(t, fs.Create("/"), vfs.ErrInvalidName)
	require.ErrorIs(t, fs.Create("/x/y"), vfs.ErrInvalidName)
}

func TestRenameAndUnlink(t *testing.T) {
	fs := newFS(t, nil)
	put(t, fs, "/a", "content")
	put(t, fs, "/b", "other")

	require.ErrorIs(t, fs.Rename("/a", "/b"), vfs.ErrAlreadyExists)
	require.NoError(t, fs.Rename("/a", "/c"))
	require.ErrorIs(t, fs.Open("/a"), vfs.ErrNotFound)

	require.NoError(t, fs.Unlink("/c"))
	require.ErrorIs(t, fs.Unlink("/c"), vfs.ErrNotFound)

	require.NoError(t, fs.Create("/c"))
	attr, err := fs.Attr("/c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), attr.Size)
}

func TestEventsAndStats(t *testing.T) {
	events := make(chan event.Event, 16)
	fs := newFS(t, events)
	put(t, fs, "/a", "hello")
	require.NoError(t, fs.Rename("/a", "/b"))
	require.NoError(t, fs.Truncate("/b", 2))
	require.NoError(t, fs.Unlink("/b"))
	_, err := fs.Compact(context.Background())
	require.NoError(t, err)

	var types []event.Type
	for len(events) > 0 {
		e := <-events
		assert.False(t, e.Timestamp.IsZero())
		types = append(types, e.Type)
	}
	assert.Equal(t, []event.Type{
		event.FileCreated,
		event.FileWritten,
		event.FileRenamed,
		event.FileTruncated,
		event.FileRemoved,
		event.CompactStarted,
		event.CompactComplete,
	}, types)

	s := fs.Stats()
	assert.Equal(t, int64(1), s.Creates)
	assert.Equal(t, int64(1), s.Writes)
	assert.Equal(t, int64(5), s.BytesWritten)
	assert.Equal(t, int64(1), s.Renames)
	assert.Equal(t, int64(1), s.Removes)
	assert.Equal(t, int64(1), s.Compactions)
	assert.Equal(t, int64(5), s.BytesReclaimed)
}

func TestEventsNeverBlock(t *testing.T) {
	events := make(chan event.Event) // unbuffered, never read
	fs := newFS(t, events)
	put(t, fs, "/a", "x")
}

func TestHash(t *testing.T) {
	fs := newFS(t, nil)
	content := make([]byte, 600*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, fs.Create("/big"))
	_, err := fs.Write("/big", content, 0)
	require.NoError(t, err)

	want := blake3.Sum256(content)
	got, err := fs.Hash(context.Background(), "/big")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestCheck(t *testing.T) {
	fs := newFS(t, nil)
	put(t, fs, "/a", "one")
	put(t, fs, "/b", "three")

	report, err := fs.Check(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, int64(8), report.Bytes)
	assert.Nil(t, report.Hashes)

	report, err = fs.Check(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, report.Hashes, 2)
	want := blake3.Sum256([]byte("one"))
	assert.Equal(t, hex.EncodeToString(want[:]), report.Hashes["a"])
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	fs := newFS(t, nil)
	for i := range 4 {
		put(t, fs, fmt.Sprintf("/f%d", i), "seed")
	}

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("/f%d", w)
			for i := range 50 {
				_, err := fs.Write(name, []byte("0123456789"), int64(i*10))
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			buf := make([]byte, 32)
			for range 50 {
				_, err := fs.Read(fmt.Sprintf("/f%d", w), buf, 0)
				assert.NoError(t, err)
				_, err = fs.List()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	report, err := fs.Check(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(4*500), report.Bytes)
}

func TestPolicyDue(t *testing.T) {
	p := vfs.Policy{Threshold: 0.5, MinDeadBytes: 100}
	tests := []struct {
		name string
		u    vfs.Usage
		want bool
	}{
		{"empty", vfs.Usage{}, false},
		{"below min", vfs.Usage{DeadBytes: 99, DataBytes: 100}, false},
		{"below ratio", vfs.Usage{DeadBytes: 100, DataBytes: 1000}, false},
		{"due", vfs.Usage{DeadBytes: 600, DataBytes: 1000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Due(tt.u))
		})
	}
}

func TestRunCompactor(t *testing.T) {
	fs := newFS(t, nil)
	put(t, fs, "/a", "garbage garbage")
	put(t, fs, "/b", "keep")
	require.NoError(t, fs.Unlink("/a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- fs.RunCompactor(ctx, vfs.Policy{Interval: 10 * time.Millisecond, Threshold: 0.1, MinDeadBytes: 1})
	}()

	require.Eventually(t, func() bool {
		u, err := fs.Usage()
		return err == nil && u.DeadBytes == 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	buf := make([]byte, 8)
	n, err := fs.Read("/b", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(buf[:n]))
}

func TestRunCompactorRejectsZeroInterval(t *testing.T) {
	fs := newFS(t, nil)
	require.Error(t, fs.RunCompactor(context.Background(), vfs.Policy{}))
}
