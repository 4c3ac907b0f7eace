package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/flatfs/internal/config"
)

type image struct {
	t    *testing.T
	dir  string
	args []string
}

func newImage(t *testing.T, extra ...string) *image {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	args := []string{"--data", filepath.Join(dir, "fs.data"), "-q"}
	return &image{t: t, dir: dir, args: append(args, extra...)}
}

// run executes flatfs against the image and returns exit code, stdout and
// stderr.
func (im *image) run(args ...string) (int, string, string) {
	im.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append(append([]string{}, args...), im.args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (im *image) ok(args ...string) string {
	im.t.Helper()
	code, out, errOut := im.run(args...)
	require.Equal(im.t, 0, code, "flatfs %v: %s", args, errOut)
	return out
}

func (im *image) source(name, content string) string {
	im.t.Helper()
	path := filepath.Join(im.dir, name)
	require.NoError(im.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	var stdout bytes.Buffer
	assert.Equal(t, 0, run([]string{"--version"}, &stdout, &bytes.Buffer{}))
	assert.Equal(t, "flatfs dev\n", stdout.String())
}

func TestPutCatLs(t *testing.T) {
	im := newImage(t)
	im.ok("put", "a.txt", im.source("a", "hello"))
	im.ok("put", "b.bin", im.source("b", "0123456789"))
	im.ok("touch", "empty")

	assert.Equal(t, "hello", im.ok("cat", "a.txt"))
	assert.Equal(t, "hello0123456789", im.ok("cat", "a.txt", "b.bin"))
	assert.Equal(t, "a.txt\nb.bin\nempty\n", im.ok("ls"))

	long := im.ok("ls", "-l", "--bytes")
	assert.Equal(t, " 5  a.txt\n10  b.bin\n 0  empty\n3 files, 15\n", long)

	assert.Equal(t, "b.bin\n", im.ok("ls", "--exclude", "*.txt", "--min-size", "1"))
	assert.Equal(t, "a.txt\n", im.ok("ls", "--include", "a*", "--exclude", "*"))
}

func TestPutExisting(t *testing.T) {
	im := newImage(t)
	im.ok("put", "a", im.source("a1", "first version"))

	code, _, errOut := im.run("put", "a", im.source("a2", "second"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")

	im.ok("put", "-f", "a", im.source("a2", "second"))
	assert.Equal(t, "second", im.ok("cat", "a"))
}

func TestMvRmTruncate(t *testing.T) {
	im := newImage(t)
	im.ok("put", "a", im.source("a", "abcdef"))
	im.ok("mv", "a", "b")
	assert.Equal(t, "b\n", im.ok("ls"))

	im.ok("truncate", "b", "3")
	assert.Equal(t, "abc", im.ok("cat", "b"))
	im.ok("truncate", "b", "5")
	assert.Equal(t, "abc\x00\x00", im.ok("cat", "b"))

	im.ok("rm", "b")
	assert.Empty(t, im.ok("ls"))

	code, _, errOut := im.run("rm", "b")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not found")
	im.ok("rm", "-f", "b")
}

func TestStatAndSum(t *testing.T) {
	im := newImage(t)
	im.ok("put", "a", im.source("a", "abc"))

	out := im.ok("stat", "--hash", "a")
	assert.Contains(t, out, "size: 3 (3 B)")
	assert.Contains(t, out, "type: regular file")
	assert.Contains(t, out, "mode: -rw-r--r--")
	assert.Contains(t, out, "blake3: ")

	sum := im.ok("sum")
	assert.True(t, strings.HasSuffix(sum, "  a\n"))
	assert.Len(t, strings.Fields(sum)[0], 64)
	assert.Equal(t, sum, im.ok("sum", "a"))

	out = im.ok("stat", "/")
	assert.Contains(t, out, "type: directory")
}

func TestCompactDfFsck(t *testing.T) {
	im := newImage(t)
	im.ok("put", "a", im.source("a", strings.Repeat("a", 1000)))
	im.ok("put", "b", im.source("b", strings.Repeat("b", 1000)))
	im.ok("rm", "a")

	df := im.ok("df", "--bytes")
	assert.Contains(t, df, "dead      1000 (50.0%)")

	// Below the default 64M minimum, --if-needed is a no-op.
	im.ok("compact", "--if-needed")
	assert.Contains(t, im.ok("df", "--bytes"), "data      2000")

	im.ok("compact", "--if-needed", "--compact-min-dead", "1", "--compact-threshold", "0.1")
	assert.Contains(t, im.ok("df", "--bytes"), "data      1000")

	assert.Equal(t, strings.Repeat("b", 1000), im.ok("cat", "b"))
	out := im.ok("fsck", "--hash")
	assert.Contains(t, out, "ok: 1 files")
	assert.Contains(t, out, "  b\n")
}

func TestFsckCorrupt(t *testing.T) {
	im := newImage(t)
	im.ok("put", "a", im.source("a", "abc"))
	require.NoError(t, os.WriteFile(filepath.Join(im.dir, "fs.meta"), []byte{1, 2}, 0o644))
	require.NoError(t, os.Remove(filepath.Join(im.dir, "fs.meta.journal")))

	code, _, errOut := im.run("fsck")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "corrupt")

	code, _, _ = im.run("ls")
	assert.Equal(t, 2, code)
}

func TestExportImport(t *testing.T) {
	src := newImage(t)
	src.ok("put", "keep", src.source("k", "keep me"))
	src.ok("put", "drop.log", src.source("d", "drop me"))
	archivePath := filepath.Join(src.dir, "image.fa")
	src.ok("export", "--exclude", "*.log", archivePath)

	dst := newImage(t)
	dst.ok("import", archivePath)
	assert.Equal(t, "keep\n", dst.ok("ls"))
	assert.Equal(t, "keep me", dst.ok("cat", "keep"))

	code, _, _ := dst.run("import", archivePath)
	assert.Equal(t, 1, code)
	dst.ok("import", "--overwrite", archivePath)
}

func TestSQLiteBackend(t *testing.T) {
	im := newImage(t)
	im.args = append(im.args, "--backend", "sqlite", "--sqlite", filepath.Join(im.dir, "fs.db"))
	im.ok("put", "a", im.source("a", "in a database"))
	assert.Equal(t, "in a database", im.ok("cat", "a"))
	assert.Equal(t, "a\n", im.ok("ls"))
	im.ok("compact")
	_, err := os.Stat(filepath.Join(im.dir, "fs.db"))
	require.NoError(t, err)
}

func TestUsageErrors(t *testing.T) {
	im := newImage(t)

	code, _, _ := im.run("ls", "--backend", "zfs")
	assert.Equal(t, 2, code)

	code, _, _ = im.run("ls", "--no-such-flag")
	assert.Equal(t, 2, code)

	code, _, _ = im.run("ls", "--sync", "sometimes")
	assert.Equal(t, 2, code)

	code, _, _ = im.run("truncate", "a", "lots")
	assert.Equal(t, 2, code)

	code, _, _ = im.run("ls", "--min-size", "10", "--max-size", "5")
	assert.Equal(t, 2, code)
}

func TestConfigDefaults(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := t.TempDir()
	data := filepath.Join(dir, "configured.data")
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "flatfs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "flatfs", "config.toml"),
		[]byte("[store]\ndata = \""+data+"\"\nsync = \"never\"\n"), 0o644))

	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	var stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-q", "put", "f", src}, &bytes.Buffer{}, &stderr), stderr.String())
	_, err := os.Stat(data)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "configured.meta"))
	require.NoError(t, err)

	// Explicit flags win over the config file.
	other := filepath.Join(dir, "other.data")
	require.Equal(t, 0, run([]string{"-q", "--data", other, "touch", "g"}, &bytes.Buffer{}, &stderr))
	_, err = os.Stat(other)
	require.NoError(t, err)
}

func TestBadConfig(t *testing.T) {
	im := newImage(t)
	cfg := filepath.Join(im.dir, "bad.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[store]\nbackend = \"tape\"\n"), 0o644))
	code, _, errOut := im.run("ls", "--config", cfg)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "store.backend")
}

func TestStatus(t *testing.T) {
	im := newImage(t)
	assert.Contains(t, im.ok("status"), "no image at")

	im.ok("touch", "a")
	assert.Equal(t, "not mounted\n", im.ok("status"))

	data := filepath.Join(im.dir, "fs.data")
	require.NoError(t, config.WriteMountRecord(data, config.MountRecord{
		Mountpoint: "/mnt/x", PID: 77, Backend: "extent",
	}))
	assert.Contains(t, im.ok("status"), "mounted at /mnt/x (pid 77, extent backend)")
}

func TestGenDocs(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	code := run([]string{"gen-docs", "--format", "markdown", "--dir", dir}, &bytes.Buffer{}, &stderr)
	require.Equal(t, 0, code, stderr.String())
	_, err := os.Stat(filepath.Join(dir, "flatfs_mount.md"))
	require.NoError(t, err)

	code = run([]string{"gen-docs", "--format", "pdf", "--dir", dir}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Equal(t, 2, code)
}

func TestSizeValue(t *testing.T) {
	var s sizeValue
	require.NoError(t, s.Set("64M"))
	assert.Equal(t, sizeValue(64<<20), s)
	assert.Equal(t, "67108864", s.String())
	assert.Equal(t, "size", s.Type())
	require.Error(t, s.Set("big"))
}
