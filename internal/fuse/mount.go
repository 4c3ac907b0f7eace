// Package fuse exposes a vfs.FS as a single-directory FUSE filesystem.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bamsammich/flatfs/internal/vfs"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted. It is
	// created if it does not exist.
	Mountpoint string

	FS *vfs.FS

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// FsName is shown as the source in /proc/mounts.
	FsName string

	// Debug logs every FUSE request.
	Debug bool

	Logger *slog.Logger
}

// Mount mounts opts.FS at opts.Mountpoint. The caller must Unmount the
// returned server when done.
func Mount(opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if opts.FS == nil {
		return nil, errors.New("filesystem is required")
	}
	if opts.FsName == "" {
		opts.FsName = "flatfs"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	root := &rootNode{fs: opts.FS, log: opts.Logger}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(opts.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     opts.FsName,
			Name:       "flatfs",
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", opts.Mountpoint, err)
	}

	opts.Logger.Info("filesystem mounted", "mountpoint", opts.Mountpoint)
	return server, nil
}

// toErrno maps handler errors to errno values.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, vfs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, vfs.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, vfs.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, vfs.ErrInvalidName):
		return syscall.EINVAL
	case errors.Is(err, vfs.ErrTooLarge):
		return syscall.EFBIG
	default:
		return syscall.EIO
	}
}

// errno converts err, logging anything that is not an expected outcome.
func errno(log *slog.Logger, op, name string, err error) syscall.Errno {
	e := toErrno(err)
	if e == syscall.EIO {
		log.Error("filesystem operation failed", "op", op, "name", name, "error", err)
	}
	return e
}

func fillAttr(a vfs.Attr, out *fuse.Attr) {
	out.Mode = uint32(a.Mode.Perm())
	if a.IsDir() {
		out.Mode |= syscall.S_IFDIR
	} else {
		out.Mode |= syscall.S_IFREG
	}
	out.Size = uint64(a.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = 4096
	out.Nlink = a.Nlink
}

// rootNode is the only directory.
type rootNode struct {
	gofuse.Inode
	fs  *vfs.FS
	log *slog.Logger
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeGetattrer = (*rootNode)(nil)
var _ gofuse.NodeLookuper = (*rootNode)(nil)
var _ gofuse.NodeReaddirer = (*rootNode)(nil)
var _ gofuse.NodeCreater = (*rootNode)(nil)
var _ gofuse.NodeMknoder = (*rootNode)(nil)
var _ gofuse.NodeUnlinker = (*rootNode)(nil)
var _ gofuse.NodeRenamer = (*rootNode)(nil)
var _ gofuse.NodeStatfser = (*rootNode)(nil)

func (r *rootNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, err := r.fs.Attr("/")
	if err != nil {
		return errno(r.log, "getattr", "/", err)
	}
	fillAttr(a, &out.Attr)
	return 0
}

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	a, err := r.fs.Attr(name)
	if err != nil {
		return nil, errno(r.log, "lookup", name, err)
	}
	fillAttr(a, &out.Attr)
	return r.newFile(ctx), 0
}

func (r *rootNode) newFile(ctx context.Context) *gofuse.Inode {
	return r.NewInode(ctx, &fileNode{fs: r.fs, log: r.log}, gofuse.StableAttr{Mode: syscall.S_IFREG})
}

func (r *rootNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	files, err := r.fs.List()
	if err != nil {
		return nil, errno(r.log, "readdir", "/", err)
	}
	entries := make([]fuse.DirEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, fuse.DirEntry{Name: f.Name, Mode: syscall.S_IFREG})
	}
	return &sliceDirStream{entries: entries}, 0
}

func (r *rootNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	err := r.fs.Create(name)
	if errors.Is(err, vfs.ErrAlreadyExists) && flags&syscall.O_EXCL == 0 {
		if flags&syscall.O_TRUNC != 0 {
			err = r.fs.Truncate(name, 0)
		} else {
			err = nil
		}
	}
	if err != nil {
		return nil, nil, 0, errno(r.log, "create", name, err)
	}
	a, err := r.fs.Attr(name)
	if err != nil {
		return nil, nil, 0, errno(r.log, "create", name, err)
	}
	fillAttr(a, &out.Attr)
	return r.newFile(ctx), nil, 0, 0
}

func (r *rootNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	if mode&syscall.S_IFMT != syscall.S_IFREG {
		return nil, syscall.EPERM
	}
	if err := r.fs.Create(name); err != nil {
		return nil, errno(r.log, "mknod", name, err)
	}
	fillAttr(vfs.Attr{Mode: vfs.FileMode, Nlink: 1}, &out.Attr)
	return r.newFile(ctx), 0
}

func (r *rootNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(r.log, "unlink", name, r.fs.Unlink(name))
}

func (r *rootNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if newParent.EmbeddedInode() != r.EmbeddedInode() {
		return syscall.EXDEV
	}
	if flags != 0 {
		return syscall.ENOTSUP
	}
	return errno(r.log, "rename", name, r.fs.Rename(name, newName))
}

func (r *rootNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	u, err := r.fs.Usage()
	if err != nil {
		return errno(r.log, "statfs", "/", err)
	}
	const bsize = 4096
	out.Bsize = bsize
	out.Frsize = bsize
	out.NameLen = 255
	out.Blocks = uint64(u.DataBytes+bsize-1) / bsize
	out.Files = uint64(u.Files)
	return 0
}

// fileNode is a Live file. It holds no name: the current name is taken from
// the inode tree on every call, so renames need no bookkeeping.
type fileNode struct {
	gofuse.Inode
	fs  *vfs.FS
	log *slog.Logger
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)
var _ gofuse.NodeWriter = (*fileNode)(nil)
var _ gofuse.NodeFlusher = (*fileNode)(nil)
var _ gofuse.NodeFsyncer = (*fileNode)(nil)

func (f *fileNode) name() string {
	return f.Path(nil)
}

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	name := f.name()
	a, err := f.fs.Attr(name)
	if err != nil {
		return errno(f.log, "getattr", name, err)
	}
	fillAttr(a, &out.Attr)
	return 0
}

func (f *fileNode) Setattr(ctx context.Context, fh gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	name := f.name()
	if size, ok := in.GetSize(); ok {
		if err := f.fs.Truncate(name, int64(size)); err != nil {
			return errno(f.log, "truncate", name, err)
		}
	}
	return f.Getattr(ctx, fh, out)
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	name := f.name()
	if err := f.fs.Open(name); err != nil {
		return nil, 0, errno(f.log, "open", name, err)
	}
	if flags&syscall.O_TRUNC != 0 && flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		if err := f.fs.Truncate(name, 0); err != nil {
			return nil, 0, errno(f.log, "open", name, err)
		}
	}
	return nil, 0, 0
}

func (f *fileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	name := f.name()
	n, err := f.fs.Read(name, dest, off)
	if err != nil {
		return nil, errno(f.log, "read", name, err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *fileNode) Write(ctx context.Context, fh gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	name := f.name()
	n, err := f.fs.Write(name, data, off)
	if err != nil {
		return uint32(n), errno(f.log, "write", name, err)
	}
	return uint32(n), 0
}

func (f *fileNode) Flush(ctx context.Context, fh gofuse.FileHandle) syscall.Errno {
	return 0
}

func (f *fileNode) Fsync(ctx context.Context, fh gofuse.FileHandle, flags uint32) syscall.Errno {
	return errno(f.log, "fsync", f.name(), f.fs.Flush())
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
