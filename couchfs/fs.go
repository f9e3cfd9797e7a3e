package couchfs

import (
	"context"
	"log/slog"
	"os"
	"path"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/dendra-couch-fuse/store"
)

// attrValidity bounds how long the kernel may cache attribute replies. It
// matches the driver's own attribute cache window.
const attrValidity = time.Second

// FS implements the couchfs FUSE filesystem. All shared state lives in the
// store driver; node values carry only the path they answer for, so the
// kernel can hold as many of them as it likes.
type FS struct {
	drv    *store.Driver
	logger *slog.Logger
}

// New creates a new couchfs filesystem instance over drv.
func New(drv *store.Driver, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{
		drv:    drv,
		logger: logger,
	}
}

// Root returns the root directory node.
func (fs *FS) Root() (fs.Node, error) {
	return &Dir{fs: fs, path: "/"}, nil
}

// node picks the node type matching a stat. Directories and symlinks get
// their own types; everything else is served as a regular file.
func (fs *FS) node(fpath string, st store.Stat) fs.Node {
	switch {
	case st.IsDir():
		return &Dir{fs: fs, path: fpath}
	case st.IsSymlink():
		return &Symlink{fs: fs, path: fpath}
	default:
		return &File{fs: fs, path: fpath}
	}
}

// attr loads the current stat for fpath into a kernel attribute reply.
func (fs *FS) attr(ctx context.Context, fpath string, a *fuse.Attr) error {
	st, err := fs.drv.Getattr(ctx, fpath)
	if err != nil {
		return store.Errno(err)
	}
	fillAttr(st, a)
	return nil
}

// setattr applies the valid fields of one Setattr request to fpath.
// Ownership and timestamp changes are accepted and dropped; documents carry
// neither, and mtime advances only when the store mutates a document.
func (fs *FS) setattr(ctx context.Context, fpath string, req *fuse.SetattrRequest) error {
	if req.Valid.Size() {
		if err := fs.truncate(ctx, fpath, req.Size); err != nil {
			return store.Errno(err)
		}
	}
	if req.Valid.Mode() {
		if err := fs.drv.Chmod(ctx, fpath, store.UnixMode(req.Mode)); err != nil {
			return store.Errno(err)
		}
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		if err := fs.drv.Chown(ctx, fpath, req.Uid, req.Gid); err != nil {
			return store.Errno(err)
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		if err := fs.drv.Utimens(ctx, fpath, req.Atime, req.Mtime); err != nil {
			return store.Errno(err)
		}
	}
	return nil
}

// truncate brackets a size change with its own open so that resizing works
// on closed files too. A file the kernel already holds open just gains a
// reference for the duration.
func (fs *FS) truncate(ctx context.Context, fpath string, size uint64) error {
	if err := fs.drv.Open(ctx, fpath); err != nil {
		return err
	}
	defer fs.drv.Release(fpath)
	return fs.drv.Truncate(ctx, fpath, size)
}

// fillAttr copies a driver stat into a kernel attribute struct. Documents
// carry no ownership, so every node reports the mounting user.
func fillAttr(st store.Stat, a *fuse.Attr) {
	a.Valid = attrValidity
	a.Inode = st.Ino
	a.Size = st.Size
	a.Mode = st.FileMode()
	a.Nlink = st.Nlink
	a.Ctime = st.Ctime
	a.Mtime = st.Mtime
	a.Atime = st.Mtime
	a.Uid = uint32(os.Getuid())
	a.Gid = uint32(os.Getgid())
}

// Dir implements both Node and Handle for directories
type Dir struct {
	fs   *FS
	path string
}

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	return d.fs.attr(ctx, d.path, a)
}

// Lookup resolves one name in the directory to a typed node
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	fpath := path.Join(d.path, name)
	st, err := d.fs.drv.Getattr(ctx, fpath)
	if err != nil {
		return nil, store.Errno(err)
	}
	return d.fs.node(fpath, st), nil
}

// ReadDirAll lists directory contents. Entry maps carry no type
// information, so everything beyond the dot entries reports DT_Unknown and
// callers that care must stat.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.fs.drv.ReadDir(ctx, d.path)
	if err != nil {
		return nil, store.Errno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		typ := fuse.DT_Unknown
		if e.Name == "." || e.Name == ".." {
			typ = fuse.DT_Dir
		}
		dirents = append(dirents, fuse.Dirent{
			Inode: e.Ino,
			Name:  e.Name,
			Type:  typ,
		})
	}
	return dirents, nil
}

// Create makes a new empty file and opens it
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	fpath := path.Join(d.path, req.Name)
	if err := d.fs.drv.Mknod(ctx, fpath, store.UnixMode(req.Mode)); err != nil {
		return nil, nil, store.Errno(err)
	}
	if err := d.fs.drv.Open(ctx, fpath); err != nil {
		return nil, nil, store.Errno(err)
	}
	file := &File{fs: d.fs, path: fpath}
	return file, &FileHandle{fs: d.fs, path: fpath}, nil
}

// Mkdir creates a new directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	fpath := path.Join(d.path, req.Name)
	if err := d.fs.drv.Mkdir(ctx, fpath, store.UnixMode(req.Mode)); err != nil {
		return nil, store.Errno(err)
	}
	return &Dir{fs: d.fs, path: fpath}, nil
}

// Mknod creates a node without opening it
func (d *Dir) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	fpath := path.Join(d.path, req.Name)
	if err := d.fs.drv.Mknod(ctx, fpath, store.UnixMode(req.Mode)); err != nil {
		return nil, store.Errno(err)
	}
	st, err := d.fs.drv.Getattr(ctx, fpath)
	if err != nil {
		return nil, store.Errno(err)
	}
	return d.fs.node(fpath, st), nil
}

// Symlink creates a symbolic link
func (d *Dir) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	fpath := path.Join(d.path, req.NewName)
	if err := d.fs.drv.Symlink(ctx, fpath, req.Target); err != nil {
		return nil, store.Errno(err)
	}
	return &Symlink{fs: d.fs, path: fpath}, nil
}

// Remove unlinks a file or symlink, or removes an empty directory
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	fpath := path.Join(d.path, req.Name)
	if req.Dir {
		if err := d.fs.drv.Rmdir(ctx, fpath); err != nil {
			return store.Errno(err)
		}
		return nil
	}
	if err := d.fs.drv.Unlink(ctx, fpath); err != nil {
		return store.Errno(err)
	}
	return nil
}

// Rename moves an entry, possibly into a different parent directory
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return syscall.ENOTDIR
	}
	oldPath := path.Join(d.path, req.OldName)
	newPath := path.Join(target.path, req.NewName)
	if err := d.fs.drv.Rename(ctx, oldPath, newPath); err != nil {
		return store.Errno(err)
	}
	return nil
}

// Setattr applies attribute changes to the directory
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if err := d.fs.setattr(ctx, d.path, req); err != nil {
		return err
	}
	return d.fs.attr(ctx, d.path, &resp.Attr)
}

// Fsync on a directory has nothing to flush; entry changes persisted before
// the mutating call returned.
func (d *Dir) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return nil
}

// File represents a regular file backed by one document's content attachment
type File struct {
	fs   *FS
	path string
}

// Attr returns file attributes
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	return f.fs.attr(ctx, f.path, a)
}

// Open pins the file's document snapshot and hands back a handle
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if err := f.fs.drv.Open(ctx, f.path); err != nil {
		return nil, store.Errno(err)
	}
	return &FileHandle{fs: f.fs, path: f.path}, nil
}

// Setattr sets file attributes
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if err := f.fs.setattr(ctx, f.path, req); err != nil {
		return err
	}
	return f.fs.attr(ctx, f.path, &resp.Attr)
}

// Fsync forces synchronization. Every write already persisted the whole
// blob before it returned, so there is nothing left to flush.
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return nil
}

// FileHandle is one kernel handle on an open file. The driver keeps the
// shared per-path snapshot and content; handles themselves are stateless.
type FileHandle struct {
	fs   *FS
	path string
}

// Read returns up to req.Size bytes starting at req.Offset
func (h *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := h.fs.drv.Read(ctx, h.path, req.Size, req.Offset)
	if err != nil {
		return store.Errno(err)
	}
	resp.Data = data
	return nil
}

// Write splices req.Data into the file at req.Offset
func (h *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := h.fs.drv.Write(ctx, h.path, req.Data, req.Offset)
	if err != nil {
		return store.Errno(err)
	}
	resp.Size = n
	return nil
}

// Release drops the handle's reference on the open file
func (h *FileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	if err := h.fs.drv.Release(h.path); err != nil {
		return store.Errno(err)
	}
	return nil
}

// Symlink represents a symbolic link node
type Symlink struct {
	fs   *FS
	path string
}

// Attr returns link attributes
func (s *Symlink) Attr(ctx context.Context, a *fuse.Attr) error {
	return s.fs.attr(ctx, s.path, a)
}

// Readlink returns the stored link target
func (s *Symlink) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := s.fs.drv.Readlink(ctx, s.path)
	if err != nil {
		return "", store.Errno(err)
	}
	return target, nil
}

var (
	_ fs.FS = (*FS)(nil)

	_ fs.Node               = (*Dir)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
	_ fs.NodeCreater        = (*Dir)(nil)
	_ fs.NodeMkdirer        = (*Dir)(nil)
	_ fs.NodeMknoder        = (*Dir)(nil)
	_ fs.NodeSymlinker      = (*Dir)(nil)
	_ fs.NodeRemover        = (*Dir)(nil)
	_ fs.NodeRenamer        = (*Dir)(nil)
	_ fs.NodeSetattrer      = (*Dir)(nil)
	_ fs.NodeFsyncer        = (*Dir)(nil)

	_ fs.Node          = (*File)(nil)
	_ fs.NodeOpener    = (*File)(nil)
	_ fs.NodeSetattrer = (*File)(nil)
	_ fs.NodeFsyncer   = (*File)(nil)

	_ fs.Handle         = (*FileHandle)(nil)
	_ fs.HandleReader   = (*FileHandle)(nil)
	_ fs.HandleWriter   = (*FileHandle)(nil)
	_ fs.HandleReleaser = (*FileHandle)(nil)

	_ fs.Node           = (*Symlink)(nil)
	_ fs.NodeReadlinker = (*Symlink)(nil)
)
