package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"strings"
	"syscall"
	"time"
)

// Stat is the attribute set the kernel bridge reports for one node. Sizes
// come from attachment stubs, so deriving a Stat never costs a second round
// trip beyond the document fetch itself.
type Stat struct {
	Ino   uint64
	Mode  uint32
	Nlink uint32
	Size  uint64
	Ctime time.Time
	Mtime time.Time
}

// FileMode converts the stat's unix mode bits into the os.FileMode shape
// the FUSE layer reports.
func (s Stat) FileMode() os.FileMode { return FileModeOf(s.Mode) }

// IsDir reports whether the stat describes a directory.
func (s Stat) IsDir() bool { return ModeIsDir(s.Mode) }

// IsSymlink reports whether the stat describes a symbolic link.
func (s Stat) IsSymlink() bool { return ModeIsSymlink(s.Mode) }

// DirEntry is one name in a directory listing. Ino is the per-mount inode
// number of the child, derived from the child's document id without
// fetching the child document.
type DirEntry struct {
	Name string
	Ino  uint64
}

// Driver dispatches filesystem operations onto a Backend. It owns the
// open-handle cache, the per-mount inode numbering and the uniform failure
// policy; the FUSE layer above it only translates requests and errnos.
type Driver struct {
	backend Backend
	handles *handleTable
	inodes  *inodeNumbers
	cache   *AttrCache
	logger  *slog.Logger
}

// NewDriver builds a dispatcher over backend. cache may be nil to run
// without the attribute cache; logger may be nil for the default.
func NewDriver(backend Backend, cache *AttrCache, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		backend: backend,
		handles: newHandleTable(),
		inodes:  newInodeNumbers(),
		cache:   cache,
		logger:  logger,
	}
}

// Bootstrap makes a database usable: the by-path index exists and the root
// directory document exists under its well-known id with the canonical
// self-referential entry map. Safe to run on every mount; an already
// initialized database is left alone.
func (d *Driver) Bootstrap(ctx context.Context) error {
	const op = "store.Driver.Bootstrap"
	if err := d.backend.EnsureIndex(ctx); err != nil {
		return err
	}
	_, err := d.backend.GetRecord(ctx, RootID)
	if err == nil {
		return nil
	}
	if KindOf(err) != KindNotFound {
		return err
	}
	root := NewRecord("/", syscall.S_IFDIR|0o555, RootID)
	rev, err := d.backend.PutRecord(ctx, root)
	if err != nil {
		// Another mount bootstrapping the same database at the same time
		// is not a failure.
		if KindOf(err) == KindConflict || KindOf(err) == KindExists {
			return nil
		}
		return err
	}
	root.Rev = rev
	if err := d.writeDentry(ctx, root, NewDentry(RootID, RootID)); err != nil {
		return &Error{Op: op, Path: "/", Kind: KindOf(err), Err: err}
	}
	d.logger.Info("initialized empty filesystem root", "id", RootID)
	return nil
}

// run executes one dispatcher operation under the uniform failure policy:
// transient connectivity failures get exactly one retry, expected
// path-shape refusals pass through quietly, and everything else is logged
// in full before the caller collapses it to a coarse errno.
func (d *Driver) run(ctx context.Context, op, fpath string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err != nil && KindOf(err) == KindTransient {
		d.logger.Warn("transient store failure, retrying once",
			"op", op, "path", fpath, "error", err)
		err = fn(ctx)
	}
	if err == nil {
		d.logger.Debug("op complete", "op", op, "path", fpath)
		return nil
	}
	switch KindOf(err) {
	case KindNotFound, KindExists, KindNotEmpty:
		d.logger.Debug("op refused", "op", op, "path", fpath, "error", err)
	default:
		d.logger.Error("op failed", "op", op, "path", fpath, "error", err)
	}
	return err
}

// resolve finds the current document for a path: open-handle snapshot
// first, then the attribute cache, then the store's by-path index. Index
// hits are cached for the next lookup.
func (d *Driver) resolve(ctx context.Context, fpath string) (*Record, error) {
	if rec, ok := d.handles.snapshot(fpath); ok {
		return rec, nil
	}
	if rec, ok := d.cacheGet(fpath); ok {
		return rec, nil
	}
	rec, err := d.backend.ResolvePath(ctx, fpath)
	if err != nil {
		return nil, err
	}
	d.cachePut(fpath, rec)
	return rec, nil
}

func (d *Driver) cacheGet(fpath string) (*Record, bool) {
	if d.cache == nil {
		return nil, false
	}
	return d.cache.Get(fpath)
}

func (d *Driver) cachePut(fpath string, rec *Record) {
	if d.cache != nil {
		d.cache.Put(fpath, rec)
	}
}

func (d *Driver) cacheDrop(paths ...string) {
	if d.cache == nil {
		return
	}
	for _, p := range paths {
		d.cache.Invalidate(p)
	}
}

// statFor derives the kernel-facing attribute set from a document.
func (d *Driver) statFor(rec *Record) Stat {
	return Stat{
		Ino:   d.inodes.For(rec.ID),
		Mode:  rec.Inode.Mode,
		Nlink: rec.Inode.Nlink,
		Size:  rec.Size(),
		Ctime: ParseTime(rec.Inode.Ctime),
		Mtime: ParseTime(rec.Inode.Mtime),
	}
}

// Getattr reports the attributes for the node at fpath.
func (d *Driver) Getattr(ctx context.Context, fpath string) (Stat, error) {
	const op = "store.Driver.Getattr"
	var st Stat
	err := d.run(ctx, op, fpath, func(ctx context.Context) error {
		rec, err := d.resolve(ctx, fpath)
		if err != nil {
			return err
		}
		st = d.statFor(rec)
		return nil
	})
	return st, err
}

// ReadDir lists the directory at fpath in name order, "." and ".."
// included. The listing is complete and restartable: every call re-reads
// the entry map.
func (d *Driver) ReadDir(ctx context.Context, fpath string) ([]DirEntry, error) {
	const op = "store.Driver.ReadDir"
	var out []DirEntry
	err := d.run(ctx, op, fpath, func(ctx context.Context) error {
		rec, err := d.resolve(ctx, fpath)
		if err != nil {
			return err
		}
		den, err := d.readDentry(ctx, rec)
		if err != nil {
			return err
		}
		out = out[:0]
		for name, id := range den.Iterate {
			out = append(out, DirEntry{Name: name, Ino: d.inodes.For(id)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Readlink returns the target stored for the symbolic link at fpath.
func (d *Driver) Readlink(ctx context.Context, fpath string) (string, error) {
	const op = "store.Driver.Readlink"
	var target string
	err := d.run(ctx, op, fpath, func(ctx context.Context) error {
		rec, err := d.resolve(ctx, fpath)
		if err != nil {
			return err
		}
		if !rec.IsSymlink() {
			return &Error{Op: op, Path: fpath, Kind: KindInvalid,
				Err: errors.New("not a symbolic link")}
		}
		target, err = d.readTarget(ctx, rec)
		return err
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

// Mknod creates a regular file (or other non-directory node) at fpath with
// an empty content attachment.
func (d *Driver) Mknod(ctx context.Context, fpath string, mode uint32) error {
	const op = "store.Driver.Mknod"
	if mode&syscall.S_IFMT == 0 {
		mode |= syscall.S_IFREG
	}
	return d.run(ctx, op, fpath, func(ctx context.Context) error {
		return d.createNode(ctx, op, fpath, mode,
			func(ctx context.Context, rec, _ *Record) error {
				return d.writeAttachment(ctx, rec, nil)
			})
	})
}

// Mkdir creates a directory at fpath holding only its "." and ".." entries.
func (d *Driver) Mkdir(ctx context.Context, fpath string, mode uint32) error {
	const op = "store.Driver.Mkdir"
	return d.run(ctx, op, fpath, func(ctx context.Context) error {
		return d.createNode(ctx, op, fpath, syscall.S_IFDIR|mode&^uint32(syscall.S_IFMT),
			func(ctx context.Context, rec, parent *Record) error {
				return d.writeDentry(ctx, rec, NewDentry(rec.ID, parent.ID))
			})
	})
}

// Symlink creates a symbolic link at fpath pointing at target. The target
// is stored verbatim and never resolved store-side.
func (d *Driver) Symlink(ctx context.Context, fpath, target string) error {
	const op = "store.Driver.Symlink"
	return d.run(ctx, op, fpath, func(ctx context.Context) error {
		return d.createNode(ctx, op, fpath, syscall.S_IFLNK|0o777,
			func(ctx context.Context, rec, _ *Record) error {
				return d.writeTarget(ctx, rec, target)
			})
	})
}

// createNode is the shared create path: refuse occupied paths regardless of
// the occupant's type, write the child document, initialize its content
// attachment, then link the child into its parent. The parent entry goes in
// last so an interrupted create leaves an orphan document, never a name
// that resolves to nothing.
func (d *Driver) createNode(ctx context.Context, op, fpath string, mode uint32,
	init func(ctx context.Context, rec, parent *Record) error) error {
	if fpath == "/" {
		return &Error{Op: op, Path: fpath, Kind: KindExists, Err: ErrExists}
	}
	if _, err := d.resolve(ctx, fpath); err == nil {
		return &Error{Op: op, Path: fpath, Kind: KindExists, Err: ErrExists}
	} else if KindOf(err) != KindNotFound {
		return err
	}
	parent, err := d.resolve(ctx, path.Dir(fpath))
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return &Error{Op: op, Path: path.Dir(fpath), Kind: KindInvalid, Err: ErrNotDirectory}
	}
	rec := NewRecord(fpath, mode, "")
	rev, err := d.backend.PutRecord(ctx, rec)
	if err != nil {
		return err
	}
	rec.Rev = rev
	if err := init(ctx, rec, parent); err != nil {
		return err
	}
	if err := d.addEntry(ctx, parent.ID, path.Base(fpath), rec.ID); err != nil {
		return err
	}
	d.cachePut(fpath, rec)
	d.cacheDrop(parent.Inode.Path)
	return nil
}

// addEntry links name to childID in the directory document dirID. The entry
// map is re-read against the current revision first, so two concurrent
// links into the same directory collide at the revision check instead of
// overwriting each other's names.
func (d *Driver) addEntry(ctx context.Context, dirID, name, childID string) error {
	rec, err := d.backend.GetRecord(ctx, dirID)
	if err != nil {
		return err
	}
	den, err := d.readDentry(ctx, rec)
	if err != nil {
		return err
	}
	den.Set(name, childID)
	return d.writeDentry(ctx, rec, den)
}

// removeEntry drops name from the directory document dirID. A name that is
// already gone is not an error; the desired state holds.
func (d *Driver) removeEntry(ctx context.Context, dirID, name string) error {
	rec, err := d.backend.GetRecord(ctx, dirID)
	if err != nil {
		return err
	}
	den, err := d.readDentry(ctx, rec)
	if err != nil {
		return err
	}
	if !den.Remove(name) {
		return nil
	}
	return d.writeDentry(ctx, rec, den)
}

// Unlink removes the non-directory node at fpath.
func (d *Driver) Unlink(ctx context.Context, fpath string) error {
	const op = "store.Driver.Unlink"
	return d.run(ctx, op, fpath, func(ctx context.Context) error {
		rec, err := d.resolve(ctx, fpath)
		if err != nil {
			return err
		}
		if rec.IsDir() {
			return &Error{Op: op, Path: fpath, Kind: KindInvalid,
				Err: errors.New("is a directory")}
		}
		return d.removeNode(ctx, rec)
	})
}

// Rmdir removes the directory at fpath. Only directories holding nothing
// but their "." and ".." entries can go.
func (d *Driver) Rmdir(ctx context.Context, fpath string) error {
	const op = "store.Driver.Rmdir"
	return d.run(ctx, op, fpath, func(ctx context.Context) error {
		if fpath == "/" {
			return &Error{Op: op, Path: fpath, Kind: KindInvalid,
				Err: errors.New("cannot remove the root directory")}
		}
		rec, err := d.resolve(ctx, fpath)
		if err != nil {
			return err
		}
		den, err := d.readDentry(ctx, rec)
		if err != nil {
			return err
		}
		if !den.Empty() {
			return &Error{Op: op, Path: fpath, Kind: KindNotEmpty, Err: ErrNotEmpty}
		}
		return d.removeNode(ctx, rec)
	})
}

// removeNode unlinks rec from its parent and then deletes its document.
// The name disappears first, so an interrupted remove leaves an orphan
// document rather than a name that resolves to nothing.
func (d *Driver) removeNode(ctx context.Context, rec *Record) error {
	dir := path.Dir(rec.Inode.Path)
	parent, err := d.resolve(ctx, dir)
	if err != nil {
		return err
	}
	if err := d.removeEntry(ctx, parent.ID, path.Base(rec.Inode.Path)); err != nil {
		return err
	}
	// The caller's snapshot may predate attachment writes; delete against
	// the store's current head.
	rev, err := d.backend.Head(ctx, rec.ID)
	if err != nil {
		return err
	}
	if err := d.backend.DeleteRecord(ctx, rec.ID, rev); err != nil {
		return err
	}
	d.cacheDrop(rec.Inode.Path, parent.Inode.Path)
	return nil
}

// Rename moves the node at oldPath to newPath, overwriting an existing
// destination the way rename(2) does. Because every document stores its own
// absolute path, moving a directory would strand the paths of everything
// beneath it; only empty directories can move.
func (d *Driver) Rename(ctx context.Context, oldPath, newPath string) error {
	const op = "store.Driver.Rename"
	return d.run(ctx, op, oldPath, func(ctx context.Context) error {
		if oldPath == "/" || newPath == "/" {
			return &Error{Op: op, Path: oldPath, Kind: KindInvalid,
				Err: errors.New("cannot rename the root directory")}
		}
		if oldPath == newPath {
			return nil
		}
		if strings.HasPrefix(newPath, oldPath+"/") {
			return &Error{Op: op, Path: newPath, Kind: KindInvalid,
				Err: errors.New("cannot move a directory beneath itself")}
		}
		rec, err := d.resolve(ctx, oldPath)
		if err != nil {
			return err
		}
		if rec.IsDir() {
			den, err := d.readDentry(ctx, rec)
			if err != nil {
				return err
			}
			if !den.Empty() {
				return &Error{Op: op, Path: oldPath, Kind: KindNotEmpty, Err: ErrNotEmpty}
			}
		}
		if dst, err := d.resolve(ctx, newPath); err == nil {
			if dst.IsDir() {
				dden, err := d.readDentry(ctx, dst)
				if err != nil {
					return err
				}
				if !dden.Empty() {
					return &Error{Op: op, Path: newPath, Kind: KindNotEmpty, Err: ErrNotEmpty}
				}
			}
			if err := d.removeNode(ctx, dst); err != nil {
				return err
			}
		} else if KindOf(err) != KindNotFound {
			return err
		}
		oldParent, err := d.resolve(ctx, path.Dir(oldPath))
		if err != nil {
			return err
		}
		newParent, err := d.resolve(ctx, path.Dir(newPath))
		if err != nil {
			return err
		}
		if !newParent.IsDir() {
			return &Error{Op: op, Path: path.Dir(newPath), Kind: KindInvalid, Err: ErrNotDirectory}
		}
		// New name first: a failure midway leaves the node reachable under
		// both names instead of neither.
		if err := d.addEntry(ctx, newParent.ID, path.Base(newPath), rec.ID); err != nil {
			return err
		}
		if err := d.removeEntry(ctx, oldParent.ID, path.Base(oldPath)); err != nil {
			return err
		}
		fresh, err := d.backend.GetRecord(ctx, rec.ID)
		if err != nil {
			return err
		}
		fresh.Inode.Path = newPath
		fresh.Inode.Mtime = Now()
		rev, err := d.backend.PutRecord(ctx, fresh)
		if err != nil {
			return err
		}
		fresh.Rev = rev
		if fresh.IsDir() && oldParent.ID != newParent.ID {
			den, err := d.readDentry(ctx, fresh)
			if err != nil {
				return err
			}
			den.Set("..", newParent.ID)
			if err := d.writeDentry(ctx, fresh, den); err != nil {
				return err
			}
		}
		d.handles.rename(oldPath, newPath)
		d.cacheDrop(oldPath, newPath, oldParent.Inode.Path, newParent.Inode.Path)
		return nil
	})
}

// Open takes one reference on fpath in the handle table, resolving and
// pinning the document snapshot on the first open. Read, write and truncate
// only work between an open and its matching release.
func (d *Driver) Open(ctx context.Context, fpath string) error {
	const op = "store.Driver.Open"
	return d.run(ctx, op, fpath, func(ctx context.Context) error {
		if _, ok := d.handles.openCached(fpath); ok {
			return nil
		}
		rec, err := d.resolve(ctx, fpath)
		if err != nil {
			return err
		}
		d.handles.insert(fpath, rec)
		return nil
	})
}

// Release drops one open reference on fpath. The snapshot and any cached
// content go away with the last reference. Purely local.
func (d *Driver) Release(fpath string) error {
	const op = "store.Driver.Release"
	evicted, ok := d.handles.release(fpath)
	if !ok {
		err := &Error{Op: op, Path: fpath, Kind: KindInvalid, Err: ErrNotOpen}
		d.logger.Error("op failed", "op", op, "path", fpath, "error", err)
		return err
	}
	if evicted {
		d.logger.Debug("closed last handle", "op", op, "path", fpath)
	}
	return nil
}

// Read returns up to size bytes of fpath's content starting at offset,
// clipped to the content's end. fpath must be open.
func (d *Driver) Read(ctx context.Context, fpath string, size int, offset int64) ([]byte, error) {
	const op = "store.Driver.Read"
	var out []byte
	err := d.run(ctx, op, fpath, func(ctx context.Context) error {
		rec, data, have, ok := d.handles.content(fpath)
		if !ok {
			return &Error{Op: op, Path: fpath, Kind: KindInvalid, Err: ErrNotOpen}
		}
		if !have {
			var err error
			data, err = d.readAttachment(ctx, rec)
			if err != nil {
				return err
			}
			d.handles.fill(fpath, rec.Rev, data)
		}
		out = nil
		if size <= 0 || offset < 0 || offset >= int64(len(data)) {
			return nil
		}
		end := offset + int64(size)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		out = append([]byte(nil), data[offset:end]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write splices buf into fpath's content at offset and persists the whole
// blob. Writes past the current end grow the content, zero-filling any gap.
// fpath must be open. The snapshot's revision is re-validated against the
// store head first; a concurrent writer advances it, and writing against a
// stale revision would fail anyway.
func (d *Driver) Write(ctx context.Context, fpath string, buf []byte, offset int64) (int, error) {
	const op = "store.Driver.Write"
	err := d.run(ctx, op, fpath, func(ctx context.Context) error {
		rec, data, have, err := d.refreshHandle(ctx, op, fpath)
		if err != nil {
			return err
		}
		if !have {
			data, err = d.readAttachment(ctx, rec)
			if err != nil {
				return err
			}
		}
		merged := Splice(data, buf, offset)
		if err := d.writeAttachment(ctx, rec, merged); err != nil {
			return err
		}
		d.handles.setContent(fpath, rec, merged)
		d.cacheDrop(fpath)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Truncate cuts or zero-extends fpath's content to exactly size bytes.
// fpath must be open.
func (d *Driver) Truncate(ctx context.Context, fpath string, size uint64) error {
	const op = "store.Driver.Truncate"
	return d.run(ctx, op, fpath, func(ctx context.Context) error {
		rec, data, have, err := d.refreshHandle(ctx, op, fpath)
		if err != nil {
			return err
		}
		if !have {
			data, err = d.readAttachment(ctx, rec)
			if err != nil {
				return err
			}
		}
		if uint64(len(data)) == size {
			return nil
		}
		next := make([]byte, size)
		copy(next, data)
		if err := d.writeAttachment(ctx, rec, next); err != nil {
			return err
		}
		d.handles.setContent(fpath, rec, next)
		d.cacheDrop(fpath)
		return nil
	})
}

// refreshHandle returns the open snapshot for fpath, re-validated against
// the store head. When another writer advanced the document since open, the
// snapshot and its cached content are replaced by the current state.
func (d *Driver) refreshHandle(ctx context.Context, op, fpath string) (*Record, []byte, bool, error) {
	rec, data, have, ok := d.handles.content(fpath)
	if !ok {
		return nil, nil, false, &Error{Op: op, Path: fpath, Kind: KindInvalid, Err: ErrNotOpen}
	}
	head, err := d.backend.Head(ctx, rec.ID)
	if err != nil {
		return nil, nil, false, err
	}
	if head == rec.Rev {
		return rec, data, have, nil
	}
	fresh, err := d.backend.GetRecord(ctx, rec.ID)
	if err != nil {
		return nil, nil, false, err
	}
	d.handles.reset(fpath, fresh)
	return fresh, nil, false, nil
}

// Chmod replaces the permission bits of the node at fpath, leaving the type
// bits alone. The document is re-fetched first so the save targets the
// current revision.
func (d *Driver) Chmod(ctx context.Context, fpath string, perm uint32) error {
	const op = "store.Driver.Chmod"
	return d.run(ctx, op, fpath, func(ctx context.Context) error {
		rec, err := d.resolve(ctx, fpath)
		if err != nil {
			return err
		}
		fresh, err := d.backend.GetRecord(ctx, rec.ID)
		if err != nil {
			return err
		}
		fresh.Inode.Mode = fresh.Inode.Mode&uint32(syscall.S_IFMT) | perm&^uint32(syscall.S_IFMT)
		rev, err := d.backend.PutRecord(ctx, fresh)
		if err != nil {
			return err
		}
		fresh.Rev = rev
		d.handles.update(fpath, fresh)
		d.cachePut(fpath, fresh)
		return nil
	})
}

// Chown is accepted and ignored: documents carry no ownership and the
// kernel bridge reports the mounting user for every node.
func (d *Driver) Chown(ctx context.Context, fpath string, uid, gid uint32) error {
	d.logger.Debug("chown ignored", "path", fpath, "uid", uid, "gid", gid)
	return nil
}

// Utimens is accepted and ignored: mtime advances only when the store
// mutates a document.
func (d *Driver) Utimens(ctx context.Context, fpath string, atime, mtime time.Time) error {
	d.logger.Debug("utimens ignored", "path", fpath)
	return nil
}
