package couchfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"bazil.org/fuse"
	"github.com/google/go-cmp/cmp"

	"github.com/dendrascience/dendra-couch-fuse/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFS(t *testing.T) (*FS, *store.Driver) {
	t.Helper()
	drv := store.NewDriver(store.NewMemBackend(), nil, quietLogger())
	if err := drv.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() failed: %v", err)
	}
	return New(drv, quietLogger()), drv
}

func rootDir(t *testing.T, fsys *FS) *Dir {
	t.Helper()
	node, err := fsys.Root()
	if err != nil {
		t.Fatalf("Root() failed: %v", err)
	}
	dir, ok := node.(*Dir)
	if !ok {
		t.Fatalf("Root() returned %T, want *Dir", node)
	}
	return dir
}

// seedFile creates a file with content through the driver, below the FUSE
// surface under test.
func seedFile(t *testing.T, drv *store.Driver, path string, data []byte) {
	t.Helper()
	ctx := context.Background()
	if err := drv.Mknod(ctx, path, 0o644); err != nil {
		t.Fatalf("Mknod(%q) failed: %v", path, err)
	}
	if err := drv.Open(ctx, path); err != nil {
		t.Fatalf("Open(%q) failed: %v", path, err)
	}
	if len(data) > 0 {
		if _, err := drv.Write(ctx, path, data, 0); err != nil {
			t.Fatalf("Write(%q) failed: %v", path, err)
		}
	}
	if err := drv.Release(path); err != nil {
		t.Fatalf("Release(%q) failed: %v", path, err)
	}
}

// fuseReadAll reads a file's full content through the node's own open,
// read and release methods.
func fuseReadAll(t *testing.T, f *File) []byte {
	t.Helper()
	ctx := context.Background()
	handle, err := f.Open(ctx, &fuse.OpenRequest{}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", f.path, err)
	}
	fh := handle.(*FileHandle)
	defer fh.Release(ctx, &fuse.ReleaseRequest{})
	resp := &fuse.ReadResponse{}
	if err := fh.Read(ctx, &fuse.ReadRequest{Offset: 0, Size: 1 << 20}, resp); err != nil {
		t.Fatalf("Read(%q) failed: %v", f.path, err)
	}
	return resp.Data
}

func TestRootAttr(t *testing.T) {
	fsys, _ := newTestFS(t)
	root := rootDir(t, fsys)

	var attr fuse.Attr
	if err := root.Attr(context.Background(), &attr); err != nil {
		t.Fatalf("Attr() failed: %v", err)
	}
	if attr.Inode != 1 {
		t.Errorf("root inode = %d, want 1", attr.Inode)
	}
	if attr.Mode&os.ModeDir == 0 {
		t.Errorf("root mode = %v, want a directory", attr.Mode)
	}
	if attr.Mode.Perm() != 0o555 {
		t.Errorf("root perm = %o, want 0o555", attr.Mode.Perm())
	}
	if attr.Nlink != 2 {
		t.Errorf("root nlink = %d, want 2", attr.Nlink)
	}
	if attr.Uid != uint32(os.Getuid()) || attr.Gid != uint32(os.Getgid()) {
		t.Errorf("root uid:gid = %d:%d, want mounting user %d:%d",
			attr.Uid, attr.Gid, os.Getuid(), os.Getgid())
	}
	if attr.Valid != time.Second {
		t.Errorf("attr validity = %v, want %v", attr.Valid, time.Second)
	}
}

func TestLookupReturnsTypedNodes(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)

	if err := drv.Mkdir(ctx, "/data", 0o755); err != nil {
		t.Fatalf("Mkdir(/data) failed: %v", err)
	}
	seedFile(t, drv, "/notes.txt", []byte("n"))
	if err := drv.Symlink(ctx, "/latest", "notes.txt"); err != nil {
		t.Fatalf("Symlink(/latest) failed: %v", err)
	}

	node, err := root.Lookup(ctx, "data")
	if err != nil {
		t.Fatalf("Lookup(data) failed: %v", err)
	}
	if dir, ok := node.(*Dir); !ok {
		t.Errorf("Lookup(data) = %T, want *Dir", node)
	} else if dir.path != "/data" {
		t.Errorf("Lookup(data) path = %q, want /data", dir.path)
	}

	node, err = root.Lookup(ctx, "notes.txt")
	if err != nil {
		t.Fatalf("Lookup(notes.txt) failed: %v", err)
	}
	if file, ok := node.(*File); !ok {
		t.Errorf("Lookup(notes.txt) = %T, want *File", node)
	} else if file.path != "/notes.txt" {
		t.Errorf("Lookup(notes.txt) path = %q, want /notes.txt", file.path)
	}

	node, err = root.Lookup(ctx, "latest")
	if err != nil {
		t.Fatalf("Lookup(latest) failed: %v", err)
	}
	if _, ok := node.(*Symlink); !ok {
		t.Errorf("Lookup(latest) = %T, want *Symlink", node)
	}

	if _, err := root.Lookup(ctx, "missing"); !errors.Is(err, syscall.ENOENT) {
		t.Errorf("Lookup(missing) error = %v, want ENOENT", err)
	}
}

func TestCreateWriteRead(t *testing.T) {
	fsys, _ := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)

	content := []byte(`{"ok":true}`)
	node, handle, err := root.Create(ctx,
		&fuse.CreateRequest{Name: "report.json", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create(report.json) failed: %v", err)
	}
	file, ok := node.(*File)
	if !ok {
		t.Fatalf("Create returned node %T, want *File", node)
	}
	fh, ok := handle.(*FileHandle)
	if !ok {
		t.Fatalf("Create returned handle %T, want *FileHandle", handle)
	}

	wresp := &fuse.WriteResponse{}
	if err := fh.Write(ctx, &fuse.WriteRequest{Data: content, Offset: 0}, wresp); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if wresp.Size != len(content) {
		t.Errorf("write size = %d, want %d", wresp.Size, len(content))
	}

	rresp := &fuse.ReadResponse{}
	if err := fh.Read(ctx, &fuse.ReadRequest{Offset: 0, Size: 64}, rresp); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !bytes.Equal(rresp.Data, content) {
		t.Errorf("Read() = %q, want %q", rresp.Data, content)
	}

	var attr fuse.Attr
	if err := file.Attr(ctx, &attr); err != nil {
		t.Fatalf("Attr() failed: %v", err)
	}
	if attr.Size != uint64(len(content)) {
		t.Errorf("attr size = %d, want %d", attr.Size, len(content))
	}
	if attr.Mode.Perm() != 0o644 {
		t.Errorf("attr perm = %o, want 0o644", attr.Mode.Perm())
	}

	if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	err = fh.Read(ctx, &fuse.ReadRequest{Offset: 0, Size: 8}, &fuse.ReadResponse{})
	if !errors.Is(err, syscall.EINVAL) {
		t.Errorf("Read after release error = %v, want EINVAL", err)
	}
}

func TestCreateExistingName(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)
	seedFile(t, drv, "/dup.txt", nil)

	_, _, err := root.Create(ctx,
		&fuse.CreateRequest{Name: "dup.txt", Mode: 0o644}, &fuse.CreateResponse{})
	if !errors.Is(err, syscall.EEXIST) {
		t.Errorf("Create over existing file error = %v, want EEXIST", err)
	}
	if _, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "dup.txt", Mode: os.ModeDir | 0o755}); !errors.Is(err, syscall.EEXIST) {
		t.Errorf("Mkdir over existing file error = %v, want EEXIST", err)
	}
}

func TestMkdirHasDotEntries(t *testing.T) {
	fsys, _ := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)

	node, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "archive", Mode: os.ModeDir | 0o755})
	if err != nil {
		t.Fatalf("Mkdir(archive) failed: %v", err)
	}
	dir, ok := node.(*Dir)
	if !ok {
		t.Fatalf("Mkdir returned %T, want *Dir", node)
	}

	entries, err := dir.ReadDirAll(ctx)
	if err != nil {
		t.Fatalf("ReadDirAll() failed: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if diff := cmp.Diff([]string{".", ".."}, names); diff != "" {
		t.Errorf("new directory listing mismatch (-want +got):\n%s", diff)
	}

	var attr fuse.Attr
	if err := dir.Attr(ctx, &attr); err != nil {
		t.Fatalf("Attr() failed: %v", err)
	}
	if attr.Mode&os.ModeDir == 0 || attr.Mode.Perm() != 0o755 {
		t.Errorf("attr mode = %v, want directory with perm 0o755", attr.Mode)
	}
}

func TestMknod(t *testing.T) {
	fsys, _ := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)

	node, err := root.Mknod(ctx, &fuse.MknodRequest{Name: "empty.bin", Mode: 0o600})
	if err != nil {
		t.Fatalf("Mknod(empty.bin) failed: %v", err)
	}
	file, ok := node.(*File)
	if !ok {
		t.Fatalf("Mknod returned %T, want *File", node)
	}

	var attr fuse.Attr
	if err := file.Attr(ctx, &attr); err != nil {
		t.Fatalf("Attr() failed: %v", err)
	}
	if attr.Size != 0 {
		t.Errorf("new node size = %d, want 0", attr.Size)
	}
	if attr.Mode.Perm() != 0o600 {
		t.Errorf("new node perm = %o, want 0o600", attr.Mode.Perm())
	}
}

func TestReadDirAll(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)

	if err := drv.Mkdir(ctx, "/alpha", 0o755); err != nil {
		t.Fatalf("Mkdir(/alpha) failed: %v", err)
	}
	seedFile(t, drv, "/beta.txt", nil)

	entries, err := root.ReadDirAll(ctx)
	if err != nil {
		t.Fatalf("ReadDirAll() failed: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
		if e.Inode == 0 {
			t.Errorf("entry %q has inode 0", e.Name)
		}
		wantType := fuse.DT_Unknown
		if e.Name == "." || e.Name == ".." {
			wantType = fuse.DT_Dir
		}
		if e.Type != wantType {
			t.Errorf("entry %q type = %v, want %v", e.Name, e.Type, wantType)
		}
	}
	if diff := cmp.Diff([]string{".", "..", "alpha", "beta.txt"}, names); diff != "" {
		t.Errorf("ReadDirAll() names mismatch (-want +got):\n%s", diff)
	}
}

func TestSymlinkReadlink(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)
	seedFile(t, drv, "/target.txt", []byte("x"))

	node, err := root.Symlink(ctx, &fuse.SymlinkRequest{NewName: "current", Target: "target.txt"})
	if err != nil {
		t.Fatalf("Symlink(current) failed: %v", err)
	}
	link, ok := node.(*Symlink)
	if !ok {
		t.Fatalf("Symlink returned %T, want *Symlink", node)
	}

	target, err := link.Readlink(ctx, &fuse.ReadlinkRequest{})
	if err != nil {
		t.Fatalf("Readlink() failed: %v", err)
	}
	if target != "target.txt" {
		t.Errorf("Readlink() = %q, want %q", target, "target.txt")
	}

	var attr fuse.Attr
	if err := link.Attr(ctx, &attr); err != nil {
		t.Fatalf("Attr() failed: %v", err)
	}
	if attr.Mode&os.ModeSymlink == 0 {
		t.Errorf("link mode = %v, want a symlink", attr.Mode)
	}
	if attr.Size != uint64(len("target.txt")) {
		t.Errorf("link size = %d, want target length %d", attr.Size, len("target.txt"))
	}
}

func TestRemove(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)

	seedFile(t, drv, "/notes.txt", []byte("n"))
	if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "notes.txt"}); err != nil {
		t.Fatalf("Remove(notes.txt) failed: %v", err)
	}
	if _, err := root.Lookup(ctx, "notes.txt"); !errors.Is(err, syscall.ENOENT) {
		t.Errorf("Lookup after remove error = %v, want ENOENT", err)
	}

	if err := drv.Mkdir(ctx, "/work", 0o755); err != nil {
		t.Fatalf("Mkdir(/work) failed: %v", err)
	}
	seedFile(t, drv, "/work/a.txt", nil)

	err := root.Remove(ctx, &fuse.RemoveRequest{Name: "work", Dir: true})
	if !errors.Is(err, syscall.ENOTEMPTY) {
		t.Errorf("Remove of populated directory error = %v, want ENOTEMPTY", err)
	}
	if err := drv.Unlink(ctx, "/work/a.txt"); err != nil {
		t.Fatalf("Unlink(/work/a.txt) failed: %v", err)
	}
	if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "work", Dir: true}); err != nil {
		t.Fatalf("Remove(work) failed: %v", err)
	}

	err = root.Remove(ctx, &fuse.RemoveRequest{Name: "ghost"})
	if !errors.Is(err, syscall.ENOENT) {
		t.Errorf("Remove(ghost) error = %v, want ENOENT", err)
	}
}

func TestRenameAcrossDirectories(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)

	if err := drv.Mkdir(ctx, "/inbox", 0o755); err != nil {
		t.Fatalf("Mkdir(/inbox) failed: %v", err)
	}
	if err := drv.Mkdir(ctx, "/outbox", 0o755); err != nil {
		t.Fatalf("Mkdir(/outbox) failed: %v", err)
	}
	seedFile(t, drv, "/inbox/msg.txt", []byte("hello"))

	node, err := root.Lookup(ctx, "inbox")
	if err != nil {
		t.Fatalf("Lookup(inbox) failed: %v", err)
	}
	inbox := node.(*Dir)
	node, err = root.Lookup(ctx, "outbox")
	if err != nil {
		t.Fatalf("Lookup(outbox) failed: %v", err)
	}
	outbox := node.(*Dir)

	err = inbox.Rename(ctx, &fuse.RenameRequest{OldName: "msg.txt", NewName: "sent.txt"}, outbox)
	if err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}

	if _, err := inbox.Lookup(ctx, "msg.txt"); !errors.Is(err, syscall.ENOENT) {
		t.Errorf("Lookup of old name error = %v, want ENOENT", err)
	}
	node, err = outbox.Lookup(ctx, "sent.txt")
	if err != nil {
		t.Fatalf("Lookup(sent.txt) failed: %v", err)
	}
	moved, ok := node.(*File)
	if !ok {
		t.Fatalf("Lookup(sent.txt) = %T, want *File", node)
	}
	if got := fuseReadAll(t, moved); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("moved content = %q, want %q", got, "hello")
	}
}

func TestSetattrTruncatesClosedFile(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)
	seedFile(t, drv, "/log.txt", []byte("0123456789"))

	node, err := root.Lookup(ctx, "log.txt")
	if err != nil {
		t.Fatalf("Lookup(log.txt) failed: %v", err)
	}
	file := node.(*File)

	resp := &fuse.SetattrResponse{}
	err = file.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrSize, Size: 4}, resp)
	if err != nil {
		t.Fatalf("Setattr(size=4) failed: %v", err)
	}
	if resp.Attr.Size != 4 {
		t.Errorf("attr size after truncate = %d, want 4", resp.Attr.Size)
	}
	if got := fuseReadAll(t, file); !bytes.Equal(got, []byte("0123")) {
		t.Errorf("content after truncate = %q, want %q", got, "0123")
	}

	// The resize must not leak its bracketing open.
	if err := drv.Release("/log.txt"); err == nil {
		t.Error("file left open after Setattr resize")
	}
}

func TestSetattrChmod(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)
	seedFile(t, drv, "/script.sh", []byte("#!/bin/sh\n"))

	node, err := root.Lookup(ctx, "script.sh")
	if err != nil {
		t.Fatalf("Lookup(script.sh) failed: %v", err)
	}
	file := node.(*File)

	resp := &fuse.SetattrResponse{}
	err = file.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrMode, Mode: 0o755}, resp)
	if err != nil {
		t.Fatalf("Setattr(mode) failed: %v", err)
	}
	if resp.Attr.Mode.Perm() != 0o755 {
		t.Errorf("perm after chmod = %o, want 0o755", resp.Attr.Mode.Perm())
	}
	if resp.Attr.Mode&os.ModeType != 0 {
		t.Errorf("chmod changed the node type: mode = %v", resp.Attr.Mode)
	}

	if err := drv.Mkdir(ctx, "/private", 0o755); err != nil {
		t.Fatalf("Mkdir(/private) failed: %v", err)
	}
	node, err = root.Lookup(ctx, "private")
	if err != nil {
		t.Fatalf("Lookup(private) failed: %v", err)
	}
	dir := node.(*Dir)
	resp = &fuse.SetattrResponse{}
	err = dir.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrMode, Mode: os.ModeDir | 0o700}, resp)
	if err != nil {
		t.Fatalf("Setattr(dir mode) failed: %v", err)
	}
	if resp.Attr.Mode&os.ModeDir == 0 || resp.Attr.Mode.Perm() != 0o700 {
		t.Errorf("dir mode after chmod = %v, want directory with perm 0o700", resp.Attr.Mode)
	}
}

func TestSetattrIgnoresOwnershipAndTimes(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)
	seedFile(t, drv, "/fixed.txt", []byte("f"))

	node, err := root.Lookup(ctx, "fixed.txt")
	if err != nil {
		t.Fatalf("Lookup(fixed.txt) failed: %v", err)
	}
	file := node.(*File)

	var before fuse.Attr
	if err := file.Attr(ctx, &before); err != nil {
		t.Fatalf("Attr() failed: %v", err)
	}

	resp := &fuse.SetattrResponse{}
	req := &fuse.SetattrRequest{
		Valid: fuse.SetattrUid | fuse.SetattrGid | fuse.SetattrAtime | fuse.SetattrMtime,
		Uid:   4242,
		Gid:   4242,
		Atime: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
		Mtime: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := file.Setattr(ctx, req, resp); err != nil {
		t.Fatalf("Setattr(uid/gid/times) failed: %v", err)
	}
	if resp.Attr.Uid != uint32(os.Getuid()) || resp.Attr.Gid != uint32(os.Getgid()) {
		t.Errorf("ownership after chown = %d:%d, want mounting user %d:%d",
			resp.Attr.Uid, resp.Attr.Gid, os.Getuid(), os.Getgid())
	}
	if !resp.Attr.Mtime.Equal(before.Mtime) {
		t.Errorf("mtime after utimens = %v, want unchanged %v", resp.Attr.Mtime, before.Mtime)
	}
}

// TestSetattrDoesNotBlock verifies a resize completes even when the kernel
// already holds the file open; the bracketing open inside Setattr must not
// wedge on the existing handle.
func TestSetattrDoesNotBlock(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)
	seedFile(t, drv, "/data.json", []byte("test data"))

	node, err := root.Lookup(ctx, "data.json")
	if err != nil {
		t.Fatalf("Lookup(data.json) failed: %v", err)
	}
	file := node.(*File)

	handle, err := file.Open(ctx, &fuse.OpenRequest{}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	fh := handle.(*FileHandle)

	req := &fuse.SetattrRequest{
		Valid: fuse.SetattrSize | fuse.SetattrMtime,
		Size:  4,
		Mtime: time.Now(),
	}
	resp := &fuse.SetattrResponse{}

	done := make(chan error, 1)
	go func() {
		done <- file.Setattr(ctx, req, resp)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Setattr failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Setattr deadlocked - test timed out")
	}
	if resp.Attr.Size != 4 {
		t.Errorf("attr size = %d, want 4", resp.Attr.Size)
	}

	rresp := &fuse.ReadResponse{}
	if err := fh.Read(ctx, &fuse.ReadRequest{Offset: 0, Size: 16}, rresp); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !bytes.Equal(rresp.Data, []byte("test")) {
		t.Errorf("content after resize = %q, want %q", rresp.Data, "test")
	}
	if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
}

func TestFsyncIsNoop(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)
	seedFile(t, drv, "/sync.txt", []byte("s"))

	node, err := root.Lookup(ctx, "sync.txt")
	if err != nil {
		t.Fatalf("Lookup(sync.txt) failed: %v", err)
	}
	if err := node.(*File).Fsync(ctx, &fuse.FsyncRequest{}); err != nil {
		t.Errorf("file Fsync() = %v, want nil", err)
	}
	if err := root.Fsync(ctx, &fuse.FsyncRequest{}); err != nil {
		t.Errorf("dir Fsync() = %v, want nil", err)
	}
}

// TestConcurrentHandles exercises open/read/release from many goroutines
// against a single file node.
func TestConcurrentHandles(t *testing.T) {
	fsys, drv := newTestFS(t)
	ctx := context.Background()
	root := rootDir(t, fsys)
	content := []byte("shared content")
	seedFile(t, drv, "/shared.txt", content)

	node, err := root.Lookup(ctx, "shared.txt")
	if err != nil {
		t.Fatalf("Lookup(shared.txt) failed: %v", err)
	}
	file := node.(*File)

	const workers = 16
	var wg sync.WaitGroup
	errc := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := file.Open(ctx, &fuse.OpenRequest{}, &fuse.OpenResponse{})
			if err != nil {
				errc <- err
				return
			}
			fh := handle.(*FileHandle)
			resp := &fuse.ReadResponse{}
			if err := fh.Read(ctx, &fuse.ReadRequest{Offset: 0, Size: 64}, resp); err != nil {
				errc <- err
				return
			}
			if !bytes.Equal(resp.Data, content) {
				errc <- errors.New("short or corrupt read")
				return
			}
			errc <- fh.Release(ctx, &fuse.ReleaseRequest{})
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent handle churn timed out")
	}
	close(errc)
	for err := range errc {
		if err != nil {
			t.Errorf("worker failed: %v", err)
		}
	}
}
