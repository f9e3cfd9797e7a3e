package store

import (
	"sync"
)

// handleEntry is one open file: the document snapshot taken at open time,
// the number of open calls that share it, and the content bytes once some
// read or write has pulled them in.
type handleEntry struct {
	rec      *Record
	count    int
	data     []byte
	haveData bool
}

// handleTable tracks open files by path. Read, write and truncate only
// operate on paths with a live entry; the snapshot pins the document id and
// revision observed at open time. All records passed in and out are cloned
// so no two goroutines ever share a mutable record.
type handleTable struct {
	mu      sync.Mutex
	entries map[string]*handleEntry
}

func newHandleTable() *handleTable {
	return &handleTable{entries: make(map[string]*handleEntry)}
}

// openCached bumps the refcount and returns the existing snapshot when path
// is already open. The caller avoids a remote resolve on the second and
// later opens of the same path.
func (t *handleTable) openCached(path string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return nil, false
	}
	e.count++
	return e.rec.Clone(), true
}

// insert records a freshly resolved snapshot for path. If another open won
// the race while the caller was resolving, that entry's snapshot wins and
// its refcount is bumped instead.
func (t *handleTable) insert(path string, rec *Record) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[path]; ok {
		e.count++
		return e.rec.Clone()
	}
	t.entries[path] = &handleEntry{rec: rec.Clone(), count: 1}
	return rec.Clone()
}

// release drops one reference. The entry is evicted when the last reference
// goes away. ok is false when path has no open entry at all.
func (t *handleTable) release(path string) (evicted, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return false, false
	}
	e.count--
	if e.count > 0 {
		return false, true
	}
	delete(t.entries, path)
	return true, true
}

// snapshot returns a copy of the open snapshot for path, if any.
func (t *handleTable) snapshot(path string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return nil, false
	}
	return e.rec.Clone(), true
}

// update replaces the stored snapshot after a metadata-only mutation so
// later calls on the same handle see the new revision. Cached content stays;
// the attachment did not change. A release that raced the mutation may have
// evicted the entry; that is fine, the update is dropped.
func (t *handleTable) update(path string, rec *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[path]; ok {
		e.rec = rec.Clone()
	}
}

// reset replaces the stored snapshot and drops any cached content. Used
// when the document advanced under the handle and the old bytes can no
// longer be trusted.
func (t *handleTable) reset(path string, rec *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return
	}
	e.rec = rec.Clone()
	e.data = nil
	e.haveData = false
}

// content returns the snapshot for an open path together with any content
// bytes already pulled in. The returned slice is shared; callers treat it
// as read-only and splice into fresh buffers instead of mutating it.
func (t *handleTable) content(path string) (rec *Record, data []byte, haveData, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return nil, nil, false, false
	}
	return e.rec.Clone(), e.data, e.haveData, true
}

// fill caches content bytes fetched for the given revision. The fill is
// dropped when the entry has moved to a different revision in the meantime;
// the next read fetches again.
func (t *handleTable) fill(path, rev string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok || e.rec.Rev != rev {
		return
	}
	e.data = data
	e.haveData = true
}

// setContent replaces an open entry's snapshot and content together after a
// successful write, so later reads on the same handle serve the new bytes
// without another round trip.
func (t *handleTable) setContent(path string, rec *Record, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return
	}
	e.rec = rec.Clone()
	e.data = data
	e.haveData = true
}

// rename moves an open entry to a new path so handles survive renames.
func (t *handleTable) rename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[oldPath]; ok {
		delete(t.entries, oldPath)
		t.entries[newPath] = e
		e.rec.Inode.Path = newPath
	}
}

func (t *handleTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
