package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemBackend is an in-memory Backend that keeps CouchDB's update semantics:
// every write checks the caller's revision, fetched documents carry
// attachment stubs, and attachments absent from a saved body are deleted.
// The load command's dry-run mode imports into one instead of a live
// database, and the test suites drive the dispatcher over it.
type MemBackend struct {
	mu   sync.Mutex
	seq  int
	docs map[string]*memDoc
}

type memDoc struct {
	rec  *Record
	atts map[string]memAttachment
}

type memAttachment struct {
	contentType string
	body        []byte
}

var _ Backend = (*MemBackend)(nil)

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{docs: make(map[string]*memDoc)}
}

func (m *MemBackend) nextRev() string {
	m.seq++
	return fmt.Sprintf("%d-mem", m.seq)
}

// export clones the stored record with attachment stubs folded in, the way
// a document fetch reports them. Callers hold m.mu.
func (m *MemBackend) export(id string) *Record {
	doc := m.docs[id]
	rec := doc.rec.Clone()
	rec.Attachments = nil
	if len(doc.atts) > 0 {
		rec.Attachments = make(map[string]AttachmentStub, len(doc.atts))
		for name, att := range doc.atts {
			rec.Attachments[name] = AttachmentStub{
				ContentType: att.contentType,
				Length:      int64(len(att.body)),
				Stub:        true,
			}
		}
	}
	return rec
}

// EnsureIndex is a no-op: resolution scans the documents directly.
func (m *MemBackend) EnsureIndex(ctx context.Context) error { return nil }

// ResolvePath scans for the document owning path. Matching documents are
// visited in id order so duplicate paths resolve the same way the view
// does: first row wins.
func (m *MemBackend) ResolvePath(ctx context.Context, path string) (*Record, error) {
	const op = "store.MemBackend.ResolvePath"
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if m.docs[id].rec.Inode.Path == path {
			return m.export(id), nil
		}
	}
	return nil, &Error{Op: op, Path: path, Kind: KindNotFound}
}

func (m *MemBackend) GetRecord(ctx context.Context, id string) (*Record, error) {
	const op = "store.MemBackend.GetRecord"
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return nil, &Error{Op: op, Kind: KindNotFound}
	}
	return m.export(id), nil
}

func (m *MemBackend) PutRecord(ctx context.Context, rec *Record) (string, error) {
	const op = "store.MemBackend.PutRecord"
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[rec.ID]
	if ok && rec.Rev != doc.rec.Rev {
		return "", &Error{Op: op, Path: rec.Inode.Path, Kind: KindConflict, Err: ErrConflict}
	}
	if !ok && rec.Rev != "" {
		return "", &Error{Op: op, Path: rec.Inode.Path, Kind: KindConflict, Err: ErrConflict}
	}
	stored := rec.Clone()
	stored.Rev = m.nextRev()
	stored.Attachments = nil
	// Attachments survive a document save only when the body still lists
	// them; anything else is deleted, as CouchDB does.
	atts := make(map[string]memAttachment)
	if ok {
		for name := range rec.Attachments {
			if old, exists := doc.atts[name]; exists {
				atts[name] = old
			}
		}
	}
	m.docs[rec.ID] = &memDoc{rec: stored, atts: atts}
	return stored.Rev, nil
}

func (m *MemBackend) DeleteRecord(ctx context.Context, id, rev string) error {
	const op = "store.MemBackend.DeleteRecord"
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return &Error{Op: op, Kind: KindNotFound}
	}
	if doc.rec.Rev != rev {
		return &Error{Op: op, Path: doc.rec.Inode.Path, Kind: KindConflict, Err: ErrConflict}
	}
	delete(m.docs, id)
	return nil
}

func (m *MemBackend) Head(ctx context.Context, id string) (string, error) {
	const op = "store.MemBackend.Head"
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return "", &Error{Op: op, Kind: KindNotFound}
	}
	return doc.rec.Rev, nil
}

func (m *MemBackend) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	const op = "store.MemBackend.GetAttachment"
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, &Error{Op: op, Kind: KindNotFound}
	}
	att, ok := doc.atts[name]
	if !ok {
		return nil, &Error{Op: op, Path: doc.rec.Inode.Path, Kind: KindNotFound}
	}
	return append([]byte(nil), att.body...), nil
}

func (m *MemBackend) PutAttachment(ctx context.Context, id, rev, name, contentType string, body []byte) (string, error) {
	const op = "store.MemBackend.PutAttachment"
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return "", &Error{Op: op, Kind: KindNotFound}
	}
	if doc.rec.Rev != rev {
		return "", &Error{Op: op, Path: doc.rec.Inode.Path, Kind: KindConflict, Err: ErrConflict}
	}
	doc.atts[name] = memAttachment{
		contentType: contentType,
		body:        append([]byte(nil), body...),
	}
	doc.rec.Rev = m.nextRev()
	return doc.rec.Rev, nil
}

// ListRecords returns every document in path order, the order the by_path
// view would emit them in.
func (m *MemBackend) ListRecords(ctx context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := m.docs[ids[i]].rec.Inode.Path, m.docs[ids[j]].rec.Inode.Path
		if pi != pj {
			return pi < pj
		}
		return ids[i] < ids[j]
	})
	recs := make([]*Record, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, m.export(id))
	}
	return recs, nil
}
