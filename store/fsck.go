package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DanglingEntry is a directory name whose child document does not exist.
type DanglingEntry struct {
	Dir   string // path of the directory holding the entry
	DirID string
	Name  string
	ID    string // document id the entry points at
}

// PathMismatch is a document reachable under a name that disagrees with the
// path recorded in its inode. The index resolves the stored path, so lookups
// under the actual one fail.
type PathMismatch struct {
	ID     string
	Stored string
	Actual string
}

// KindMismatch is a document whose attachments disagree with its mode: a
// directory without an entry map, a symlink without a target, a file without
// its content attachment.
type KindMismatch struct {
	ID     string
	Path   string
	Detail string
}

// FsckReport summarizes one verification pass over the document graph.
type FsckReport struct {
	Documents int
	Reachable int
	Orphans   []*Record
	Dangling  []DanglingEntry
	BadPaths  []PathMismatch
	BadKinds  []KindMismatch
}

// Clean reports whether the pass found nothing wrong.
func (r *FsckReport) Clean() bool {
	return r.Problems() == 0
}

// Problems returns the total number of findings.
func (r *FsckReport) Problems() int {
	return len(r.Orphans) + len(r.Dangling) + len(r.BadPaths) + len(r.BadKinds)
}

// Fsck verifies the document graph of one database: every document should be
// reachable from the root by exactly the names its parents store, under the
// path recorded in its inode, with the attachment its mode demands. The
// mutating operations order their writes so that a crash leaves orphan
// documents rather than broken names; fsck finds and clears the leftovers.
type Fsck struct {
	backend Backend
	logger  *slog.Logger
	workers int
}

// NewFsck builds a checker over backend. workers bounds the concurrent
// entry-map fetches; values below one fall back to 4.
func NewFsck(backend Backend, workers int, logger *slog.Logger) *Fsck {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 4
	}
	return &Fsck{backend: backend, logger: logger, workers: workers}
}

type dentryFetch struct {
	den  *Dentry
	fail string // finding text, empty when the fetch worked
}

// Run lists every document, fetches all entry maps, and walks the tree from
// the root. It never mutates the database.
func (f *Fsck) Run(ctx context.Context) (*FsckReport, error) {
	const op = "store.Fsck.Run"

	recs, err := f.backend.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Record, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}
	root, ok := byID[RootID]
	if !ok {
		return nil, &Error{Op: op, Path: "/", Kind: KindNotFound,
			Err: errors.New("root document missing")}
	}

	var dirs []*Record
	for _, rec := range recs {
		if rec.IsDir() {
			dirs = append(dirs, rec)
		}
	}

	// Entry maps dominate the round trips, so they are fetched with bounded
	// concurrency. Each goroutine owns one slot.
	fetches := make([]dentryFetch, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, dir := range dirs {
		g.Go(func() error {
			body, err := f.backend.GetAttachment(gctx, dir.ID, AttachDentry)
			if err != nil {
				if KindOf(err) == KindNotFound {
					fetches[i].fail = "missing entry map"
					return nil
				}
				return err
			}
			var den Dentry
			if err := json.Unmarshal(body, &den); err != nil {
				fetches[i].fail = "unreadable entry map"
				return nil
			}
			fetches[i].den = &den
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &FsckReport{Documents: len(recs)}
	dentryByID := make(map[string]*Dentry, len(dirs))
	for i, dir := range dirs {
		if fetches[i].fail != "" {
			rep.BadKinds = append(rep.BadKinds, KindMismatch{
				ID: dir.ID, Path: dir.Inode.Path, Detail: fetches[i].fail,
			})
			continue
		}
		dentryByID[dir.ID] = fetches[i].den
	}

	// Non-directories carry their canonical attachment from creation on.
	for _, rec := range recs {
		if rec.IsDir() {
			continue
		}
		name, _ := rec.AttachmentName()
		if _, ok := rec.Attachments[name]; !ok {
			rep.BadKinds = append(rep.BadKinds, KindMismatch{
				ID: rec.ID, Path: rec.Inode.Path,
				Detail: fmt.Sprintf("missing attachment %q", name),
			})
		}
	}

	seen := map[string]bool{root.ID: true}
	queue := []*Record{root}
	for len(queue) > 0 {
		rec := queue[0]
		queue = queue[1:]
		rep.Reachable++
		if !rec.IsDir() {
			continue
		}
		den, ok := dentryByID[rec.ID]
		if !ok {
			continue
		}
		for name, id := range den.Iterate {
			if name == "." || name == ".." {
				continue
			}
			child, ok := byID[id]
			if !ok {
				rep.Dangling = append(rep.Dangling, DanglingEntry{
					Dir: rec.Inode.Path, DirID: rec.ID, Name: name, ID: id,
				})
				continue
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			if actual := path.Join(rec.Inode.Path, name); child.Inode.Path != actual {
				rep.BadPaths = append(rep.BadPaths, PathMismatch{
					ID: child.ID, Stored: child.Inode.Path, Actual: actual,
				})
			}
			queue = append(queue, child)
		}
	}

	for _, rec := range recs {
		if !seen[rec.ID] {
			rep.Orphans = append(rep.Orphans, rec)
		}
	}

	sort.Slice(rep.Orphans, func(i, j int) bool {
		return rep.Orphans[i].Inode.Path < rep.Orphans[j].Inode.Path
	})
	sort.Slice(rep.Dangling, func(i, j int) bool {
		if rep.Dangling[i].Dir != rep.Dangling[j].Dir {
			return rep.Dangling[i].Dir < rep.Dangling[j].Dir
		}
		return rep.Dangling[i].Name < rep.Dangling[j].Name
	})
	sort.Slice(rep.BadPaths, func(i, j int) bool {
		return rep.BadPaths[i].Actual < rep.BadPaths[j].Actual
	})
	sort.Slice(rep.BadKinds, func(i, j int) bool {
		return rep.BadKinds[i].Path < rep.BadKinds[j].Path
	})

	f.logger.Info("verification pass complete",
		"documents", rep.Documents,
		"reachable", rep.Reachable,
		"problems", rep.Problems())
	return rep, nil
}

// Repair applies a report's mechanical findings: orphan documents are
// deleted and dangling names pruned from their directories. Path and kind
// mismatches need judgment about which side is right and are only reported.
// Run again afterwards to confirm a clean tree.
func (f *Fsck) Repair(ctx context.Context, rep *FsckReport) error {
	for _, orphan := range rep.Orphans {
		rev, err := f.backend.Head(ctx, orphan.ID)
		if err != nil {
			if KindOf(err) == KindNotFound {
				continue
			}
			return err
		}
		if err := f.backend.DeleteRecord(ctx, orphan.ID, rev); err != nil {
			if KindOf(err) == KindNotFound {
				continue
			}
			return err
		}
		f.logger.Info("deleted orphan document",
			"id", orphan.ID, "path", orphan.Inode.Path)
	}

	for _, entry := range rep.Dangling {
		rec, err := f.backend.GetRecord(ctx, entry.DirID)
		if err != nil {
			if KindOf(err) == KindNotFound {
				continue
			}
			return err
		}
		body, err := f.backend.GetAttachment(ctx, rec.ID, AttachDentry)
		if err != nil {
			if KindOf(err) == KindNotFound {
				continue
			}
			return err
		}
		var den Dentry
		if err := json.Unmarshal(body, &den); err != nil {
			return fmt.Errorf("decode entry map for %s: %w", entry.Dir, err)
		}
		if !den.Remove(entry.Name) {
			continue
		}
		payload, err := json.Marshal(den)
		if err != nil {
			return fmt.Errorf("encode entry map for %s: %w", entry.Dir, err)
		}
		if _, err := f.backend.PutAttachment(ctx, rec.ID, rec.Rev, AttachDentry, ContentTypeJSON, payload); err != nil {
			return err
		}
		f.logger.Info("pruned dangling entry",
			"dir", entry.Dir, "name", entry.Name, "id", entry.ID)
	}
	return nil
}
