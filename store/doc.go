// Package store maps filesystem semantics onto a CouchDB database.
//
// This package contains everything couchfs knows about the document store:
// the inode document shape, the by-path index, the directory entry maps,
// the open-handle cache, and the operation dispatcher that the FUSE layer
// drives. It deliberately knows nothing about the kernel protocol; the
// couchfs package translates between the two.
//
// Key Components:
//
// Documents and Attachments:
//   - Record is one inode document: a stable "_id", a CouchDB revision and
//     an embedded inode block (path, mode, nlink, ctime, mtime)
//   - Every node's content lives in exactly one named attachment on its own
//     document: "dentry.json" for directories, "dblock" for regular files
//     and "symlink" for symbolic links
//   - The root directory lives under the well-known id "root_inode" so it
//     is addressable before any index exists
//
// Path Resolution:
//   - A design document ("_design/inode") defines the by_path view, which
//     emits every document carrying an inode block keyed by its path
//   - Backend abstracts the store: Couch implements it over kivik, tests
//     substitute the in-memory MemBackend
//
// Open-Handle Cache:
//   - Open files are tracked per path with a reference count; read, write
//     and truncate operate only on paths with a live entry
//   - The entry pins the document snapshot observed at open time and lazily
//     caches content bytes, so repeated reads cost no round trips
//
// Operation Dispatcher:
//   - Driver exposes one method per filesystem operation and owns the
//     failure policy: transient connectivity failures are retried exactly
//     once, everything else is logged and translated to a coarse errno
//   - Mutations keep the parent directory's entry map in step with child
//     documents: create links the child in last, remove unlinks it first,
//     so an interrupted operation leaves an orphan document rather than a
//     name that resolves to nothing
//
// Maintenance:
//   - AttrCache is an optional nutsdb-backed cache of resolved records with
//     a short TTL, invalidated on every mutation
//   - Fsck loads the whole document set, walks it from the root and reports
//     orphans, dangling entries, path mismatches and attachment mismatches;
//     Repair fixes the mechanical findings (see the fsck subcommand)
//
// The dispatcher is safe for concurrent use by multiple FUSE worker
// goroutines; all shared state is behind the handle table's lock and
// records are cloned on every boundary crossing.
package store
