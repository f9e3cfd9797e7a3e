// Package couchfs implements a FUSE-based filesystem backed by a CouchDB
// database.
//
// This package provides the kernel-facing half of the filesystem: it
// translates FUSE node and handle requests into store driver calls and maps
// the driver's failures back onto POSIX errnos. Every piece of shared state
// lives in the driver, so node values are small path-carrying structs the
// kernel may hold in any number.
//
// Key Features:
//   - One CouchDB document per file, directory, or symlink
//   - Directory entries stored as JSON attachments on directory documents
//   - Whole-blob file content stored as document attachments
//   - Open-handle snapshots that pin a document revision across reads
//   - POSIX-compliant filesystem interface via FUSE
//
// Node types mirror the on-disk taxonomy:
//   - Dir handles lookup, listing, creation, removal, and rename
//   - File handles open, attribute changes, and fsync
//   - FileHandle carries read, write, and release for one open file
//   - Symlink answers readlink from the document's target attachment
//
// The main entry point is New() which wraps a store.Driver into an
// fs.FS that can be served using the bazil.org/fuse library.
package couchfs
