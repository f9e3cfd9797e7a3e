// Package main provides the couchfs command-line interface.
//
// couchfs is a FUSE filesystem that keeps files, directories, and symbolic
// links as documents in a CouchDB database. Directories carry their entries
// in a JSON attachment, files carry their content in a binary attachment,
// and a server-side view resolves paths to documents, so any machine with
// access to the database can mount the same tree.
//
// The main binary supports multiple subcommands:
//   - mount: Mount a couchfs filesystem at a specified mountpoint
//   - fsck: Verify (and optionally repair) the document graph
//   - compact: Reclaim space held by old document revisions
//   - stats: Summarize the documents in a database
//   - load: Import a local directory tree into a database
//   - seed: Generate test files inside a database
package main
