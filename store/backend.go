package store

import "context"

// Backend is the document-store surface the driver operates on: documents
// keyed by id, named attachments on those documents, and the by-path
// secondary index. The production implementation is Couch; tests substitute
// an in-memory double.
//
// Every method returns *Error with the failure kind already classified, so
// the driver's retry and translation policy works the same over any
// implementation.
type Backend interface {
	// EnsureIndex creates the by-path index when the database does not
	// carry one yet. Safe to call on every mount.
	EnsureIndex(ctx context.Context) error

	// ResolvePath queries the by-path index for the document owning path.
	// When several rows match (the index enforces no uniqueness) the first
	// one wins. A path with no document fails with KindNotFound.
	ResolvePath(ctx context.Context, path string) (*Record, error)

	// GetRecord fetches the document with the given id, attachment stubs
	// included.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// PutRecord creates or updates a document and returns the new revision.
	// The record's Rev must be current for updates; a stale revision fails
	// with KindConflict.
	PutRecord(ctx context.Context, rec *Record) (string, error)

	// DeleteRecord removes the document and its attachments.
	DeleteRecord(ctx context.Context, id, rev string) error

	// Head returns the current revision of the document with the given id
	// without fetching its body.
	Head(ctx context.Context, id string) (string, error)

	// GetAttachment fetches the named attachment's content. A document or
	// attachment that does not exist fails with KindNotFound.
	GetAttachment(ctx context.Context, id, name string) ([]byte, error)

	// PutAttachment replaces the named attachment wholesale and returns the
	// document's new revision.
	PutAttachment(ctx context.Context, id, rev, name, contentType string, body []byte) (string, error)

	// ListRecords returns every inode document in the database, used by the
	// offline maintenance commands.
	ListRecords(ctx context.Context) ([]*Record, error)
}
