package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-kivik/kivik/v4"
	"github.com/go-kivik/kivik/v4/couchdb"
)

// DefaultDatabase is the database name used when none is configured.
const DefaultDatabase = "couchfs"

// DefaultTimeout bounds every store round trip. Requests exceeding it are
// classified transient and retried once by the driver.
const DefaultTimeout = 3 * time.Second

const (
	designDocID = "_design/inode"
	viewByPath  = "_view/by_path"

	// viewMapByPath indexes every document carrying an inode body by its
	// full path. The emitted value is the document itself, so a single
	// view query resolves a path to its record, stubs included.
	viewMapByPath = "function (doc) { if (doc.inode) { emit(doc.inode.path, doc); } }"
)

// Couch implements Backend against a CouchDB database through kivik.
type Couch struct {
	client *kivik.Client
	db     *kivik.DB
	name   string
	logger *slog.Logger
}

var _ Backend = (*Couch)(nil)

// DialCouch connects to the CouchDB server at dsn and opens the named
// database, creating it when it does not exist yet. The timeout applies to
// every request made over the connection.
func DialCouch(ctx context.Context, dsn, dbname string, timeout time.Duration, logger *slog.Logger) (*Couch, error) {
	const op = "store.DialCouch"
	if dbname == "" {
		dbname = DefaultDatabase
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "database", dbname)

	client, err := kivik.New("couch", dsn, couchdb.OptionHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}

	c := &Couch{client: client, name: dbname, logger: logger}
	exists, err := client.DBExists(ctx, dbname)
	if err != nil {
		return nil, &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	if !exists {
		logger.Info("creating database")
		if err := client.CreateDB(ctx, dbname); err != nil && classifyCouch(err) != KindExists {
			return nil, &Error{Op: op, Kind: classifyCouch(err), Err: err}
		}
	}
	c.db = client.DB(dbname)
	if err := c.db.Err(); err != nil {
		return nil, &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	return c, nil
}

// Name returns the database name.
func (c *Couch) Name() string { return c.name }

// Close releases the underlying client.
func (c *Couch) Close() error { return c.client.Close() }

// EnsureIndex creates the by-path design document when it is missing.
// A concurrent creation by another mount loses the race harmlessly.
func (c *Couch) EnsureIndex(ctx context.Context) error {
	const op = "store.Couch.EnsureIndex"
	_, err := c.db.GetRev(ctx, designDocID)
	if err == nil {
		return nil
	}
	if classifyCouch(err) != KindNotFound {
		return &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	c.logger.Info("creating path index", "ddoc", designDocID)
	ddoc := map[string]interface{}{
		"_id":      designDocID,
		"language": "javascript",
		"views": map[string]interface{}{
			"by_path": map[string]interface{}{
				"map": viewMapByPath,
			},
		},
	}
	if _, err := c.db.Put(ctx, designDocID, ddoc); err != nil {
		if classifyCouch(err) == KindConflict {
			return nil
		}
		return &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	return nil
}

// Compact triggers database compaction, view compaction, and view cleanup.
// CouchDB runs the work in the background; this only schedules it.
func (c *Couch) Compact(ctx context.Context) error {
	const op = "store.Couch.Compact"
	if err := c.db.Compact(ctx); err != nil {
		return &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	if err := c.db.CompactView(ctx, "inode"); err != nil {
		return &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	if err := c.db.ViewCleanup(ctx); err != nil {
		return &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	return nil
}

func (c *Couch) ResolvePath(ctx context.Context, path string) (*Record, error) {
	const op = "store.Couch.ResolvePath"
	rows := c.db.Query(ctx, designDocID, viewByPath, kivik.Param("key", path))
	defer rows.Close()

	// The index has no uniqueness constraint; take the first row.
	if rows.Next() {
		var rec Record
		if err := rows.ScanValue(&rec); err != nil {
			return nil, &Error{Op: op, Path: path, Kind: classifyCouch(err), Err: err}
		}
		return &rec, nil
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: op, Path: path, Kind: classifyCouch(err), Err: err}
	}
	return nil, &Error{Op: op, Path: path, Kind: KindNotFound}
}

func (c *Couch) GetRecord(ctx context.Context, id string) (*Record, error) {
	const op = "store.Couch.GetRecord"
	var rec Record
	if err := c.db.Get(ctx, id).ScanDoc(&rec); err != nil {
		return nil, &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	return &rec, nil
}

func (c *Couch) PutRecord(ctx context.Context, rec *Record) (string, error) {
	const op = "store.Couch.PutRecord"
	rev, err := c.db.Put(ctx, rec.ID, rec)
	if err != nil {
		return "", &Error{Op: op, Path: rec.Inode.Path, Kind: classifyCouch(err), Err: err}
	}
	return rev, nil
}

func (c *Couch) DeleteRecord(ctx context.Context, id, rev string) error {
	const op = "store.Couch.DeleteRecord"
	if _, err := c.db.Delete(ctx, id, rev); err != nil {
		return &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	return nil
}

func (c *Couch) Head(ctx context.Context, id string) (string, error) {
	const op = "store.Couch.Head"
	rev, err := c.db.GetRev(ctx, id)
	if err != nil {
		return "", &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	return rev, nil
}

func (c *Couch) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	const op = "store.Couch.GetAttachment"
	att, err := c.db.GetAttachment(ctx, id, name)
	if err != nil {
		return nil, &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	defer att.Content.Close()
	body, err := io.ReadAll(att.Content)
	if err != nil {
		return nil, &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	return body, nil
}

func (c *Couch) PutAttachment(ctx context.Context, id, rev, name, contentType string, body []byte) (string, error) {
	const op = "store.Couch.PutAttachment"
	att := &kivik.Attachment{
		Filename:    name,
		ContentType: contentType,
		Content:     io.NopCloser(bytes.NewReader(body)),
	}
	newRev, err := c.db.PutAttachment(ctx, id, att, kivik.Rev(rev))
	if err != nil {
		return "", &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	return newRev, nil
}

func (c *Couch) ListRecords(ctx context.Context) ([]*Record, error) {
	const op = "store.Couch.ListRecords"
	rows := c.db.Query(ctx, designDocID, viewByPath)
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var rec Record
		if err := rows.ScanValue(&rec); err != nil {
			return nil, &Error{Op: op, Kind: classifyCouch(err), Err: err}
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: op, Kind: classifyCouch(err), Err: err}
	}
	return recs, nil
}

// classifyCouch buckets a kivik failure into the retry/translation taxonomy.
// Network-level failures count as transient connectivity; HTTP statuses map
// onto the document-shape kinds. Errors carrying no status at all (decode
// failures and the like) are not worth a retry and stay KindInvalid.
func classifyCouch(err error) Kind {
	if err == nil {
		return KindInvalid
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	var coded interface{ HTTPStatus() int }
	if !errors.As(err, &coded) {
		return KindInvalid
	}
	switch status := coded.HTTPStatus(); {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusPreconditionFailed:
		return KindExists
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return KindTransient
	}
	return KindInvalid
}
