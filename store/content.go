package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Splice overwrites data with buf starting at offset and returns the
// combined blob. The blob grows when the write extends past the current
// end, and any gap between the old end and offset is zero-filled. The
// input slices are left untouched.
func Splice(data, buf []byte, offset int64) []byte {
	if offset < 0 {
		offset = 0
	}
	size := int64(len(data))
	if end := offset + int64(len(buf)); end > size {
		size = end
	}
	out := make([]byte, size)
	copy(out, data)
	copy(out[offset:], buf)
	return out
}

// readAttachment fetches the record's content attachment. A missing
// attachment reads as empty: content only exists once something has been
// written.
func (d *Driver) readAttachment(ctx context.Context, rec *Record) ([]byte, error) {
	name, _ := rec.AttachmentName()
	body, err := d.backend.GetAttachment(ctx, rec.ID, name)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return body, nil
}

// writeAttachment replaces the record's content attachment wholesale and
// folds the new revision and stub back into the record, keeping it usable
// for a follow-up save.
func (d *Driver) writeAttachment(ctx context.Context, rec *Record, body []byte) error {
	name, contentType := rec.AttachmentName()
	rev, err := d.backend.PutAttachment(ctx, rec.ID, rec.Rev, name, contentType, body)
	if err != nil {
		return err
	}
	rec.Rev = rev
	if rec.Attachments == nil {
		rec.Attachments = make(map[string]AttachmentStub, 1)
	}
	rec.Attachments[name] = AttachmentStub{
		ContentType: contentType,
		Length:      int64(len(body)),
		Stub:        true,
	}
	return nil
}

// readDentry parses a directory's entry map. Only directories carry one;
// a directory whose attachment is missing is corrupt.
func (d *Driver) readDentry(ctx context.Context, rec *Record) (Dentry, error) {
	if !rec.IsDir() {
		return Dentry{}, fmt.Errorf("%s: %w", rec.Inode.Path, ErrNotDirectory)
	}
	body, err := d.readAttachment(ctx, rec)
	if err != nil {
		return Dentry{}, err
	}
	if len(body) == 0 {
		return Dentry{}, fmt.Errorf("%s: %w", rec.Inode.Path, ErrNoDentry)
	}
	var den Dentry
	if err := json.Unmarshal(body, &den); err != nil {
		return Dentry{}, fmt.Errorf("decode dentry for %s: %w", rec.Inode.Path, err)
	}
	return den, nil
}

// writeDentry persists a directory's entry map. A directory mutation is
// metadata-visible, so the owning document's mtime advances too; that
// second write is best-effort because the map itself is already durable.
func (d *Driver) writeDentry(ctx context.Context, rec *Record, den Dentry) error {
	body, err := json.Marshal(den)
	if err != nil {
		return fmt.Errorf("encode dentry for %s: %w", rec.Inode.Path, err)
	}
	if err := d.writeAttachment(ctx, rec, body); err != nil {
		return err
	}
	if err := d.touch(ctx, rec.ID); err != nil {
		d.logger.Warn("mtime advance failed after dentry write",
			"path", rec.Inode.Path, "error", err)
	}
	return nil
}

// readTarget returns a symlink's stored target path.
func (d *Driver) readTarget(ctx context.Context, rec *Record) (string, error) {
	body, err := d.readAttachment(ctx, rec)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// writeTarget stores a symlink's target path.
func (d *Driver) writeTarget(ctx context.Context, rec *Record, target string) error {
	return d.writeAttachment(ctx, rec, []byte(target))
}

// touch advances the document's mtime. It re-fetches by id first so the
// save targets the current revision instead of whatever snapshot the
// caller holds.
func (d *Driver) touch(ctx context.Context, id string) error {
	rec, err := d.backend.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	rec.Inode.Mtime = Now()
	_, err = d.backend.PutRecord(ctx, rec)
	return err
}
