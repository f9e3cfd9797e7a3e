package store

import (
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// RootID is the fixed document id of the root directory inode. It is the
// only non-opaque document id in the database; every other inode gets a
// generated one.
const RootID = "root_inode"

// Attachment names. Each inode document carries exactly one of these,
// selected by the file-type bits of its mode.
const (
	AttachDentry  = "dentry.json"
	AttachBlock   = "dblock"
	AttachSymlink = "symlink"
)

// Attachment content types as stored in CouchDB.
const (
	ContentTypeJSON  = "application/json"
	ContentTypeOctet = "application/octet-stream"
)

// TimeLayout is the wire format for inode timestamps: ISO-8601 in UTC.
const TimeLayout = time.RFC3339

// timeLayoutLegacy accepts timestamps written without a zone designator,
// as produced by earlier tooling against the same database.
const timeLayoutLegacy = "2006-01-02T15:04:05.999999"

// Inode is the filesystem metadata embedded in each document. Its presence
// under the "inode" key is what the by_path view indexes on.
type Inode struct {
	Path  string `json:"path"`
	Mode  uint32 `json:"mode"`
	Nlink uint32 `json:"nlink"`
	Ctime string `json:"ctime"`
	Mtime string `json:"mtime"`
}

// AttachmentStub is the metadata CouchDB reports for an attachment when the
// document body is fetched without attachment content. Length is what
// Getattr derives file sizes from, so no second round trip is needed.
type AttachmentStub struct {
	ContentType string `json:"content_type"`
	Length      int64  `json:"length"`
	Stub        bool   `json:"stub,omitempty"`
}

// Record is one inode document. Attachments must round-trip on every save:
// CouchDB deletes attachments that are absent from an updated document body.
type Record struct {
	ID          string                    `json:"_id,omitempty"`
	Rev         string                    `json:"_rev,omitempty"`
	Inode       Inode                     `json:"inode"`
	Attachments map[string]AttachmentStub `json:"_attachments,omitempty"`
}

// NewRecord builds an unsaved inode record for path with the given mode.
// Both timestamps are set to the current UTC time and the link count is 2
// for directories, 1 for everything else. A non-empty forcedID pins the
// document id; it is used only for the root.
func NewRecord(path string, mode uint32, forcedID string) *Record {
	id := forcedID
	if id == "" {
		id = uuid.New().String()
	}
	now := Now()
	nlink := uint32(1)
	if ModeIsDir(mode) {
		nlink = 2
	}
	return &Record{
		ID: id,
		Inode: Inode{
			Path:  path,
			Mode:  mode,
			Nlink: nlink,
			Ctime: now,
			Mtime: now,
		},
	}
}

// Now returns the current time in the stored timestamp format.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// ParseTime decodes a stored timestamp. Unparseable values fall back to the
// zero time rather than failing the whole attribute lookup.
func ParseTime(s string) time.Time {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(timeLayoutLegacy, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// Mode classification on the stored unix bits.

func ModeIsDir(mode uint32) bool     { return mode&syscall.S_IFMT == syscall.S_IFDIR }
func ModeIsSymlink(mode uint32) bool { return mode&syscall.S_IFMT == syscall.S_IFLNK }
func ModeIsRegular(mode uint32) bool { return mode&syscall.S_IFMT == syscall.S_IFREG }

// AttachmentName returns the content attachment an inode of the record's
// type owns, with its content type.
func (r *Record) AttachmentName() (name, contentType string) {
	switch {
	case ModeIsDir(r.Inode.Mode):
		return AttachDentry, ContentTypeJSON
	case ModeIsSymlink(r.Inode.Mode):
		return AttachSymlink, ContentTypeOctet
	default:
		return AttachBlock, ContentTypeOctet
	}
}

// Size derives the byte size Getattr reports: the length of the record's
// content attachment, or zero when the attachment has not been written yet.
func (r *Record) Size() uint64 {
	name, _ := r.AttachmentName()
	if stub, ok := r.Attachments[name]; ok && stub.Length > 0 {
		return uint64(stub.Length)
	}
	return 0
}

// Clone returns a deep copy of the record. Handle snapshots hand copies to
// callers so that concurrent operations on the same path never share state.
func (r *Record) Clone() *Record {
	out := *r
	if r.Attachments != nil {
		out.Attachments = make(map[string]AttachmentStub, len(r.Attachments))
		for name, stub := range r.Attachments {
			out.Attachments[name] = stub
		}
	}
	return &out
}

// IsDir reports whether the record describes a directory.
func (r *Record) IsDir() bool { return ModeIsDir(r.Inode.Mode) }

// IsSymlink reports whether the record describes a symbolic link.
func (r *Record) IsSymlink() bool { return ModeIsSymlink(r.Inode.Mode) }

// FileMode converts the stored unix mode bits into the os.FileMode shape the
// FUSE layer reports.
func (r *Record) FileMode() os.FileMode {
	return FileModeOf(r.Inode.Mode)
}

// FileModeOf converts stored unix mode bits into an os.FileMode.
func FileModeOf(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0o777)
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		m |= os.ModeDir
	case syscall.S_IFLNK:
		m |= os.ModeSymlink
	case syscall.S_IFIFO:
		m |= os.ModeNamedPipe
	case syscall.S_IFSOCK:
		m |= os.ModeSocket
	case syscall.S_IFCHR:
		m |= os.ModeDevice | os.ModeCharDevice
	case syscall.S_IFBLK:
		m |= os.ModeDevice
	}
	return m
}

// UnixMode converts an os.FileMode into stored unix mode bits. Plain files
// get S_IFREG; the type bits the FUSE layer can express are mapped across.
func UnixMode(m os.FileMode) uint32 {
	bits := uint32(m.Perm())
	switch {
	case m&os.ModeDir != 0:
		bits |= syscall.S_IFDIR
	case m&os.ModeSymlink != 0:
		bits |= syscall.S_IFLNK
	case m&os.ModeNamedPipe != 0:
		bits |= syscall.S_IFIFO
	case m&os.ModeSocket != 0:
		bits |= syscall.S_IFSOCK
	case m&os.ModeCharDevice != 0:
		bits |= syscall.S_IFCHR
	case m&os.ModeDevice != 0:
		bits |= syscall.S_IFBLK
	default:
		bits |= syscall.S_IFREG
	}
	return bits
}
