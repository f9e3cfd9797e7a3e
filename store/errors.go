package store

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors for package store.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Path resolution errors
	ErrNotFound = errors.New("no inode document for path")
	ErrExists   = errors.New("path already exists")

	// Directory errors
	ErrNotEmpty     = errors.New("directory not empty")
	ErrNotDirectory = errors.New("inode is not a directory")
	ErrNoDentry     = errors.New("directory has no entry attachment")

	// Handle errors
	ErrNotOpen = errors.New("path has no open handle")

	// Store errors
	ErrConflict  = errors.New("document revision conflict")
	ErrTransient = errors.New("transient store failure")
)

// Kind classifies a store failure for retry and errno translation.
// Everything that is not one of the named kinds collapses to KindInvalid,
// the undifferentiated "invalid argument" signal callers receive.
type Kind int

const (
	KindInvalid Kind = iota
	KindNotFound
	KindExists
	KindNotEmpty
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindExists:
		return "exists"
	case KindNotEmpty:
		return "not empty"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "invalid"
	}
}

// sentinel returns the package-level error a kind matches under errors.Is.
func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindExists:
		return ErrExists
	case KindNotEmpty:
		return ErrNotEmpty
	case KindConflict:
		return ErrConflict
	case KindTransient:
		return ErrTransient
	default:
		return nil
	}
}

// Error is the failure type every store operation returns. Op names the
// operation, Path the filesystem path it targeted (may be empty for
// bootstrap work), Kind the failure class, and Err the underlying cause.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path == "" && e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Path == "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	default:
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match an *Error against the kind sentinels above, so
// callers never need to unwrap the structured type by hand.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf extracts the failure kind from any error chain. A nil error has no
// kind and reports KindInvalid like every other unclassified failure, so
// callers must check for nil first.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInvalid
}

// Errno translates an error chain into the POSIX code handed back to the
// kernel bridge. Only the path-shape failures keep their identity; every
// other kind collapses to EINVAL.
func Errno(err error) syscall.Errno {
	if errors.Is(err, ErrNotDirectory) {
		return syscall.ENOTDIR
	}
	switch KindOf(err) {
	case KindNotFound:
		return syscall.ENOENT
	case KindExists:
		return syscall.EEXIST
	case KindNotEmpty:
		return syscall.ENOTEMPTY
	default:
		return syscall.EINVAL
	}
}
