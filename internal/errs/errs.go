// Package errs defines the error taxonomy shared by the VFS, overlay,
// OCI, and NFS layers.
package errs

import "fmt"

// Kind identifies a category of error in the taxonomy. Callers should
// compare against Kind via errors.As on *Error, not string matching.
type Kind int

const (
	// Unknown is the zero value; never constructed intentionally.
	Unknown Kind = iota
	NotFound
	AlreadyExists
	NotADirectory
	NotAFile
	NotASymlink
	InvalidPathComponent
	InvalidOffset
	InvalidSymlinkTarget
	ParentDirectoryNotFound
	DirectoryNotEmpty
	OverlayRequiresAtLeastOneLayer
	ImageLayerDownloadFailed
	ManifestNotFound
	ConfigValidation
	SupervisorError
	StaleHandle
	Io
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case NotADirectory:
		return "not_a_directory"
	case NotAFile:
		return "not_a_file"
	case NotASymlink:
		return "not_a_symlink"
	case InvalidPathComponent:
		return "invalid_path_component"
	case InvalidOffset:
		return "invalid_offset"
	case InvalidSymlinkTarget:
		return "invalid_symlink_target"
	case ParentDirectoryNotFound:
		return "parent_directory_not_found"
	case DirectoryNotEmpty:
		return "directory_not_empty"
	case OverlayRequiresAtLeastOneLayer:
		return "overlay_requires_at_least_one_layer"
	case ImageLayerDownloadFailed:
		return "image_layer_download_failed"
	case ManifestNotFound:
		return "manifest_not_found"
	case ConfigValidation:
		return "config_validation"
	case SupervisorError:
		return "supervisor_error"
	case StaleHandle:
		return "stale_handle"
	case Io:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every core API. Op and
// Path are best-effort context, not part of the taxonomy itself.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, errs.New(kind, ...)) to match on Kind alone,
// matching the common "did this fail with NotFound" comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error for the given kind, operation, and path.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Sentinel returns a bare *Error usable with errors.Is to test a Kind,
// e.g. errors.Is(err, errs.Sentinel(errs.NotFound)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// otherwise returns Io — any unclassified host I/O failure is treated
// as a generic I/O error per spec.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return Io
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
