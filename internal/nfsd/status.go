package nfsd

import (
	"os"

	"github.com/tinyrange/msandbox/internal/errs"
)

// NFS3Status mirrors the subset of NFSv3's nfsstat3 wire values this
// adapter ever needs to reason about explicitly (spec.md §7's mapping
// table). go-nfs derives most of these automatically from the
// stdlib-shaped errors billyFS returns (os.ErrNotExist and friends);
// this enum exists so internal/nfsd's own code (and its tests) can
// name the target status without spelling out the library's
// constants, and so the mapping table has one home.
type NFS3Status int

const (
	NFS3OK NFS3Status = iota
	NFS3ErrNoEnt
	NFS3ErrExist
	NFS3ErrNotDir
	NFS3ErrInval
	NFS3ErrNotEmpty
	NFS3ErrStale
	NFS3ErrIO
)

// StatusFor maps an errs.Kind (spec.md §7) to the NFSv3 status it
// translates to, per spec.md §7's table.
func StatusFor(kind errs.Kind) NFS3Status {
	switch kind {
	case errs.NotFound:
		return NFS3ErrNoEnt
	case errs.AlreadyExists:
		return NFS3ErrExist
	case errs.NotADirectory:
		return NFS3ErrNotDir
	case errs.InvalidPathComponent, errs.InvalidOffset, errs.InvalidSymlinkTarget:
		return NFS3ErrInval
	case errs.DirectoryNotEmpty:
		return NFS3ErrNotEmpty
	case errs.StaleHandle:
		return NFS3ErrStale
	default:
		return NFS3ErrIO
	}
}

// toOSError translates a core *errs.Error into the stdlib sentinel
// billy.Filesystem callers (and, transitively, go-nfs) already know
// how to classify via os.IsNotExist/os.IsExist/os.IsPermission. Any
// kind with no closer stdlib analogue is wrapped as-is so the
// original taxonomy survives for callers that do check with
// errors.As(*errs.Error).
func toOSError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	kind := errs.KindOf(err)
	switch kind {
	case errs.NotFound, errs.ParentDirectoryNotFound, errs.StaleHandle:
		return &os.PathError{Op: op, Path: path, Err: os.ErrNotExist}
	case errs.AlreadyExists:
		return &os.PathError{Op: op, Path: path, Err: os.ErrExist}
	case errs.NotADirectory, errs.NotAFile, errs.NotASymlink,
		errs.InvalidPathComponent, errs.InvalidOffset, errs.InvalidSymlinkTarget,
		errs.DirectoryNotEmpty:
		return &os.PathError{Op: op, Path: path, Err: err}
	default:
		return &os.PathError{Op: op, Path: path, Err: err}
	}
}
