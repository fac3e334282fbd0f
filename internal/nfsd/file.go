package nfsd

import (
	"context"
	"io"
	"os"

	billy "github.com/go-git/go-billy/v5"

	"github.com/tinyrange/msandbox/internal/errs"
	"github.com/tinyrange/msandbox/internal/fsmeta"
	"github.com/tinyrange/msandbox/internal/vfscore"
)

// vfsFile is the billy.File handle returned by FS.Create/Open/
// OpenFile. It holds no buffer of its own — every Read/Write goes
// straight to the backing vfscore.VFS at the handle's current
// offset, matching spec.md's "lazy byte stream" framing for reads.
type vfsFile struct {
	name   string
	path   fsmeta.Path
	vfs    vfscore.VFS
	offset int64
	closed bool
}

func newVFSFile(name string, p fsmeta.Path, vfs vfscore.VFS) *vfsFile {
	return &vfsFile{name: name, path: p, vfs: vfs}
}

func (f *vfsFile) Name() string { return f.name }

func (f *vfsFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	n, err := f.readAt(p, f.offset)
	f.offset += int64(n)
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *vfsFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	n, err := f.readAt(p, off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *vfsFile) readAt(p []byte, off int64) (int, error) {
	data, err := f.vfs.ReadFile(context.Background(), f.path, uint64(off), uint32(len(p)))
	if err != nil {
		return 0, toOSError("read", f.name, err)
	}
	return copy(p, data), nil
}

// Write rejects offset > current_size instead of zero-padding a gap.
// vfscore's own backends happily sparse-extend a file on write, but
// spec.md §4.E calls for NFS WRITE specifically to reject that case
// with "invalid argument" rather than silently create sparse files, so
// the check lives here rather than in vfscore.
func (f *vfsFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	md, err := f.vfs.GetMetadata(context.Background(), f.path)
	if err != nil {
		return 0, toOSError("write", f.name, err)
	}
	if f.offset > int64(md.Size) {
		return 0, toOSError("write", f.name, errs.New(errs.InvalidOffset, "write", f.name, nil))
	}
	if err := f.vfs.WriteFile(context.Background(), f.path, uint64(f.offset), p); err != nil {
		return 0, toOSError("write", f.name, err)
	}
	f.offset += int64(len(p))
	return len(p), nil
}

func (f *vfsFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	case io.SeekEnd:
		md, err := f.vfs.GetMetadata(context.Background(), f.path)
		if err != nil {
			return 0, toOSError("seek", f.name, err)
		}
		f.offset = int64(md.Size) + offset
	default:
		return 0, os.ErrInvalid
	}
	return f.offset, nil
}

func (f *vfsFile) Close() error {
	f.closed = true
	return nil
}

// Lock/Unlock are no-ops: the underlying VFS already serializes every
// operation under its own root lock (spec.md §5); there is no
// separate byte-range lock table to maintain.
func (f *vfsFile) Lock() error   { return nil }
func (f *vfsFile) Unlock() error { return nil }

// Truncate only supports growing a file: the VFS contract (spec.md
// §4.B) has no shrink/resize primitive, only offset-based writes, so
// there is no way to express "discard the tail" without a dedicated
// operation. Growing is expressed as a zero-padded write at the
// current end of file, the same zero-extension write-past-EOF already
// performs.
func (f *vfsFile) Truncate(size int64) error {
	md, err := f.vfs.GetMetadata(context.Background(), f.path)
	if err != nil {
		return toOSError("truncate", f.name, err)
	}
	if uint64(size) < md.Size {
		return &os.PathError{Op: "truncate", Path: f.name, Err: billy.ErrNotSupported}
	}
	if uint64(size) == md.Size {
		return nil
	}
	zeros := make([]byte, uint64(size)-md.Size)
	return toOSError("truncate", f.name, f.vfs.WriteFile(context.Background(), f.path, md.Size, zeros))
}

var _ billy.File = (*vfsFile)(nil)
