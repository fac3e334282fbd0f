// Package vfscore defines the VFS contract every backend (in-memory,
// overlay, future disk-backed) implements, plus the in-memory
// reference backend.
package vfscore

import (
	"context"

	"github.com/tinyrange/msandbox/internal/fsmeta"
)

// VFS is the capability set every filesystem backend in this module
// implements. Every operation may suspend on entry (to acquire a lock)
// and at storage/network boundaries. Every operation takes a ctx;
// MemoryVFS and the overlay Stack do not check it for cancellation.
type VFS interface {
	// Exists reports whether an entity resolves at p.
	Exists(ctx context.Context, p fsmeta.Path) (bool, error)

	// CreateFile creates an empty regular file at p. If existsOk is
	// false and p already exists, returns errs.AlreadyExists.
	CreateFile(ctx context.Context, p fsmeta.Path, existsOk bool) error

	// CreateDirectory creates an empty directory at p.
	CreateDirectory(ctx context.Context, p fsmeta.Path) error

	// CreateSymlink creates a symlink at p pointing at target. target
	// must be non-empty.
	CreateSymlink(ctx context.Context, p fsmeta.Path, target string) error

	// ReadFile reads up to length bytes starting at offset, clipped to
	// the file's size. Offsets at or beyond size return an empty slice.
	ReadFile(ctx context.Context, p fsmeta.Path, offset uint64, length uint32) ([]byte, error)

	// ReadDirectory lists the segment names of p's immediate children,
	// in no guaranteed order.
	ReadDirectory(ctx context.Context, p fsmeta.Path) ([]fsmeta.Segment, error)

	// ReadSymlink returns the literal target of the symlink at p.
	ReadSymlink(ctx context.Context, p fsmeta.Path) (string, error)

	// GetMetadata returns the metadata of the entity at p.
	GetMetadata(ctx context.Context, p fsmeta.Path) (fsmeta.Metadata, error)

	// SetMetadata overwrites the metadata of the entity at p.
	SetMetadata(ctx context.Context, p fsmeta.Path, m fsmeta.Metadata) error

	// WriteFile writes data at offset, extending the file if
	// necessary. Backends that do not support sparse files must fail
	// when offset exceeds the current size; the in-memory backend
	// zero-pads instead (see spec §9, write-past-EOF open question).
	WriteFile(ctx context.Context, p fsmeta.Path, offset uint64, data []byte) error

	// Remove deletes the file or symlink at p. Directories must be
	// removed via RemoveDirectory.
	Remove(ctx context.Context, p fsmeta.Path) error

	// RemoveDirectory deletes the (empty) directory at p.
	RemoveDirectory(ctx context.Context, p fsmeta.Path) error

	// Rename moves or renames oldPath to newPath. newPath must not
	// already exist.
	Rename(ctx context.Context, oldPath, newPath fsmeta.Path) error
}
