package fsmeta

import (
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// EntityKind is the sum-type discriminant for an Entity.
type EntityKind uint8

const (
	KindFile EntityKind = iota
	KindDirectory
	KindSymlink
)

func (k EntityKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Default permission bits applied when a Metadata is constructed for a
// given EntityKind without an explicit mode.
const (
	DefaultFileMode      = 0o644
	DefaultDirectoryMode = 0o755
	DefaultSymlinkMode   = 0o777
)

// Metadata describes an entity: kind, size, three timestamps, and (on
// Unix-capable backends) mode/uid/gid.
type Metadata struct {
	Kind       EntityKind
	Size       uint64
	CreatedAt  time.Time
	ModifiedAt time.Time
	AccessedAt time.Time

	// Mode holds the nine rwx permission bits in its low bits; HasUnix
	// reports whether uid/gid/mode are meaningful for this backend.
	HasUnix bool
	Mode    uint32
	UID     uint32
	GID     uint32
}

// NewMetadata builds Metadata for kind with the conventional default
// permission bits and the given timestamp used for all three fields.
func NewMetadata(kind EntityKind, now time.Time) Metadata {
	m := Metadata{
		Kind:       kind,
		CreatedAt:  now,
		ModifiedAt: now,
		AccessedAt: now,
		HasUnix:    true,
	}
	switch kind {
	case KindFile:
		m.Mode = DefaultFileMode
	case KindDirectory:
		m.Mode = DefaultDirectoryMode
	case KindSymlink:
		m.Mode = DefaultSymlinkMode
	}
	return m
}

// unixFileTypeBit returns the high-nibble S_IF* bits for kind, the
// conventional Unix encoding this package mirrors in ModeBits.
func unixFileTypeBit(kind EntityKind) uint32 {
	switch kind {
	case KindDirectory:
		return unix.S_IFDIR
	case KindSymlink:
		return unix.S_IFLNK
	default:
		return unix.S_IFREG
	}
}

// ModeBits returns the full Unix mode word: file-type bits in the high
// nibble, permission bits in the low nine bits.
func (m Metadata) ModeBits() uint32 {
	return unixFileTypeBit(m.Kind) | (m.Mode & 0o7777)
}

// String renders the metadata's mode the way `ls -l` would, e.g.
// "drwxr-xr-x".
func (m Metadata) String() string {
	var b strings.Builder
	switch m.Kind {
	case KindDirectory:
		b.WriteByte('d')
	case KindSymlink:
		b.WriteByte('l')
	default:
		b.WriteByte('-')
	}
	perm := m.Mode
	triples := []struct {
		r, w, x uint32
	}{
		{0o400, 0o200, 0o100},
		{0o040, 0o020, 0o010},
		{0o004, 0o002, 0o001},
	}
	for _, t := range triples {
		if perm&t.r != 0 {
			b.WriteByte('r')
		} else {
			b.WriteByte('-')
		}
		if perm&t.w != 0 {
			b.WriteByte('w')
		} else {
			b.WriteByte('-')
		}
		if perm&t.x != 0 {
			b.WriteByte('x')
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
