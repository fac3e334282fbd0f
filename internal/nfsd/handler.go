package nfsd

import (
	"context"
	"encoding/binary"
	"net"

	billy "github.com/go-git/go-billy/v5"
	gonfs "github.com/willscott/go-nfs"

	"github.com/tinyrange/msandbox/internal/errs"
	"github.com/tinyrange/msandbox/internal/fsmeta"
	"github.com/tinyrange/msandbox/internal/vfscore"
)

// Handler implements gonfs.Handler, go-nfs's per-mount contract:
// authorizing a mount, reporting filesystem stats, and converting
// between the opaque byte-string file handles the NFSv3 wire protocol
// carries and (fs, path) pairs. The path side of that conversion is
// exactly spec.md §4.E's fileid<->path bijection — ToHandle/FromHandle
// encode/decode a HandleTable fileid rather than the path itself, so
// the handle space is the same symbol-interned one used everywhere
// else in this package.
type Handler struct {
	fs      *FS
	vfs     vfscore.VFS
	handles *HandleTable
}

// NewHandler wires vfs behind a single capability set (ReadWrite, per
// spec.md §6) for every mounting client.
func NewHandler(vfs vfscore.VFS) *Handler {
	ht := NewHandleTable()
	return &Handler{
		fs:      NewFS(vfs, ht),
		vfs:     vfs,
		handles: ht,
	}
}

// Mount always grants the mount; this adapter has no export list or
// per-client ACL, matching spec.md's single-VFS-root framing.
func (h *Handler) Mount(_ context.Context, _ net.Conn, _ gonfs.MountRequest) (gonfs.MountStatus, billy.Filesystem, []gonfs.AuthFlavor) {
	return gonfs.MountStatusOk, h.fs, []gonfs.AuthFlavor{gonfs.AuthFlavorNull}
}

// Change exposes the billy.Change half of FS so go-nfs's SETATTR path
// can apply mode/uid/gid/time updates once it has resolved spec.md
// §4.E's don't-change / server-time / client-time sentinels.
func (h *Handler) Change(fs billy.Filesystem) billy.Change {
	if bfs, ok := fs.(*FS); ok {
		return bfs
	}
	return nil
}

// FSStat reports capacity in the generic, non-quota-aware shape
// spec.md's in-memory/overlay backends call for: no enforced limit.
func (h *Handler) FSStat(_ context.Context, _ billy.Filesystem, stat *gonfs.FSStat) error {
	stat.TotalSize = 0
	stat.FreeSize = 0
	stat.TotalFiles = 0
	stat.FreeFiles = 0
	return nil
}

// ToHandle encodes path (already split into components by go-nfs) as
// the fileid the HandleTable has bound to it, allocating one on first
// reference (spec.md §3: "Handles are allocated lazily on first
// reference"). The wire handle is the fileid's fixed 8-byte big-endian
// encoding, not the path itself — this is what makes handles opaque
// and reuses the same bijection NFS Lookup/Getattr/etc. consult.
func (h *Handler) ToHandle(_ billy.Filesystem, splitPath []string) []byte {
	p := stringsToPath(splitPath)
	id := h.handles.EnsureRegistered(p)
	return encodeFileID(id)
}

// FromHandle decodes a wire handle back into the billy.Filesystem and
// split path go-nfs expects, failing with a stale-handle error if the
// fileid was never registered or has since been invalidated by a
// Remove (spec.md §3).
func (h *Handler) FromHandle(fh []byte) (billy.Filesystem, []string, error) {
	id, err := decodeFileID(fh)
	if err != nil {
		return nil, nil, err
	}
	p, err := h.handles.Resolve(id)
	if err != nil {
		return nil, nil, toOSError("fromhandle", "", err)
	}
	return h.fs, segmentStrings(p), nil
}

// HandleLimit reports an effectively unbounded handle space: the
// symbol table and bijection maps never evict (spec.md §9).
func (h *Handler) HandleLimit() int { return 1 << 30 }

// InvalidateHandle marks the fileid encoded by fh as stale. go-nfs
// calls this after a REMOVE/RMDIR/RENAME-over-destination so a client
// still holding the old handle gets NFS3ERR_STALE instead of silently
// resolving to whatever now occupies that path.
func (h *Handler) InvalidateHandle(_ billy.Filesystem, fh []byte) error {
	id, err := decodeFileID(fh)
	if err != nil {
		return err
	}
	h.handles.Invalidate(id)
	return nil
}

func stringsToPath(parts []string) fsmeta.Path {
	p := make(fsmeta.Path, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		p = append(p, fsmeta.Segment(part))
	}
	return p
}

func encodeFileID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func decodeFileID(fh []byte) (uint64, error) {
	if len(fh) != 8 {
		return 0, errs.New(errs.StaleHandle, "decodeFileID", "", nil)
	}
	return binary.BigEndian.Uint64(fh), nil
}

var _ gonfs.Handler = (*Handler)(nil)
