package nfsd

import (
	"os"
	"time"

	nfsfile "github.com/willscott/go-nfs/file"

	"github.com/tinyrange/msandbox/internal/fsmeta"
)

// FSID is the constant filesystem id this adapter reports for every
// entity (spec.md §6: "The filesystem reports a single fs-id of 0").
const FSID = 0

// entryInfo is the os.FileInfo billyFS hands back from Stat/Lstat/
// ReadDir. Its Sys() exposes a *file.FileInfo so go-nfs can read
// uid/gid/link-count/fileid without a syscall.Stat_t, following
// other_examples/b862aa7b_Itexoft-rclone__cmd-serve-nfs-filesystem.go.go's
// setSys helper.
type entryInfo struct {
	name    string
	meta    fsmeta.Metadata
	fileid  uint64
	hasUnix bool
}

func newEntryInfo(name string, md fsmeta.Metadata, fileid uint64) *entryInfo {
	return &entryInfo{name: name, meta: md, fileid: fileid, hasUnix: md.HasUnix}
}

func (fi *entryInfo) Name() string { return fi.name }

func (fi *entryInfo) Size() int64 { return int64(fi.meta.Size) }

func (fi *entryInfo) Mode() os.FileMode {
	perm := os.FileMode(fi.meta.Mode & 0o777)
	switch fi.meta.Kind {
	case fsmeta.KindDirectory:
		return perm | os.ModeDir
	case fsmeta.KindSymlink:
		return perm | os.ModeSymlink
	default:
		return perm
	}
}

func (fi *entryInfo) ModTime() time.Time { return fi.meta.ModifiedAt }

func (fi *entryInfo) IsDir() bool { return fi.meta.Kind == fsmeta.KindDirectory }

// Sys exposes uid/gid/fileid/link-count the way go-nfs's attribute
// construction expects, defaulting uid/gid to 0 on backends that
// don't carry Unix metadata (spec.md §4.E: "For non-Unix backends
// uid/gid/mode are synthesized from defaults").
func (fi *entryInfo) Sys() interface{} {
	uid, gid := uint32(0), uint32(0)
	if fi.hasUnix {
		uid, gid = fi.meta.UID, fi.meta.GID
	}
	return &nfsfile.FileInfo{
		Nlink:  1,
		UID:    uid,
		GID:    gid,
		Fileid: fi.fileid,
	}
}
