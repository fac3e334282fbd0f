package nfsd

import (
	"context"
	"os"
	"path"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"

	"github.com/tinyrange/msandbox/internal/fsmeta"
	"github.com/tinyrange/msandbox/internal/vfscore"
)

// FS adapts a vfscore.VFS (typically an *overlay.Stack) to
// billy.Filesystem, the path-based contract go-nfs drives. This is
// the bridge half of spec component E; handles.go and handler.go are
// the fileid<->path bijection half.
//
// Grounded on other_examples/08b7cbee_agentic-research-mache__internal-nfsmount-graphfs.go.go
// and other_examples/b862aa7b_Itexoft-rclone__cmd-serve-nfs-filesystem.go.go,
// which adapt a different backend (a graph store / rclone's vfs.VFS)
// to the exact same billy.Filesystem surface.
type FS struct {
	vfs     vfscore.VFS
	handles *HandleTable
}

// NewFS returns a billy.Filesystem view of vfs, registering fileids
// through ht (shared with the Handler so Stat's Sys() fileid agrees
// with what ToHandle/FromHandle hand out).
func NewFS(vfs vfscore.VFS, ht *HandleTable) *FS {
	return &FS{vfs: vfs, handles: ht}
}

func splitPath(name string) (fsmeta.Path, error) {
	return fsmeta.Split(name)
}

// Create implements exclusive create (spec.md §4.E: "this system
// treats it as exclusive" for both the guarded and exclusive NFS
// CREATE variants).
func (f *FS) Create(filename string) (billy.File, error) {
	p, err := splitPath(filename)
	if err != nil {
		return nil, toOSError("create", filename, err)
	}
	if err := f.vfs.CreateFile(context.Background(), p, false); err != nil {
		return nil, toOSError("create", filename, err)
	}
	return newVFSFile(filename, p, f.vfs), nil
}

func (f *FS) Open(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDONLY, 0)
}

func (f *FS) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	p, err := splitPath(filename)
	if err != nil {
		return nil, toOSError("open", filename, err)
	}
	exists, err := f.vfs.Exists(context.Background(), p)
	if err != nil {
		return nil, toOSError("open", filename, err)
	}
	if !exists {
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
		}
		if err := f.vfs.CreateFile(context.Background(), p, true); err != nil {
			return nil, toOSError("open", filename, err)
		}
	}
	file := newVFSFile(filename, p, f.vfs)
	if flag&os.O_APPEND != 0 {
		if md, err := f.vfs.GetMetadata(context.Background(), p); err == nil {
			file.offset = int64(md.Size)
		}
	}
	return file, nil
}

func (f *FS) statAt(op, filename string) (os.FileInfo, error) {
	p, err := splitPath(filename)
	if err != nil {
		return nil, toOSError(op, filename, err)
	}
	md, err := f.vfs.GetMetadata(context.Background(), p)
	if err != nil {
		return nil, toOSError(op, filename, err)
	}
	id := f.handles.EnsureRegistered(p)
	name := filename
	if idx := strings.LastIndex(strings.TrimRight(filename, "/"), "/"); idx >= 0 {
		name = filename[idx+1:]
	}
	return newEntryInfo(name, md, id), nil
}

func (f *FS) Stat(filename string) (os.FileInfo, error)  { return f.statAt("stat", filename) }
func (f *FS) Lstat(filename string) (os.FileInfo, error) { return f.statAt("lstat", filename) }

func (f *FS) Rename(oldpath, newpath string) error {
	oldP, err := splitPath(oldpath)
	if err != nil {
		return toOSError("rename", oldpath, err)
	}
	newP, err := splitPath(newpath)
	if err != nil {
		return toOSError("rename", newpath, err)
	}
	if err := f.vfs.Rename(context.Background(), oldP, newP); err != nil {
		return toOSError("rename", oldpath, err)
	}
	f.handles.Rebind(oldP, newP)
	return nil
}

func (f *FS) Remove(filename string) error {
	p, err := splitPath(filename)
	if err != nil {
		return toOSError("remove", filename, err)
	}
	md, err := f.vfs.GetMetadata(context.Background(), p)
	if err != nil {
		return toOSError("remove", filename, err)
	}
	if md.Kind == fsmeta.KindDirectory {
		err = f.vfs.RemoveDirectory(context.Background(), p)
	} else {
		err = f.vfs.Remove(context.Background(), p)
	}
	if err != nil {
		return toOSError("remove", filename, err)
	}
	f.handles.Invalidate(f.handles.EnsureRegistered(p))
	return nil
}

func (f *FS) Join(elem ...string) string { return path.Join(elem...) }

func (f *FS) TempFile(_, _ string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

func (f *FS) ReadDir(dir string) ([]os.FileInfo, error) {
	p, err := splitPath(dir)
	if err != nil {
		return nil, toOSError("readdir", dir, err)
	}
	names, err := f.vfs.ReadDirectory(context.Background(), p)
	if err != nil {
		return nil, toOSError("readdir", dir, err)
	}
	out := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		childPath := p.Join(name)
		md, err := f.vfs.GetMetadata(context.Background(), childPath)
		if err != nil {
			return nil, toOSError("readdir", dir, err)
		}
		id := f.handles.EnsureRegistered(childPath)
		out = append(out, newEntryInfo(string(name), md, id))
	}
	return out, nil
}

// MkdirAll creates every missing path component, matching
// other_examples/b862aa7b's rationale: delegating to a single
// recursive VFS.CreateDirectory would stop at the first missing
// parent because the contract requires the parent to already exist.
func (f *FS) MkdirAll(filename string, _ os.FileMode) error {
	p, err := splitPath(filename)
	if err != nil {
		return toOSError("mkdirall", filename, err)
	}
	for i := 1; i <= len(p); i++ {
		prefix := p[:i]
		exists, err := f.vfs.Exists(context.Background(), prefix)
		if err != nil {
			return toOSError("mkdirall", filename, err)
		}
		if exists {
			continue
		}
		if err := f.vfs.CreateDirectory(context.Background(), prefix); err != nil {
			return toOSError("mkdirall", filename, err)
		}
	}
	return nil
}

func (f *FS) Symlink(target, link string) error {
	p, err := splitPath(link)
	if err != nil {
		return toOSError("symlink", link, err)
	}
	if err := f.vfs.CreateSymlink(context.Background(), p, target); err != nil {
		return toOSError("symlink", link, err)
	}
	return nil
}

func (f *FS) Readlink(link string) (string, error) {
	p, err := splitPath(link)
	if err != nil {
		return "", toOSError("readlink", link, err)
	}
	target, err := f.vfs.ReadSymlink(context.Background(), p)
	if err != nil {
		return "", toOSError("readlink", link, err)
	}
	return target, nil
}

func (f *FS) Chroot(subPath string) (billy.Filesystem, error) {
	return chroot.New(f, subPath), nil
}

func (f *FS) Root() string { return "/" }

func (f *FS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.WriteCapability | billy.SeekCapability
}

// Chmod/Lchown/Chtimes implement billy.Change, the hook go-nfs's
// SETATTR handling uses once it has already resolved the three
// don't-change/server-time/client-time sentinels of spec.md §4.E into
// concrete values.
func (f *FS) Chmod(name string, mode os.FileMode) error {
	return f.updateMetadata("chmod", name, func(md *fsmeta.Metadata) {
		md.Mode = uint32(mode.Perm())
	})
}

func (f *FS) Lchown(name string, uid, gid int) error {
	return f.updateMetadata("lchown", name, func(md *fsmeta.Metadata) {
		md.UID, md.GID = uint32(uid), uint32(gid)
		md.HasUnix = true
	})
}

func (f *FS) Chtimes(name string, atime, mtime time.Time) error {
	return f.updateMetadata("chtimes", name, func(md *fsmeta.Metadata) {
		md.AccessedAt = atime
		md.ModifiedAt = mtime
	})
}

func (f *FS) updateMetadata(op, name string, mutate func(*fsmeta.Metadata)) error {
	p, err := splitPath(name)
	if err != nil {
		return toOSError(op, name, err)
	}
	md, err := f.vfs.GetMetadata(context.Background(), p)
	if err != nil {
		return toOSError(op, name, err)
	}
	mutate(&md)
	if err := f.vfs.SetMetadata(context.Background(), p, md); err != nil {
		return toOSError(op, name, err)
	}
	return nil
}

var _ billy.Filesystem = (*FS)(nil)
var _ billy.Change = (*FS)(nil)
