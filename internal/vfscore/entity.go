package vfscore

import (
	"context"

	"github.com/tinyrange/msandbox/internal/fsmeta"
)

// Entity is a single node produced while walking an extracted OCI
// layer directory, before it is merged with its siblings and
// populated into a VFS. It mirrors the reference backend's small
// concrete-struct-behind-an-interface shape (FileEntity / DirEntity /
// SymlinkEntity), rather than reusing VFS itself, because a layer
// tree is built once from disk and then merged — it never needs
// locking or partial mutation.
type Entity interface {
	Name() fsmeta.Segment
	Metadata() fsmeta.Metadata
	isEntity()
}

// FileEntity is a regular file; nil Content denotes an empty file
// without allocating a content slice.
type FileEntity struct {
	Seg     fsmeta.Segment
	Meta    fsmeta.Metadata
	Content []byte
}

func (f *FileEntity) Name() fsmeta.Segment        { return f.Seg }
func (f *FileEntity) Metadata() fsmeta.Metadata    { return f.Meta }
func (*FileEntity) isEntity()                      {}

// DirEntity is a directory; Children is keyed by segment name for
// O(1) merge lookups.
type DirEntity struct {
	Seg      fsmeta.Segment
	Meta     fsmeta.Metadata
	Children map[fsmeta.Segment]Entity
}

func (d *DirEntity) Name() fsmeta.Segment       { return d.Seg }
func (d *DirEntity) Metadata() fsmeta.Metadata   { return d.Meta }
func (*DirEntity) isEntity()                     {}

// SymlinkEntity is a symlink; Target is the literal link text.
type SymlinkEntity struct {
	Seg    fsmeta.Segment
	Meta   fsmeta.Metadata
	Target string
}

func (s *SymlinkEntity) Name() fsmeta.Segment       { return s.Seg }
func (s *SymlinkEntity) Metadata() fsmeta.Metadata   { return s.Meta }
func (*SymlinkEntity) isEntity()                     {}

// NewRootDir returns an empty, unnamed directory entity suitable as a
// merge accumulator or tree root.
func NewRootDir(meta fsmeta.Metadata) *DirEntity {
	return &DirEntity{Meta: meta, Children: make(map[fsmeta.Segment]Entity)}
}

// Populate writes the entity tree rooted at d into vfs at base,
// creating every directory, file, and symlink and restoring captured
// metadata. It is used to turn a merged layer tree into a VFS layer
// that the overlay stack can use as a lower (read-only) layer.
func Populate(ctx context.Context, vfs VFS, base fsmeta.Path, d *DirEntity) error {
	for _, child := range d.Children {
		p := base.Join(child.Name())
		switch c := child.(type) {
		case *FileEntity:
			if err := vfs.CreateFile(ctx, p, false); err != nil {
				return err
			}
			if len(c.Content) > 0 {
				if err := vfs.WriteFile(ctx, p, 0, c.Content); err != nil {
					return err
				}
			}
			if err := vfs.SetMetadata(ctx, p, c.Meta); err != nil {
				return err
			}
		case *SymlinkEntity:
			if err := vfs.CreateSymlink(ctx, p, c.Target); err != nil {
				return err
			}
			if err := vfs.SetMetadata(ctx, p, c.Meta); err != nil {
				return err
			}
		case *DirEntity:
			if err := vfs.CreateDirectory(ctx, p); err != nil {
				return err
			}
			if err := vfs.SetMetadata(ctx, p, c.Meta); err != nil {
				return err
			}
			if err := Populate(ctx, vfs, p, c); err != nil {
				return err
			}
		}
	}
	return nil
}
