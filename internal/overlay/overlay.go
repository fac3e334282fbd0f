// Package overlay implements the stackable overlay VFS: N read-only
// lower layers plus one writable top layer, with OCI-style whiteouts,
// opaque directory markers, and copy-up on first write.
//
// Grounded on original_source/virtualfs/lib/implementations/overlayfs.rs.
package overlay

import (
	"context"

	"github.com/tinyrange/msandbox/internal/errs"
	"github.com/tinyrange/msandbox/internal/fsmeta"
	"github.com/tinyrange/msandbox/internal/vfscore"
	"github.com/tinyrange/msandbox/internal/whiteout"
)

// Stack is an ordered sequence of VFS instances: index 0 is the
// deepest lower layer, the last index is the writable top layer.
// Modifications mutate only the top layer, except SetMetadata on an
// entity that exists only in a lower layer, which updates that layer.
type Stack struct {
	layers []vfscore.VFS
}

// New constructs a Stack from layers (base-to-top order). The last
// element becomes the writable top layer. Empty input fails.
func New(layers []vfscore.VFS) (*Stack, error) {
	if len(layers) == 0 {
		return nil, errs.New(errs.OverlayRequiresAtLeastOneLayer, "New", "", nil)
	}
	cp := make([]vfscore.VFS, len(layers))
	copy(cp, layers)
	return &Stack{layers: cp}, nil
}

func (s *Stack) top() vfscore.VFS { return s.layers[len(s.layers)-1] }

func lastSegment(p fsmeta.Path) (string, bool) {
	if len(p) == 0 {
		return "", false
	}
	return string(p[len(p)-1]), true
}

// maskedByTop reports whether p is hidden by a whiteout marker or an
// opaque marker on its parent directory, as recorded in the top layer.
func (s *Stack) maskedByTop(ctx context.Context, p fsmeta.Path) (bool, error) {
	parent, last, ok := p.Parent()
	if !ok {
		return false, nil
	}
	top := s.top()

	markerPath := parent.Join(fsmeta.Segment(whiteout.MarkerFor(string(last))))
	if exists, err := top.Exists(ctx, markerPath); err != nil {
		return false, err
	} else if exists {
		return true, nil
	}

	opaquePath := parent.Join(fsmeta.Segment(whiteout.OpaqueMarker))
	if exists, err := top.Exists(ctx, opaquePath); err != nil {
		return false, err
	} else if exists {
		return true, nil
	}
	return false, nil
}

// resolveLayer returns the highest-priority layer (top first, then
// lowers highest-priority-first) in which p is visible, or NotFound.
func (s *Stack) resolveLayer(ctx context.Context, p fsmeta.Path) (vfscore.VFS, error) {
	if name, ok := lastSegment(p); ok && whiteout.IsWhiteoutName(name) {
		return nil, errs.New(errs.NotFound, "resolveLayer", p.String(), nil)
	}

	top := s.top()
	if exists, err := top.Exists(ctx, p); err != nil {
		return nil, err
	} else if exists {
		return top, nil
	}

	masked, err := s.maskedByTop(ctx, p)
	if err != nil {
		return nil, err
	}
	if masked {
		return nil, errs.New(errs.NotFound, "resolveLayer", p.String(), nil)
	}

	for i := len(s.layers) - 2; i >= 0; i-- {
		layer := s.layers[i]
		if exists, err := layer.Exists(ctx, p); err != nil {
			return nil, err
		} else if exists {
			return layer, nil
		}
	}
	return nil, errs.New(errs.NotFound, "resolveLayer", p.String(), nil)
}

func (s *Stack) Exists(ctx context.Context, p fsmeta.Path) (bool, error) {
	if name, ok := lastSegment(p); ok && whiteout.IsWhiteoutName(name) {
		return false, nil
	}
	_, err := s.resolveLayer(ctx, p)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Stack) GetMetadata(ctx context.Context, p fsmeta.Path) (fsmeta.Metadata, error) {
	layer, err := s.resolveLayer(ctx, p)
	if err != nil {
		return fsmeta.Metadata{}, err
	}
	return layer.GetMetadata(ctx, p)
}

func (s *Stack) ReadFile(ctx context.Context, p fsmeta.Path, offset uint64, length uint32) ([]byte, error) {
	layer, err := s.resolveLayer(ctx, p)
	if err != nil {
		return nil, err
	}
	return layer.ReadFile(ctx, p, offset, length)
}

func (s *Stack) ReadSymlink(ctx context.Context, p fsmeta.Path) (string, error) {
	layer, err := s.resolveLayer(ctx, p)
	if err != nil {
		return "", err
	}
	return layer.ReadSymlink(ctx, p)
}

// ReadDirectory returns the union of entries across every layer that
// contains the directory, with a whiteout in any layer removing the
// named entry from the layers below it, an opaque marker in a layer
// clearing the contributions of the layers below it, and the markers
// themselves never surfaced.
func (s *Stack) ReadDirectory(ctx context.Context, p fsmeta.Path) ([]fsmeta.Segment, error) {
	top := s.top()
	result := make(map[fsmeta.Segment]struct{})
	whiteouts := make(map[fsmeta.Segment]struct{})
	opaque := false
	foundAny := false

	if exists, err := top.Exists(ctx, p); err != nil {
		return nil, err
	} else if exists {
		foundAny = true
		kids, err := top.ReadDirectory(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, k := range kids {
			name := string(k)
			if whiteout.IsOpaqueMarker(name) {
				opaque = true
				continue
			}
			if target, ok := whiteout.TargetName(name); ok {
				whiteouts[fsmeta.Segment(target)] = struct{}{}
				continue
			}
			result[k] = struct{}{}
		}
	}

	if !opaque {
		for i := len(s.layers) - 2; i >= 0; i-- {
			layer := s.layers[i]
			exists, err := layer.Exists(ctx, p)
			if err != nil {
				return nil, err
			}
			if !exists {
				continue
			}
			foundAny = true
			kids, err := layer.ReadDirectory(ctx, p)
			if err != nil {
				return nil, err
			}
			var layerWhiteouts []fsmeta.Segment
			layerOpaque := false
			for _, k := range kids {
				name := string(k)
				if whiteout.IsOpaqueMarker(name) {
					layerOpaque = true
					continue
				}
				if target, ok := whiteout.TargetName(name); ok {
					layerWhiteouts = append(layerWhiteouts, fsmeta.Segment(target))
					continue
				}
				if _, skip := whiteouts[k]; skip {
					continue
				}
				if _, have := result[k]; have {
					continue
				}
				result[k] = struct{}{}
			}
			for _, w := range layerWhiteouts {
				whiteouts[w] = struct{}{}
			}
			if layerOpaque {
				break
			}
		}
	}

	if !foundAny {
		return nil, errs.New(errs.NotFound, "ReadDirectory", p.String(), nil)
	}
	out := make([]fsmeta.Segment, 0, len(result))
	for k := range result {
		out = append(out, k)
	}
	return out, nil
}

// copyUpParents walks from the root toward p's parent, materializing
// any missing ancestor directories in the top layer, copying their
// metadata from the highest lower layer that has them.
func (s *Stack) copyUpParents(ctx context.Context, p fsmeta.Path) error {
	parentPath, _, ok := p.Parent()
	if !ok {
		return nil
	}
	top := s.top()
	for i := 1; i <= len(parentPath); i++ {
		prefix := parentPath[:i]
		if exists, err := top.Exists(ctx, prefix); err != nil {
			return err
		} else if exists {
			continue
		}

		masked, err := s.maskedByTop(ctx, prefix)
		if err != nil {
			return err
		}
		if masked {
			return errs.New(errs.ParentDirectoryNotFound, "copyUpParents", prefix.String(), nil)
		}

		layer, err := s.resolveLayer(ctx, prefix)
		if err != nil {
			return errs.New(errs.ParentDirectoryNotFound, "copyUpParents", prefix.String(), nil)
		}
		md, err := layer.GetMetadata(ctx, prefix)
		if err != nil {
			return err
		}
		if err := top.CreateDirectory(ctx, prefix); err != nil {
			return err
		}
		if err := top.SetMetadata(ctx, prefix, md); err != nil {
			return err
		}
	}
	return nil
}

// clearWhiteoutMarker removes p's own whiteout marker from the top
// layer, if present — step 2 of the copy-up sequence before a create.
func (s *Stack) clearWhiteoutMarker(ctx context.Context, p fsmeta.Path) error {
	parent, last, ok := p.Parent()
	if !ok {
		return nil
	}
	top := s.top()
	marker := parent.Join(fsmeta.Segment(whiteout.MarkerFor(string(last))))
	exists, err := top.Exists(ctx, marker)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return top.Remove(ctx, marker)
}

// copyUpFileContent materializes p's full content into the top layer
// if p is a file that currently lives only in a lower layer.
func (s *Stack) copyUpFileContent(ctx context.Context, p fsmeta.Path) error {
	top := s.top()
	if exists, err := top.Exists(ctx, p); err != nil {
		return err
	} else if exists {
		return nil
	}

	layer, err := s.resolveLayer(ctx, p)
	if err != nil {
		return errs.New(errs.NotFound, "copyUpFileContent", p.String(), nil)
	}
	md, err := layer.GetMetadata(ctx, p)
	if err != nil {
		return err
	}
	if md.Kind != fsmeta.KindFile {
		return errs.New(errs.NotAFile, "copyUpFileContent", p.String(), nil)
	}
	data, err := layer.ReadFile(ctx, p, 0, uint32(md.Size))
	if err != nil {
		return err
	}
	if err := top.CreateFile(ctx, p, true); err != nil {
		return err
	}
	if len(data) > 0 {
		if err := top.WriteFile(ctx, p, 0, data); err != nil {
			return err
		}
	}
	return top.SetMetadata(ctx, p, md)
}

func rejectWhiteoutName(op string, p fsmeta.Path) error {
	if name, ok := lastSegment(p); ok && whiteout.IsWhiteoutName(name) {
		return errs.New(errs.InvalidPathComponent, op, p.String(), nil)
	}
	return nil
}

func (s *Stack) CreateFile(ctx context.Context, p fsmeta.Path, existsOk bool) error {
	if err := rejectWhiteoutName("CreateFile", p); err != nil {
		return err
	}
	if exists, err := s.Exists(ctx, p); err != nil {
		return err
	} else if exists {
		if existsOk {
			return nil
		}
		return errs.New(errs.AlreadyExists, "CreateFile", p.String(), nil)
	}
	if err := s.copyUpParents(ctx, p); err != nil {
		return err
	}
	if err := s.clearWhiteoutMarker(ctx, p); err != nil {
		return err
	}
	return s.top().CreateFile(ctx, p, existsOk)
}

func (s *Stack) CreateDirectory(ctx context.Context, p fsmeta.Path) error {
	if err := rejectWhiteoutName("CreateDirectory", p); err != nil {
		return err
	}
	if exists, err := s.Exists(ctx, p); err != nil {
		return err
	} else if exists {
		return errs.New(errs.AlreadyExists, "CreateDirectory", p.String(), nil)
	}
	if err := s.copyUpParents(ctx, p); err != nil {
		return err
	}
	if err := s.clearWhiteoutMarker(ctx, p); err != nil {
		return err
	}
	return s.top().CreateDirectory(ctx, p)
}

func (s *Stack) CreateSymlink(ctx context.Context, p fsmeta.Path, target string) error {
	if err := rejectWhiteoutName("CreateSymlink", p); err != nil {
		return err
	}
	if target == "" {
		return errs.New(errs.InvalidSymlinkTarget, "CreateSymlink", p.String(), nil)
	}
	if exists, err := s.Exists(ctx, p); err != nil {
		return err
	} else if exists {
		return errs.New(errs.AlreadyExists, "CreateSymlink", p.String(), nil)
	}
	if err := s.copyUpParents(ctx, p); err != nil {
		return err
	}
	if err := s.clearWhiteoutMarker(ctx, p); err != nil {
		return err
	}
	return s.top().CreateSymlink(ctx, p, target)
}

func (s *Stack) WriteFile(ctx context.Context, p fsmeta.Path, offset uint64, data []byte) error {
	if err := s.copyUpParents(ctx, p); err != nil {
		return err
	}
	if err := s.clearWhiteoutMarker(ctx, p); err != nil {
		return err
	}
	if err := s.copyUpFileContent(ctx, p); err != nil {
		return err
	}
	return s.top().WriteFile(ctx, p, offset, data)
}

// SetMetadata mutates the top layer if the entity already lives there;
// otherwise it mutates the lower layer that owns the entity directly,
// without copy-up. This is the sole exception to "mutations only ever
// touch the top layer" (spec open question: a conservative
// implementation might copy-up instead; this one follows the source's
// documented behavior as-is).
func (s *Stack) SetMetadata(ctx context.Context, p fsmeta.Path, md fsmeta.Metadata) error {
	top := s.top()
	if exists, err := top.Exists(ctx, p); err != nil {
		return err
	} else if exists {
		return top.SetMetadata(ctx, p, md)
	}
	layer, err := s.resolveLayer(ctx, p)
	if err != nil {
		return err
	}
	return layer.SetMetadata(ctx, p, md)
}

func (s *Stack) createWhiteoutMarker(ctx context.Context, p fsmeta.Path) error {
	parent, last, ok := p.Parent()
	if !ok {
		return nil
	}
	top := s.top()
	marker := parent.Join(fsmeta.Segment(whiteout.MarkerFor(string(last))))
	if exists, err := top.Exists(ctx, marker); err != nil {
		return err
	} else if exists {
		return nil
	}
	return top.CreateFile(ctx, marker, true)
}

func (s *Stack) Remove(ctx context.Context, p fsmeta.Path) error {
	top := s.top()
	if exists, err := top.Exists(ctx, p); err != nil {
		return err
	} else if exists {
		return top.Remove(ctx, p)
	}

	layer, err := s.resolveLayer(ctx, p)
	if err != nil {
		return errs.New(errs.NotFound, "Remove", p.String(), nil)
	}
	md, err := layer.GetMetadata(ctx, p)
	if err != nil {
		return err
	}
	if md.Kind == fsmeta.KindDirectory {
		return errs.New(errs.NotAFile, "Remove", p.String(), nil)
	}
	if err := s.copyUpParents(ctx, p); err != nil {
		return err
	}
	return s.createWhiteoutMarker(ctx, p)
}

func (s *Stack) RemoveDirectory(ctx context.Context, p fsmeta.Path) error {
	top := s.top()

	existsTop, err := top.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !existsTop {
		layer, err := s.resolveLayer(ctx, p)
		if err != nil {
			return errs.New(errs.NotFound, "RemoveDirectory", p.String(), nil)
		}
		md, err := layer.GetMetadata(ctx, p)
		if err != nil {
			return err
		}
		if md.Kind != fsmeta.KindDirectory {
			return errs.New(errs.NotADirectory, "RemoveDirectory", p.String(), nil)
		}
	}

	entries, err := s.ReadDirectory(ctx, p)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return errs.New(errs.DirectoryNotEmpty, "RemoveDirectory", p.String(), nil)
	}

	if existsTop {
		return top.RemoveDirectory(ctx, p)
	}
	if err := s.copyUpParents(ctx, p); err != nil {
		return err
	}
	return s.createWhiteoutMarker(ctx, p)
}

// materializeIntoTop recursively copies p's overlay-merged view into
// the top layer at the same path, used by Rename when the source is
// not yet present in the top layer.
func (s *Stack) materializeIntoTop(ctx context.Context, p fsmeta.Path) error {
	md, err := s.GetMetadata(ctx, p)
	if err != nil {
		return err
	}
	top := s.top()
	switch md.Kind {
	case fsmeta.KindFile:
		data, err := s.ReadFile(ctx, p, 0, uint32(md.Size))
		if err != nil {
			return err
		}
		if err := top.CreateFile(ctx, p, true); err != nil {
			return err
		}
		if len(data) > 0 {
			if err := top.WriteFile(ctx, p, 0, data); err != nil {
				return err
			}
		}
		return top.SetMetadata(ctx, p, md)
	case fsmeta.KindSymlink:
		target, err := s.ReadSymlink(ctx, p)
		if err != nil {
			return err
		}
		if err := top.CreateSymlink(ctx, p, target); err != nil {
			return err
		}
		return top.SetMetadata(ctx, p, md)
	case fsmeta.KindDirectory:
		if err := top.CreateDirectory(ctx, p); err != nil {
			return err
		}
		if err := top.SetMetadata(ctx, p, md); err != nil {
			return err
		}
		children, err := s.ReadDirectory(ctx, p)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := s.materializeIntoTop(ctx, p.Join(c)); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func (s *Stack) Rename(ctx context.Context, oldPath, newPath fsmeta.Path) error {
	if exists, err := s.Exists(ctx, newPath); err != nil {
		return err
	} else if exists {
		return errs.New(errs.AlreadyExists, "Rename", newPath.String(), nil)
	}

	if err := s.copyUpParents(ctx, newPath); err != nil {
		return err
	}

	top := s.top()
	oldInTop, err := top.Exists(ctx, oldPath)
	if err != nil {
		return err
	}
	if oldInTop {
		return top.Rename(ctx, oldPath, newPath)
	}

	if ok, err := s.Exists(ctx, oldPath); err != nil {
		return err
	} else if !ok {
		return errs.New(errs.NotFound, "Rename", oldPath.String(), nil)
	}

	if err := s.copyUpParents(ctx, oldPath); err != nil {
		return err
	}
	if err := s.materializeIntoTop(ctx, oldPath); err != nil {
		return err
	}
	if err := top.Rename(ctx, oldPath, newPath); err != nil {
		return err
	}
	return s.createWhiteoutMarker(ctx, oldPath)
}
