package oci

import (
	"time"

	"github.com/tinyrange/msandbox/internal/fsmeta"
	"github.com/tinyrange/msandbox/internal/vfscore"
	"github.com/tinyrange/msandbox/internal/whiteout"
)

// MergeLayers folds layers (base-to-top order) into a single tree,
// applying OCI whiteout and opaque-directory semantics exactly as
// spec.md §4.C describes: for each layer, a whiteout pass removes
// named siblings from the accumulator, then a content pass applies
// the layer's own entries — opaque directories replacing the
// accumulated subtree wholesale, ordinary directories recursing, and
// files/symlinks replacing outright. The result is deterministic
// given the layer order and never itself contains whiteout or opaque
// marker entries.
func MergeLayers(layers []*vfscore.DirEntity) *vfscore.DirEntity {
	if len(layers) == 0 {
		return vfscore.NewRootDir(fsmeta.NewMetadata(fsmeta.KindDirectory, time.Now().UTC()))
	}
	merged := cloneDir(layers[0])
	for _, layer := range layers[1:] {
		mergeDirInto(merged, layer)
	}
	stripMarkers(merged)
	return merged
}

func cloneDir(d *vfscore.DirEntity) *vfscore.DirEntity {
	out := &vfscore.DirEntity{Seg: d.Seg, Meta: d.Meta, Children: make(map[fsmeta.Segment]vfscore.Entity, len(d.Children))}
	for name, child := range d.Children {
		out.Children[name] = cloneEntity(child)
	}
	return out
}

func cloneEntity(e vfscore.Entity) vfscore.Entity {
	switch v := e.(type) {
	case *vfscore.DirEntity:
		return cloneDir(v)
	case *vfscore.FileEntity:
		cp := *v
		return &cp
	case *vfscore.SymlinkEntity:
		cp := *v
		return &cp
	default:
		return e
	}
}

// mergeDirInto applies layer's whiteout pass then content pass onto
// the accumulator merged, in place.
func mergeDirInto(merged *vfscore.DirEntity, layer *vfscore.DirEntity) {
	// First pass: whiteouts remove named siblings from the accumulator.
	for name := range layer.Children {
		if whiteout.IsOpaqueMarker(string(name)) {
			continue
		}
		if target, ok := whiteout.TargetName(string(name)); ok {
			delete(merged.Children, fsmeta.Segment(target))
		}
	}

	// Second pass: non-whiteout entries apply on top of the accumulator.
	for name, entry := range layer.Children {
		if whiteout.IsWhiteoutName(string(name)) {
			continue
		}
		switch e := entry.(type) {
		case *vfscore.DirEntity:
			if _, opaque := e.Children[fsmeta.Segment(whiteout.OpaqueMarker)]; opaque {
				merged.Children[name] = cloneDir(e)
				continue
			}
			if existing, ok := merged.Children[name]; ok {
				if existingDir, ok := existing.(*vfscore.DirEntity); ok {
					mergeDirInto(existingDir, e)
					existingDir.Meta = e.Meta
					continue
				}
			}
			merged.Children[name] = cloneDir(e)
		default:
			merged.Children[name] = cloneEntity(entry)
		}
	}
}

// stripMarkers recursively removes any surviving whiteout or opaque
// marker entries so the final merged tree never exposes them.
func stripMarkers(d *vfscore.DirEntity) {
	for name, child := range d.Children {
		if whiteout.IsWhiteoutName(string(name)) {
			delete(d.Children, name)
			continue
		}
		if sub, ok := child.(*vfscore.DirEntity); ok {
			stripMarkers(sub)
		}
	}
}
