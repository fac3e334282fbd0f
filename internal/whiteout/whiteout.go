// Package whiteout holds the OCI whiteout/opaque naming conventions
// shared by the layer engine (internal/oci) and the overlay VFS
// (internal/overlay).
package whiteout

import "strings"

const (
	// Prefix marks a file as a whiteout: its presence deletes the
	// like-named sibling (Prefix trimmed) from lower layers.
	Prefix = ".wh."

	// OpaqueMarker, present inside a directory, hides every
	// lower-layer sibling of that directory.
	OpaqueMarker = ".wh..wh..opq"
)

// IsWhiteoutName reports whether name is a whiteout marker or the
// opaque marker itself — i.e. any name in the reserved ".wh." prefix
// namespace.
func IsWhiteoutName(name string) bool {
	return strings.HasPrefix(name, Prefix)
}

// IsOpaqueMarker reports whether name is exactly the opaque marker.
func IsOpaqueMarker(name string) bool {
	return name == OpaqueMarker
}

// TargetName returns the name a whiteout marker deletes, and whether
// name was in fact a (non-opaque) whiteout marker.
func TargetName(name string) (string, bool) {
	if !strings.HasPrefix(name, Prefix) || IsOpaqueMarker(name) {
		return "", false
	}
	return strings.TrimPrefix(name, Prefix), true
}

// MarkerFor returns the whiteout marker name that deletes target.
func MarkerFor(target string) string {
	return Prefix + target
}
