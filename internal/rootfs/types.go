package rootfs

// Kind distinguishes the two shapes a composed Rootfs can take.
type Kind int

const (
	// Native means the sandbox's rootfs is a single local directory,
	// used as-is (scripts are patched directly into it).
	Native Kind = iota
	// Overlayfs means the rootfs is an ordered list of directories —
	// the image's extracted layers, then the patch layer, then the
	// writable top layer — meant to be composed by the consumer (an
	// overlay.Stack for NFS serving, or a kernel overlayfs mount by the
	// external supervisor).
	Overlayfs
)

func (k Kind) String() string {
	if k == Native {
		return "native"
	}
	return "overlayfs"
}

// Rootfs is the composer's output: spec.md §4.F's
// `Rootfs::Native(path)` / `Rootfs::Overlayfs(layers)`.
type Rootfs struct {
	Kind Kind

	// NativePath is set iff Kind == Native.
	NativePath string

	// Layers is set iff Kind == Overlayfs, base layer first, writable
	// top layer last.
	Layers []string
}
