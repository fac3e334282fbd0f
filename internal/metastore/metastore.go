package metastore

import (
	"context"
	"time"

	"github.com/tinyrange/msandbox/internal/oci"
)

// SandboxRecord is the persisted state of one sandbox within a
// project's sandbox database (`<project>/.menv/sandboxes.db`, spec.md
// §6): enough to decide whether its patch layer needs regenerating.
type SandboxRecord struct {
	Name                string
	ConfigFile          string
	ConfigLastModified  time.Time
	RootfsKind          string // "native" or "overlayfs"
	NativeRootfsPath    string
}

// ImageStore is the interface the core calls against the OCI metadata
// database (`<home>/oci.db`, spec.md §6). Signatures are restated
// verbatim from SPEC_FULL.md §9.
type ImageStore interface {
	SaveOrUpdateImage(ctx context.Context, img *oci.ImageRecord) error
	SaveIndex(ctx context.Context, repo string, idx *oci.IndexRecord) error
	SaveManifest(ctx context.Context, repo, digest string, m *oci.ManifestRecord) error
	SaveOrUpdateLayer(ctx context.Context, l *oci.LayerRecord) error
	LayerExists(ctx context.Context, digest string) (bool, error)
	GetImageLayers(ctx context.Context, repo, tag string) ([]oci.LayerRecord, error)
	GetImageConfig(ctx context.Context, repo, tag string) (*oci.RuntimeConfig, error)
}

// SandboxStore is the interface the core calls against the per-project
// sandbox database. internal/rootfs uses GetSandbox/SaveSandbox to
// implement the patch-regeneration gate of spec.md §4.F.
type SandboxStore interface {
	GetSandbox(ctx context.Context, name string) (*SandboxRecord, error)
	SaveSandbox(ctx context.Context, rec *SandboxRecord) error
}
