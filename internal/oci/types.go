package oci

// RuntimeConfig holds the runtime configuration extracted from an OCI
// image config blob: the pieces the sandbox rootfs composer needs to
// apply image defaults (spec.md §4.F).
type RuntimeConfig struct {
	Layers       []string          `json:"layers"`
	Env          []string          `json:"env,omitempty"`
	Entrypoint   []string          `json:"entrypoint,omitempty"`
	Cmd          []string          `json:"cmd,omitempty"`
	WorkingDir   string            `json:"workingDir,omitempty"`
	User         string            `json:"user,omitempty"`
	UID          *int              `json:"uid,omitempty"`
	GID          *int              `json:"gid,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Architecture string            `json:"architecture,omitempty"`
	ExposedPorts []string          `json:"exposedPorts,omitempty"`
}

// LayerDescriptor identifies a single downloaded, extracted layer.
type LayerDescriptor struct {
	Digest    string // sha256:... digest of the compressed blob
	BlobPath  string // path to the cached compressed blob
	ExtractDir string // directory the layer was expanded into
}

// Image is a pulled OCI image: its runtime config and its layers in
// base-to-top order, ready for tree-build and merge.
type Image struct {
	Repository string
	Selector   string
	Config     RuntimeConfig
	Layers     []LayerDescriptor
	Dir        string // cache directory holding this image's artifacts
}

// Command returns the command to run, combining entrypoint and cmd.
// If overrideCmd is provided it replaces the cmd portion.
func (img *Image) Command(overrideCmd []string) []string {
	if len(overrideCmd) > 0 {
		if len(img.Config.Entrypoint) > 0 {
			return append(append([]string{}, img.Config.Entrypoint...), overrideCmd...)
		}
		return overrideCmd
	}
	if len(img.Config.Entrypoint) > 0 && len(img.Config.Cmd) > 0 {
		return append(append([]string{}, img.Config.Entrypoint...), img.Config.Cmd...)
	}
	if len(img.Config.Entrypoint) > 0 {
		return img.Config.Entrypoint
	}
	return img.Config.Cmd
}

// ImageRecord, IndexRecord, ManifestRecord and LayerRecord are the
// persisted shapes the metastore.ImageStore interface (spec.md §6)
// saves and loads; the core only needs their field shapes to compile
// against that interface; the SQLite-backed implementation lives
// outside this module's scope.
type ImageRecord struct {
	Repository string
	Selector   string
	ConfigJSON []byte
}

type IndexRecord struct {
	Repository string
	Digest     string
	RawJSON    []byte
}

type ManifestRecord struct {
	Repository string
	Digest     string
	RawJSON    []byte
}

type LayerRecord struct {
	Digest   string
	SizeHint int64
	MediaType string
}
