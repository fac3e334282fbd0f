package oci

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Manifest and index types for the OCI/Docker distribution v2 wire
// format, translated from the teacher's own shapes.

type imagePlatform struct {
	Architecture string `json:"architecture"`
	Os           string `json:"os"`
	Variant      string `json:"variant"`
}

type imageManifestIdentifier struct {
	MediaType   string            `json:"mediaType"`
	Size        uint64            `json:"size"`
	Digest      string            `json:"digest"`
	Platform    imagePlatform     `json:"platform"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// isAttestationReference reports whether a manifest-list entry is an
// attestation/SBOM reference manifest rather than a real image
// variant (spec.md §4.C item 1: "skipping entries annotated as
// attestation references").
func (m imageManifestIdentifier) isAttestationReference() bool {
	if m.Annotations["vnd.docker.reference.type"] == "attestation-manifest" {
		return true
	}
	return m.Platform.Architecture == "unknown" || m.Platform.Os == "unknown"
}

type imageIndexV2 struct {
	SchemaVersion int                       `json:"schemaVersion"`
	MediaType     string                    `json:"mediaType"`
	Manifests     []imageManifestIdentifier `json:"manifests"`
}

type imageConfigIdentifier struct {
	MediaType string `json:"mediaType"`
	Size      uint64 `json:"size"`
	Digest    string `json:"digest"`
}

type imageLayerIdentifier struct {
	MediaType string `json:"mediaType"`
	Size      uint64 `json:"size"`
	Digest    string `json:"digest"`
}

type imageManifest struct {
	SchemaVersion int                    `json:"schemaVersion"`
	MediaType     string                 `json:"mediaType"`
	Config        imageConfigIdentifier  `json:"config"`
	Layers        []imageLayerIdentifier `json:"layers"`
}

type imageLayerV1 struct {
	BlobSum string `json:"blobSum"`
}

type imageIndexV1 struct {
	SchemaVersion int            `json:"schemaVersion"`
	Name          string         `json:"name"`
	Tag           string         `json:"tag"`
	Architecture  string         `json:"architecture"`
	FsLayers      []imageLayerV1 `json:"fsLayers"`
}

type imageConfigHistory struct {
	Created    time.Time `json:"created"`
	CreatedBy  string    `json:"created_by"`
	Comment    string    `json:"comment"`
	EmptyLayer bool      `json:"empty_layer"`
}

type imageConfigInfo struct {
	User       string            `json:"User"`
	Env        []string          `json:"Env"`
	Cmd        []string          `json:"Cmd"`
	WorkingDir string            `json:"WorkingDir"`
	Entrypoint stringSlice       `json:"Entrypoint"`
	Labels     map[string]string `json:"Labels"`
	ExposedPorts map[string]struct{} `json:"ExposedPorts,omitempty"`
}

type imageConfig struct {
	Config       imageConfigInfo      `json:"config"`
	Architecture string               `json:"architecture"`
	History      []imageConfigHistory `json:"history"`
}

type stringSlice []string

func (s *stringSlice) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*s = nil
		return nil
	case trimmed[0] == '[':
		var arr []string
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return err
		}
		*s = arr
		return nil
	default:
		var single string
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return err
		}
		*s = []string{single}
		return nil
	}
}

// hostOCIArchitecture maps a Go GOARCH value to the architecture
// string OCI manifests use.
func hostOCIArchitecture(goarch string) (string, error) {
	switch goarch {
	case "amd64":
		return "amd64", nil
	case "arm64":
		return "arm64", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", goarch)
	}
}

// selectManifest chooses the manifest-list entry matching (linux,
// arch), skipping attestation references; if no exact OS+arch match
// exists it falls back to an architecture-only match (spec.md §4.C
// item 1).
func selectManifest(index imageIndexV2, arch string) (*imageManifestIdentifier, error) {
	var archOnly *imageManifestIdentifier
	for i := range index.Manifests {
		m := index.Manifests[i]
		if m.isAttestationReference() {
			continue
		}
		if m.Platform.Architecture != arch {
			continue
		}
		if m.Platform.Os == "linux" || m.Platform.Os == "" {
			return &m, nil
		}
		if archOnly == nil {
			mCopy := m
			archOnly = &mCopy
		}
	}
	if archOnly != nil {
		return archOnly, nil
	}
	return nil, fmt.Errorf("manifest for architecture %s not found", arch)
}

func compressionFromMediaType(mediaType string) (string, error) {
	switch mediaType {
	case "application/vnd.docker.image.rootfs.diff.tar.gzip",
		"application/vnd.oci.image.layer.v1.tar+gzip",
		"application/vnd.oci.image.layer.v1.tar+gzip;variant=gzip":
		return "gzip", nil
	case "application/vnd.oci.image.layer.v1.tar",
		"application/vnd.docker.image.rootfs.diff.tar":
		return "none", nil
	default:
		if strings.Contains(mediaType, "gzip") {
			return "gzip", nil
		}
		return "", fmt.Errorf("unsupported media type %s", mediaType)
	}
}

func populateRuntimeConfig(cfg *RuntimeConfig, imageCfg imageConfig) {
	if len(imageCfg.Config.Env) > 0 {
		cfg.Env = append(cfg.Env, imageCfg.Config.Env...)
	}
	if len(imageCfg.Config.Cmd) > 0 {
		cfg.Cmd = append(cfg.Cmd, imageCfg.Config.Cmd...)
	}
	if len(imageCfg.Config.Entrypoint) > 0 {
		cfg.Entrypoint = append(cfg.Entrypoint, imageCfg.Config.Entrypoint...)
	}
	cfg.WorkingDir = imageCfg.Config.WorkingDir
	cfg.Architecture = imageCfg.Architecture

	if len(imageCfg.Config.Labels) > 0 {
		cfg.Labels = make(map[string]string, len(imageCfg.Config.Labels))
		for k, v := range imageCfg.Config.Labels {
			cfg.Labels[k] = v
		}
	}
	for port := range imageCfg.Config.ExposedPorts {
		cfg.ExposedPorts = append(cfg.ExposedPorts, port)
	}

	user, uid, gid := parseUser(imageCfg.Config.User)
	if user != "" {
		cfg.User = user
	}
	if uid != nil {
		cfg.UID = uid
	}
	if gid != nil {
		cfg.GID = gid
	}
}

func parseUser(value string) (string, *int, *int) {
	user := strings.TrimSpace(value)
	if user == "" {
		return "", nil, nil
	}
	var uidPtr, gidPtr *int
	parts := strings.Split(user, ":")
	if len(parts) > 0 && parts[0] != "" {
		if uid, err := strconv.Atoi(parts[0]); err == nil {
			uidPtr = &uid
		}
	}
	if len(parts) > 1 && parts[1] != "" {
		if gid, err := strconv.Atoi(parts[1]); err == nil {
			gidPtr = &gid
		}
	}
	return user, uidPtr, gidPtr
}
