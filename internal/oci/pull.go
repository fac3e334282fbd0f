package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/msandbox/internal/vfscore"
)

// Pull downloads repo:selector for the host architecture, returning
// the ready-to-merge layer set. selector is a tag (optionally pinned
// by digest, e.g. "latest@sha256:...") or a bare "sha256:..." digest.
func (c *Client) Pull(ctx context.Context, repo, selector string) (*Image, error) {
	registry, image, tag, err := ParseImageRef(repo + ":" + selector)
	if err != nil {
		return nil, fmt.Errorf("parse image ref: %w", err)
	}
	// A tag pinned by digest is fetched by its digest.
	if _, pinned, ok := strings.Cut(tag, "@"); ok {
		tag = pinned
	}
	arch, err := hostOCIArchitecture(runtime.GOARCH)
	if err != nil {
		return nil, err
	}

	rc := &registryContext{logger: c.logger, client: c.client, registry: registry}

	imageHash := sanitizeForFilename(repo + ":" + selector + "-" + arch)
	outputDir := filepath.Join(c.cacheDir, "images", imageHash)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	manifest, err := c.fetchManifestForArch(rc, image, arch, tag)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	img := &Image{Repository: repo, Selector: selector, Dir: outputDir}

	if manifest.Config.Digest != "" {
		configPath, err := c.fetchToCache(rc, fmt.Sprintf("/%s/blobs/%s", image, manifest.Config.Digest), nil)
		if err != nil {
			return nil, fmt.Errorf("fetch image config: %w", err)
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read image config: %w", err)
		}
		var imageCfg imageConfig
		if err := json.Unmarshal(data, &imageCfg); err != nil {
			return nil, fmt.Errorf("decode image config: %w", err)
		}
		populateRuntimeConfig(&img.Config, imageCfg)
	}

	descriptors, err := c.fetchAndExtractLayers(ctx, rc, image, manifest, outputDir)
	if err != nil {
		return nil, err
	}
	img.Layers = descriptors
	for _, l := range descriptors {
		img.Config.Layers = append(img.Config.Layers, l.Digest)
	}
	return img, nil
}

// fetchAndExtractLayers downloads every layer blob in parallel
// (spec.md §9: "independently spawned task... join-all, surfacing the
// first failure") via errgroup; each goroutine extracts its own layer
// to its own directory right after that layer's download. The first
// failure cancels the group's context, and goroutines that have not
// started yet return without downloading.
func (c *Client) fetchAndExtractLayers(ctx context.Context, rc *registryContext, image string, manifest imageManifest, outputDir string) ([]LayerDescriptor, error) {
	descriptors := make([]LayerDescriptor, len(manifest.Layers))
	blobCount := len(manifest.Layers)

	g, gctx := errgroup.WithContext(ctx)
	for i, layer := range manifest.Layers {
		i, layer := i, layer
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			blobPath, err := c.fetchBlobToCache(rc, fmt.Sprintf("/%s/blobs/%s", image, layer.Digest), layer.Digest, int64(layer.Size), i, blobCount)
			if err != nil {
				return fmt.Errorf("layer %s: %w", layer.Digest, err)
			}

			compression, err := compressionFromMediaType(layer.MediaType)
			if err != nil {
				return fmt.Errorf("layer %s: %w", layer.Digest, err)
			}

			hash := strings.TrimPrefix(layer.Digest, "sha256:")
			extractDir := filepath.Join(outputDir, hash+".extracted")
			if err := extractLayer(blobPath, compression, extractDir); err != nil {
				return fmt.Errorf("layer %s: %w", layer.Digest, err)
			}

			descriptors[i] = LayerDescriptor{
				Digest:     layer.Digest,
				BlobPath:   blobPath,
				ExtractDir: extractDir,
			}
			c.logger.Info("layer ready", slog.String("digest", layer.Digest), slog.String("dir", extractDir))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return descriptors, nil
}

func (c *Client) fetchManifestForArch(rc *registryContext, image, arch, tag string) (imageManifest, error) {
	accept := []string{
		"application/vnd.docker.distribution.manifest.list.v2+json",
		"application/vnd.oci.image.index.v1+json",
		"application/vnd.docker.distribution.manifest.v2+json",
		"application/vnd.oci.image.manifest.v1+json",
	}
	cachePath, err := c.fetchToCache(rc, fmt.Sprintf("/%s/manifests/%s", image, tag), accept)
	if err != nil {
		return imageManifest{}, err
	}
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return imageManifest{}, fmt.Errorf("read cache file %s: %w", cachePath, err)
	}

	var manifest imageManifest
	if err := json.Unmarshal(data, &manifest); err == nil && manifest.Config.Digest != "" {
		return manifest, nil
	}

	var v1 imageIndexV1
	if err := json.Unmarshal(data, &v1); err == nil && v1.SchemaVersion == 1 && len(v1.FsLayers) > 0 {
		if v1.Architecture != "" && v1.Architecture != arch {
			return imageManifest{}, fmt.Errorf("index architecture mismatch: %s != %s", v1.Architecture, arch)
		}
		var layers []imageLayerIdentifier
		for _, l := range v1.FsLayers {
			layers = append(layers, imageLayerIdentifier{Digest: l.BlobSum, MediaType: "application/vnd.docker.image.rootfs.diff.tar.gzip"})
		}
		return imageManifest{SchemaVersion: 1, Layers: layers}, nil
	}

	var index imageIndexV2
	if err := json.Unmarshal(data, &index); err != nil {
		return imageManifest{}, fmt.Errorf("decode image index: %w", err)
	}
	manifestID, err := selectManifest(index, arch)
	if err != nil {
		return imageManifest{}, err
	}

	var manifest2 imageManifest
	if _, err := c.readJSON(rc,
		fmt.Sprintf("/%s/manifests/%s", image, manifestID.Digest),
		[]string{"application/vnd.oci.image.manifest.v1+json", "application/vnd.docker.distribution.manifest.v2+json"},
		&manifest2); err != nil {
		return imageManifest{}, err
	}
	return manifest2, nil
}

// BuildMergedTree builds an Entity tree for every one of img's layers
// and merges them in order (spec.md §4.C "Layer merge").
func BuildMergedTree(img *Image) (*vfscore.DirEntity, error) {
	trees := make([]*vfscore.DirEntity, len(img.Layers))
	for i, l := range img.Layers {
		tree, err := BuildTree(l.ExtractDir)
		if err != nil {
			return nil, fmt.Errorf("build tree for layer %s: %w", l.Digest, err)
		}
		trees[i] = tree
	}
	return MergeLayers(trees), nil
}
