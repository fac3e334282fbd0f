package rootfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tinyrange/msandbox/internal/config"
	"github.com/tinyrange/msandbox/internal/metastore"
	"github.com/tinyrange/msandbox/internal/oci"
)

// Composer assembles Rootfs values for sandboxes, persisting the
// config-change gate through a metastore.SandboxStore (spec.md §4.F /
// §6).
type Composer struct {
	sandboxes metastore.SandboxStore
	logger    *slog.Logger
}

// NewComposer returns a Composer backed by store. logger defaults to
// slog.Default() when nil.
func NewComposer(store metastore.SandboxStore, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{sandboxes: store, logger: logger}
}

// Compose builds the Rootfs for sandboxName within the project rooted
// at projectDir. scriptName is the script the caller intends to run
// (spec.md §4.F validates it exists before patching); img is nil for a
// native rootfs. configFile is the config's path relative to
// projectDir, used to namespace the patch/rw directories per spec.md
// §6's on-disk layout, and configModTime is its last-modification
// time (for the patch-regeneration gate).
func (c *Composer) Compose(ctx context.Context, projectDir, configFile string, configModTime time.Time, sandboxName string, cfg *config.Sandbox, img *oci.Image, scriptName string) (*Rootfs, error) {
	scripts := cfg.Scripts
	if scriptName != ShellScriptName && !cfg.HasScript(scriptName) {
		return nil, fmt.Errorf("script %q not found in sandbox %q", scriptName, sandboxName)
	}

	if cfg.Rootfs != "" {
		return c.setupNativeRootfs(ctx, cfg.Rootfs, sandboxName, configFile, configModTime, scripts, cfg.GetShell())
	}
	if img == nil {
		return nil, fmt.Errorf("sandbox %q has no local rootfs and no resolved image", sandboxName)
	}
	return c.setupImageRootfs(ctx, projectDir, img, sandboxName, configFile, configModTime, scripts, cfg.GetShell())
}

func (c *Composer) setupNativeRootfs(ctx context.Context, rootPath, sandboxName, configFile string, configModTime time.Time, scripts map[string]string, shell string) (*Rootfs, error) {
	scriptDir := filepath.Join(rootPath, ScriptDir)

	shouldPatch, err := c.hasSandboxConfigChanged(ctx, sandboxName, configFile, configModTime)
	if err != nil {
		return nil, err
	}
	if shouldPatch {
		c.logger.Info("patching sandbox scripts", slog.String("sandbox", sandboxName), slog.String("reason", "config changed"))
		if err := patchWithSandboxScripts(scriptDir, scripts, shell); err != nil {
			return nil, err
		}
		if err := c.saveSandbox(ctx, sandboxName, configFile, configModTime, Native, rootPath); err != nil {
			return nil, err
		}
	} else {
		c.logger.Debug("skipping sandbox script patch", slog.String("sandbox", sandboxName), slog.String("reason", "config unchanged"))
	}

	return &Rootfs{Kind: Native, NativePath: rootPath}, nil
}

func (c *Composer) setupImageRootfs(ctx context.Context, projectDir string, img *oci.Image, sandboxName, configFile string, configModTime time.Time, scripts map[string]string, shell string) (*Rootfs, error) {
	menvPath := filepath.Join(projectDir, ".menv")
	namespace := filepath.Join(configFile, sandboxName)

	patchDir := filepath.Join(menvPath, PatchSubdir, namespace)
	scriptDir := filepath.Join(patchDir, ScriptDir)
	if err := os.MkdirAll(scriptDir, 0o755); err != nil {
		return nil, fmt.Errorf("create patch script dir: %w", err)
	}

	topRWPath := filepath.Join(menvPath, RWSubdir, namespace)
	if err := os.MkdirAll(topRWPath, 0o755); err != nil {
		return nil, fmt.Errorf("create writable top dir: %w", err)
	}

	shouldPatch, err := c.hasSandboxConfigChanged(ctx, sandboxName, configFile, configModTime)
	if err != nil {
		return nil, err
	}
	if shouldPatch {
		c.logger.Info("patching sandbox scripts", slog.String("sandbox", sandboxName), slog.String("reason", "config changed"))
		rwScriptsDir := filepath.Join(topRWPath, ScriptDir)
		if err := os.RemoveAll(rwScriptsDir); err != nil {
			return nil, fmt.Errorf("clear stale top-layer scripts: %w", err)
		}
		if err := patchWithSandboxScripts(scriptDir, scripts, shell); err != nil {
			return nil, err
		}
		if err := c.saveSandbox(ctx, sandboxName, configFile, configModTime, Overlayfs, ""); err != nil {
			return nil, err
		}
	} else {
		c.logger.Debug("skipping sandbox script patch", slog.String("sandbox", sandboxName), slog.String("reason", "config unchanged"))
	}

	layers := make([]string, 0, len(img.Layers)+2)
	for _, l := range img.Layers {
		layers = append(layers, l.ExtractDir)
	}
	layers = append(layers, patchDir, topRWPath)

	return &Rootfs{Kind: Overlayfs, Layers: layers}, nil
}

// hasSandboxConfigChanged reports whether sandboxName's config has
// changed since it was last composed, by comparing configModTime
// against the persisted value (spec.md §4.F's regeneration gate).
func (c *Composer) hasSandboxConfigChanged(ctx context.Context, sandboxName, configFile string, configModTime time.Time) (bool, error) {
	rec, err := c.sandboxes.GetSandbox(ctx, sandboxName)
	if err != nil {
		return false, fmt.Errorf("get sandbox %q: %w", sandboxName, err)
	}
	if rec == nil {
		return true, nil
	}
	if rec.ConfigFile != configFile {
		return true, nil
	}
	return !rec.ConfigLastModified.Equal(configModTime), nil
}

func (c *Composer) saveSandbox(ctx context.Context, sandboxName, configFile string, configModTime time.Time, kind Kind, nativePath string) error {
	rec := &metastore.SandboxRecord{
		Name:               sandboxName,
		ConfigFile:         configFile,
		ConfigLastModified: configModTime,
		RootfsKind:         kind.String(),
		NativeRootfsPath:   nativePath,
	}
	if err := c.sandboxes.SaveSandbox(ctx, rec); err != nil {
		return fmt.Errorf("save sandbox %q: %w", sandboxName, err)
	}
	return nil
}
