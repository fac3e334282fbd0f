// Command msandboxd wires the OCI image engine, the sandbox rootfs
// composer, the overlay VFS, and the NFS adapter behind a single CLI
// entrypoint, matching the teacher's own flag-based cmd/cc style
// rather than introducing a CLI framework (SPEC_FULL.md §3).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tinyrange/msandbox/internal/config"
	"github.com/tinyrange/msandbox/internal/nfsd"
	"github.com/tinyrange/msandbox/internal/oci"
	"github.com/tinyrange/msandbox/internal/overlay"
	"github.com/tinyrange/msandbox/internal/rootfs"
	"github.com/tinyrange/msandbox/internal/vfscore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "msandboxd: %v\n", err)
		os.Exit(1)
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func run(args []string) error {
	if len(args) == 0 {
		return usageError()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	switch args[0] {
	case "serve":
		return runServe(logger, args[1:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		return usageError()
	}
}

func usageError() error {
	printUsage()
	return &exitError{code: 2}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: msandboxd serve -project DIR -sandbox NAME -config FILE -addr HOST:PORT -home DIR")
}

// runServe composes a sandbox's rootfs from its project configuration
// and an optional OCI image, builds the resulting layers into an
// overlay.Stack, and exports that stack over NFSv3 until interrupted
// (spec.md's full data flow: "registry -> downloaded blobs ->
// extracted layer trees -> merged root tree (or overlay stack) -> VFS
// -> NFS wire -> guest kernel").
func runServe(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	projectDir := fs.String("project", ".", "project directory containing the sandbox config")
	configFile := fs.String("config", "msandbox.yaml", "config file name, relative to -project")
	sandboxName := fs.String("sandbox", "", "sandbox name to serve (required)")
	addr := fs.String("addr", "127.0.0.1:2049", "address to listen for NFSv3 connections on")
	homeDir := fs.String("home", defaultHome(), "home directory for the OCI layer/blob cache")
	scriptName := fs.String("script", rootfs.StartScriptName, "script name validated before composing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sandboxName == "" {
		return fmt.Errorf("-sandbox is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := config.YAMLLoader{}
	cfg, canonicalDir, filePath, err := loader.Load(*projectDir, *configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var sandboxCfg *config.Sandbox
	for i := range cfg.Sandboxes {
		if cfg.Sandboxes[i].Name == *sandboxName {
			sandboxCfg = &cfg.Sandboxes[i]
			break
		}
	}
	if sandboxCfg == nil {
		return fmt.Errorf("sandbox %q not found in %s", *sandboxName, filePath)
	}

	configModTime, err := statModTime(filePath)
	if err != nil {
		return err
	}

	client, err := oci.NewClient(*homeDir)
	if err != nil {
		return fmt.Errorf("create oci client: %w", err)
	}

	var img *oci.Image
	if sandboxCfg.Rootfs == "" {
		img, err = client.Pull(ctx, imageRepo(sandboxCfg.Image), imageSelector(sandboxCfg.Image))
		if err != nil {
			return fmt.Errorf("pull image %s: %w", sandboxCfg.Image, err)
		}
		rootfs.ApplyImageDefaults(sandboxCfg, img)
	}

	store := rootfs.NewInMemorySandboxStore()
	composer := rootfs.NewComposer(store, logger)
	rf, err := composer.Compose(ctx, canonicalDir, *configFile, configModTime, *sandboxName, sandboxCfg, img, *scriptName)
	if err != nil {
		return fmt.Errorf("compose rootfs: %w", err)
	}

	stack, err := buildOverlayStack(rf)
	if err != nil {
		return fmt.Errorf("build overlay stack: %w", err)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", *addr, err)
	}
	logger.Info("serving sandbox rootfs over nfs",
		slog.String("sandbox", *sandboxName),
		slog.String("addr", *addr),
		slog.String("rootfs_kind", rf.Kind.String()))

	server := nfsd.NewServer(ln, stack, logger)
	return server.Serve(ctx)
}

// buildOverlayStack turns a composed Rootfs into the VFS chain
// internal/nfsd serves: each image layer directory becomes a
// read-only MemoryVFS lower layer (built via oci.BuildTree +
// vfscore.Populate), and the writable top layer is its own MemoryVFS
// seeded from the rw directory, if present.
func buildOverlayStack(rf *rootfs.Rootfs) (vfscore.VFS, error) {
	if rf.Kind == rootfs.Native {
		layer, err := vfsFromDirectory(rf.NativePath)
		if err != nil {
			return nil, err
		}
		return layer, nil
	}

	layers := make([]vfscore.VFS, 0, len(rf.Layers))
	for _, dir := range rf.Layers {
		layer, err := vfsFromDirectory(dir)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return overlay.New(layers)
}

func vfsFromDirectory(dir string) (*vfscore.MemoryVFS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create layer dir %s: %w", dir, err)
	}
	tree, err := oci.BuildTree(dir)
	if err != nil {
		return nil, fmt.Errorf("build tree from %s: %w", dir, err)
	}
	vfs := vfscore.NewMemoryVFS()
	if err := vfscore.Populate(context.Background(), vfs, nil, tree); err != nil {
		return nil, fmt.Errorf("populate vfs from %s: %w", dir, err)
	}
	return vfs, nil
}

func statModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.ModTime().UTC(), nil
}

func imageRepo(ref string) string {
	repo, _, _ := splitImageRef(ref)
	return repo
}

func imageSelector(ref string) string {
	_, selector, _ := splitImageRef(ref)
	return selector
}

func splitImageRef(ref string) (repo, selector string, ok bool) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == ':' {
			return ref[:i], ref[i+1:], true
		}
	}
	return ref, "latest", false
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msandbox"
	}
	return filepath.Join(home, ".msandbox")
}
