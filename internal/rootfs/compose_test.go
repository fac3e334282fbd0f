package rootfs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tinyrange/msandbox/internal/config"
	"github.com/tinyrange/msandbox/internal/metastore"
	"github.com/tinyrange/msandbox/internal/oci"
)

type fakeSandboxStore struct {
	mu      sync.Mutex
	records map[string]*metastore.SandboxRecord
}

func newFakeSandboxStore() *fakeSandboxStore {
	return &fakeSandboxStore{records: make(map[string]*metastore.SandboxRecord)}
}

func (s *fakeSandboxStore) GetSandbox(_ context.Context, name string) (*metastore.SandboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[name], nil
}

func (s *fakeSandboxStore) SaveSandbox(_ context.Context, rec *metastore.SandboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Name] = rec
	return nil
}

func TestComposeNativeRootfsPatchesScriptsOnFirstRun(t *testing.T) {
	root := t.TempDir()
	store := newFakeSandboxStore()
	c := NewComposer(store, nil)

	cfg := &config.Sandbox{Name: "web", Rootfs: root, Scripts: map[string]string{"start": "echo hi"}}
	rf, err := c.Compose(context.Background(), "/project", "msandbox.yaml", time.Unix(100, 0), "web", cfg, nil, "start")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if rf.Kind != Native || rf.NativePath != root {
		t.Fatalf("Rootfs = %+v, want Native at %s", rf, root)
	}

	startPath := filepath.Join(root, ScriptDir, "start")
	if _, err := os.Stat(startPath); err != nil {
		t.Fatalf("expected start script at %s: %v", startPath, err)
	}
	shellPath := filepath.Join(root, ScriptDir, ShellScriptName)
	if _, err := os.Stat(shellPath); err != nil {
		t.Fatalf("expected shell script at %s: %v", shellPath, err)
	}
}

func TestComposeNativeRootfsSkipsPatchWhenConfigUnchanged(t *testing.T) {
	root := t.TempDir()
	store := newFakeSandboxStore()
	c := NewComposer(store, nil)
	cfg := &config.Sandbox{Name: "web", Rootfs: root, Scripts: map[string]string{"start": "echo hi"}}
	modTime := time.Unix(100, 0)

	if _, err := c.Compose(context.Background(), "/project", "msandbox.yaml", modTime, "web", cfg, nil, "start"); err != nil {
		t.Fatalf("first Compose: %v", err)
	}
	startPath := filepath.Join(root, ScriptDir, "start")
	if err := os.WriteFile(startPath, []byte("#!/bin/sh\nmodified\n"), 0o755); err != nil {
		t.Fatalf("tamper with script: %v", err)
	}

	if _, err := c.Compose(context.Background(), "/project", "msandbox.yaml", modTime, "web", cfg, nil, "start"); err != nil {
		t.Fatalf("second Compose: %v", err)
	}
	data, err := os.ReadFile(startPath)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	if string(data) != "#!/bin/sh\nmodified\n" {
		t.Fatalf("script was regenerated despite unchanged config mtime: %q", data)
	}
}

func TestComposeNativeRootfsRepatchesOnConfigChange(t *testing.T) {
	root := t.TempDir()
	store := newFakeSandboxStore()
	c := NewComposer(store, nil)
	cfg := &config.Sandbox{Name: "web", Rootfs: root, Scripts: map[string]string{"start": "echo hi"}}

	if _, err := c.Compose(context.Background(), "/project", "msandbox.yaml", time.Unix(100, 0), "web", cfg, nil, "start"); err != nil {
		t.Fatalf("first Compose: %v", err)
	}
	startPath := filepath.Join(root, ScriptDir, "start")
	if err := os.WriteFile(startPath, []byte("#!/bin/sh\nmodified\n"), 0o755); err != nil {
		t.Fatalf("tamper with script: %v", err)
	}

	if _, err := c.Compose(context.Background(), "/project", "msandbox.yaml", time.Unix(200, 0), "web", cfg, nil, "start"); err != nil {
		t.Fatalf("second Compose: %v", err)
	}
	data, err := os.ReadFile(startPath)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	if string(data) == "#!/bin/sh\nmodified\n" {
		t.Fatalf("script was not regenerated after config mtime changed")
	}
}

func TestComposeImageRootfsReturnsLayerOrder(t *testing.T) {
	projectDir := t.TempDir()
	store := newFakeSandboxStore()
	c := NewComposer(store, nil)

	img := &oci.Image{
		Layers: []oci.LayerDescriptor{
			{Digest: "sha256:a", ExtractDir: "/layers/a.extracted"},
			{Digest: "sha256:b", ExtractDir: "/layers/b.extracted"},
		},
	}
	cfg := &config.Sandbox{Name: "web", Scripts: map[string]string{"start": "echo hi"}}

	rf, err := c.Compose(context.Background(), projectDir, "msandbox.yaml", time.Unix(100, 0), "web", cfg, img, "start")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if rf.Kind != Overlayfs {
		t.Fatalf("Kind = %v, want Overlayfs", rf.Kind)
	}
	want := []string{"/layers/a.extracted", "/layers/b.extracted"}
	for i, w := range want {
		if rf.Layers[i] != w {
			t.Fatalf("Layers[%d] = %q, want %q", i, rf.Layers[i], w)
		}
	}
	if len(rf.Layers) != 4 {
		t.Fatalf("len(Layers) = %d, want 4 (2 image layers + patch + rw)", len(rf.Layers))
	}
	patchDir := rf.Layers[2]
	if _, err := os.Stat(filepath.Join(patchDir, ScriptDir, "start")); err != nil {
		t.Fatalf("expected patch layer script: %v", err)
	}
}

func TestComposeMissingScriptErrors(t *testing.T) {
	root := t.TempDir()
	store := newFakeSandboxStore()
	c := NewComposer(store, nil)
	cfg := &config.Sandbox{Name: "web", Rootfs: root}

	if _, err := c.Compose(context.Background(), "/project", "msandbox.yaml", time.Unix(100, 0), "web", cfg, nil, "start"); err == nil {
		t.Fatalf("expected error for missing script")
	}
}
