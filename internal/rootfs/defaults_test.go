package rootfs

import (
	"strings"
	"testing"

	"github.com/tinyrange/msandbox/internal/config"
	"github.com/tinyrange/msandbox/internal/oci"
)

func TestApplyImageDefaultsFillsWorkdirAndEnv(t *testing.T) {
	cfg := &config.Sandbox{
		Envs: []config.EnvPair{{Key: "SANDBOX_ONLY", Value: "1"}},
	}
	img := &oci.Image{Config: oci.RuntimeConfig{
		WorkingDir: "/app",
		Env:        []string{"IMAGE_VAR=yes"},
	}}

	ApplyImageDefaults(cfg, img)

	if cfg.Workdir != "/app" {
		t.Fatalf("Workdir = %q, want /app", cfg.Workdir)
	}
	if len(cfg.Envs) != 2 || cfg.Envs[0].Key != "IMAGE_VAR" || cfg.Envs[1].Key != "SANDBOX_ONLY" {
		t.Fatalf("Envs = %+v, want image env first then sandbox env", cfg.Envs)
	}
}

func TestApplyImageDefaultsDoesNotOverrideExplicitWorkdir(t *testing.T) {
	cfg := &config.Sandbox{Workdir: "/custom"}
	img := &oci.Image{Config: oci.RuntimeConfig{WorkingDir: "/app"}}

	ApplyImageDefaults(cfg, img)

	if cfg.Workdir != "/custom" {
		t.Fatalf("Workdir = %q, want unchanged /custom", cfg.Workdir)
	}
}

func TestApplyImageDefaultsSynthesizesStartScript(t *testing.T) {
	cfg := &config.Sandbox{}
	img := &oci.Image{Config: oci.RuntimeConfig{
		Entrypoint: []string{"/bin/app", "--flag=has space"},
		Cmd:        []string{"serve"},
	}}

	ApplyImageDefaults(cfg, img)

	script, ok := cfg.Scripts[StartScriptName]
	if !ok {
		t.Fatalf("expected a synthesized start script")
	}
	if !strings.HasPrefix(script, "#!/bin/sh") {
		t.Fatalf("script missing shebang: %q", script)
	}
	if !strings.Contains(script, `'--flag=has space'`) {
		t.Fatalf("script did not quote the space-containing argument: %q", script)
	}
	if !strings.Contains(script, "serve") {
		t.Fatalf("script missing cmd: %q", script)
	}
}

func TestApplyImageDefaultsStartScriptFallsBackToShell(t *testing.T) {
	cfg := &config.Sandbox{}
	img := &oci.Image{}

	ApplyImageDefaults(cfg, img)

	if cfg.Scripts[StartScriptName] != "#!/bin/sh\nexec /bin/sh\n" {
		t.Fatalf("Scripts[start] = %q, want shell fallback", cfg.Scripts[StartScriptName])
	}
}

func TestApplyImageDefaultsDoesNotOverrideExplicitStartScript(t *testing.T) {
	cfg := &config.Sandbox{Scripts: map[string]string{"start": "#!/bin/sh\ncustom\n"}}
	img := &oci.Image{Config: oci.RuntimeConfig{Entrypoint: []string{"/bin/app"}}}

	ApplyImageDefaults(cfg, img)

	if cfg.Scripts["start"] != "#!/bin/sh\ncustom\n" {
		t.Fatalf("start script was overwritten: %q", cfg.Scripts["start"])
	}
}

func TestApplyImageDefaultsMergesExposedPorts(t *testing.T) {
	cfg := &config.Sandbox{Ports: []config.PortPair{{Host: 9000, Guest: 9000}}}
	img := &oci.Image{Config: oci.RuntimeConfig{ExposedPorts: []string{"80/tcp", "9000/tcp"}}}

	ApplyImageDefaults(cfg, img)

	if len(cfg.Ports) != 2 {
		t.Fatalf("Ports = %+v, want 2 entries (80 added, 9000 already bound)", cfg.Ports)
	}
	if cfg.Ports[1].Guest != 80 || cfg.Ports[1].Host != 80 {
		t.Fatalf("Ports[1] = %+v, want {80 80}", cfg.Ports[1])
	}
}
