package rootfs

import (
	"strconv"
	"strings"

	"github.com/tinyrange/msandbox/internal/config"
	"github.com/tinyrange/msandbox/internal/oci"
)

// ApplyImageDefaults merges defaults from img's runtime config into
// cfg wherever cfg did not set the field itself, per spec.md §4.F /
// SPEC_FULL.md §7, ported from apply_image_defaults in
// original_source/monocore/lib/management/sandbox.rs.
func ApplyImageDefaults(cfg *config.Sandbox, img *oci.Image) {
	if cfg.Workdir == "" && img.Config.WorkingDir != "" {
		cfg.Workdir = img.Config.WorkingDir
	}

	if len(img.Config.Env) > 0 {
		imageEnvs := make([]config.EnvPair, 0, len(img.Config.Env))
		for _, kv := range img.Config.Env {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			imageEnvs = append(imageEnvs, config.EnvPair{Key: key, Value: value})
		}
		cfg.Envs = append(imageEnvs, cfg.Envs...)
	}

	if !cfg.HasScript(StartScriptName) {
		if cfg.Scripts == nil {
			cfg.Scripts = make(map[string]string)
		}
		cfg.Scripts[StartScriptName] = synthesizeStartScript(img.Config.Entrypoint, img.Config.Cmd)
	}

	for _, portSpec := range img.Config.ExposedPorts {
		portStr, _, _ := strings.Cut(portSpec, "/")
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			continue
		}
		guest := uint16(port)
		if hasGuestPort(cfg.Ports, guest) {
			continue
		}
		cfg.Ports = append(cfg.Ports, config.PortPair{Host: guest, Guest: guest})
	}
}

func hasGuestPort(ports []config.PortPair, guest uint16) bool {
	for _, p := range ports {
		if p.Guest == guest {
			return true
		}
	}
	return false
}
