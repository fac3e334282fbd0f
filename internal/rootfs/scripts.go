package rootfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// patchWithSandboxScripts writes every entry of scripts plus the
// always-present "shell" wrapper into scriptDir with executable
// permissions, matching rootfs.rs's patch_with_sandbox_scripts. Script
// bodies that do not already start with a shebang line get one
// prepended using shell, so a caller's scripts map can hold either
// full scripts or bare command bodies.
//
// Scripts are staged into a uuid-suffixed temporary directory next to
// scriptDir and moved into place with a single os.Rename, the same
// stage-then-rename idiom internal/oci's layer extraction uses, so a
// concurrent reader of scriptDir never observes a half-written patch.
func patchWithSandboxScripts(scriptDir string, scripts map[string]string, shell string) error {
	stagingDir := scriptDir + ".staging-" + uuid.NewString()
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging script dir %s: %w", stagingDir, err)
	}
	defer os.RemoveAll(stagingDir)

	for name, body := range scripts {
		if err := writeScript(filepath.Join(stagingDir, name), body, shell); err != nil {
			return err
		}
	}

	shellScript := fmt.Sprintf("#!/bin/sh\nexec %s\n", quoteShellArg(shell))
	if err := writeScript(filepath.Join(stagingDir, ShellScriptName), shellScript, shell); err != nil {
		return err
	}

	if err := os.RemoveAll(scriptDir); err != nil {
		return fmt.Errorf("clear stale script dir %s: %w", scriptDir, err)
	}
	if err := os.Rename(stagingDir, scriptDir); err != nil {
		return fmt.Errorf("finalize script dir %s: %w", scriptDir, err)
	}
	return nil
}

func writeScript(path, body, shell string) error {
	content := body
	if len(content) < 2 || content[:2] != "#!" {
		content = fmt.Sprintf("#!%s\n%s\n", shell, body)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return fmt.Errorf("write script %s: %w", path, err)
	}
	return nil
}

// synthesizeStartScript builds the "#!/bin/sh\n\nexec ENTRYPOINT... CMD...\n"
// body spec.md §4.F describes, falling back to "exec /bin/sh" when
// neither entrypoint nor cmd is present.
func synthesizeStartScript(entrypoint, cmd []string) string {
	args := append(append([]string{}, entrypoint...), cmd...)
	if len(args) == 0 {
		return "#!/bin/sh\nexec /bin/sh\n"
	}
	return fmt.Sprintf("#!/bin/sh\n\nexec %s\n", quoteShellArgs(args))
}
