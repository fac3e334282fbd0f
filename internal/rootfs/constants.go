package rootfs

const (
	// PatchSubdir and RWSubdir are the per-project ".menv" subdirectories
	// holding, respectively, every sandbox's generated patch layer and
	// writable top layer (spec.md §6's on-disk layout).
	PatchSubdir = "patch"
	RWSubdir    = "rw"

	// ScriptDir is the reserved directory (relative to a rootfs root)
	// that generated sandbox scripts are written into (spec.md §4.F).
	ScriptDir = ".sandbox_scripts"

	// ShellScriptName is always present in the script directory: a
	// thin wrapper that execs the sandbox's configured shell.
	ShellScriptName = "shell"

	// StartScriptName is the script synthesized from the image's
	// entrypoint/cmd when the sandbox defines no "start" script of its
	// own (spec.md §4.F "Start script").
	StartScriptName = "start"
)
