package config

// Config is the parsed, validated contents of a project's monocore
// YAML file: a meta block plus the requires/builds/sandboxes/groups
// graph (original_source/monocore/lib/config/monocore.rs's Monocore).
type Config struct {
	Meta      Meta      `yaml:"meta,omitempty"`
	Requires  []Require `yaml:"requires,omitempty"`
	Builds    []Build   `yaml:"builds,omitempty"`
	Sandboxes []Sandbox `yaml:"sandboxes,omitempty"`
	Groups    []Group   `yaml:"groups,omitempty"`
}

// Meta carries the configuration's free-form authorship metadata.
type Meta struct {
	Authors []string `yaml:"authors,omitempty"`
}

// Require imports sandboxes/builds/groups defined in another config
// file, optionally renaming them.
type Require struct {
	Path  string            `yaml:"path"`
	Items map[string]string `yaml:"items,omitempty"`
}

// Build describes an image-build pipeline. Its fields beyond Name and
// Image are carried for completeness of the config graph but are not
// consumed by internal/rootfs (build execution is out of scope here).
type Build struct {
	Name      string   `yaml:"name"`
	Image     string   `yaml:"image"`
	RAM       uint32   `yaml:"ram,omitempty"`
	CPUs      uint8    `yaml:"cpus,omitempty"`
	Groups    []string `yaml:"groups,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	Steps     []string `yaml:"steps,omitempty"`
}

// Sandbox is a single runnable sandbox definition: the fields the
// rootfs composer (spec.md §4.F) reads are Rootfs, Scripts, Shell,
// Workdir, Envs, and Ports; the rest round out the config graph.
type Sandbox struct {
	Name      string            `yaml:"name"`
	Image     string            `yaml:"image,omitempty"`
	Rootfs    string            `yaml:"rootfs,omitempty"` // local path -> native rootfs; empty -> image rootfs
	RAM       uint32            `yaml:"ram,omitempty"`
	CPUs      uint8             `yaml:"cpus,omitempty"`
	Ports     []PortPair        `yaml:"ports,omitempty"`
	Envs      []EnvPair         `yaml:"envs,omitempty"`
	Groups    []string          `yaml:"groups,omitempty"`
	DependsOn []string          `yaml:"depends_on,omitempty"`
	Workdir   string            `yaml:"workdir,omitempty"`
	Shell     string            `yaml:"shell,omitempty"`
	Scripts   map[string]string `yaml:"scripts,omitempty"`
}

// Group is a named collection of sandboxes sharing network/volume
// defaults. Field contents beyond Name are not consumed by
// internal/rootfs; they round out the config graph per spec.md §6.
type Group struct {
	Name string `yaml:"name"`
}

// PortPair is a host:guest TCP port mapping, e.g. "8080:80".
type PortPair struct {
	Host  uint16
	Guest uint16
}

// EnvPair is a KEY=VALUE environment variable entry.
type EnvPair struct {
	Key   string
	Value string
}

// GetShell returns the configured shell, defaulting to /bin/sh.
func (s *Sandbox) GetShell() string {
	if s.Shell != "" {
		return s.Shell
	}
	return "/bin/sh"
}

// HasScript reports whether name is an explicitly defined script.
func (s *Sandbox) HasScript(name string) bool {
	_, ok := s.Scripts[name]
	return ok
}
