package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/msandbox/internal/errs"
)

// Loader parses a project's YAML configuration file into a validated
// Config, matching spec.md §6's external collaborator signature
// `load_config(project_dir, file) -> (Config, canonical_dir, file_path)`.
type Loader interface {
	Load(projectDir, file string) (*Config, string, string, error)
}

// YAMLLoader is the default Loader, reading the file with
// gopkg.in/yaml.v3 (the teacher's own YAML dependency) and validating
// the result with Validate.
type YAMLLoader struct{}

// Load reads <projectDir>/<file>, decodes it, and validates the
// resulting graph. It returns the canonicalized project directory and
// the absolute config file path alongside the parsed Config.
func (YAMLLoader) Load(projectDir, file string) (*Config, string, string, error) {
	canonicalDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, "", "", fmt.Errorf("resolve project dir: %w", err)
	}
	filePath := filepath.Join(canonicalDir, file)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", "", fmt.Errorf("read config %s: %w", filePath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, "", "", fmt.Errorf("parse config %s: %w", filePath, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, "", "", err
	}

	return &cfg, canonicalDir, filePath, nil
}

// ConfigLastModified returns the mtime of the config file at path as
// UTC Unix nanoseconds.
func ConfigLastModified(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errs.New(errs.Io, "stat config", path, err)
	}
	return info.ModTime().UTC().UnixNano(), nil
}
