package config

import (
	"fmt"
	"strings"

	"github.com/tinyrange/msandbox/internal/errs"
)

// Validate checks the uniqueness, group-reference, and
// depends_on-acyclicity invariants spec.md §6 calls for ("validates
// uniqueness, group references, dependency acyclicity..."), collecting
// every violation into a single errs.ConfigValidation error rather
// than failing on the first one, per spec.md §7's disposition for that
// kind ("Surfaced with concatenated per-error messages").
func Validate(cfg *Config) error {
	var problems []string

	groupNames := make(map[string]bool, len(cfg.Groups))
	for _, g := range cfg.Groups {
		if groupNames[g.Name] {
			problems = append(problems, fmt.Sprintf("duplicate group name %q", g.Name))
		}
		groupNames[g.Name] = true
	}

	sandboxNames := make(map[string]bool, len(cfg.Sandboxes))
	dependsOn := make(map[string][]string, len(cfg.Sandboxes))
	for _, s := range cfg.Sandboxes {
		if sandboxNames[s.Name] {
			problems = append(problems, fmt.Sprintf("duplicate sandbox name %q", s.Name))
		}
		sandboxNames[s.Name] = true
		dependsOn[s.Name] = s.DependsOn

		for _, g := range s.Groups {
			if !groupNames[g] {
				problems = append(problems, fmt.Sprintf("sandbox %q references unknown group %q", s.Name, g))
			}
		}
	}

	buildNames := make(map[string]bool, len(cfg.Builds))
	for _, b := range cfg.Builds {
		if buildNames[b.Name] {
			problems = append(problems, fmt.Sprintf("duplicate build name %q", b.Name))
		}
		buildNames[b.Name] = true
		for _, g := range b.Groups {
			if !groupNames[g] {
				problems = append(problems, fmt.Sprintf("build %q references unknown group %q", b.Name, g))
			}
		}
	}

	for name, deps := range dependsOn {
		for _, dep := range deps {
			if !sandboxNames[dep] {
				problems = append(problems, fmt.Sprintf("sandbox %q depends on unknown sandbox %q", name, dep))
			}
		}
	}

	if cycle := findCycle(dependsOn); cycle != "" {
		problems = append(problems, fmt.Sprintf("dependency cycle detected: %s", cycle))
	}

	if len(problems) == 0 {
		return nil
	}
	return errs.New(errs.ConfigValidation, "validate", "", fmt.Errorf("%s", strings.Join(problems, "; ")))
}

// findCycle runs a DFS over the depends_on graph, returning a
// human-readable description of the first cycle found, or "" if the
// graph is acyclic.
func findCycle(edges map[string][]string) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(edges))
	var path []string

	var visit func(node string) string
	visit = func(node string) string {
		switch state[node] {
		case visiting:
			path = append(path, node)
			return strings.Join(path, " -> ")
		case done:
			return ""
		}
		state[node] = visiting
		path = append(path, node)
		for _, dep := range edges[node] {
			if cycle := visit(dep); cycle != "" {
				return cycle
			}
		}
		path = path[:len(path)-1]
		state[node] = done
		return ""
	}

	for node := range edges {
		if state[node] == unvisited {
			if cycle := visit(node); cycle != "" {
				return cycle
			}
		}
	}
	return ""
}
