// Package config holds the typed sandbox/group/build/requires graph the
// YAML configuration loader produces (spec.md §6's "Config loader"
// external collaborator). The loader itself is a thin wrapper; its
// output types live here so internal/rootfs can consume a resolved
// sandbox end to end without depending on how the YAML was parsed.
//
// Grounded on original_source/monocore/lib/config/monocore.rs's
// Monocore/Sandbox/Build/Group field shapes, trimmed to the fields
// internal/rootfs actually consumes (network/volume-mount fields are
// out of scope: the supervisor, not this core, owns networking).
package config
