// Package metastore defines the interfaces the core calls against the
// two SQLite-backed metadata stores spec.md §6 describes
// ("save_or_update_image", "save_index", ..., "get_sandbox"). No SQL
// driver is wired here: the implementations are an external
// collaborator out of this module's scope, per spec.md §1's explicit
// "database persistence of image metadata" exclusion. internal/rootfs
// consumes SandboxStore directly; ImageStore exists so a future
// caller (the registry client's cache layer) has a typed contract to
// implement against without depending on a concrete database package.
package metastore
