// Package rootfs assembles a sandbox's root filesystem (spec.md
// §4.F / SPEC_FULL.md §7): it chooses between a native (local-path)
// rootfs and an image-derived overlay chain, generates the per-sandbox
// patch layer of scripts, and merges image-config defaults into a
// sandbox configuration that omitted them.
//
// Grounded on original_source/monocore/lib/management/sandbox.rs's
// setup_image_rootfs/setup_native_rootfs/has_sandbox_config_changed/
// apply_image_defaults and rootfs.rs's PermissionGuard pattern, ported
// from async Rust I/O to synchronous Go os calls (this package does
// its own blocking filesystem work, not VFS-mediated I/O, because its
// output is a list of real on-disk directories handed to the external
// supervisor for a kernel mount — see DESIGN.md's open-question note
// on the kernel-overlayfs fallback).
package rootfs
