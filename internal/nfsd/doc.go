// Package nfsd is the NFSv3 protocol adapter (spec component E): it
// exposes any vfscore.VFS backend (typically an overlay.Stack) to a
// micro-VM guest kernel by implementing the go-nfs Handler contract
// plus a billy.Filesystem bridge, maintaining a stable fileid<->path
// bijection with symbol-interned path storage.
//
// Grounded on original_source/monofs/lib/server/nfs.rs's MonofsNFS
// (bijection/attribute-construction shape, translated from the Rust
// nfsserve crate's NFSFileSystem trait onto go-nfs's billy.Filesystem-
// driven model) and other_examples' rclone/mache billy.Filesystem
// adapters for the Go idiom.
package nfsd
