package oci

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/msandbox/internal/fsmeta"
	"github.com/tinyrange/msandbox/internal/vfscore"
)

// BuildTree walks an extracted layer directory and produces an
// in-memory Entity tree, capturing Unix metadata (mode, uid, gid,
// atime, mtime) for every entry (spec.md §4.C "Tree build from a
// layer"). Whiteout and opaque marker names are preserved verbatim as
// regular File entries so MergeLayers can recognize and apply them.
func BuildTree(dir string) (*vfscore.DirEntity, error) {
	info, err := os.Lstat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat layer root %s: %w", dir, err)
	}
	root := vfscore.NewRootDir(metadataFromFileInfo(info))
	if err := buildChildren(dir, root); err != nil {
		return nil, err
	}
	return root, nil
}

func buildChildren(dir string, into *vfscore.DirEntity) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, de := range entries {
		name := de.Name()
		seg, err := fsmeta.NewSegment(name)
		if err != nil {
			continue // skip entries with names the VFS contract can't represent
		}
		full := filepath.Join(dir, name)
		info, err := os.Lstat(full)
		if err != nil {
			return fmt.Errorf("lstat %s: %w", full, err)
		}
		meta := metadataFromFileInfo(info)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", full, err)
			}
			into.Children[seg] = &vfscore.SymlinkEntity{Seg: seg, Meta: meta, Target: target}
		case info.IsDir():
			sub := &vfscore.DirEntity{Seg: seg, Meta: meta, Children: make(map[fsmeta.Segment]vfscore.Entity)}
			if err := buildChildren(full, sub); err != nil {
				return err
			}
			into.Children[seg] = sub
		default:
			content, err := readFileWithGuard(full, info.Mode())
			if err != nil {
				return fmt.Errorf("read %s: %w", full, err)
			}
			meta.Size = uint64(len(content))
			into.Children[seg] = &vfscore.FileEntity{Seg: seg, Meta: meta, Content: content}
		}
	}
	return nil
}

// readFileWithGuard reads a file's content even when it denies owner
// read, temporarily granting owner r-- and restoring the original
// mode on every exit path (spec.md §4.C "temporarily granted owner
// rwx or r--").
func readFileWithGuard(path string, mode os.FileMode) ([]byte, error) {
	if mode.Perm()&0o400 != 0 {
		return os.ReadFile(path)
	}
	original := mode.Perm()
	if err := unix.Chmod(path, uint32(original|0o400)); err != nil {
		return nil, fmt.Errorf("widen read permission: %w", err)
	}
	defer unix.Chmod(path, uint32(original))
	return os.ReadFile(path)
}

func metadataFromFileInfo(info os.FileInfo) fsmeta.Metadata {
	kind := fsmeta.KindFile
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		kind = fsmeta.KindSymlink
	case info.IsDir():
		kind = fsmeta.KindDirectory
	}
	meta := fsmeta.Metadata{
		Kind:       kind,
		Size:       uint64(info.Size()),
		ModifiedAt: info.ModTime(),
		CreatedAt:  info.ModTime(),
		AccessedAt: info.ModTime(),
		HasUnix:    true,
		Mode:       uint32(info.Mode().Perm()),
	}
	if sys, ok := info.Sys().(*syscall.Stat_t); ok && sys != nil {
		meta.UID = sys.Uid
		meta.GID = sys.Gid
		meta.AccessedAt = time.Unix(sys.Atim.Sec, sys.Atim.Nsec)
	}
	return meta
}
