package oci

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// extractLayer expands a gzip-tar (or plain tar, when compression is
// "none") blob at blobPath into destDir, preserving whiteout and
// opaque marker names verbatim so the tree-build and merge stages can
// interpret them (spec.md §4.C "Layer extraction"). A cached
// extraction is trusted if destDir already exists.
func extractLayer(blobPath, compression, destDir string) error {
	if info, err := os.Stat(destDir); err == nil && info.IsDir() {
		return nil
	}

	tmpDir := destDir + ".extracting"
	os.RemoveAll(tmpDir)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}

	f, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("open blob %s: %w", blobPath, err)
	}
	defer f.Close()

	var r io.Reader = f
	if compression == "gzip" {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("create gzip reader: %w", err)
		}
		defer gr.Close()
		r = gr
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			os.RemoveAll(tmpDir)
			return fmt.Errorf("read tar entry: %w", err)
		}
		if err := extractEntry(tmpDir, hdr, tr); err != nil {
			os.RemoveAll(tmpDir)
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
	}

	if err := os.Rename(tmpDir, destDir); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("finalize extraction dir: %w", err)
	}
	return nil
}

func extractEntry(destDir string, hdr *tar.Header, r io.Reader) error {
	target := filepath.Join(destDir, filepath.Clean("/"+hdr.Name))
	switch hdr.Typeflag {
	case tar.TypeDir:
		return mkdirWithGuard(target, hdr.FileInfo().Mode())
	case tar.TypeReg:
		if err := mkdirWithGuard(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return writeFileWithGuard(target, r, hdr.FileInfo().Mode())
	case tar.TypeSymlink:
		if err := mkdirWithGuard(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeLink:
		// Hard links are out of scope (spec.md §1 non-goals); materialize
		// the link target's content as an independent regular file.
		linked := filepath.Join(destDir, filepath.Clean("/"+hdr.Linkname))
		data, err := os.ReadFile(linked)
		if err != nil {
			return nil // best-effort: the link target may not be extracted yet
		}
		if err := mkdirWithGuard(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo, tar.TypeXGlobalHeader:
		return nil
	default:
		return fmt.Errorf("unsupported tar entry type %d", hdr.Typeflag)
	}
}

// mkdirWithGuard creates dir (and parents) even when an ancestor was
// extracted without owner-write permission, by temporarily widening
// the mode and restoring it afterward on every exit path.
func mkdirWithGuard(dir string, mode os.FileMode) error {
	if info, err := os.Stat(dir); err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("%s exists and is not a directory", dir)
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		if err := mkdirWithGuard(parent, 0o755); err != nil {
			return err
		}
	}
	restore, err := widenForWrite(parent)
	if err != nil {
		return err
	}
	defer restore()
	return os.Mkdir(dir, mode|0o200)
}

func writeFileWithGuard(path string, r io.Reader, mode os.FileMode) error {
	restore, err := widenForWrite(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer restore()

	os.Remove(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(path, mode)
}

// widenForWrite temporarily grants the directory owner rwx so an
// extraction step can create an entry inside it, returning a closure
// that restores the directory's original mode on every exit path,
// including failure.
func widenForWrite(dir string) (func(), error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	original := info.Mode().Perm()
	if original&0o700 == 0o700 {
		return func() {}, nil
	}
	if err := unix.Chmod(dir, uint32(original|0o700)); err != nil {
		return nil, fmt.Errorf("widen permissions on %s: %w", dir, err)
	}
	return func() { unix.Chmod(dir, uint32(original)) }, nil
}
