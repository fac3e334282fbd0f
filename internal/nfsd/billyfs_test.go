package nfsd

import (
	"os"
	"testing"

	"github.com/tinyrange/msandbox/internal/vfscore"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	return NewFS(vfscore.NewMemoryVFS(), NewHandleTable())
}

func TestBillyFSCreateWriteRead(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Create("hello.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := fs.Open("hello.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	buf := make([]byte, 5)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hello")
	}
}

func TestBillyFSCreateExclusive(t *testing.T) {
	fs := newTestFS(t)
	if _, err := fs.Create("dup.txt"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := fs.Create("dup.txt"); !os.IsExist(err) {
		t.Fatalf("second Create err = %v, want IsExist", err)
	}
}

func TestBillyFSMkdirAllAndReadDir(t *testing.T) {
	fs := newTestFS(t)
	if err := fs.MkdirAll("a/b/c", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	entries, err := fs.ReadDir("a/b")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "c" || !entries[0].IsDir() {
		t.Fatalf("ReadDir(a/b) = %+v, want single dir entry 'c'", entries)
	}
}

func TestBillyFSStatFileIDStable(t *testing.T) {
	fs := newTestFS(t)
	if _, err := fs.Create("f"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fi1, err := fs.Stat("f")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	fi2, err := fs.Stat("f")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if id1, id2 := fi1.(*entryInfo).fileid, fi2.(*entryInfo).fileid; id1 != id2 {
		t.Fatalf("fileid not stable across Stat calls: %d != %d", id1, id2)
	}
	p := mustPath(t, "f")
	if got1, got2 := fs.handles.EnsureRegistered(p), fs.handles.EnsureRegistered(p); got1 != got2 {
		t.Fatalf("fileid not stable across registrations: %d != %d", got1, got2)
	}
}

func TestBillyFSRemoveInvalidatesHandle(t *testing.T) {
	fs := newTestFS(t)
	if _, err := fs.Create("gone"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	p := mustPath(t, "gone")
	id := fs.handles.EnsureRegistered(p)

	if err := fs.Remove("gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := fs.handles.Resolve(id); err == nil {
		t.Fatalf("expected stale handle after Remove")
	}
}

func TestBillyFSSymlinkRoundTrip(t *testing.T) {
	fs := newTestFS(t)
	if err := fs.Symlink("/target", "link"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	target, err := fs.Readlink("link")
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "/target" {
		t.Fatalf("Readlink = %q, want /target", target)
	}
}

func TestBillyFSRenamePreservesFileID(t *testing.T) {
	fs := newTestFS(t)
	if _, err := fs.Create("old"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	oldID := fs.handles.EnsureRegistered(mustPath(t, "old"))

	if err := fs.Rename("old", "new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	newID := fs.handles.EnsureRegistered(mustPath(t, "new"))
	if newID != oldID {
		t.Fatalf("fileid changed across rename: %d != %d", oldID, newID)
	}
}
