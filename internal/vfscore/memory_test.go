package vfscore

import (
	"context"
	"errors"
	"testing"

	"github.com/tinyrange/msandbox/internal/errs"
	"github.com/tinyrange/msandbox/internal/fsmeta"
)

func mustPath(t *testing.T, s string) fsmeta.Path {
	t.Helper()
	p, err := fsmeta.Split(s)
	if err != nil {
		t.Fatalf("Split(%q): %v", s, err)
	}
	return p
}

func TestCreateFileThenExists(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	p := mustPath(t, "a.txt")

	if err := m.CreateFile(ctx, p, false); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	ok, err := m.Exists(ctx, p)
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
	md, err := m.GetMetadata(ctx, p)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if md.Kind != fsmeta.KindFile {
		t.Errorf("Kind = %v, want File", md.Kind)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	p := mustPath(t, "a.txt")
	if err := m.CreateFile(ctx, p, false); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	data := []byte("hello world")
	if err := m.WriteFile(ctx, p, 0, data); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := m.ReadFile(ctx, p, 0, uint32(len(data)))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("ReadFile = %q, want %q", got, data)
	}
}

func TestWritePastEndExtendsWithZeros(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	p := mustPath(t, "a.txt")
	_ = m.CreateFile(ctx, p, false)
	if err := m.WriteFile(ctx, p, 5, []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := m.ReadFile(ctx, p, 0, 6)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := []byte{0, 0, 0, 0, 0, 'x'}
	if string(got) != string(want) {
		t.Errorf("ReadFile = %v, want %v", got, want)
	}
}

func TestReadFileOffsetAtOrBeyondSizeIsEmptyNoError(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	p := mustPath(t, "a.txt")
	_ = m.CreateFile(ctx, p, false)
	_ = m.WriteFile(ctx, p, 0, []byte("hi"))

	got, err := m.ReadFile(ctx, p, 100, 10)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadFile at offset beyond size = %v, want empty", got)
	}
}

func TestRenameMovesEntity(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	oldP := mustPath(t, "a.txt")
	newP := mustPath(t, "b.txt")
	_ = m.CreateFile(ctx, oldP, false)

	if err := m.Rename(ctx, oldP, newP); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ok, _ := m.Exists(ctx, oldP); ok {
		t.Errorf("old path still exists after rename")
	}
	if ok, _ := m.Exists(ctx, newP); !ok {
		t.Errorf("new path does not exist after rename")
	}
}

func TestRenameFailsIfDestinationExists(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	a := mustPath(t, "a.txt")
	b := mustPath(t, "b.txt")
	_ = m.CreateFile(ctx, a, false)
	_ = m.CreateFile(ctx, b, false)

	err := m.Rename(ctx, a, b)
	if !errors.Is(err, errs.Sentinel(errs.AlreadyExists)) {
		t.Fatalf("Rename: got %v, want AlreadyExists", err)
	}
}

func TestCreateSymlinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	p := mustPath(t, "link")
	if err := m.CreateSymlink(ctx, p, "/usr/bin/env"); err != nil {
		t.Fatalf("CreateSymlink: %v", err)
	}
	got, err := m.ReadSymlink(ctx, p)
	if err != nil {
		t.Fatalf("ReadSymlink: %v", err)
	}
	if got != "/usr/bin/env" {
		t.Errorf("ReadSymlink = %q", got)
	}
}

func TestCreateSymlinkEmptyTargetRejected(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	err := m.CreateSymlink(ctx, mustPath(t, "link"), "")
	if !errors.Is(err, errs.Sentinel(errs.InvalidSymlinkTarget)) {
		t.Fatalf("got %v, want InvalidSymlinkTarget", err)
	}
}

func TestRemoveDirectoryNonEmptyFails(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	dir := mustPath(t, "d")
	_ = m.CreateDirectory(ctx, dir)
	_ = m.CreateFile(ctx, mustPath(t, "d/f"), false)

	err := m.RemoveDirectory(ctx, dir)
	if !errors.Is(err, errs.Sentinel(errs.DirectoryNotEmpty)) {
		t.Fatalf("got %v, want DirectoryNotEmpty", err)
	}
}

func TestSetMetadataGetMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	p := mustPath(t, "a.txt")
	_ = m.CreateFile(ctx, p, false)

	md, _ := m.GetMetadata(ctx, p)
	md.UID = 42
	md.GID = 7
	md.Mode = 0o600
	if err := m.SetMetadata(ctx, p, md); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	got, err := m.GetMetadata(ctx, p)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if got.UID != 42 || got.GID != 7 || got.Mode != 0o600 {
		t.Errorf("GetMetadata = %+v", got)
	}
}

func TestMissingParentFails(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVFS()
	err := m.CreateFile(ctx, mustPath(t, "missing/a.txt"), false)
	if !errors.Is(err, errs.Sentinel(errs.ParentDirectoryNotFound)) {
		t.Fatalf("got %v, want ParentDirectoryNotFound", err)
	}
}
