package overlay

import (
	"context"
	"errors"
	"testing"

	"github.com/tinyrange/msandbox/internal/errs"
	"github.com/tinyrange/msandbox/internal/fsmeta"
	"github.com/tinyrange/msandbox/internal/vfscore"
)

func mustPath(t *testing.T, s string) fsmeta.Path {
	t.Helper()
	p, err := fsmeta.Split(s)
	if err != nil {
		t.Fatalf("Split(%q): %v", s, err)
	}
	return p
}

func newTwoLayerStack(t *testing.T) (*Stack, *vfscore.MemoryVFS, *vfscore.MemoryVFS) {
	t.Helper()
	lower := vfscore.NewMemoryVFS()
	top := vfscore.NewMemoryVFS()
	s, err := New([]vfscore.VFS{lower, top})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, lower, top
}

func TestReadThroughToLowerLayer(t *testing.T) {
	ctx := context.Background()
	s, lower, _ := newTwoLayerStack(t)
	p := mustPath(t, "a.txt")
	_ = lower.CreateFile(ctx, p, false)
	_ = lower.WriteFile(ctx, p, 0, []byte("base"))

	got, err := s.ReadFile(ctx, p, 0, 4)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "base" {
		t.Errorf("ReadFile = %q, want %q", got, "base")
	}
}

func TestWriteCopiesUpWithoutMutatingLower(t *testing.T) {
	ctx := context.Background()
	s, lower, top := newTwoLayerStack(t)
	p := mustPath(t, "a.txt")
	_ = lower.CreateFile(ctx, p, false)
	_ = lower.WriteFile(ctx, p, 0, []byte("base"))

	if err := s.WriteFile(ctx, p, 0, []byte("TOP!")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := lower.ReadFile(ctx, p, 0, 4)
	if err != nil {
		t.Fatalf("lower ReadFile: %v", err)
	}
	if string(got) != "base" {
		t.Errorf("lower layer mutated: got %q", got)
	}

	if ok, _ := top.Exists(ctx, p); !ok {
		t.Fatalf("expected copy-up into top layer")
	}
	got, err = s.ReadFile(ctx, p, 0, 4)
	if err != nil {
		t.Fatalf("overlay ReadFile: %v", err)
	}
	if string(got) != "TOP!" {
		t.Errorf("overlay ReadFile = %q, want %q", got, "TOP!")
	}
}

func TestRemoveCreatesWhiteoutAndHidesLowerFile(t *testing.T) {
	ctx := context.Background()
	s, lower, top := newTwoLayerStack(t)
	p := mustPath(t, "a.txt")
	_ = lower.CreateFile(ctx, p, false)

	if err := s.Remove(ctx, p); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if ok, _ := s.Exists(ctx, p); ok {
		t.Errorf("removed entity still visible through overlay")
	}
	markerPath := mustPath(t, ".wh.a.txt")
	if ok, err := top.Exists(ctx, markerPath); err != nil || !ok {
		t.Errorf("expected whiteout marker in top layer, exists=%v err=%v", ok, err)
	}
	if ok, _ := lower.Exists(ctx, p); !ok {
		t.Errorf("lower layer should be untouched by removal")
	}
}

func TestOpaqueMarkerHidesAllLowerSiblings(t *testing.T) {
	ctx := context.Background()
	s, lower, top := newTwoLayerStack(t)
	dir := mustPath(t, "d")
	_ = lower.CreateDirectory(ctx, dir)
	_ = lower.CreateFile(ctx, mustPath(t, "d/hidden.txt"), false)

	_ = top.CreateDirectory(ctx, dir)
	_ = top.CreateFile(ctx, mustPath(t, "d/.wh..wh..opq"), false)
	_ = top.CreateFile(ctx, mustPath(t, "d/visible.txt"), false)

	entries, err := s.ReadDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("ReadDirectory: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[string(e)] = true
	}
	if names["hidden.txt"] {
		t.Errorf("opaque marker failed to hide lower sibling: %v", names)
	}
	if !names["visible.txt"] {
		t.Errorf("expected visible.txt in union listing: %v", names)
	}
}

func TestThreeLayerMergeUnionsDirectoryListings(t *testing.T) {
	ctx := context.Background()
	base := vfscore.NewMemoryVFS()
	mid := vfscore.NewMemoryVFS()
	top := vfscore.NewMemoryVFS()
	s, err := New([]vfscore.VFS{base, mid, top})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dir := mustPath(t, "d")
	_ = base.CreateDirectory(ctx, dir)
	_ = base.CreateFile(ctx, mustPath(t, "d/from-base.txt"), false)
	_ = mid.CreateDirectory(ctx, dir)
	_ = mid.CreateFile(ctx, mustPath(t, "d/from-mid.txt"), false)
	_ = top.CreateDirectory(ctx, dir)
	_ = top.CreateFile(ctx, mustPath(t, "d/from-top.txt"), false)

	entries, err := s.ReadDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("ReadDirectory: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[string(e)] = true
	}
	for _, want := range []string{"from-base.txt", "from-mid.txt", "from-top.txt"} {
		if !names[want] {
			t.Errorf("missing %q in merged listing: %v", want, names)
		}
	}
}

func TestMidLayerWhiteoutHidesBaseEntry(t *testing.T) {
	ctx := context.Background()
	base := vfscore.NewMemoryVFS()
	mid := vfscore.NewMemoryVFS()
	top := vfscore.NewMemoryVFS()
	s, err := New([]vfscore.VFS{base, mid, top})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dir := mustPath(t, "d")
	_ = base.CreateDirectory(ctx, dir)
	_ = base.CreateFile(ctx, mustPath(t, "d/gone.txt"), false)
	_ = mid.CreateDirectory(ctx, dir)
	_ = mid.CreateFile(ctx, mustPath(t, "d/.wh.gone.txt"), false)
	_ = top.CreateDirectory(ctx, dir)

	entries, err := s.ReadDirectory(ctx, dir)
	if err != nil {
		t.Fatalf("ReadDirectory: %v", err)
	}
	for _, e := range entries {
		if string(e) == "gone.txt" {
			t.Errorf("mid-layer whiteout failed to hide base entry")
		}
	}
}

func TestCreateFileRejectsWhiteoutName(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTwoLayerStack(t)
	err := s.CreateFile(ctx, mustPath(t, ".wh.evil"), false)
	if !errors.Is(err, errs.Sentinel(errs.InvalidPathComponent)) {
		t.Fatalf("got %v, want InvalidPathComponent", err)
	}
}

func TestRemoveDirectoryFromLowerRequiresEmptyUnion(t *testing.T) {
	ctx := context.Background()
	s, lower, _ := newTwoLayerStack(t)
	dir := mustPath(t, "d")
	_ = lower.CreateDirectory(ctx, dir)
	_ = lower.CreateFile(ctx, mustPath(t, "d/f.txt"), false)

	err := s.RemoveDirectory(ctx, dir)
	if !errors.Is(err, errs.Sentinel(errs.DirectoryNotEmpty)) {
		t.Fatalf("got %v, want DirectoryNotEmpty", err)
	}
}

func TestRemoveDirectoryFromLowerCreatesWhiteout(t *testing.T) {
	ctx := context.Background()
	s, lower, top := newTwoLayerStack(t)
	dir := mustPath(t, "d")
	_ = lower.CreateDirectory(ctx, dir)

	if err := s.RemoveDirectory(ctx, dir); err != nil {
		t.Fatalf("RemoveDirectory: %v", err)
	}
	if ok, _ := s.Exists(ctx, dir); ok {
		t.Errorf("directory still visible after RemoveDirectory")
	}
	if ok, _ := top.Exists(ctx, mustPath(t, ".wh.d")); !ok {
		t.Errorf("expected whiteout marker for directory in top layer")
	}
}

func TestRenameFromLowerMaterializesAndWhitesOutOld(t *testing.T) {
	ctx := context.Background()
	s, lower, top := newTwoLayerStack(t)
	oldP := mustPath(t, "a.txt")
	newP := mustPath(t, "b.txt")
	_ = lower.CreateFile(ctx, oldP, false)
	_ = lower.WriteFile(ctx, oldP, 0, []byte("content"))

	if err := s.Rename(ctx, oldP, newP); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if ok, _ := s.Exists(ctx, oldP); ok {
		t.Errorf("old path still visible after rename")
	}
	got, err := s.ReadFile(ctx, newP, 0, 7)
	if err != nil {
		t.Fatalf("ReadFile(new): %v", err)
	}
	if string(got) != "content" {
		t.Errorf("ReadFile(new) = %q, want %q", got, "content")
	}
	if ok, _ := lower.Exists(ctx, oldP); !ok {
		t.Errorf("lower layer should be untouched by rename")
	}
	if ok, _ := top.Exists(ctx, mustPath(t, ".wh.a.txt")); !ok {
		t.Errorf("expected whiteout marker masking renamed-away lower entry")
	}
}

func TestRenameFailsWhenDestinationExists(t *testing.T) {
	ctx := context.Background()
	s, lower, _ := newTwoLayerStack(t)
	a := mustPath(t, "a.txt")
	b := mustPath(t, "b.txt")
	_ = lower.CreateFile(ctx, a, false)
	_ = lower.CreateFile(ctx, b, false)

	err := s.Rename(ctx, a, b)
	if !errors.Is(err, errs.Sentinel(errs.AlreadyExists)) {
		t.Fatalf("got %v, want AlreadyExists", err)
	}
}

func TestNewRequiresAtLeastOneLayer(t *testing.T) {
	_, err := New(nil)
	if !errors.Is(err, errs.Sentinel(errs.OverlayRequiresAtLeastOneLayer)) {
		t.Fatalf("got %v, want OverlayRequiresAtLeastOneLayer", err)
	}
}

func TestCopyUpCreatesMissingParentDirectoriesInTop(t *testing.T) {
	ctx := context.Background()
	s, lower, top := newTwoLayerStack(t)
	_ = lower.CreateDirectory(ctx, mustPath(t, "a"))
	_ = lower.CreateDirectory(ctx, mustPath(t, "a/b"))
	p := mustPath(t, "a/b/f.txt")
	_ = lower.CreateFile(ctx, p, false)
	_ = lower.WriteFile(ctx, p, 0, []byte("x"))

	if err := s.WriteFile(ctx, p, 0, []byte("y")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if ok, _ := top.Exists(ctx, mustPath(t, "a")); !ok {
		t.Errorf("expected ancestor a/ copied up into top")
	}
	if ok, _ := top.Exists(ctx, mustPath(t, "a/b")); !ok {
		t.Errorf("expected ancestor a/b/ copied up into top")
	}
}
