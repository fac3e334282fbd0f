package oci

import (
	"testing"
	"time"

	"github.com/tinyrange/msandbox/internal/fsmeta"
	"github.com/tinyrange/msandbox/internal/vfscore"
)

func TestParseImageRefDefaultsToDockerHub(t *testing.T) {
	registry, image, tag, err := ParseImageRef("alpine:3.19")
	if err != nil {
		t.Fatalf("ParseImageRef: %v", err)
	}
	if registry != defaultRegistry {
		t.Errorf("registry = %q, want %q", registry, defaultRegistry)
	}
	if image != "library/alpine" {
		t.Errorf("image = %q, want library/alpine", image)
	}
	if tag != "3.19" {
		t.Errorf("tag = %q, want 3.19", tag)
	}
}

func TestParseImageRefDefaultsTagToLatest(t *testing.T) {
	_, _, tag, err := ParseImageRef("alpine")
	if err != nil {
		t.Fatalf("ParseImageRef: %v", err)
	}
	if tag != "latest" {
		t.Errorf("tag = %q, want latest", tag)
	}
}

func TestParseImageRefCustomRegistry(t *testing.T) {
	registry, image, tag, err := ParseImageRef("ghcr.io/owner/repo:v1")
	if err != nil {
		t.Fatalf("ParseImageRef: %v", err)
	}
	if registry != "https://ghcr.io/v2" {
		t.Errorf("registry = %q", registry)
	}
	if image != "owner/repo" {
		t.Errorf("image = %q", image)
	}
	if tag != "v1" {
		t.Errorf("tag = %q", tag)
	}
}

func TestSelectManifestSkipsAttestationReferences(t *testing.T) {
	index := imageIndexV2{Manifests: []imageManifestIdentifier{
		{Digest: "sha256:attest", Platform: imagePlatform{Architecture: "amd64", Os: "unknown"}},
		{Digest: "sha256:real", Platform: imagePlatform{Architecture: "amd64", Os: "linux"}},
	}}
	m, err := selectManifest(index, "amd64")
	if err != nil {
		t.Fatalf("selectManifest: %v", err)
	}
	if m.Digest != "sha256:real" {
		t.Errorf("selected %q, want sha256:real", m.Digest)
	}
}

func TestSelectManifestFallsBackToArchitectureOnlyMatch(t *testing.T) {
	index := imageIndexV2{Manifests: []imageManifestIdentifier{
		{Digest: "sha256:windows", Platform: imagePlatform{Architecture: "amd64", Os: "windows"}},
	}}
	m, err := selectManifest(index, "amd64")
	if err != nil {
		t.Fatalf("selectManifest: %v", err)
	}
	if m.Digest != "sha256:windows" {
		t.Errorf("selected %q, want sha256:windows (fallback)", m.Digest)
	}
}

func TestSelectManifestNoMatch(t *testing.T) {
	index := imageIndexV2{Manifests: []imageManifestIdentifier{
		{Digest: "sha256:arm", Platform: imagePlatform{Architecture: "arm64", Os: "linux"}},
	}}
	if _, err := selectManifest(index, "amd64"); err == nil {
		t.Fatalf("expected error for missing architecture")
	}
}

func TestCompressionFromMediaType(t *testing.T) {
	cases := map[string]string{
		"application/vnd.oci.image.layer.v1.tar+gzip": "gzip",
		"application/vnd.oci.image.layer.v1.tar":       "none",
	}
	for mt, want := range cases {
		got, err := compressionFromMediaType(mt)
		if err != nil {
			t.Fatalf("compressionFromMediaType(%q): %v", mt, err)
		}
		if got != want {
			t.Errorf("compressionFromMediaType(%q) = %q, want %q", mt, got, want)
		}
	}
}

func dirWith(now time.Time, children map[fsmeta.Segment]vfscore.Entity) *vfscore.DirEntity {
	d := vfscore.NewRootDir(fsmeta.NewMetadata(fsmeta.KindDirectory, now))
	d.Children = children
	return d
}

func fileEntity(name string, now time.Time, content string) *vfscore.FileEntity {
	seg := fsmeta.Segment(name)
	return &vfscore.FileEntity{Seg: seg, Meta: fsmeta.NewMetadata(fsmeta.KindFile, now), Content: []byte(content)}
}

func TestMergeLayersAppliesWhiteout(t *testing.T) {
	now := time.Now().UTC()
	base := dirWith(now, map[fsmeta.Segment]vfscore.Entity{
		"a.txt": fileEntity("a.txt", now, "base"),
		"b.txt": fileEntity("b.txt", now, "keep"),
	})
	top := dirWith(now, map[fsmeta.Segment]vfscore.Entity{
		".wh.a.txt": fileEntity(".wh.a.txt", now, ""),
	})

	merged := MergeLayers([]*vfscore.DirEntity{base, top})
	if _, ok := merged.Children["a.txt"]; ok {
		t.Errorf("whiteout failed to remove a.txt")
	}
	if _, ok := merged.Children[".wh.a.txt"]; ok {
		t.Errorf("whiteout marker leaked into merged tree")
	}
	if _, ok := merged.Children["b.txt"]; !ok {
		t.Errorf("b.txt missing from merged tree")
	}
}

func TestMergeLayersOpaqueDirectoryReplacesSubtree(t *testing.T) {
	now := time.Now().UTC()
	base := dirWith(now, map[fsmeta.Segment]vfscore.Entity{
		"d": dirWith(now, map[fsmeta.Segment]vfscore.Entity{
			"old.txt": fileEntity("old.txt", now, "x"),
		}),
	})
	topDir := dirWith(now, map[fsmeta.Segment]vfscore.Entity{
		".wh..wh..opq": fileEntity(".wh..wh..opq", now, ""),
		"new.txt":      fileEntity("new.txt", now, "y"),
	})
	top := dirWith(now, map[fsmeta.Segment]vfscore.Entity{"d": topDir})

	merged := MergeLayers([]*vfscore.DirEntity{base, top})
	mergedD := merged.Children["d"].(*vfscore.DirEntity)
	if _, ok := mergedD.Children["old.txt"]; ok {
		t.Errorf("opaque marker failed to hide lower-layer sibling")
	}
	if _, ok := mergedD.Children["new.txt"]; !ok {
		t.Errorf("new.txt missing after opaque replace")
	}
	if _, ok := mergedD.Children[".wh..wh..opq"]; ok {
		t.Errorf("opaque marker leaked into merged tree")
	}
}

func TestMergeLayersRecursesIntoOrdinaryDirectories(t *testing.T) {
	now := time.Now().UTC()
	base := dirWith(now, map[fsmeta.Segment]vfscore.Entity{
		"d": dirWith(now, map[fsmeta.Segment]vfscore.Entity{
			"a.txt": fileEntity("a.txt", now, "1"),
		}),
	})
	top := dirWith(now, map[fsmeta.Segment]vfscore.Entity{
		"d": dirWith(now, map[fsmeta.Segment]vfscore.Entity{
			"b.txt": fileEntity("b.txt", now, "2"),
		}),
	})

	merged := MergeLayers([]*vfscore.DirEntity{base, top})
	mergedD := merged.Children["d"].(*vfscore.DirEntity)
	if _, ok := mergedD.Children["a.txt"]; !ok {
		t.Errorf("expected a.txt to survive recursive merge")
	}
	if _, ok := mergedD.Children["b.txt"]; !ok {
		t.Errorf("expected b.txt from top layer in recursive merge")
	}
}

func TestMergeLayersFileReplacesOutright(t *testing.T) {
	now := time.Now().UTC()
	base := dirWith(now, map[fsmeta.Segment]vfscore.Entity{
		"a.txt": fileEntity("a.txt", now, "old"),
	})
	top := dirWith(now, map[fsmeta.Segment]vfscore.Entity{
		"a.txt": fileEntity("a.txt", now, "new"),
	})

	merged := MergeLayers([]*vfscore.DirEntity{base, top})
	f := merged.Children["a.txt"].(*vfscore.FileEntity)
	if string(f.Content) != "new" {
		t.Errorf("file content = %q, want %q", f.Content, "new")
	}
}
