package fsmeta

import (
	"errors"
	"testing"

	"github.com/tinyrange/msandbox/internal/errs"
)

func TestNewSegmentRejectsInvalid(t *testing.T) {
	cases := []string{"", ".", "..", "a/b"}
	for _, c := range cases {
		if _, err := NewSegment(c); err == nil {
			t.Errorf("NewSegment(%q): expected error, got nil", c)
		} else if !errors.Is(err, errs.Sentinel(errs.InvalidPathComponent)) {
			t.Errorf("NewSegment(%q): expected InvalidPathComponent, got %v", c, err)
		}
	}
}

func TestNewSegmentAccepts(t *testing.T) {
	if _, err := NewSegment("etc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSplitAndString(t *testing.T) {
	p, err := Split("/usr//local/bin/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := p.String(), "usr/local/bin"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSplitRejectsDotDot(t *testing.T) {
	if _, err := Split("/usr/../etc"); err == nil {
		t.Fatalf("expected error for traversal component")
	}
}

func TestPathParent(t *testing.T) {
	p, _ := Split("a/b/c")
	parent, last, ok := p.Parent()
	if !ok {
		t.Fatalf("expected ok")
	}
	if parent.String() != "a/b" || string(last) != "c" {
		t.Errorf("Parent() = (%q, %q)", parent, last)
	}

	root := Path{}
	if _, _, ok := root.Parent(); ok {
		t.Errorf("Parent() on root should report ok=false")
	}
}

func TestPathJoinDoesNotMutate(t *testing.T) {
	base, _ := Split("a/b")
	joined := base.Join("c")
	if base.String() != "a/b" {
		t.Errorf("Join mutated receiver: %q", base.String())
	}
	if joined.String() != "a/b/c" {
		t.Errorf("Join() = %q", joined.String())
	}
}
