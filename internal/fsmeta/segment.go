// Package fsmeta provides path-segment and metadata primitives shared
// by the in-memory VFS, the overlay, and the OCI layer engine.
package fsmeta

import (
	"strings"

	"github.com/tinyrange/msandbox/internal/errs"
)

// Segment is a single validated path component: non-empty, contains no
// "/", and is never "." or "..".
type Segment string

// NewSegment validates s and returns it as a Segment.
func NewSegment(s string) (Segment, error) {
	if s == "" {
		return "", errs.New(errs.InvalidPathComponent, "NewSegment", s, nil)
	}
	if strings.Contains(s, "/") {
		return "", errs.New(errs.InvalidPathComponent, "NewSegment", s, nil)
	}
	if s == "." || s == ".." {
		return "", errs.New(errs.InvalidPathComponent, "NewSegment", s, nil)
	}
	return Segment(s), nil
}

// Path is an ordered sequence of segments. The empty sequence denotes
// the root.
type Path []Segment

// Split parses a "/"-joined string into a Path, rejecting any
// component that is not a plain "normal" component ("." or "..").
// Empty components from leading, trailing or repeated slashes are
// skipped.
func Split(p string) (Path, error) {
	if p == "" || p == "/" || p == "." {
		return nil, nil
	}
	parts := strings.Split(p, "/")
	out := make(Path, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		seg, err := NewSegment(part)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// String joins the path's segments with "/". The root path renders as
// the empty string.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = string(s)
	}
	return strings.Join(parts, "/")
}

// Parent returns all but the last segment, and the last segment
// itself. Calling Parent on the root path returns (nil, "", false).
func (p Path) Parent() (Path, Segment, bool) {
	if len(p) == 0 {
		return nil, "", false
	}
	return p[:len(p)-1], p[len(p)-1], true
}

// Join appends a segment, returning a new Path (the receiver is not
// mutated).
func (p Path) Join(s Segment) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = s
	return out
}

// IsRoot reports whether p denotes the root.
func (p Path) IsRoot() bool { return len(p) == 0 }
