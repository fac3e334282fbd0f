package vfscore

import (
	"context"
	"sync"
	"time"

	"github.com/tinyrange/msandbox/internal/errs"
	"github.com/tinyrange/msandbox/internal/fsmeta"
)

// node is the in-memory representation of a single entity. Exactly one
// of content, children, or target is meaningful, selected by
// meta.Kind.
type node struct {
	meta     fsmeta.Metadata
	content  []byte
	children map[fsmeta.Segment]*node
	target   string
}

func newFileNode(now time.Time) *node {
	return &node{meta: fsmeta.NewMetadata(fsmeta.KindFile, now)}
}

func newDirNode(now time.Time) *node {
	return &node{
		meta:     fsmeta.NewMetadata(fsmeta.KindDirectory, now),
		children: make(map[fsmeta.Segment]*node),
	}
}

func newSymlinkNode(now time.Time, target string) *node {
	return &node{
		meta:   fsmeta.NewMetadata(fsmeta.KindSymlink, now),
		target: target,
	}
}

// MemoryVFS is the in-memory reference VFS backend. All traversal
// takes the root read lock; all mutation takes the root write lock, so
// operations within a single instance are linearizable.
type MemoryVFS struct {
	mu   sync.RWMutex
	root *node
	now  func() time.Time
}

// NewMemoryVFS returns an empty in-memory filesystem rooted at an
// empty directory.
func NewMemoryVFS() *MemoryVFS {
	now := time.Now().UTC()
	return &MemoryVFS{root: newDirNode(now), now: time.Now}
}

// find walks p from the root, returning the terminal node or a
// taxonomy error. It never mutates the tree.
func (m *MemoryVFS) find(p fsmeta.Path) (*node, error) {
	cur := m.root
	for i, seg := range p {
		if cur.meta.Kind != fsmeta.KindDirectory {
			return nil, errs.New(errs.NotADirectory, "find", p[:i].String(), nil)
		}
		next, ok := cur.children[seg]
		if !ok {
			return nil, errs.New(errs.NotFound, "find", p[:i+1].String(), nil)
		}
		cur = next
	}
	return cur, nil
}

// findParent resolves p's parent directory, returning it and p's last
// segment. The root path has no parent.
func (m *MemoryVFS) findParent(p fsmeta.Path) (*node, fsmeta.Segment, error) {
	parentPath, last, ok := p.Parent()
	if !ok {
		return nil, "", errs.New(errs.ParentDirectoryNotFound, "findParent", p.String(), nil)
	}
	parent, err := m.find(parentPath)
	if err != nil {
		if e, ok := err.(*errs.Error); ok && e.Kind == errs.NotFound {
			return nil, "", errs.New(errs.ParentDirectoryNotFound, "findParent", parentPath.String(), nil)
		}
		return nil, "", err
	}
	if parent.meta.Kind != fsmeta.KindDirectory {
		return nil, "", errs.New(errs.NotADirectory, "findParent", parentPath.String(), nil)
	}
	return parent, last, nil
}

func (m *MemoryVFS) Exists(_ context.Context, p fsmeta.Path) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.find(p)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound || errs.KindOf(err) == errs.NotADirectory {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *MemoryVFS) CreateFile(_ context.Context, p fsmeta.Path, existsOk bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, last, err := m.findParent(p)
	if err != nil {
		return err
	}
	if existing, ok := parent.children[last]; ok {
		if existing.meta.Kind == fsmeta.KindFile && existsOk {
			return nil
		}
		return errs.New(errs.AlreadyExists, "CreateFile", p.String(), nil)
	}
	parent.children[last] = newFileNode(m.now())
	parent.meta.ModifiedAt = m.now()
	return nil
}

func (m *MemoryVFS) CreateDirectory(_ context.Context, p fsmeta.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, last, err := m.findParent(p)
	if err != nil {
		return err
	}
	if _, ok := parent.children[last]; ok {
		return errs.New(errs.AlreadyExists, "CreateDirectory", p.String(), nil)
	}
	parent.children[last] = newDirNode(m.now())
	parent.meta.ModifiedAt = m.now()
	return nil
}

func (m *MemoryVFS) CreateSymlink(_ context.Context, p fsmeta.Path, target string) error {
	if target == "" {
		return errs.New(errs.InvalidSymlinkTarget, "CreateSymlink", p.String(), nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, last, err := m.findParent(p)
	if err != nil {
		return err
	}
	if _, ok := parent.children[last]; ok {
		return errs.New(errs.AlreadyExists, "CreateSymlink", p.String(), nil)
	}
	parent.children[last] = newSymlinkNode(m.now(), target)
	parent.meta.ModifiedAt = m.now()
	return nil
}

func (m *MemoryVFS) ReadFile(_ context.Context, p fsmeta.Path, offset uint64, length uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.find(p)
	if err != nil {
		return nil, err
	}
	if n.meta.Kind != fsmeta.KindFile {
		return nil, errs.New(errs.NotAFile, "ReadFile", p.String(), nil)
	}
	size := uint64(len(n.content))
	if offset >= size {
		return []byte{}, nil
	}
	end := offset + uint64(length)
	if end > size {
		end = size
	}
	out := make([]byte, end-offset)
	copy(out, n.content[offset:end])
	return out, nil
}

func (m *MemoryVFS) ReadDirectory(_ context.Context, p fsmeta.Path) ([]fsmeta.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.find(p)
	if err != nil {
		return nil, err
	}
	if n.meta.Kind != fsmeta.KindDirectory {
		return nil, errs.New(errs.NotADirectory, "ReadDirectory", p.String(), nil)
	}
	out := make([]fsmeta.Segment, 0, len(n.children))
	for seg := range n.children {
		out = append(out, seg)
	}
	return out, nil
}

func (m *MemoryVFS) ReadSymlink(_ context.Context, p fsmeta.Path) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.find(p)
	if err != nil {
		return "", err
	}
	if n.meta.Kind != fsmeta.KindSymlink {
		return "", errs.New(errs.NotASymlink, "ReadSymlink", p.String(), nil)
	}
	return n.target, nil
}

func (m *MemoryVFS) GetMetadata(_ context.Context, p fsmeta.Path) (fsmeta.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.find(p)
	if err != nil {
		return fsmeta.Metadata{}, err
	}
	md := n.meta
	md.Size = entitySize(n)
	return md, nil
}

func entitySize(n *node) uint64 {
	switch n.meta.Kind {
	case fsmeta.KindFile:
		return uint64(len(n.content))
	case fsmeta.KindSymlink:
		return uint64(len(n.target))
	default:
		return n.meta.Size
	}
}

func (m *MemoryVFS) SetMetadata(_ context.Context, p fsmeta.Path, md fsmeta.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.find(p)
	if err != nil {
		return err
	}
	kind := n.meta.Kind
	n.meta = md
	n.meta.Kind = kind
	return nil
}

func (m *MemoryVFS) WriteFile(_ context.Context, p fsmeta.Path, offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.find(p)
	if err != nil {
		return err
	}
	if n.meta.Kind != fsmeta.KindFile {
		return errs.New(errs.NotAFile, "WriteFile", p.String(), nil)
	}
	need := offset + uint64(len(data))
	if need > uint64(len(n.content)) {
		grown := make([]byte, need)
		copy(grown, n.content)
		n.content = grown
	}
	copy(n.content[offset:], data)
	n.meta.ModifiedAt = m.now()
	return nil
}

func (m *MemoryVFS) Remove(_ context.Context, p fsmeta.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, last, err := m.findParent(p)
	if err != nil {
		return err
	}
	n, ok := parent.children[last]
	if !ok {
		return errs.New(errs.NotFound, "Remove", p.String(), nil)
	}
	if n.meta.Kind == fsmeta.KindDirectory {
		return errs.New(errs.NotAFile, "Remove", p.String(), nil)
	}
	delete(parent.children, last)
	parent.meta.ModifiedAt = m.now()
	return nil
}

func (m *MemoryVFS) RemoveDirectory(_ context.Context, p fsmeta.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, last, err := m.findParent(p)
	if err != nil {
		return err
	}
	n, ok := parent.children[last]
	if !ok {
		return errs.New(errs.NotFound, "RemoveDirectory", p.String(), nil)
	}
	if n.meta.Kind != fsmeta.KindDirectory {
		return errs.New(errs.NotADirectory, "RemoveDirectory", p.String(), nil)
	}
	if len(n.children) > 0 {
		return errs.New(errs.DirectoryNotEmpty, "RemoveDirectory", p.String(), nil)
	}
	delete(parent.children, last)
	parent.meta.ModifiedAt = m.now()
	return nil
}

func (m *MemoryVFS) Rename(_ context.Context, oldPath, newPath fsmeta.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldParent, oldLast, err := m.findParent(oldPath)
	if err != nil {
		return err
	}
	moved, ok := oldParent.children[oldLast]
	if !ok {
		return errs.New(errs.NotFound, "Rename", oldPath.String(), nil)
	}

	newParent, newLast, err := m.findParent(newPath)
	if err != nil {
		return err
	}
	if _, ok := newParent.children[newLast]; ok {
		return errs.New(errs.AlreadyExists, "Rename", newPath.String(), nil)
	}

	delete(oldParent.children, oldLast)
	newParent.children[newLast] = moved
	now := m.now()
	oldParent.meta.ModifiedAt = now
	newParent.meta.ModifiedAt = now
	return nil
}
