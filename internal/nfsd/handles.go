package nfsd

import (
	"strings"
	"sync"

	"github.com/tinyrange/msandbox/internal/errs"
	"github.com/tinyrange/msandbox/internal/fsmeta"
)

// symbol is an interned path-component id. The zero value never
// names a real string; NewHandleTable reserves it.
type symbol uint32

// RootFileID is the fixed fileid of the filesystem root (spec §3, §4.E).
const RootFileID uint64 = 0

// HandleTable is the fileid<->path bijection described in spec.md
// §3 and §9: a monotonic counter, an interning symbol table for path
// segments, and two maps kept in sync under a fixed lock order
// (fileid->path, then path->fileid) so the maps never diverge.
//
// Grounded on original_source/monofs/lib/server/nfs.rs's MonofsNFS
// (next_fileid AtomicU64, filenames SymbolTable, fileid_to_path_map,
// path_to_fileid_map).
type HandleTable struct {
	symMu  sync.Mutex
	names  map[string]symbol
	interp []string // symbol -> string, index 0 unused

	// idToPathMu guards byID (and the monotonic counter); pathToIDMu
	// guards byPath. Always acquired in this order — fileid->path
	// then path->fileid — so concurrent lookups never deadlock, per
	// spec §5.
	idToPathMu sync.Mutex
	next       uint64
	byID       map[uint64][]symbol
	invalid    map[uint64]bool

	pathToIDMu sync.Mutex
	byPath     map[string]uint64 // key: strings.Join(segment strings, "/")
}

// NewHandleTable returns a table with fileid 0 pre-registered as the
// root (the empty path).
func NewHandleTable() *HandleTable {
	t := &HandleTable{
		names:   make(map[string]symbol),
		interp:  make([]string, 1), // index 0 reserved, unused
		next:    1,
		byID:    make(map[uint64][]symbol),
		byPath:  make(map[string]uint64),
		invalid: make(map[uint64]bool),
	}
	t.byID[RootFileID] = nil
	t.byPath[""] = RootFileID
	return t
}

// intern returns the symbol for s, allocating one if s is new.
func (t *HandleTable) intern(s string) symbol {
	t.symMu.Lock()
	defer t.symMu.Unlock()
	if id, ok := t.names[s]; ok {
		return id
	}
	t.interp = append(t.interp, s)
	id := symbol(len(t.interp) - 1)
	t.names[s] = id
	return id
}

func (t *HandleTable) resolveSymbol(id symbol) string {
	t.symMu.Lock()
	defer t.symMu.Unlock()
	return t.interp[id]
}

func (t *HandleTable) internPath(p fsmeta.Path) []symbol {
	syms := make([]symbol, len(p))
	for i, seg := range p {
		syms[i] = t.intern(string(seg))
	}
	return syms
}

func pathKey(p fsmeta.Path) string {
	return p.String()
}

// EnsureRegistered returns the fileid for p, allocating a new one if
// p has never been seen before. Identical paths always map to the
// same id for the lifetime of the table (spec §4.E). Both maps are
// locked, in order, for the whole operation so they never diverge.
func (t *HandleTable) EnsureRegistered(p fsmeta.Path) uint64 {
	key := pathKey(p)
	syms := t.internPath(p)

	t.idToPathMu.Lock()
	defer t.idToPathMu.Unlock()
	t.pathToIDMu.Lock()
	defer t.pathToIDMu.Unlock()

	if id, ok := t.byPath[key]; ok {
		delete(t.invalid, id)
		return id
	}
	id := t.next
	t.next++
	t.byID[id] = syms
	t.byPath[key] = id
	return id
}

// Resolve returns the path for a previously registered fileid.
// A stale (removed) or never-issued id fails with errs.StaleHandle.
func (t *HandleTable) Resolve(id uint64) (fsmeta.Path, error) {
	if id == RootFileID {
		return nil, nil
	}
	t.idToPathMu.Lock()
	syms, ok := t.byID[id]
	stale := t.invalid[id]
	t.idToPathMu.Unlock()
	if !ok || stale {
		return nil, errs.New(errs.StaleHandle, "Resolve", "", nil)
	}
	segs := make(fsmeta.Path, len(syms))
	for i, s := range syms {
		seg, err := fsmeta.NewSegment(t.resolveSymbol(s))
		if err != nil {
			return nil, err
		}
		segs[i] = seg
	}
	return segs, nil
}

// ResolveString renders the path for id the way spec.md §4.E's
// resolve(id) does: segments joined with "/".
func (t *HandleTable) ResolveString(id uint64) (string, error) {
	p, err := t.Resolve(id)
	if err != nil {
		return "", err
	}
	return strings.Join(segmentStrings(p), "/"), nil
}

func segmentStrings(p fsmeta.Path) []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = string(s)
	}
	return out
}

// Invalidate marks id as stale. Spec §3: "removing a path does not
// reclaim its handle immediately — the handle becomes stale and
// operations return a 'no such entry' error." The path->id entry is
// dropped immediately so a later create of the same path allocates a
// fresh id rather than resurrecting the removed one.
func (t *HandleTable) Invalidate(id uint64) {
	if id == RootFileID {
		return
	}
	t.idToPathMu.Lock()
	defer t.idToPathMu.Unlock()
	t.pathToIDMu.Lock()
	defer t.pathToIDMu.Unlock()
	if syms, ok := t.byID[id]; ok {
		segs := make(fsmeta.Path, len(syms))
		for i, s := range syms {
			segs[i] = fsmeta.Segment(t.resolveSymbol(s))
		}
		delete(t.byPath, pathKey(segs))
	}
	t.invalid[id] = true
}

// Rebind moves the registration at oldPath (if any) to newPath,
// keeping the same fileid — used after Rename so existing handles
// referring to the renamed entity keep resolving.
func (t *HandleTable) Rebind(oldPath, newPath fsmeta.Path) {
	oldKey, newKey := pathKey(oldPath), pathKey(newPath)
	newSyms := t.internPath(newPath)

	t.idToPathMu.Lock()
	defer t.idToPathMu.Unlock()
	t.pathToIDMu.Lock()
	defer t.pathToIDMu.Unlock()

	id, ok := t.byPath[oldKey]
	if !ok {
		return
	}
	delete(t.byPath, oldKey)
	t.byID[id] = newSyms
	t.byPath[newKey] = id
}
