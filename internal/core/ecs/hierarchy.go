package ecs

import (
	"slices"

	"github.com/kamstrup/intmap"
)

// DefaultMaxDepth bounds every ancestor walk and subtree traversal.
const DefaultMaxDepth = 256

type hierarchyEntry struct {
	parent   Handle
	children []Handle
	gen      uint32
	live     bool

	local    Transform
	hasLocal bool
	world    Transform
	hasWorld bool
	dirty    bool
}

// Hierarchy is the parent/child adjacency over runtime node handles. It
// is indexed by node slot and guarded by generation, independent of how
// the node arena lays out its blocks. Mutation goes through World.
type Hierarchy struct {
	entries  []hierarchyEntry
	roots    []Handle
	rootPos  *intmap.Map[uint32, int]
	maxDepth int
	scratch  []Handle
}

func newHierarchy(maxDepth int) *Hierarchy {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Hierarchy{
		entries:  make([]hierarchyEntry, 0, 256),
		roots:    make([]Handle, 0, 64),
		rootPos:  intmap.New[uint32, int](64),
		maxDepth: maxDepth,
	}
}

func (h *Hierarchy) MaxDepth() int { return h.maxDepth }

func (h *Hierarchy) entry(n Handle) *hierarchyEntry {
	if n.IsZero() || int(n.Index) >= len(h.entries) {
		return nil
	}
	e := &h.entries[n.Index]
	if !e.live || e.gen != n.Generation {
		return nil
	}
	return e
}

// add registers a freshly created node as a root.
func (h *Hierarchy) add(n Handle) {
	for int(n.Index) >= len(h.entries) {
		h.entries = append(h.entries, hierarchyEntry{})
	}
	h.entries[n.Index] = hierarchyEntry{gen: n.Generation, live: true, dirty: true}
	h.addRoot(n)
}

// remove unlinks n from its parent and the root set and clears its entry.
// Children are left pointing at n; callers remove them first.
func (h *Hierarchy) remove(n Handle) {
	e := h.entry(n)
	if e == nil {
		return
	}
	if pe := h.entry(e.parent); pe != nil {
		pe.children = removeHandle(pe.children, n)
	}
	h.removeRoot(n)
	h.entries[n.Index] = hierarchyEntry{}
}

func (h *Hierarchy) attach(parent, child Handle) error {
	pe, ce := h.entry(parent), h.entry(child)
	if pe == nil || ce == nil {
		return ErrStaleHandle
	}
	if parent == child {
		return ErrSelfParent
	}
	if !ce.parent.IsZero() {
		if ce.parent == parent {
			return nil
		}
		return ErrAlreadyParented
	}
	// Walk the candidate parent's ancestors looking for child.
	depth := 0
	for cur := parent; !cur.IsZero(); {
		if cur == child {
			return ErrCycle
		}
		depth++
		if depth > h.maxDepth {
			return ErrDepthExceeded
		}
		e := h.entry(cur)
		if e == nil {
			break
		}
		cur = e.parent
	}
	// child lands at depth; its deepest descendant must stay within bounds.
	if _, err := h.height(child, h.maxDepth-depth); err != nil {
		return err
	}

	pe.children = append(pe.children, child)
	ce.parent = parent
	h.removeRoot(child)
	h.markDirty(child)
	return nil
}

func (h *Hierarchy) detach(child Handle) error {
	ce := h.entry(child)
	if ce == nil {
		return ErrStaleHandle
	}
	if ce.parent.IsZero() {
		return ErrNotAttached
	}
	if pe := h.entry(ce.parent); pe != nil {
		pe.children = removeHandle(pe.children, child)
	}
	ce.parent = Handle{}
	h.addRoot(child)
	h.markDirty(child)
	return nil
}

// Parent returns n's parent, or a zero handle for roots and stale handles.
func (h *Hierarchy) Parent(n Handle) Handle {
	if e := h.entry(n); e != nil {
		return e.parent
	}
	return Handle{}
}

// Children returns a copy of n's ordered child list.
func (h *Hierarchy) Children(n Handle) []Handle {
	e := h.entry(n)
	if e == nil {
		return nil
	}
	return slices.Clone(e.children)
}

// Roots returns a copy of the current root set.
func (h *Hierarchy) Roots() []Handle { return slices.Clone(h.roots) }

func (h *Hierarchy) IsRoot(n Handle) bool {
	_, ok := h.rootPos.Get(n.Index)
	return ok && h.entry(n) != nil
}

// Depth returns the number of ancestors above n.
func (h *Hierarchy) Depth(n Handle) (int, error) {
	e := h.entry(n)
	if e == nil {
		return 0, ErrStaleHandle
	}
	depth := 0
	for !e.parent.IsZero() {
		depth++
		if depth > h.maxDepth {
			return 0, ErrDepthExceeded
		}
		if e = h.entry(e.parent); e == nil {
			break
		}
	}
	return depth, nil
}

// postOrder lists the subtree under root, leaves before parents. It fails
// closed if the subtree is deeper than maxDepth.
func (h *Hierarchy) postOrder(root Handle) ([]Handle, error) {
	type frame struct {
		n        Handle
		depth    int
		expanded bool
	}
	if h.entry(root) == nil {
		return nil, ErrStaleHandle
	}
	var out []Handle
	stack := []frame{{n: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.expanded {
			out = append(out, top.n)
			continue
		}
		if top.depth > h.maxDepth {
			return nil, ErrDepthExceeded
		}
		e := h.entry(top.n)
		if e == nil {
			continue
		}
		stack = append(stack, frame{n: top.n, depth: top.depth, expanded: true})
		for i := len(e.children) - 1; i >= 0; i-- {
			stack = append(stack, frame{n: e.children[i], depth: top.depth + 1})
		}
	}
	return out, nil
}

// height returns how many levels lie below n, failing with
// ErrDepthExceeded as soon as it passes limit.
func (h *Hierarchy) height(n Handle, limit int) (int, error) {
	type frame struct {
		n     Handle
		depth int
	}
	if limit < 0 {
		return 0, ErrDepthExceeded
	}
	best := 0
	stack := []frame{{n: n}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.depth > limit {
			return 0, ErrDepthExceeded
		}
		best = max(best, top.depth)
		e := h.entry(top.n)
		if e == nil {
			continue
		}
		for _, c := range e.children {
			stack = append(stack, frame{n: c, depth: top.depth + 1})
		}
	}
	return best, nil
}

func (h *Hierarchy) addRoot(n Handle) {
	if _, ok := h.rootPos.Get(n.Index); ok {
		return
	}
	h.rootPos.Put(n.Index, len(h.roots))
	h.roots = append(h.roots, n)
}

func (h *Hierarchy) removeRoot(n Handle) {
	pos, ok := h.rootPos.Get(n.Index)
	if !ok {
		return
	}
	last := len(h.roots) - 1
	if pos != last {
		moved := h.roots[last]
		h.roots[pos] = moved
		h.rootPos.Put(moved.Index, pos)
	}
	h.roots = h.roots[:last]
	h.rootPos.Del(n.Index)
}

func removeHandle(list []Handle, n Handle) []Handle {
	if i := slices.Index(list, n); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}
