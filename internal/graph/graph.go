// Package graph is the logical node graph: typed, named nodes that
// gameplay and serialization code work with. Every logical node is paired
// 1:1 with a runtime node in an ecs.World, and every hierarchy mutation is
// made through the world's mirror link so the two graphs never diverge.
package graph

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/ident"
	"github.com/nodeforge/runtime/internal/core/typereg"
)

var (
	ErrUnknownType = errors.New("type not registered")
	ErrNotNode     = errors.New("type is not a node type")
)

// Node is a logical node. Its runtime pairing is fixed at creation.
type Node struct {
	Name   string
	Type   ident.TypeID
	Fields map[string]string

	runtime  ecs.Handle
	parent   ecs.Handle
	children []ecs.Handle
}

func (n *Node) Runtime() ecs.Handle    { return n.runtime }
func (n *Node) Parent() ecs.Handle     { return n.parent }
func (n *Node) Children() []ecs.Handle { return slices.Clone(n.children) }

// Graph owns the logical nodes and the world's mirror link.
type Graph struct {
	log      *zap.Logger
	world    *ecs.World
	link     *ecs.MirrorLink
	types    *typereg.Registry
	nodeType ident.TypeID
	nodes    *ecs.Arena[Node]
	byName   map[string][]ecs.Handle
}

// New binds a graph to w. A world carries at most one graph.
func New(w *ecs.World, types *typereg.Registry, log *zap.Logger) (*Graph, error) {
	if log == nil {
		log = zap.NewNop()
	}
	link, err := w.BindMirror()
	if err != nil {
		return nil, fmt.Errorf("bind graph: %w", err)
	}
	info, ok := types.FindByName(typereg.NodeType)
	if !ok {
		return nil, fmt.Errorf("bind graph: %s: %w", typereg.NodeType, ErrUnknownType)
	}
	g := &Graph{
		log:      log,
		world:    w,
		link:     link,
		types:    types,
		nodeType: info.ID,
		nodes:    ecs.NewArena[Node](0),
		byName:   make(map[string][]ecs.Handle, 64),
	}
	w.Observe(ecs.Listener{NodeDestroyed: g.runtimeDestroyed})
	return g, nil
}

func (g *Graph) World() *ecs.World        { return g.world }
func (g *Graph) Types() *typereg.Registry { return g.types }
func (g *Graph) Len() int                 { return g.nodes.Len() }

// CreateLogical creates a root logical node and its runtime pair.
func (g *Graph) CreateLogical(typ ident.TypeID, name string) (ecs.Handle, error) {
	return g.CreateLogicalWithID(typ, name, ident.New())
}

// CreateLogicalWithID creates a node under an explicit unique id, shared
// by the logical and the runtime node. Used by snapshot restore.
func (g *Graph) CreateLogicalWithID(typ ident.TypeID, name string, id ident.UniqueID) (ecs.Handle, error) {
	if _, ok := g.types.Find(typ); !ok {
		return ecs.Handle{}, fmt.Errorf("create %q: %s: %w", name, typ, ErrUnknownType)
	}
	if !g.types.IsA(typ, g.nodeType) {
		return ecs.Handle{}, fmt.Errorf("create %q: %w", name, ErrNotNode)
	}
	name = norm.NFC.String(name)
	lh, err := g.nodes.CreateWithID(id, ecs.Handle{}, Node{Name: name, Type: typ})
	if err != nil {
		return ecs.Handle{}, fmt.Errorf("create %q: %w", name, err)
	}
	rh, err := g.link.CreateNode(id, name, typ, lh)
	if err != nil {
		g.nodes.Destroy(lh)
		return ecs.Handle{}, fmt.Errorf("create %q: %w", name, err)
	}
	g.nodes.Resolve(lh).runtime = rh
	g.byName[name] = append(g.byName[name], lh)
	return lh, nil
}

// Resolve returns the live logical node, or nil.
func (g *Graph) Resolve(h ecs.Handle) *Node { return g.nodes.Resolve(h) }

// ResolveAs returns the node only if its type is-a base.
func (g *Graph) ResolveAs(h ecs.Handle, base ident.TypeID) (*Node, bool) {
	n := g.nodes.Resolve(h)
	if n == nil || !g.types.IsA(n.Type, base) {
		return nil, false
	}
	return n, true
}

// Runtime returns the runtime handle paired with h.
func (g *Graph) Runtime(h ecs.Handle) (ecs.Handle, bool) {
	n := g.nodes.Resolve(h)
	if n == nil {
		return ecs.Handle{}, false
	}
	return n.runtime, true
}

// Logical maps a runtime handle back to its logical node.
func (g *Graph) Logical(rh ecs.Handle) (ecs.Handle, bool) {
	rec := g.world.Node(rh)
	if rec == nil || !rec.Mirrored || !g.nodes.Valid(rec.Logical) {
		return ecs.Handle{}, false
	}
	return rec.Logical, true
}

// ByID resolves a logical handle from its unique id.
func (g *Graph) ByID(id ident.UniqueID) (ecs.Handle, bool) {
	return g.nodes.HandleByID(id)
}

// AttachLogical parents child under parent in both graphs. The runtime
// hierarchy validates the move first; on failure neither graph changes.
func (g *Graph) AttachLogical(parent, child ecs.Handle) error {
	p, c := g.nodes.Resolve(parent), g.nodes.Resolve(child)
	if p == nil || c == nil {
		return ecs.ErrStaleHandle
	}
	if c.parent == parent {
		return nil
	}
	if err := g.link.Attach(p.runtime, c.runtime); err != nil {
		return err
	}
	p.children = append(p.children, child)
	c.parent = parent
	return nil
}

// DetachLogical makes child a root in both graphs.
func (g *Graph) DetachLogical(child ecs.Handle) error {
	c := g.nodes.Resolve(child)
	if c == nil {
		return ecs.ErrStaleHandle
	}
	if err := g.link.Detach(c.runtime); err != nil {
		return err
	}
	if p := g.nodes.Resolve(c.parent); p != nil {
		p.children = removeHandle(p.children, child)
	}
	c.parent = ecs.Handle{}
	return nil
}

// DestroyLogical queues h and its subtree. The logical nodes are removed
// during the world's next flush, together with their runtime pairs.
func (g *Graph) DestroyLogical(h ecs.Handle) error {
	n := g.nodes.Resolve(h)
	if n == nil {
		return ecs.ErrStaleHandle
	}
	return g.link.RequestDestroy(n.runtime)
}

// DestroyRuntime queues the subtree of a runtime node, going through the
// logical graph when the node is mirrored.
func (g *Graph) DestroyRuntime(rh ecs.Handle) error {
	if lh, ok := g.Logical(rh); ok {
		return g.DestroyLogical(lh)
	}
	return g.world.RequestDestroy(rh)
}

// Rename changes a node's name in both graphs.
func (g *Graph) Rename(h ecs.Handle, name string) error {
	n := g.nodes.Resolve(h)
	if n == nil {
		return ecs.ErrStaleHandle
	}
	name = norm.NFC.String(name)
	g.unindex(n.Name, h)
	n.Name = name
	g.byName[name] = append(g.byName[name], h)
	return g.link.Rename(n.runtime, name)
}

// SetActive switches the node's components in or out of the frame phases.
func (g *Graph) SetActive(h ecs.Handle, active bool) error {
	n := g.nodes.Resolve(h)
	if n == nil {
		return ecs.ErrStaleHandle
	}
	return g.link.SetActive(n.runtime, active)
}

// Active reports whether the node's components tick.
func (g *Graph) Active(h ecs.Handle) bool {
	n := g.nodes.Resolve(h)
	return n != nil && g.world.Active(n.runtime)
}

// SetField stores a free-form string property on the node.
func (g *Graph) SetField(h ecs.Handle, key, value string) error {
	n := g.nodes.Resolve(h)
	if n == nil {
		return ecs.ErrStaleHandle
	}
	if n.Fields == nil {
		n.Fields = make(map[string]string, 4)
	}
	n.Fields[key] = value
	return nil
}

// FindByName returns every live node named name, in creation order.
// Names compare after NFC normalisation.
func (g *Graph) FindByName(name string) []ecs.Handle {
	return slices.Clone(g.byName[norm.NFC.String(name)])
}

// Roots lists logical nodes without a parent, in slot order.
func (g *Graph) Roots() []ecs.Handle {
	var out []ecs.Handle
	g.nodes.Each(func(h ecs.Handle, n *Node) bool {
		if n.parent.IsZero() {
			out = append(out, h)
		}
		return true
	})
	return out
}

// Visitor receives one live node and its attached components.
type Visitor func(h ecs.Handle, n *Node, components []ecs.ComponentRef) bool

// ForEachNode visits every live logical node depth-first from the roots,
// parents before children, until v returns false.
func (g *Graph) ForEachNode(v Visitor) error {
	maxDepth := g.world.Hierarchy().MaxDepth()
	type item struct {
		h     ecs.Handle
		depth int
	}
	roots := g.Roots()
	stack := make([]item, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, item{h: roots[i]})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.depth > maxDepth {
			return ecs.ErrDepthExceeded
		}
		n := g.nodes.Resolve(top.h)
		if n == nil {
			continue
		}
		if !v(top.h, n, g.world.Components(n.runtime)) {
			return nil
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, item{h: n.children[i], depth: top.depth + 1})
		}
	}
	return nil
}

// runtimeDestroyed tears down the logical side of a mirrored runtime node.
// The world destroys leaves first, so children are already gone.
func (g *Graph) runtimeDestroyed(rh ecs.Handle, rec *ecs.NodeRecord) {
	if !rec.Mirrored {
		return
	}
	lh := rec.Logical
	n := g.nodes.Resolve(lh)
	if n == nil {
		g.log.Warn("mirrored node without logical pair", zap.Stringer("runtime", rh))
		return
	}
	if p := g.nodes.Resolve(n.parent); p != nil {
		p.children = removeHandle(p.children, lh)
	}
	g.unindex(n.Name, lh)
	n.runtime = ecs.Handle{}
	g.nodes.Destroy(lh)
}

func (g *Graph) unindex(name string, h ecs.Handle) {
	list := removeHandle(g.byName[name], h)
	if len(list) == 0 {
		delete(g.byName, name)
		return
	}
	g.byName[name] = list
}

func removeHandle(list []ecs.Handle, h ecs.Handle) []ecs.Handle {
	if i := slices.Index(list, h); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}
