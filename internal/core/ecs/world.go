package ecs

import (
	"go.uber.org/zap"

	"github.com/nodeforge/runtime/internal/core/ident"
)

// NodeTypeName is the declared name of the runtime node record storage.
const NodeTypeName = "core.RuntimeNode"

// NodeRecord is the payload of a runtime node.
type NodeRecord struct {
	Name   string
	Type   ident.TypeID
	// Active gates the phase callbacks of the node's components. Set it
	// through SetActive.
	Active bool

	// Mirrored nodes belong to a logical graph; Logical is the logical
	// handle they pair with.
	Mirrored bool
	Logical  Handle
}

func (NodeRecord) TypeName() string { return NodeTypeName }

// Listener receives synchronous notifications from the world. Any field
// may be nil. Destroy notifications arrive before the slot is freed.
type Listener struct {
	NodeCreated      func(n Handle, rec *NodeRecord)
	NodeDestroyed    func(n Handle, rec *NodeRecord)
	ComponentAdded   func(node, comp Handle, typ ident.TypeID)
	ComponentRemoved func(node, comp Handle, typ ident.TypeID)
}

// Options configures a World.
type Options struct {
	BlockSize int
	MaxDepth  int
	Log       *zap.Logger
}

// World is the top-level runtime container. It owns the storage registry,
// the node arena and hierarchy, component attachments, and a deferred
// destruction queue flushed once per frame.
type World struct {
	log         *zap.Logger
	storages    *Registry
	nodeStore   *typedStorage[NodeRecord]
	nodes       *Arena[NodeRecord]
	hierarchy   *Hierarchy
	attachments []attachment
	queue       destroyQueue
	listeners   []Listener
	mirror      *MirrorLink
	frame       Frame
	flushing    bool
	inactive    int
}

func NewWorld(opts Options) *World {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	w := &World{
		log:         log,
		storages:    NewRegistry(opts.BlockSize),
		hierarchy:   newHierarchy(opts.MaxDepth),
		attachments: make([]attachment, 0, 256),
		queue:       newDestroyQueue(),
	}
	w.nodeStore = storageFor[NodeRecord](w.storages)
	w.nodes = w.nodeStore.arena
	w.frame.World = w
	return w
}

func (w *World) Storages() *Registry       { return w.storages }
func (w *World) Nodes() *Arena[NodeRecord] { return w.nodes }
func (w *World) Hierarchy() *Hierarchy     { return w.hierarchy }
func (w *World) Log() *zap.Logger          { return w.log }

// Observe registers l for synchronous notifications.
func (w *World) Observe(l Listener) {
	w.listeners = append(w.listeners, l)
}

// CreateNode allocates a runtime node as a new root.
func (w *World) CreateNode(name string, typ ident.TypeID) (Handle, error) {
	return w.createNode(ident.New(), NodeRecord{Name: name, Type: typ, Active: true})
}

// CreateNodeWithID allocates a runtime node under an explicit unique id.
func (w *World) CreateNodeWithID(id ident.UniqueID, name string, typ ident.TypeID) (Handle, error) {
	return w.createNode(id, NodeRecord{Name: name, Type: typ, Active: true})
}

func (w *World) createNode(id ident.UniqueID, rec NodeRecord) (Handle, error) {
	if rec.Type.IsZero() {
		return Handle{}, ErrZeroType
	}
	n, err := w.nodes.CreateWithID(id, Handle{}, rec)
	if err != nil {
		return Handle{}, err
	}
	w.hierarchy.add(n)
	w.ensureAttachment(n)
	stored := w.nodes.Resolve(n)
	for _, l := range w.listeners {
		if l.NodeCreated != nil {
			l.NodeCreated(n, stored)
		}
	}
	return n, nil
}

// Node resolves a runtime node handle.
func (w *World) Node(n Handle) *NodeRecord { return w.nodes.Resolve(n) }

// Alive reports whether n resolves. Nodes queued for destruction stay
// alive until the next Flush.
func (w *World) Alive(n Handle) bool { return w.nodes.Valid(n) }

func (w *World) isMirrored(n Handle) bool {
	rec := w.nodes.Resolve(n)
	return rec != nil && rec.Mirrored
}

// Attach makes child a child of parent. Mirrored nodes are rejected.
func (w *World) Attach(parent, child Handle) error {
	if w.isMirrored(parent) || w.isMirrored(child) {
		return ErrMirrored
	}
	return w.hierarchy.attach(parent, child)
}

// Detach turns child back into a root. Detaching a root is ErrNotAttached.
func (w *World) Detach(child Handle) error {
	if w.isMirrored(child) || w.isMirrored(w.hierarchy.Parent(child)) {
		return ErrMirrored
	}
	return w.hierarchy.detach(child)
}

func (w *World) Parent(n Handle) Handle     { return w.hierarchy.Parent(n) }
func (w *World) Children(n Handle) []Handle { return w.hierarchy.Children(n) }
func (w *World) Roots() []Handle            { return w.hierarchy.Roots() }

// SetLocalTransform sets n's transform relative to its parent.
func (w *World) SetLocalTransform(n Handle, t Transform) error {
	if !w.nodes.Valid(n) {
		return ErrStaleHandle
	}
	return w.hierarchy.setLocal(n, t)
}

// WorldTransform returns n's composed transform.
func (w *World) WorldTransform(n Handle) (Transform, bool, error) {
	return w.hierarchy.WorldTransform(n)
}

// SetActive switches n's components in or out of every phase. Inactive
// nodes keep their components and hierarchy; only ticking stops.
func (w *World) SetActive(n Handle, active bool) error {
	if w.isMirrored(n) {
		return ErrMirrored
	}
	return w.setActive(n, active)
}

func (w *World) setActive(n Handle, active bool) error {
	rec := w.nodes.Resolve(n)
	if rec == nil {
		return ErrStaleHandle
	}
	if rec.Active == active {
		return nil
	}
	rec.Active = active
	if active {
		w.inactive--
	} else {
		w.inactive++
	}
	return nil
}

// Active reports whether n is live and its components tick.
func (w *World) Active(n Handle) bool {
	rec := w.nodes.Resolve(n)
	return rec != nil && rec.Active
}

// ticks reports whether an instance owned by owner should run. Unowned
// instances always run.
func (w *World) ticks(owner Handle) bool {
	if w.inactive == 0 || owner.IsZero() {
		return true
	}
	rec := w.nodes.Resolve(owner)
	return rec == nil || rec.Active
}

// RequestDestroy queues n and its subtree for destruction at the next
// Flush. Repeated requests are coalesced.
func (w *World) RequestDestroy(n Handle) error {
	if w.isMirrored(n) {
		return ErrMirrored
	}
	return w.requestDestroy(n)
}

func (w *World) requestDestroy(n Handle) error {
	if !w.nodes.Valid(n) {
		return ErrStaleHandle
	}
	w.queue.push(destroyRequest{handle: n})
	return nil
}

// PendingDestroy reports whether n is queued.
func (w *World) PendingDestroy(n Handle) bool { return w.queue.contains(n.ID) }

// Pending returns the number of queued requests.
func (w *World) Pending() int { return len(w.queue.pending) }

// ForEachNode visits live runtime nodes in slot order.
func (w *World) ForEachNode(fn func(Handle, *NodeRecord) bool) {
	w.nodes.Each(fn)
}

func (w *World) hookFrame() *Frame {
	f := w.frame
	return &f
}
