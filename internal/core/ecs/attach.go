package ecs

import (
	"fmt"
	"slices"

	"github.com/nodeforge/runtime/internal/core/ident"
)

type componentLink struct {
	typ    ident.TypeID
	store  Storage
	handle Handle
}

// attachment is the per-node component list, indexed by node slot.
type attachment struct {
	gen   uint32
	links []componentLink
	dying bool
}

// ComponentRef names one component attached to a node.
type ComponentRef struct {
	Type   ident.TypeID
	Handle Handle
}

func (w *World) ensureAttachment(n Handle) {
	for int(n.Index) >= len(w.attachments) {
		w.attachments = append(w.attachments, attachment{})
	}
	w.attachments[n.Index] = attachment{gen: n.Generation}
}

func (w *World) attachmentFor(n Handle) (*attachment, error) {
	if !w.nodes.Valid(n) || int(n.Index) >= len(w.attachments) {
		return nil, ErrStaleHandle
	}
	a := &w.attachments[n.Index]
	if a.gen != n.Generation {
		return nil, ErrStaleHandle
	}
	return a, nil
}

// mutableAttachment is attachmentFor for add and remove. A node whose
// components are being torn down accepts neither.
func (w *World) mutableAttachment(n Handle) (*attachment, error) {
	a, err := w.attachmentFor(n)
	if err != nil {
		return nil, err
	}
	if a.dying {
		return nil, ErrNodeDestroying
	}
	return a, nil
}

func (a *attachment) find(t ident.TypeID) int {
	return slices.IndexFunc(a.links, func(l componentLink) bool { return l.typ == t })
}

func (w *World) link(node Handle, a *attachment, s Storage, h Handle) {
	a.links = append(a.links, componentLink{typ: s.Type(), store: s, handle: h})
	s.created(h, w.hookFrame())
	for _, l := range w.listeners {
		if l.ComponentAdded != nil {
			l.ComponentAdded(node, h, s.Type())
		}
	}
}

// AddComponent attaches a new T holding v to node.
func AddComponent[T any](w *World, node Handle, v T) (Handle, error) {
	s := storageFor[T](w.storages)
	a, err := w.mutableAttachment(node)
	if err != nil {
		return Handle{}, fmt.Errorf("add %s: %w", s.name, err)
	}
	if a.find(s.typ) >= 0 {
		return Handle{}, fmt.Errorf("add %s: %w", s.name, ErrDuplicateComponent)
	}
	h := s.arena.CreateOwned(node, v)
	w.link(node, a, s, h)
	return h, nil
}

// AddComponentByType attaches a component through the erased storage
// registered under typ. decode may fill the zero value; a zero id means
// "generate one".
func (w *World) AddComponentByType(node Handle, typ ident.TypeID, id ident.UniqueID, decode func(any) error) (Handle, error) {
	s, ok := w.storages.Lookup(typ)
	if !ok {
		return Handle{}, fmt.Errorf("add %s: %w", typ, ErrUnregisteredType)
	}
	a, err := w.mutableAttachment(node)
	if err != nil {
		return Handle{}, fmt.Errorf("add %s: %w", s.Name(), err)
	}
	if a.find(typ) >= 0 {
		return Handle{}, fmt.Errorf("add %s: %w", s.Name(), ErrDuplicateComponent)
	}
	h, err := s.CreateDecoded(node, id, decode)
	if err != nil {
		return Handle{}, err
	}
	// decode runs caller code that may create nodes and move attachments.
	if a, err = w.mutableAttachment(node); err != nil {
		s.discard(h)
		return Handle{}, fmt.Errorf("add %s: %w", s.Name(), err)
	}
	if a.find(typ) >= 0 {
		s.discard(h)
		return Handle{}, fmt.Errorf("add %s: %w", s.Name(), ErrDuplicateComponent)
	}
	w.link(node, a, s, h)
	return h, nil
}

// Component resolves node's T, or nil.
func Component[T any](w *World, node Handle) *T {
	s := storageFor[T](w.storages)
	h, ok := w.ComponentHandle(node, s.typ)
	if !ok {
		return nil
	}
	return s.arena.Resolve(h)
}

// Get resolves a component handle directly.
func Get[T any](w *World, h Handle) *T {
	return storageFor[T](w.storages).arena.Resolve(h)
}

func HasComponent[T any](w *World, node Handle) bool {
	return w.HasComponentType(node, TypeIDOf[T]())
}

func RemoveComponent[T any](w *World, node Handle) error {
	return w.RemoveComponentByType(node, TypeIDOf[T]())
}

func (w *World) HasComponentType(node Handle, typ ident.TypeID) bool {
	_, ok := w.ComponentHandle(node, typ)
	return ok
}

// ComponentHandle returns the handle of node's component of type typ.
func (w *World) ComponentHandle(node Handle, typ ident.TypeID) (Handle, bool) {
	a, err := w.attachmentFor(node)
	if err != nil {
		return Handle{}, false
	}
	i := a.find(typ)
	if i < 0 {
		return Handle{}, false
	}
	return a.links[i].handle, true
}

// Components lists node's attached components in attach order.
func (w *World) Components(node Handle) []ComponentRef {
	a, err := w.attachmentFor(node)
	if err != nil {
		return nil
	}
	out := make([]ComponentRef, len(a.links))
	for i, l := range a.links {
		out[i] = ComponentRef{Type: l.typ, Handle: l.handle}
	}
	return out
}

// RemoveComponentByType detaches node's component of type typ at once;
// the instance itself is destroyed at the next Flush, so code iterating
// in the current phase still sees a valid object.
func (w *World) RemoveComponentByType(node Handle, typ ident.TypeID) error {
	a, err := w.mutableAttachment(node)
	if err != nil {
		return err
	}
	if _, ok := w.storages.Lookup(typ); !ok {
		return ErrUnregisteredType
	}
	i := a.find(typ)
	if i < 0 {
		return ErrComponentNotFound
	}
	l := a.links[i]
	a.links = slices.Delete(a.links, i, i+1)
	w.queue.push(destroyRequest{handle: l.handle, store: l.store})
	for _, ln := range w.listeners {
		if ln.ComponentRemoved != nil {
			ln.ComponentRemoved(node, l.handle, l.typ)
		}
	}
	return nil
}

// ComponentOwner returns the node a component handle belongs to.
func (w *World) ComponentOwner(typ ident.TypeID, h Handle) (Handle, bool) {
	s, ok := w.storages.Lookup(typ)
	if !ok {
		return Handle{}, false
	}
	return s.Owner(h)
}
