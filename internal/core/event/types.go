package event

import (
	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/ident"
)

// Runtime lifecycle events. They carry handles that may no longer resolve
// by the time the event is delivered.

type NodeCreated struct {
	Node ecs.Handle
	Name string
	Type ident.TypeID
}

type NodeDestroyed struct {
	Node     ecs.Handle
	Name     string
	Type     ident.TypeID
	Mirrored bool
}

type ComponentAdded struct {
	Node      ecs.Handle
	Component ecs.Handle
	Type      ident.TypeID
}

type ComponentRemoved struct {
	Node      ecs.Handle
	Component ecs.Handle
	Type      ident.TypeID
}

// Publish wires w's lifecycle notifications into b.
func Publish(w *ecs.World, b *Bus) {
	w.Observe(ecs.Listener{
		NodeCreated: func(n ecs.Handle, rec *ecs.NodeRecord) {
			Emit(b, NodeCreated{Node: n, Name: rec.Name, Type: rec.Type})
		},
		NodeDestroyed: func(n ecs.Handle, rec *ecs.NodeRecord) {
			Emit(b, NodeDestroyed{Node: n, Name: rec.Name, Type: rec.Type, Mirrored: rec.Mirrored})
		},
		ComponentAdded: func(node, comp ecs.Handle, typ ident.TypeID) {
			Emit(b, ComponentAdded{Node: node, Component: comp, Type: typ})
		},
		ComponentRemoved: func(node, comp ecs.Handle, typ ident.TypeID) {
			Emit(b, ComponentRemoved{Node: node, Component: comp, Type: typ})
		},
	})
}
