package ecs

import "github.com/nodeforge/runtime/internal/core/ident"

// MirrorLink is the only path that may mutate mirrored runtime nodes. A
// World hands out one link; the logical graph holds it and keeps its own
// nodes paired 1:1 with runtime nodes through it.
type MirrorLink struct {
	w *World
}

// BindMirror returns the world's mirror link. It succeeds once.
func (w *World) BindMirror() (*MirrorLink, error) {
	if w.mirror != nil {
		return nil, ErrMirrorBound
	}
	w.mirror = &MirrorLink{w: w}
	return w.mirror, nil
}

func (m *MirrorLink) World() *World { return m.w }

// CreateNode allocates a mirrored runtime node paired with logical. A zero
// id generates a fresh one.
func (m *MirrorLink) CreateNode(id ident.UniqueID, name string, typ ident.TypeID, logical Handle) (Handle, error) {
	if id == (ident.UniqueID{}) {
		id = ident.New()
	}
	return m.w.createNode(id, NodeRecord{
		Name:     name,
		Type:     typ,
		Active:   true,
		Mirrored: true,
		Logical:  logical,
	})
}

func (m *MirrorLink) Attach(parent, child Handle) error {
	return m.w.hierarchy.attach(parent, child)
}

func (m *MirrorLink) Detach(child Handle) error {
	return m.w.hierarchy.detach(child)
}

func (m *MirrorLink) RequestDestroy(n Handle) error {
	return m.w.requestDestroy(n)
}

// SetActive mirrors a logical node's active flag.
func (m *MirrorLink) SetActive(n Handle, active bool) error {
	return m.w.setActive(n, active)
}

// Rename updates the runtime copy of a logical node's name.
func (m *MirrorLink) Rename(n Handle, name string) error {
	rec := m.w.nodes.Resolve(n)
	if rec == nil {
		return ErrStaleHandle
	}
	rec.Name = name
	return nil
}
