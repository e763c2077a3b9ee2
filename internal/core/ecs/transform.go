package ecs

// Vec3 is a plain 3-component vector.
type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Mul(o Vec3) Vec3 { return Vec3{v.X * o.X, v.Y * o.Y, v.Z * o.Z} }

// Transform is a node's translation and per-axis scale.
type Transform struct {
	Position Vec3 `yaml:"position"`
	Scale    Vec3 `yaml:"scale"`
}

func IdentityTransform() Transform {
	return Transform{Scale: Vec3{1, 1, 1}}
}

// Compose places local inside parent's space.
func (parent Transform) Compose(local Transform) Transform {
	return Transform{
		Position: parent.Position.Add(parent.Scale.Mul(local.Position)),
		Scale:    parent.Scale.Mul(local.Scale),
	}
}

// markDirty invalidates the cached world transform of n's subtree.
func (h *Hierarchy) markDirty(n Handle) {
	h.scratch = append(h.scratch[:0], n)
	for visited := 0; len(h.scratch) > 0; visited++ {
		cur := h.scratch[len(h.scratch)-1]
		h.scratch = h.scratch[:len(h.scratch)-1]
		e := h.entry(cur)
		if e == nil || visited > len(h.entries) {
			continue
		}
		e.dirty = true
		h.scratch = append(h.scratch, e.children...)
	}
}

func (h *Hierarchy) setLocal(n Handle, t Transform) error {
	e := h.entry(n)
	if e == nil {
		return ErrStaleHandle
	}
	e.local = t
	e.hasLocal = true
	h.markDirty(n)
	return nil
}

// LocalTransform returns the transform set on n itself, if any.
func (h *Hierarchy) LocalTransform(n Handle) (Transform, bool) {
	e := h.entry(n)
	if e == nil || !e.hasLocal {
		return IdentityTransform(), false
	}
	return e.local, true
}

// WorldTransform composes n's ancestors' local transforms. Nodes without
// a local transform inherit their parent's. ok is false when neither n
// nor any ancestor carries one.
func (h *Hierarchy) WorldTransform(n Handle) (t Transform, ok bool, err error) {
	if h.entry(n) == nil {
		return IdentityTransform(), false, ErrStaleHandle
	}
	// Climb to the nearest clean ancestor (or the root).
	chain := make([]Handle, 0, 16)
	t = IdentityTransform()
	for cur := n; !cur.IsZero(); {
		e := h.entry(cur)
		if e == nil {
			break
		}
		if len(chain) > h.maxDepth {
			return IdentityTransform(), false, ErrDepthExceeded
		}
		if !e.dirty {
			t, ok = e.world, e.hasWorld
			break
		}
		chain = append(chain, cur)
		cur = e.parent
	}
	for i := len(chain) - 1; i >= 0; i-- {
		e := h.entry(chain[i])
		switch {
		case e.hasLocal && ok:
			t = t.Compose(e.local)
		case e.hasLocal:
			t, ok = e.local, true
		}
		e.world, e.hasWorld, e.dirty = t, ok, false
	}
	return t, ok, nil
}
