package ecs

// Each2 visits every node carrying both an A and a B component.
// It walks the smaller arena and looks the other type up on the owner.
func Each2[A, B any](w *World, fn func(node Handle, a *A, b *B)) {
	sa, sb := storageFor[A](w.storages), storageFor[B](w.storages)
	if sa.arena.Len() <= sb.arena.Len() {
		sa.arena.Each(func(h Handle, a *A) bool {
			node, ok := w.linkedOwner(sa, h)
			if !ok {
				return true
			}
			if b := Component[B](w, node); b != nil {
				fn(node, a, b)
			}
			return true
		})
		return
	}
	sb.arena.Each(func(h Handle, b *B) bool {
		node, ok := w.linkedOwner(sb, h)
		if !ok {
			return true
		}
		if a := Component[A](w, node); a != nil {
			fn(node, a, b)
		}
		return true
	})
}

// Each3 visits every node carrying A, B and C components. It walks A's
// arena.
func Each3[A, B, C any](w *World, fn func(node Handle, a *A, b *B, c *C)) {
	sa := storageFor[A](w.storages)
	sa.arena.Each(func(h Handle, a *A) bool {
		node, ok := w.linkedOwner(sa, h)
		if !ok {
			return true
		}
		b := Component[B](w, node)
		if b == nil {
			return true
		}
		if c := Component[C](w, node); c != nil {
			fn(node, a, b, c)
		}
		return true
	})
}

// linkedOwner returns h's node if h is still attached to it. Instances
// removed this frame stay in their arena until flush but are skipped.
func (w *World) linkedOwner(s Storage, h Handle) (Handle, bool) {
	node, ok := s.Owner(h)
	if !ok {
		return Handle{}, false
	}
	cur, ok := w.ComponentHandle(node, s.Type())
	return node, ok && cur == h
}
