package ecs

import (
	"math"
	"math/bits"

	"github.com/nodeforge/runtime/internal/core/ident"
)

// DefaultBlockSize is the number of slots per storage block.
const DefaultBlockSize = 256

const (
	noSlot = math.MaxUint32
	// A slot whose generation would reach retiredGeneration is taken out
	// of circulation instead of wrapping back to a value an old handle
	// may still carry.
	retiredGeneration = math.MaxUint32
)

type slot[T any] struct {
	value T
	id    ident.UniqueID
	owner Handle
	gen   uint32
	next  uint32 // free list link, valid only while !live
	live  bool
}

// Arena is a generational slot pool for one type. Slots live in
// fixed-size blocks that are never reallocated, so slot indices and the
// address of a live value stay stable while storage grows.
type Arena[T any] struct {
	blocks  [][]slot[T]
	shift   uint32
	mask    uint32
	size    uint32 // slots handed out so far
	free    uint32 // head of the free list
	live    int
	retired int
	byID    map[ident.UniqueID]uint32
}

// NewArena creates an arena. blockSize is rounded up to a power of two;
// values below 16 use DefaultBlockSize.
func NewArena[T any](blockSize int) *Arena[T] {
	if blockSize < 16 {
		blockSize = DefaultBlockSize
	}
	shift := uint32(bits.Len32(uint32(blockSize - 1)))
	return &Arena[T]{
		blocks: make([][]slot[T], 0, 4),
		shift:  shift,
		mask:   1<<shift - 1,
		free:   noSlot,
		byID:   make(map[ident.UniqueID]uint32, 1<<shift),
	}
}

func (a *Arena[T]) slotAt(i uint32) *slot[T] {
	return &a.blocks[i>>a.shift][i&a.mask]
}

// Create stores v under a fresh unique id.
func (a *Arena[T]) Create(v T) Handle {
	return a.insert(ident.New(), Handle{}, v)
}

// CreateOwned stores v and records owner alongside it.
func (a *Arena[T]) CreateOwned(owner Handle, v T) Handle {
	return a.insert(ident.New(), owner, v)
}

// CreateWithID stores v under an explicit unique id, used when restoring
// objects that must keep their persisted identity.
func (a *Arena[T]) CreateWithID(id ident.UniqueID, owner Handle, v T) (Handle, error) {
	if id == (ident.UniqueID{}) {
		return Handle{}, ErrNilID
	}
	if _, dup := a.byID[id]; dup {
		return Handle{}, ErrDuplicateID
	}
	return a.insert(id, owner, v), nil
}

func (a *Arena[T]) insert(id ident.UniqueID, owner Handle, v T) Handle {
	i := a.alloc()
	s := a.slotAt(i)
	s.value = v
	s.id = id
	s.owner = owner
	s.live = true
	a.byID[id] = i
	a.live++
	return Handle{ID: id, Index: i, Generation: s.gen}
}

func (a *Arena[T]) alloc() uint32 {
	if a.free != noSlot {
		i := a.free
		s := a.slotAt(i)
		a.free = s.next
		s.next = noSlot
		return i
	}
	if a.size == noSlot {
		panic("ecs: arena slot index space exhausted")
	}
	if int(a.size>>a.shift) == len(a.blocks) {
		a.blocks = append(a.blocks, make([]slot[T], 1<<a.shift))
	}
	i := a.size
	a.size++
	s := a.slotAt(i)
	s.gen = 1
	s.next = noSlot
	return i
}

func (a *Arena[T]) lookup(h Handle) *slot[T] {
	if h.Index >= a.size {
		return nil
	}
	s := a.slotAt(h.Index)
	if !s.live || s.gen != h.Generation {
		return nil
	}
	return s
}

// Resolve returns the live value h refers to, or nil once it is gone.
// The pointer must not be kept across a call that can destroy objects.
func (a *Arena[T]) Resolve(h Handle) *T {
	if s := a.lookup(h); s != nil {
		return &s.value
	}
	return nil
}

// Valid reports whether h resolves.
func (a *Arena[T]) Valid(h Handle) bool { return a.lookup(h) != nil }

// Owner returns the owner recorded at creation.
func (a *Arena[T]) Owner(h Handle) (Handle, bool) {
	s := a.lookup(h)
	if s == nil {
		return Handle{}, false
	}
	return s.owner, true
}

// Destroy frees the slot h refers to. A stale h is a no-op reporting false.
func (a *Arena[T]) Destroy(h Handle) bool {
	s := a.lookup(h)
	if s == nil {
		return false
	}
	var zero T
	delete(a.byID, s.id)
	s.value = zero
	s.id = ident.UniqueID{}
	s.owner = Handle{}
	s.live = false
	a.live--

	if s.gen+1 == retiredGeneration {
		s.gen = retiredGeneration
		a.retired++
		return true
	}
	s.gen++
	s.next = a.free
	a.free = h.Index
	return true
}

// ResolveByID is the slow path for callers that only know the unique id.
func (a *Arena[T]) ResolveByID(id ident.UniqueID) *T {
	i, ok := a.byID[id]
	if !ok {
		return nil
	}
	return &a.slotAt(i).value
}

// HandleByID rebuilds the full handle for a live unique id.
func (a *Arena[T]) HandleByID(id ident.UniqueID) (Handle, bool) {
	i, ok := a.byID[id]
	if !ok {
		return Handle{}, false
	}
	s := a.slotAt(i)
	return Handle{ID: id, Index: i, Generation: s.gen}, true
}

// Each visits live values in slot order until fn returns false. Slots
// allocated during the visit are not visited.
func (a *Arena[T]) Each(fn func(Handle, *T) bool) {
	n := a.size
	for i := uint32(0); i < n; i++ {
		s := a.slotAt(i)
		if !s.live {
			continue
		}
		if !fn(Handle{ID: s.id, Index: i, Generation: s.gen}, &s.value) {
			return
		}
	}
}

func (a *Arena[T]) Len() int     { return a.live }
func (a *Arena[T]) Cap() int     { return int(a.size) }
func (a *Arena[T]) Retired() int { return a.retired }

// SlotGeneration reports the current generation stored at index.
func (a *Arena[T]) SlotGeneration(index uint32) uint32 {
	if index >= a.size {
		return 0
	}
	return a.slotAt(index).gen
}
