package ecs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/runtime/internal/core/ident"
)

func TestArenaCreateResolveDestroy(t *testing.T) {
	a := NewArena[counter](0)
	h := a.Create(counter{V: 1})

	require.False(t, h.IsZero())
	assert.Equal(t, uint32(1), h.Generation)
	require.NotNil(t, a.Resolve(h))
	assert.Equal(t, 1, a.Resolve(h).V)
	assert.Equal(t, 1, a.Len())

	assert.True(t, a.Destroy(h))
	assert.Nil(t, a.Resolve(h))
	assert.False(t, a.Destroy(h), "second destroy is a stale no-op")
	assert.Equal(t, 0, a.Len())
}

func TestArenaZeroHandleNeverResolves(t *testing.T) {
	a := NewArena[counter](0)
	a.Create(counter{})
	assert.Nil(t, a.Resolve(Handle{}))
	assert.False(t, a.Valid(Handle{}))
}

func TestArenaSlotReuseBumpsGeneration(t *testing.T) {
	a := NewArena[counter](0)
	old := a.Create(counter{V: 1})
	require.True(t, a.Destroy(old))

	fresh := a.Create(counter{V: 2})
	assert.Equal(t, old.Index, fresh.Index)
	assert.Greater(t, fresh.Generation, old.Generation)
	assert.Nil(t, a.Resolve(old))
	assert.Equal(t, 2, a.Resolve(fresh).V)
	assert.NotEqual(t, old.ID, fresh.ID)
}

func TestArenaGrowthKeepsAddresses(t *testing.T) {
	a := NewArena[counter](16)
	first := a.Create(counter{V: 7})
	p := a.Resolve(first)

	for i := range 100 {
		a.Create(counter{V: i})
	}
	assert.Same(t, p, a.Resolve(first))
	assert.Equal(t, 7, p.V)
	assert.Equal(t, 101, a.Cap())
}

func TestArenaCreateWithID(t *testing.T) {
	a := NewArena[counter](0)
	id := ident.New()

	h, err := a.CreateWithID(id, Handle{}, counter{V: 3})
	require.NoError(t, err)
	assert.Equal(t, id, h.ID)

	_, err = a.CreateWithID(id, Handle{}, counter{})
	assert.ErrorIs(t, err, ErrDuplicateID)
	_, err = a.CreateWithID(ident.UniqueID{}, Handle{}, counter{})
	assert.ErrorIs(t, err, ErrNilID)

	got, ok := a.HandleByID(id)
	require.True(t, ok)
	assert.Equal(t, h, got)
	assert.Equal(t, 3, a.ResolveByID(id).V)

	a.Destroy(h)
	assert.Nil(t, a.ResolveByID(id))
	_, ok = a.HandleByID(id)
	assert.False(t, ok)
}

func TestArenaRetiresOverflowingSlot(t *testing.T) {
	a := NewArena[counter](0)
	h := a.Create(counter{})
	a.slotAt(h.Index).gen = retiredGeneration - 1
	h.Generation = retiredGeneration - 1

	require.True(t, a.Destroy(h))
	assert.Equal(t, 1, a.Retired())

	next := a.Create(counter{})
	assert.NotEqual(t, h.Index, next.Index, "retired slot is never reused")
	assert.Equal(t, uint32(retiredGeneration), a.SlotGeneration(h.Index))
}

func TestArenaEachSkipsSlotsAddedDuringVisit(t *testing.T) {
	a := NewArena[counter](0)
	for i := range 3 {
		a.Create(counter{V: i})
	}
	visited := 0
	a.Each(func(Handle, *counter) bool {
		visited++
		a.Create(counter{V: -1})
		return true
	})
	assert.Equal(t, 3, visited)
	assert.Equal(t, 6, a.Len())
}

func TestArenaOwner(t *testing.T) {
	a := NewArena[counter](0)
	owner := Handle{ID: ident.New(), Index: 4, Generation: 2}
	h := a.CreateOwned(owner, counter{})

	got, ok := a.Owner(h)
	require.True(t, ok)
	assert.Equal(t, owner, got)
}

// Handles either resolve to the value they were issued for or to nothing.
func TestArenaHandleSoundness(t *testing.T) {
	a := NewArena[counter](16)
	rng := rand.New(rand.NewSource(1))
	type issued struct {
		h     Handle
		v     int
		alive bool
	}
	var all []issued
	for step := range 5000 {
		if len(all) == 0 || rng.Intn(3) > 0 {
			all = append(all, issued{h: a.Create(counter{V: step}), v: step, alive: true})
			continue
		}
		i := rng.Intn(len(all))
		ok := a.Destroy(all[i].h)
		assert.Equal(t, all[i].alive, ok)
		all[i].alive = false
	}
	for _, it := range all {
		got := a.Resolve(it.h)
		if !it.alive {
			require.Nil(t, got)
			continue
		}
		require.NotNil(t, got)
		require.Equal(t, it.v, got.V)
	}
}
