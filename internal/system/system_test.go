package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/ident"
	coresys "github.com/nodeforge/runtime/internal/core/system"
	"github.com/nodeforge/runtime/internal/core/typereg"
	"github.com/nodeforge/runtime/internal/graph"
)

func newGraph(t *testing.T) (*ecs.World, *graph.Graph, ident.TypeID) {
	t.Helper()
	types := typereg.New()
	require.NoError(t, typereg.RegisterBuiltins(types))
	pawn, err := types.Register("game.Pawn", typereg.NodeType)
	require.NoError(t, err)
	types.Freeze()

	log := zaptest.NewLogger(t)
	w := ecs.NewWorld(ecs.Options{Log: log})
	g, err := graph.New(w, types, log)
	require.NoError(t, err)
	return w, g, pawn
}

func TestLifetimeExpires(t *testing.T) {
	w := ecs.NewWorld(ecs.Options{Log: zaptest.NewLogger(t)})
	cs, err := NewCleanupSystem(w, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	r := coresys.NewRunner(w, nil)
	r.Register(cs)

	n, err := w.CreateNode("spark", ident.TypeIDFromName("test.Node"))
	require.NoError(t, err)
	keep, err := w.CreateNode("keep", ident.TypeIDFromName("test.Node"))
	require.NoError(t, err)
	_, err = ecs.AddComponent(w, n, Lifetime{TTL: 50 * time.Millisecond})
	require.NoError(t, err)

	r.RunPostTick(20 * time.Millisecond)
	r.RunPostTick(20 * time.Millisecond)
	assert.False(t, w.PendingDestroy(n))

	r.RunPostTick(20 * time.Millisecond)
	assert.True(t, w.PendingDestroy(n))
	assert.Equal(t, uint64(1), cs.Expired())

	// already queued owners are not aged again
	r.RunPostTick(20 * time.Millisecond)
	assert.Equal(t, uint64(1), cs.Expired())

	_, err = r.FlushDestructions()
	require.NoError(t, err)
	assert.False(t, w.Alive(n))
	assert.True(t, w.Alive(keep))
	assert.Zero(t, cs.arena.Len())
}

func TestLifetimeOnGraphNode(t *testing.T) {
	w, g, pawn := newGraph(t)
	h, err := g.CreateLogical(pawn, "ghost")
	require.NoError(t, err)
	rh, _ := g.Runtime(h)
	_, err = ecs.AddComponent(w, rh, Lifetime{TTL: time.Millisecond})
	require.NoError(t, err)

	// the world refuses mirrored nodes, so expiry is logged and retried
	refused, err := NewCleanupSystem(w, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	refused.Update(&ecs.Frame{World: w, Delta: time.Second})
	assert.Zero(t, refused.Expired())
	assert.False(t, w.PendingDestroy(rh))

	w2, g2, pawn2 := newGraph(t)
	h2, err := g2.CreateLogical(pawn2, "ghost")
	require.NoError(t, err)
	rh2, _ := g2.Runtime(h2)
	cs, err := NewCleanupSystem(w2, g2.DestroyRuntime, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = ecs.AddComponent(w2, rh2, Lifetime{TTL: time.Millisecond})
	require.NoError(t, err)

	cs.Update(&ecs.Frame{World: w2, Delta: time.Second})
	assert.Equal(t, uint64(1), cs.Expired())
	_, err = w2.Flush()
	require.NoError(t, err)
	assert.Zero(t, g2.Len())
	assert.False(t, w2.Alive(rh2))
}

func TestLifetimeRemovedOnExpiryFrame(t *testing.T) {
	w := ecs.NewWorld(ecs.Options{Log: zaptest.NewLogger(t)})
	cs, err := NewCleanupSystem(w, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	r := coresys.NewRunner(w, nil)
	r.Register(cs)

	n, err := w.CreateNode("shield", ident.TypeIDFromName("test.Node"))
	require.NoError(t, err)
	_, err = ecs.AddComponent(w, n, Lifetime{TTL: 20 * time.Millisecond})
	require.NoError(t, err)
	r.Register(coresys.Func{P: ecs.PhaseTick, Fn: func(f *ecs.Frame) {
		if ecs.HasComponent[Lifetime](f.World, n) {
			require.NoError(t, ecs.RemoveComponent[Lifetime](f.World, n))
		}
	}})

	r.RunTick(20 * time.Millisecond)
	r.RunPostTick(20 * time.Millisecond)
	assert.False(t, w.PendingDestroy(n), "an unlinked lifetime no longer owns the node")
	assert.Zero(t, cs.Expired())

	_, err = r.FlushDestructions()
	require.NoError(t, err)
	assert.True(t, w.Alive(n))
	assert.Zero(t, cs.arena.Len())
}

func TestLifetimePausesOnInactiveNode(t *testing.T) {
	w := ecs.NewWorld(ecs.Options{Log: zaptest.NewLogger(t)})
	cs, err := NewCleanupSystem(w, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	n, err := w.CreateNode("sleeper", ident.TypeIDFromName("test.Node"))
	require.NoError(t, err)
	h, err := ecs.AddComponent(w, n, Lifetime{TTL: 30 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, w.SetActive(n, false))
	cs.Update(&ecs.Frame{World: w, Delta: time.Second})
	assert.Zero(t, ecs.Get[Lifetime](w, h).Elapsed)

	require.NoError(t, w.SetActive(n, true))
	cs.Update(&ecs.Frame{World: w, Delta: time.Second})
	assert.True(t, w.PendingDestroy(n))
}

type fakeStore struct {
	saved   []*graph.Snapshot
	changed bool
	pruned  int
	err     error
}

func (f *fakeStore) Save(_ context.Context, _ string, s *graph.Snapshot) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.saved = append(f.saved, s)
	return f.changed, nil
}

func (f *fakeStore) Prune(context.Context, string, int) (int64, error) {
	f.pruned++
	return 0, nil
}

func TestAutosaveInterval(t *testing.T) {
	w, g, pawn := newGraph(t)
	_, err := g.CreateLogical(pawn, "hero")
	require.NoError(t, err)

	store := &fakeStore{changed: true}
	as := NewAutosaveSystem(g, store, "main", 3, 5, zaptest.NewLogger(t))
	r := coresys.NewRunner(w, nil)
	r.Register(as)

	for i := 0; i < 7; i++ {
		r.RunPostTick(time.Millisecond)
	}
	require.Len(t, store.saved, 2)
	assert.Equal(t, 2, as.Saves())
	assert.Equal(t, 2, store.pruned)
	require.Len(t, store.saved[0].Nodes, 1)
	assert.Equal(t, "hero", store.saved[0].Nodes[0].Name)
}

func TestAutosaveUnchangedAndErrors(t *testing.T) {
	_, g, _ := newGraph(t)
	store := &fakeStore{}
	as := NewAutosaveSystem(g, store, "main", 0, 5, nil)

	as.Update(&ecs.Frame{})
	assert.Empty(t, store.saved, "interval 0 disables autosave")

	require.NoError(t, as.SaveNow(context.Background()))
	assert.Len(t, store.saved, 1)
	assert.Zero(t, as.Saves())
	assert.Zero(t, store.pruned)

	store.err = errors.New("db down")
	assert.ErrorContains(t, as.SaveNow(context.Background()), "db down")
}
