package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/event"
	"github.com/nodeforge/runtime/internal/core/ident"
)

var trace []string

type xComp struct{}

func (xComp) TypeName() string  { return "test.X" }
func (xComp) TickPriority() int { return -10 }
func (*xComp) Tick(*ecs.Frame)  { trace = append(trace, "X") }

type yComp struct{}

func (yComp) TypeName() string      { return "test.Y" }
func (yComp) TickPriority() int     { return 25 }
func (*yComp) Tick(*ecs.Frame)      { trace = append(trace, "Y") }
func (*yComp) FixedTick(*ecs.Frame) { trace = append(trace, "Y.fixed") }

type allPhases struct{}

func (*allPhases) PreTick(*ecs.Frame)   { trace = append(trace, "pre") }
func (*allPhases) Tick(*ecs.Frame)      { trace = append(trace, "tick") }
func (*allPhases) FixedTick(*ecs.Frame) { trace = append(trace, "fixed") }
func (*allPhases) LateTick(*ecs.Frame)  { trace = append(trace, "late") }
func (*allPhases) PostTick(*ecs.Frame)  { trace = append(trace, "post") }

var nodeType = ident.TypeIDFromName("test.Node")

func setup(t *testing.T) (*ecs.World, *Runner) {
	t.Helper()
	trace = nil
	log := zaptest.NewLogger(t)
	w := ecs.NewWorld(ecs.Options{Log: log})
	return w, NewRunner(w, log)
}

func node(t *testing.T, w *ecs.World) ecs.Handle {
	t.Helper()
	n, err := w.CreateNode("n", nodeType)
	require.NoError(t, err)
	return n
}

func TestPriorityOrderAcrossFrames(t *testing.T) {
	w, r := setup(t)
	n := node(t, w)
	// Y first so registration order disagrees with priority.
	_, err := ecs.AddComponent(w, n, yComp{})
	require.NoError(t, err)
	_, err = ecs.AddComponent(w, n, xComp{})
	require.NoError(t, err)

	for range 3 {
		trace = nil
		r.RunTick(time.Millisecond)
		assert.Equal(t, []string{"X", "Y"}, trace)
	}
}

func TestSystemsInterleaveByPriority(t *testing.T) {
	w, r := setup(t)
	n := node(t, w)
	_, err := ecs.AddComponent(w, n, xComp{})
	require.NoError(t, err)
	_, err = ecs.AddComponent(w, n, yComp{})
	require.NoError(t, err)

	r.Register(Func{P: ecs.PhaseTick, Order: 0, Fn: func(*ecs.Frame) { trace = append(trace, "sys0") }})
	r.Register(Func{P: ecs.PhaseTick, Order: -10, Fn: func(*ecs.Frame) { trace = append(trace, "sys-10") }})
	r.Register(Func{P: ecs.PhaseLateTick, Fn: func(*ecs.Frame) { trace = append(trace, "late") }})

	r.RunTick(time.Millisecond)
	assert.Equal(t, []string{"X", "sys-10", "sys0", "Y"}, trace)
	assert.Equal(t, []string{"test.X", "system", "system", "test.Y"}, r.Order(ecs.PhaseTick))
}

func TestOrderRebuiltAfterRegistration(t *testing.T) {
	w, r := setup(t)
	n := node(t, w)
	_, err := ecs.AddComponent(w, n, yComp{})
	require.NoError(t, err)
	r.RunTick(0)
	assert.Equal(t, []string{"Y"}, trace)

	_, err = ecs.AddComponent(w, n, xComp{})
	require.NoError(t, err)
	trace = nil
	r.RunTick(0)
	assert.Equal(t, []string{"X", "Y"}, trace)
}

func TestFrameCarriesSelfAndOwner(t *testing.T) {
	w, r := setup(t)
	n := node(t, w)
	var self, owner ecs.Handle
	_, err := ecs.Register[xComp](w.Storages(), ecs.WithPhase(ecs.PhaseLateTick, func(_ *xComp, f *ecs.Frame) {
		self, owner = f.Self, f.Owner
		assert.Equal(t, ecs.PhaseLateTick, f.Phase)
		assert.Equal(t, 5*time.Millisecond, f.Delta)
	}))
	require.NoError(t, err)
	h, err := ecs.AddComponent(w, n, xComp{})
	require.NoError(t, err)

	r.RunLateTick(5 * time.Millisecond)
	assert.Equal(t, h, self)
	assert.Equal(t, n, owner)
}

func TestDriverFramePhases(t *testing.T) {
	w, r := setup(t)
	n := node(t, w)
	_, err := ecs.AddComponent(w, n, allPhases{})
	require.NoError(t, err)
	d := NewDriver(r, event.NewBus(), DriverConfig{FixedStep: 10 * time.Millisecond, MaxFixedSteps: 4}, zaptest.NewLogger(t))

	require.NoError(t, d.Frame(25*time.Millisecond))
	assert.Equal(t, []string{"pre", "tick", "fixed", "fixed", "late", "post"}, trace)
	assert.InDelta(t, 0.5, d.Alpha(), 1e-9)

	trace = nil
	require.NoError(t, d.Frame(5*time.Millisecond))
	assert.Equal(t, []string{"pre", "tick", "fixed", "late", "post"}, trace)

	st := d.Stats()
	assert.Equal(t, uint64(2), st.Frames)
	assert.Equal(t, uint64(3), st.FixedSteps)
	assert.Zero(t, st.DroppedSteps)
	assert.Equal(t, uint64(2), r.FrameNumber())
}

func TestDriverCapsFixedSteps(t *testing.T) {
	w, r := setup(t)
	n := node(t, w)
	_, err := ecs.AddComponent(w, n, yComp{})
	require.NoError(t, err)
	d := NewDriver(r, nil, DriverConfig{FixedStep: 10 * time.Millisecond, MaxFixedSteps: 3}, nil)

	require.NoError(t, d.Frame(100*time.Millisecond))
	fixed := 0
	for _, s := range trace {
		if s == "Y.fixed" {
			fixed++
		}
	}
	assert.Equal(t, 3, fixed)
	st := d.Stats()
	assert.Equal(t, uint64(3), st.FixedSteps)
	assert.Equal(t, uint64(7), st.DroppedSteps)
	assert.Zero(t, d.Alpha())
}

func TestDriverFlushesAfterPhases(t *testing.T) {
	w, r := setup(t)
	doomed := node(t, w)
	var aliveInPost bool
	r.Register(Func{P: ecs.PhaseTick, Fn: func(*ecs.Frame) {
		if w.Alive(doomed) {
			_ = w.RequestDestroy(doomed)
		}
	}})
	r.Register(Func{P: ecs.PhasePostTick, Fn: func(*ecs.Frame) { aliveInPost = w.Alive(doomed) }})

	bus := event.NewBus()
	event.Publish(w, bus)
	var destroyed int
	event.Subscribe(bus, func(event.NodeDestroyed) { destroyed++ })

	d := NewDriver(r, bus, DriverConfig{}, nil)
	require.NoError(t, d.Frame(time.Millisecond))
	assert.True(t, aliveInPost, "destruction is deferred to the flush")
	assert.False(t, w.Alive(doomed))
	assert.Equal(t, 1, destroyed, "events dispatched at the end of the frame")
	assert.Equal(t, uint64(1), d.Stats().Destroyed)
}
