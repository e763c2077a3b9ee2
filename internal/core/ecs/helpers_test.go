package ecs

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nodeforge/runtime/internal/core/ident"
)

var testNodeType = ident.TypeIDFromName("test.Node")

// trace records phase callbacks in the order they ran.
var trace []string

type counter struct {
	V int
}

type inputComp struct{ Pressed bool }

func (inputComp) TypeName() string  { return "test.Input" }
func (inputComp) TickPriority() int { return -10 }
func (c *inputComp) Tick(*Frame)    { trace = append(trace, "input") }

type moveComp struct{ Speed float64 }

func (moveComp) TypeName() string  { return "test.Move" }
func (moveComp) TickPriority() int { return 25 }
func (c *moveComp) Tick(*Frame)    { trace = append(trace, "move") }
func (c *moveComp) LateTick(*Frame) {
	trace = append(trace, "move.late")
}

type hooked struct{ Name string }

func (h *hooked) OnCreate(*Frame)  { trace = append(trace, "create:"+h.Name) }
func (h *hooked) OnDestroy(*Frame) { trace = append(trace, "destroy:"+h.Name) }

func newTestWorld(t *testing.T) *World {
	t.Helper()
	trace = nil
	return NewWorld(Options{Log: zaptest.NewLogger(t)})
}

func mustNode(t *testing.T, w *World, name string) Handle {
	t.Helper()
	n, err := w.CreateNode(name, testNodeType)
	require.NoError(t, err)
	return n
}
