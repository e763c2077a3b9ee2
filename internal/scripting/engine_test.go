package scripting

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap/zaptest"

	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/ident"
	coresys "github.com/nodeforge/runtime/internal/core/system"
)

const testScript = `
seen = {}
total = 0
function on_tick(name, dt)
  table.insert(seen, name)
  total = total + dt
end
function boom(name, dt)
  error("boom " .. name)
end
function kill(name, dt)
  destroy_self()
end
`

func newEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(testScript), 0o644))
	sub := filepath.Join(dir, "math")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "add.lua"), []byte("function add(a, b) return a + b end"), 0o644))

	e, err := NewEngine(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func setup(t *testing.T) (*Engine, *ecs.World, *coresys.Runner) {
	t.Helper()
	e := newEngine(t)
	w := ecs.NewWorld(ecs.Options{})
	_, err := e.Register(w, 0)
	require.NoError(t, err)
	return e, w, coresys.NewRunner(w, nil)
}

func spawn(t *testing.T, w *ecs.World, name string, s Script) ecs.Handle {
	t.Helper()
	n, err := w.CreateNode(name, ident.TypeIDFromName("test.Node"))
	require.NoError(t, err)
	_, err = ecs.AddComponent(w, n, s)
	require.NoError(t, err)
	return n
}

func TestEngineLoadsSubdirectories(t *testing.T) {
	e := newEngine(t)
	v, err := e.CallNumber("add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	_, err = e.CallNumber("nope")
	assert.Error(t, err)
}

func TestEngineBadScriptFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.lua"), []byte("function ("), 0o644))
	_, err := NewEngine(dir, nil)
	assert.Error(t, err)
}

func TestScriptTickCallsLua(t *testing.T) {
	e, w, r := setup(t)
	spawn(t, w, "alpha", Script{Tick: "on_tick"})
	spawn(t, w, "beta", Script{Tick: "on_tick"})
	spawn(t, w, "off", Script{Tick: "on_tick", Disabled: true})

	r.RunTick(500 * time.Millisecond)

	seen, ok := e.vm.GetGlobal("seen").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, 2, seen.Len())
	assert.Equal(t, "alpha", seen.RawGetInt(1).String())
	assert.Equal(t, "beta", seen.RawGetInt(2).String())
	assert.Equal(t, 1.0, float64(lua.LVAsNumber(e.vm.GetGlobal("total"))))
	assert.Equal(t, uint64(2), e.Stats().Calls)
}

func TestScriptErrorsAreContained(t *testing.T) {
	e, w, r := setup(t)
	spawn(t, w, "a", Script{Tick: "boom", LateTick: "missing"})

	r.RunTick(time.Millisecond)
	r.RunLateTick(time.Millisecond)
	r.RunLateTick(time.Millisecond)

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Calls)
	assert.Equal(t, uint64(1), st.Errors)
}

func TestDestroySelf(t *testing.T) {
	e, w, r := setup(t)
	n := spawn(t, w, "doomed", Script{FixedTick: "kill"})

	r.RunFixedTick(10 * time.Millisecond)
	assert.True(t, w.PendingDestroy(n))
	assert.Zero(t, e.Stats().Errors)

	_, err := r.FlushDestructions()
	require.NoError(t, err)
	assert.False(t, w.Alive(n))
}

func TestDestroySelfUsesDestroyer(t *testing.T) {
	e, w, r := setup(t)
	n := spawn(t, w, "n", Script{Tick: "kill"})
	var got []ecs.Handle
	e.SetDestroyer(func(h ecs.Handle) error {
		got = append(got, h)
		return nil
	})

	r.RunTick(time.Millisecond)
	assert.Equal(t, []ecs.Handle{n}, got)
	assert.False(t, w.PendingDestroy(n))
}

func TestDestroySelfOutsideCallback(t *testing.T) {
	e := newEngine(t)
	err := e.LoadString("destroy_self()")
	assert.Error(t, err)
}
