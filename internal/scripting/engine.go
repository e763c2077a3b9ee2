package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/nodeforge/runtime/internal/core/ecs"
)

// Engine wraps a single gopher-lua VM driving Script components.
// Single-goroutine access only (frame loop).
type Engine struct {
	vm      *lua.LState
	log     *zap.Logger
	destroy func(ecs.Handle) error
	current *ecs.Frame
	missing map[string]bool
	stats   Stats
}

// Stats counts script invocations since the engine was created.
type Stats struct {
	Calls  uint64
	Errors uint64
}

// NewEngine creates a Lua engine and loads every script under scriptsDir:
// the directory itself first, then its subdirectories in name order.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log, missing: make(map[string]bool)}
	e.installAPI()

	if scriptsDir == "" {
		return e, nil
	}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	entries, err := os.ReadDir(scriptsDir)
	if err != nil && !os.IsNotExist(err) {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := e.loadDir(filepath.Join(scriptsDir, entry.Name())); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", entry.Name(), err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source, used for inline scripts.
func (e *Engine) LoadString(src string) error {
	if err := e.vm.DoString(src); err != nil {
		return fmt.Errorf("load lua chunk: %w", err)
	}
	return nil
}

// SetDestroyer sets how destroy_self() queues the calling node. The
// default goes through the world, which refuses mirrored nodes.
func (e *Engine) SetDestroyer(fn func(ecs.Handle) error) {
	e.destroy = fn
}

func (e *Engine) Stats() Stats { return e.stats }

// installAPI exposes the host functions scripts may call.
func (e *Engine) installAPI() {
	e.vm.SetGlobal("log_info", e.vm.NewFunction(func(L *lua.LState) int {
		e.log.Info("lua", zap.String("msg", L.CheckString(1)))
		return 0
	}))
	e.vm.SetGlobal("frame_number", e.vm.NewFunction(func(L *lua.LState) int {
		if e.current == nil {
			L.Push(lua.LNumber(0))
			return 1
		}
		L.Push(lua.LNumber(e.current.Number))
		return 1
	}))
	e.vm.SetGlobal("destroy_self", e.vm.NewFunction(func(L *lua.LState) int {
		f := e.current
		if f == nil || f.Owner.IsZero() {
			L.RaiseError("destroy_self called outside a node callback")
			return 0
		}
		destroy := e.destroy
		if destroy == nil {
			destroy = f.World.RequestDestroy
		}
		if err := destroy(f.Owner); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))
}

// callNode calls the global fn(node_name, dt_seconds) for the instance
// the frame currently points at. Errors are logged and counted.
func (e *Engine) callNode(name string, f *ecs.Frame) {
	if name == "" {
		return
	}
	fn := e.vm.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		if !e.missing[name] {
			e.missing[name] = true
			e.log.Error("lua function not found", zap.String("name", name))
		}
		return
	}
	nodeName := ""
	if rec := f.World.Node(f.Owner); rec != nil {
		nodeName = rec.Name
	}

	e.current = f
	defer func() { e.current = nil }()
	e.stats.Calls++
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LString(nodeName), lua.LNumber(f.Seconds())); err != nil {
		e.stats.Errors++
		e.log.Error("lua call error",
			zap.String("func", name),
			zap.String("node", nodeName),
			zap.Error(err),
		)
	}
}

// CallNumber calls a Lua function with numeric args and returns its
// numeric result.
func (e *Engine) CallNumber(name string, args ...float64) (float64, error) {
	fn := e.vm.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return 0, fmt.Errorf("call %s: function not found", name)
	}

	lArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		lArgs[i] = lua.LNumber(a)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lArgs...); err != nil {
		return 0, fmt.Errorf("call %s: %w", name, err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return float64(lua.LVAsNumber(result)), nil
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
