package scripting

import (
	"github.com/nodeforge/runtime/internal/core/ecs"
)

// ScriptTypeName is the declared name of the Script component.
const ScriptTypeName = "core.Script"

// Script binds a node to global Lua functions, one per phase. Each is
// called as fn(node_name, dt_seconds). Empty names are skipped.
type Script struct {
	PreTick   string `yaml:"pre_tick,omitempty"`
	Tick      string `yaml:"tick,omitempty"`
	FixedTick string `yaml:"fixed_tick,omitempty"`
	LateTick  string `yaml:"late_tick,omitempty"`
	Disabled  bool   `yaml:"disabled,omitempty"`
}

func (Script) TypeName() string { return ScriptTypeName }

// Register creates the Script storage in w with each phase bound to e.
// priority places scripts relative to other component types.
func (e *Engine) Register(w *ecs.World, priority int) (*ecs.Arena[Script], error) {
	return ecs.Register[Script](w.Storages(),
		ecs.WithPriority(priority),
		ecs.WithPhase(ecs.PhasePreTick, func(s *Script, f *ecs.Frame) { e.run(s, s.PreTick, f) }),
		ecs.WithPhase(ecs.PhaseTick, func(s *Script, f *ecs.Frame) { e.run(s, s.Tick, f) }),
		ecs.WithPhase(ecs.PhaseFixedTick, func(s *Script, f *ecs.Frame) { e.run(s, s.FixedTick, f) }),
		ecs.WithPhase(ecs.PhaseLateTick, func(s *Script, f *ecs.Frame) { e.run(s, s.LateTick, f) }),
	)
}

func (e *Engine) run(s *Script, fn string, f *ecs.Frame) {
	if s.Disabled {
		return
	}
	e.callNode(fn, f)
}
