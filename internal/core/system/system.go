package system

import "github.com/nodeforge/runtime/internal/core/ecs"

// System is a free-standing per-frame step scheduled alongside component
// arenas. It runs once per phase invocation rather than once per instance.
type System interface {
	Phase() ecs.Phase
	Priority() int
	Update(f *ecs.Frame)
}

// Func adapts a plain function to System.
type Func struct {
	P     ecs.Phase
	Order int
	Fn    func(f *ecs.Frame)
}

func (s Func) Phase() ecs.Phase    { return s.P }
func (s Func) Priority() int       { return s.Order }
func (s Func) Update(f *ecs.Frame) { s.Fn(f) }
