package ecs

import "time"

// Phase defines execution ordering within a single frame.
type Phase uint8

const (
	PhasePreTick   Phase = iota // 0: input drain, intent production
	PhaseTick                   // 1: variable-step gameplay
	PhaseFixedTick              // 2: fixed-step simulation, 0..N per frame
	PhaseLateTick               // 3: follow/camera style consumers
	PhasePostTick               // 4: publish results for external systems

	phaseCount
)

// Phases lists every phase in execution order.
var Phases = [phaseCount]Phase{PhasePreTick, PhaseTick, PhaseFixedTick, PhaseLateTick, PhasePostTick}

var phaseNames = [phaseCount]string{"PreTick", "Tick", "FixedTick", "LateTick", "PostTick"}

func (p Phase) String() string {
	if p < phaseCount {
		return phaseNames[p]
	}
	return "Phase(?)"
}

// Frame is passed to every phase callback. Self and Owner are rewritten
// for each visited instance; callers must not keep the pointer.
type Frame struct {
	World  *World
	Phase  Phase
	Delta  time.Duration
	Number uint64
	Self   Handle
	Owner  Handle
}

func (f *Frame) Seconds() float64 { return f.Delta.Seconds() }

// Phase capability interfaces. Implementing one on *T opts T into that
// phase; the scheduler binds the method once per type.
type (
	PreTicker   interface{ PreTick(*Frame) }
	Ticker      interface{ Tick(*Frame) }
	FixedTicker interface{ FixedTick(*Frame) }
	LateTicker  interface{ LateTick(*Frame) }
	PostTicker  interface{ PostTick(*Frame) }
)
