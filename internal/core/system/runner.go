package system

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/runtime/internal/core/ecs"
)

// step is one scheduled entry of a phase: an arena or a system.
type step struct {
	storage  ecs.Storage
	system   System
	priority int
	seq      uint64
}

// Runner executes every phase of a frame in fixed order. Within a phase,
// arenas binding that phase and systems registered for it run by ascending
// priority; arenas go before systems at equal priority, then registration
// order decides.
type Runner struct {
	world   *ecs.World
	log     *zap.Logger
	systems []System
	order   [len(ecs.Phases)][]step
	builtAt uint64 // registry version the order was built for
	dirty   bool
	frame   ecs.Frame
	number  uint64
}

func NewRunner(w *ecs.World, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		world:   w,
		log:     log,
		systems: make([]System, 0, 16),
		dirty:   true,
		frame:   ecs.Frame{World: w},
	}
}

func (r *Runner) World() *ecs.World { return r.world }

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.dirty = true
}

// FrameNumber is the number of the current frame; RunPreTick advances it.
func (r *Runner) FrameNumber() uint64 { return r.number }

func (r *Runner) RunPreTick(dt time.Duration) {
	r.number++
	r.run(ecs.PhasePreTick, dt)
}

func (r *Runner) RunTick(dt time.Duration)      { r.run(ecs.PhaseTick, dt) }
func (r *Runner) RunFixedTick(dt time.Duration) { r.run(ecs.PhaseFixedTick, dt) }
func (r *Runner) RunLateTick(dt time.Duration)  { r.run(ecs.PhaseLateTick, dt) }
func (r *Runner) RunPostTick(dt time.Duration)  { r.run(ecs.PhasePostTick, dt) }

// FlushDestructions processes the world's destroy queue. Called once per
// frame after PostTick.
func (r *Runner) FlushDestructions() (int, error) {
	r.world.SetFrame(ecs.PhasePostTick, 0, r.number)
	n, err := r.world.Flush()
	if err != nil {
		r.log.Error("flush destructions", zap.Uint64("frame", r.number), zap.Error(err))
	}
	return n, err
}

// Order returns the names of the steps scheduled for p, for diagnostics.
func (r *Runner) Order(p ecs.Phase) []string {
	r.ensureSorted()
	out := make([]string, 0, len(r.order[p]))
	for _, s := range r.order[p] {
		if s.storage != nil {
			out = append(out, s.storage.Name())
			continue
		}
		out = append(out, systemName(s.system))
	}
	return out
}

func (r *Runner) run(p ecs.Phase, dt time.Duration) {
	r.ensureSorted()
	r.world.SetFrame(p, dt, r.number)
	for _, s := range r.order[p] {
		r.frame = ecs.Frame{World: r.world, Phase: p, Delta: dt, Number: r.number}
		if s.storage != nil {
			s.storage.Run(p, &r.frame)
			continue
		}
		s.system.Update(&r.frame)
	}
}

func (r *Runner) ensureSorted() {
	reg := r.world.Storages()
	if !r.dirty && r.builtAt == reg.Version() {
		return
	}
	for i := range r.order {
		r.order[i] = r.order[i][:0]
	}
	var seq uint64
	reg.ForEach(func(s ecs.Storage) bool {
		for _, p := range ecs.Phases {
			if s.Has(p) {
				r.order[p] = append(r.order[p], step{storage: s, priority: s.Priority(), seq: seq})
			}
		}
		seq++
		return true
	})
	for i, s := range r.systems {
		p := s.Phase()
		if int(p) >= len(r.order) {
			r.log.Warn("system has unknown phase", zap.String("system", systemName(s)), zap.Stringer("phase", p))
			continue
		}
		r.order[p] = append(r.order[p], step{system: s, priority: s.Priority(), seq: uint64(i)})
	}
	for p := range r.order {
		steps := r.order[p]
		sort.SliceStable(steps, func(i, j int) bool {
			a, b := steps[i], steps[j]
			if a.priority != b.priority {
				return a.priority < b.priority
			}
			if (a.storage == nil) != (b.storage == nil) {
				return a.storage != nil
			}
			return a.seq < b.seq
		})
	}
	r.builtAt = reg.Version()
	r.dirty = false
}

type namer interface{ Name() string }

func systemName(s System) string {
	if n, ok := s.(namer); ok {
		return n.Name()
	}
	return "system"
}
