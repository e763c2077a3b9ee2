package system

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/ident"
)

// LifetimeTypeName is the declared name of the Lifetime component.
const LifetimeTypeName = "core.Lifetime"

// Lifetime destroys its owner node once Elapsed reaches TTL.
type Lifetime struct {
	TTL     time.Duration `yaml:"ttl"`
	Elapsed time.Duration `yaml:"elapsed,omitempty"`
}

func (Lifetime) TypeName() string { return LifetimeTypeName }

// Expired reports whether the lifetime has run out.
func (l *Lifetime) Expired() bool { return l.Elapsed >= l.TTL }

// CleanupSystem ages every Lifetime on an active node at the end of the
// frame and queues the owner of each expired one. Runs last in PostTick
// so the flush that follows picks the requests up.
type CleanupSystem struct {
	world   *ecs.World
	arena   *ecs.Arena[Lifetime]
	typ     ident.TypeID
	destroy func(ecs.Handle) error
	log     *zap.Logger
	expired uint64
}

// NewCleanupSystem registers the Lifetime storage in w. destroy queues a
// node for destruction; nil uses w.RequestDestroy, which refuses nodes
// owned by the graph.
func NewCleanupSystem(w *ecs.World, destroy func(ecs.Handle) error, log *zap.Logger) (*CleanupSystem, error) {
	arena, err := ecs.Register[Lifetime](w.Storages())
	if err != nil {
		return nil, err
	}
	if destroy == nil {
		destroy = w.RequestDestroy
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CleanupSystem{
		world:   w,
		arena:   arena,
		typ:     ecs.TypeIDOf[Lifetime](),
		destroy: destroy,
		log:     log,
	}, nil
}

func (s *CleanupSystem) Phase() ecs.Phase { return ecs.PhasePostTick }
func (s *CleanupSystem) Priority() int    { return math.MaxInt }

// Expired returns how many owners have been queued so far.
func (s *CleanupSystem) Expired() uint64 { return s.expired }

func (s *CleanupSystem) Update(f *ecs.Frame) {
	s.arena.Each(func(h ecs.Handle, l *Lifetime) bool {
		owner, ok := s.arena.Owner(h)
		if !ok || s.world.PendingDestroy(owner) || !s.world.Active(owner) {
			return true
		}
		// removed this frame, freed at the next flush
		if cur, ok := s.world.ComponentHandle(owner, s.typ); !ok || cur != h {
			return true
		}
		l.Elapsed += f.Delta
		if !l.Expired() {
			return true
		}
		if err := s.destroy(owner); err != nil {
			s.log.Warn("lifetime expiry failed", zap.Stringer("node", owner), zap.Error(err))
			return true
		}
		s.expired++
		return true
	})
}
