package ecs

import (
	"fmt"
	"reflect"

	"github.com/nodeforge/runtime/internal/core/ident"
	"gopkg.in/yaml.v3"
)

// Storage is the type-erased view of one arena. The hierarchy, the
// destroy queue and the scheduler work through it without knowing T.
type Storage interface {
	Type() ident.TypeID
	Name() string
	Priority() int
	Len() int
	Valid(h Handle) bool
	Owner(h Handle) (Handle, bool)
	HandleByID(id ident.UniqueID) (Handle, bool)

	// CreateDecoded builds a zero T, lets decode fill it, and stores it.
	// A zero id means "generate one".
	CreateDecoded(owner Handle, id ident.UniqueID, decode func(any) error) (Handle, error)
	// Encode returns the YAML form of one instance.
	Encode(h Handle) ([]byte, error)

	// Has reports whether the type binds a callback for p.
	Has(p Phase) bool
	// Run invokes the bound callback for p on every live instance.
	Run(p Phase, f *Frame)

	sequence() uint64
	created(h Handle, f *Frame)
	destroy(h Handle, f *Frame) bool
	discard(h Handle)
}

type phaseFunc[T any] func(*T, *Frame)

// typedStorage holds the arena and the function table captured once at
// registration: one entry per phase plus the create/destroy hooks.
type typedStorage[T any] struct {
	arena     *Arena[T]
	typ       ident.TypeID
	name      string
	priority  int
	seq       uint64
	phases    [phaseCount]phaseFunc[T]
	onCreate  phaseFunc[T]
	onDestroy phaseFunc[T]
}

func (s *typedStorage[T]) Type() ident.TypeID { return s.typ }
func (s *typedStorage[T]) Name() string       { return s.name }
func (s *typedStorage[T]) Priority() int      { return s.priority }
func (s *typedStorage[T]) Len() int           { return s.arena.Len() }
func (s *typedStorage[T]) sequence() uint64   { return s.seq }

func (s *typedStorage[T]) Valid(h Handle) bool                         { return s.arena.Valid(h) }
func (s *typedStorage[T]) Owner(h Handle) (Handle, bool)               { return s.arena.Owner(h) }
func (s *typedStorage[T]) HandleByID(id ident.UniqueID) (Handle, bool) { return s.arena.HandleByID(id) }

func (s *typedStorage[T]) Has(p Phase) bool {
	return p < phaseCount && s.phases[p] != nil
}

func (s *typedStorage[T]) Run(p Phase, f *Frame) {
	if p >= phaseCount {
		return
	}
	fn := s.phases[p]
	if fn == nil {
		return
	}
	a := s.arena
	n := a.size
	for i := uint32(0); i < n; i++ {
		sl := a.slotAt(i)
		if !sl.live {
			continue
		}
		if f.World != nil && !f.World.ticks(sl.owner) {
			continue
		}
		f.Self = Handle{ID: sl.id, Index: i, Generation: sl.gen}
		f.Owner = sl.owner
		fn(&sl.value, f)
	}
}

func (s *typedStorage[T]) CreateDecoded(owner Handle, id ident.UniqueID, decode func(any) error) (Handle, error) {
	var v T
	if decode != nil {
		if err := decode(&v); err != nil {
			return Handle{}, fmt.Errorf("decode %s: %w", s.name, err)
		}
	}
	if id == (ident.UniqueID{}) {
		return s.arena.CreateOwned(owner, v), nil
	}
	return s.arena.CreateWithID(id, owner, v)
}

func (s *typedStorage[T]) Encode(h Handle) ([]byte, error) {
	v := s.arena.Resolve(h)
	if v == nil {
		return nil, ErrStaleHandle
	}
	return yaml.Marshal(v)
}

func (s *typedStorage[T]) created(h Handle, f *Frame) {
	if s.onCreate == nil {
		return
	}
	if v := s.arena.Resolve(h); v != nil {
		f.Self = h
		f.Owner, _ = s.arena.Owner(h)
		s.onCreate(v, f)
	}
}

func (s *typedStorage[T]) destroy(h Handle, f *Frame) bool {
	v := s.arena.Resolve(h)
	if v == nil {
		return false
	}
	if s.onDestroy != nil {
		f.Self = h
		f.Owner, _ = s.arena.Owner(h)
		s.onDestroy(v, f)
	}
	return s.arena.Destroy(h)
}

// discard frees an instance that was never linked, skipping hooks.
func (s *typedStorage[T]) discard(h Handle) { s.arena.Destroy(h) }

// Option configures a storage at registration.
type Option func(*storageConfig)

type storageConfig struct {
	priority  *int
	name      string
	blockSize int
	phases    [phaseCount]any
	onCreate  any
	onDestroy any
}

// WithPriority sets the static priority. Lower runs earlier.
func WithPriority(p int) Option {
	return func(c *storageConfig) { c.priority = &p }
}

// WithName overrides the declared type name, and therefore the TypeID.
func WithName(name string) Option {
	return func(c *storageConfig) { c.name = name }
}

// WithBlockSize overrides the registry's block size for this arena.
func WithBlockSize(n int) Option {
	return func(c *storageConfig) { c.blockSize = n }
}

// WithPhase binds fn to phase p explicitly, overriding method detection.
// fn must be a func(*T, *Frame) for the registered T.
func WithPhase[T any](p Phase, fn func(*T, *Frame)) Option {
	return func(c *storageConfig) {
		if p < phaseCount {
			c.phases[p] = fn
		}
	}
}

// WithHooks binds create/destroy hooks explicitly. Nil leaves detection.
func WithHooks[T any](onCreate, onDestroy func(*T, *Frame)) Option {
	return func(c *storageConfig) {
		if onCreate != nil {
			c.onCreate = onCreate
		}
		if onDestroy != nil {
			c.onDestroy = onDestroy
		}
	}
}

var phaseMethods = [phaseCount]string{"PreTick", "Tick", "FixedTick", "LateTick", "PostTick"}

// bindMethod returns the method expression (*T).name when it has the
// phase signature, so the hot loop calls it without interface dispatch.
func bindMethod[T any](name string) phaseFunc[T] {
	m, ok := reflect.TypeFor[*T]().MethodByName(name)
	if !ok {
		return nil
	}
	fn, ok := m.Func.Interface().(func(*T, *Frame))
	if !ok {
		return nil
	}
	return fn
}

func pick[T any](explicit any, name string) (phaseFunc[T], error) {
	if explicit == nil {
		return bindMethod[T](name), nil
	}
	fn, ok := explicit.(func(*T, *Frame))
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrPhaseSignature)
	}
	return fn, nil
}

type typeNamer interface{ TypeName() string }
type tickPrioritizer interface{ TickPriority() int }

// TypeNameOf returns the declared name used to derive T's TypeID.
func TypeNameOf[T any]() string {
	var zero T
	if n, ok := any(&zero).(typeNamer); ok {
		return n.TypeName()
	}
	return reflect.TypeFor[T]().String()
}

// TypeIDOf returns the TypeID of T's storage.
func TypeIDOf[T any]() ident.TypeID {
	return ident.TypeIDFromName(TypeNameOf[T]())
}

func newTypedStorage[T any](cfg storageConfig, defaultBlock int, seq uint64) (*typedStorage[T], error) {
	var zero T
	name := cfg.name
	if name == "" {
		name = TypeNameOf[T]()
	}
	priority := 0
	if p, ok := any(&zero).(tickPrioritizer); ok {
		priority = p.TickPriority()
	}
	if cfg.priority != nil {
		priority = *cfg.priority
	}
	block := cfg.blockSize
	if block == 0 {
		block = defaultBlock
	}
	s := &typedStorage[T]{
		arena:    NewArena[T](block),
		typ:      ident.TypeIDFromName(name),
		name:     name,
		priority: priority,
		seq:      seq,
	}
	for p := range phaseCount {
		fn, err := pick[T](cfg.phases[p], phaseMethods[p])
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		s.phases[p] = fn
	}
	var err error
	if s.onCreate, err = pick[T](cfg.onCreate, "OnCreate"); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	if s.onDestroy, err = pick[T](cfg.onDestroy, "OnDestroy"); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	return s, nil
}
