// Package typereg is the process-wide type identity registry: declared
// name, direct bases, and an is-a query over the resulting DAG.
package typereg

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nodeforge/runtime/internal/core/ident"
)

var (
	ErrAlreadyRegistered = errors.New("type already registered")
	ErrUnknownBase       = errors.New("base type not registered")
	ErrFrozen            = errors.New("type registry is frozen")
	ErrEmptyName         = errors.New("type name is empty")
)

// Built-in type names every registry carries after RegisterBuiltins.
const (
	ObjectType    = "core.Object"
	NodeType      = "core.Node"
	ComponentType = "core.Component"
)

// TypeInfo is the minimal metadata kept per type.
type TypeInfo struct {
	ID      ident.TypeID
	Name    string
	BaseIDs []ident.TypeID
}

// Registry maps type ids to TypeInfo. Registration is mutex guarded;
// after Freeze the maps are never written again and reads skip the lock.
type Registry struct {
	mu     sync.RWMutex
	frozen atomic.Bool
	types  map[ident.TypeID]*TypeInfo
	byName map[string]ident.TypeID
}

func New() *Registry {
	return &Registry{
		types:  make(map[ident.TypeID]*TypeInfo, 64),
		byName: make(map[string]ident.TypeID, 64),
	}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry, with built-ins registered.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New()
		if err := RegisterBuiltins(defaultReg); err != nil {
			panic(fmt.Sprintf("typereg: builtins: %v", err))
		}
	})
	return defaultReg
}

// RegisterBuiltins adds core.Object, core.Node and core.Component.
func RegisterBuiltins(r *Registry) error {
	if _, err := r.Register(ObjectType); err != nil {
		return err
	}
	if _, err := r.Register(NodeType, ObjectType); err != nil {
		return err
	}
	if _, err := r.Register(ComponentType, ObjectType); err != nil {
		return err
	}
	return nil
}

// Register declares a type. Every base must already be registered, which
// keeps the is-a graph acyclic by construction.
func (r *Registry) Register(name string, baseNames ...string) (ident.TypeID, error) {
	if name == "" {
		return ident.TypeID{}, ErrEmptyName
	}
	if r.frozen.Load() {
		return ident.TypeID{}, fmt.Errorf("register %s: %w", name, ErrFrozen)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ident.TypeID{}, fmt.Errorf("register %s: %w", name, ErrFrozen)
	}
	if _, ok := r.byName[name]; ok {
		return ident.TypeID{}, fmt.Errorf("register %s: %w", name, ErrAlreadyRegistered)
	}
	info := &TypeInfo{
		ID:      ident.TypeIDFromName(name),
		Name:    name,
		BaseIDs: make([]ident.TypeID, 0, len(baseNames)),
	}
	for _, b := range baseNames {
		id, ok := r.byName[b]
		if !ok {
			return ident.TypeID{}, fmt.Errorf("register %s: base %s: %w", name, b, ErrUnknownBase)
		}
		info.BaseIDs = append(info.BaseIDs, id)
	}
	r.types[info.ID] = info
	r.byName[name] = info.ID
	return info.ID, nil
}

// Freeze makes the registry read-only. It cannot be undone.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool { return r.frozen.Load() }

func (r *Registry) rlock() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

// Find returns the metadata for id.
func (r *Registry) Find(id ident.TypeID) (*TypeInfo, bool) {
	defer r.rlock()()
	info, ok := r.types[id]
	return info, ok
}

// FindByName returns the metadata registered under name.
func (r *Registry) FindByName(name string) (*TypeInfo, bool) {
	defer r.rlock()()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.types[id], true
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	defer r.rlock()()
	return len(r.types)
}

// IsA reports whether typ is base or derives from it. Unknown ids are
// never anything but themselves.
func (r *Registry) IsA(typ, base ident.TypeID) bool {
	if typ == base {
		return !typ.IsZero()
	}
	defer r.rlock()()
	return r.isA(typ, base)
}

func (r *Registry) isA(typ, base ident.TypeID) bool {
	if typ == base {
		return true
	}
	info, ok := r.types[typ]
	if !ok {
		return false
	}
	for _, b := range info.BaseIDs {
		if r.isA(b, base) {
			return true
		}
	}
	return false
}

// Derived lists every strict descendant of base, sorted by name.
func (r *Registry) Derived(base ident.TypeID) []*TypeInfo {
	defer r.rlock()()
	var out []*TypeInfo
	for id, info := range r.types {
		if id != base && r.isA(id, base) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
